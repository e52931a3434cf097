package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"

	"github.com/schererja/boardforge/internal/container"
)

// api is the subset of the Docker client used by Checker.
type api interface {
	Ping(ctx context.Context) (types.Ping, error)
	Info(ctx context.Context) (system.Info, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	Close() error
}

// Checker implements container.Runtime using the Docker Engine API.
type Checker struct {
	cli api
}

var _ container.Runtime = (*Checker)(nil)

// NewChecker creates a Checker configured from the DOCKER_* environment.
func NewChecker() (*Checker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Checker{cli: cli}, nil
}

func (c *Checker) Check(ctx context.Context, imageName string) (container.RuntimeInfo, error) {
	ping, err := c.cli.Ping(ctx)
	if err != nil {
		return container.RuntimeInfo{}, fmt.Errorf("docker daemon unreachable: %w", err)
	}
	info, err := c.cli.Info(ctx)
	if err != nil {
		return container.RuntimeInfo{}, fmt.Errorf("docker info: %w", err)
	}

	ri := container.RuntimeInfo{
		Name:       "docker",
		Version:    info.ServerVersion,
		APIVersion: ping.APIVersion,
		OS:         info.OperatingSystem,
		CPUs:       info.NCPU,
		Memory:     info.MemTotal,
	}
	if imageName != "" {
		_, err := c.cli.ImageInspect(ctx, imageName)
		switch {
		case err == nil:
			ri.ImagePresent = true
		case client.IsErrNotFound(err):
		default:
			return ri, fmt.Errorf("inspect image %q: %w", imageName, err)
		}
	}
	return ri, nil
}

func (c *Checker) Close() error {
	return c.cli.Close()
}
