// Package container describes the container runtime the build engine runs
// its toolchain in.
package container

import "context"

// RuntimeInfo summarizes a reachable container runtime.
type RuntimeInfo struct {
	Name       string
	Version    string
	APIVersion string
	OS         string
	CPUs       int
	Memory     int64
	// ImagePresent reports whether the requested build image is available
	// locally. It is false when no image was requested.
	ImagePresent bool
}

// Runtime checks that the container runtime is usable before a build.
type Runtime interface {
	// Check pings the runtime. When image is not empty it also looks the
	// image up locally.
	Check(ctx context.Context, image string) (RuntimeInfo, error)
	Close() error
}
