package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/schererja/boardforge/pkg/logger"
)

// Package is one entry of the build order. Ordinal is its 0-based position.
type Package struct {
	Name    string
	Ordinal int
}

// packageLine accepts bare identifiers only: no whitespace, no comment marker.
var packageLine = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Resolver asks the build engine for the order in which packages are built.
type Resolver struct {
	tool   string
	dir    string
	env    []string
	logger *logger.Logger
}

// NewResolver creates a Resolver running tool inside dir.
func NewResolver(tool, dir string, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{tool: tool, dir: dir, logger: log}
}

// SetEnv adds KEY=VALUE entries to the engine's environment.
func (r *Resolver) SetEnv(env []string) {
	r.env = env
}

// orderTarget returns the engine target listing the build order.
func orderTarget(board string) string {
	if board == "" {
		return "show-build-order"
	}
	return board + "-show-build-order"
}

// Resolve runs the engine's show-build-order target for board (or the
// unscoped target when board is empty) and returns the packages with
// ordinals assigned in first-seen order.
func (r *Resolver) Resolve(ctx context.Context, board string) ([]Package, error) {
	target := orderTarget(board)
	cmd := command(ctx, r.tool, r.dir, target, r.env)
	stderr := &tailBuffer{n: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &BuildSystemError{Op: "resolve", Target: target, Err: err}
	}

	r.logger.Debug("resolving build order", slog.String("tool", r.tool), slog.String("target", target))
	if err := cmd.Start(); err != nil {
		return nil, &BuildSystemError{Op: "resolve", Target: target, Err: err}
	}

	packages, parseErr := ParseBuildOrder(stdout)
	// Drain whatever the parser left so the engine never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		return nil, &BuildSystemError{
			Op:       "resolve",
			Target:   target,
			ExitCode: exitCodeOf(err),
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	if parseErr != nil {
		return nil, &BuildSystemError{Op: "resolve", Target: target, Err: parseErr}
	}
	if len(packages) == 0 {
		return nil, &BuildSystemError{Op: "resolve", Target: target, Err: errors.New("empty build order")}
	}

	r.logger.Info("build order resolved", slog.String("board", board), slog.Int("packages", len(packages)))
	return packages, nil
}

// ParseBuildOrder reads one package name per line. Blank lines, comments and
// lines with embedded whitespace are skipped; repeated names keep their first
// ordinal.
func ParseBuildOrder(r io.Reader) ([]Package, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	seen := make(map[string]bool)
	var packages []Package
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if !packageLine.MatchString(name) || seen[name] {
			continue
		}
		seen[name] = true
		packages = append(packages, Package{Name: name, Ordinal: len(packages)})
	}
	if err := scanner.Err(); err != nil {
		return packages, fmt.Errorf("failed to read build order: %w", err)
	}
	return packages, nil
}

// Ordinals indexes packages by name.
func Ordinals(packages []Package) map[string]int {
	m := make(map[string]int, len(packages))
	for _, p := range packages {
		m[p.Name] = p.Ordinal
	}
	return m
}
