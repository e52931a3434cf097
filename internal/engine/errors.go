package engine

import (
	"fmt"
	"strings"
)

// BuildSystemError reports a failed or unusable build engine invocation. It
// is fatal for the run.
type BuildSystemError struct {
	Op       string // "preflight", "resolve" or "build"
	Target   string // engine target, e.g. "rk3588-build"
	ExitCode int
	Stderr   string
	Err      error
}

func (e *BuildSystemError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "build system %s", e.Op)
	if e.Target != "" {
		fmt.Fprintf(&b, " %s", e.Target)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " exited with code %d", e.ExitCode)
	} else {
		b.WriteString(" failed")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, " (stderr: %s)", s)
	}
	return b.String()
}

func (e *BuildSystemError) Unwrap() error { return e.Err }
