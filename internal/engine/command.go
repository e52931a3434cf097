package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long a cancelled engine gets to exit after SIGINT
// before it is killed.
const waitDelay = 10 * time.Second

// command prepares "<tool> <target>" in dir. Cancellation sends an interrupt
// first so make can stop its children cleanly.
func command(ctx context.Context, tool, dir, target string, env []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, tool, target)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// exitCodeOf maps a Wait error to a process exit code. Processes killed by
// a signal report -1 from the OS; that is folded into 1 so callers always
// see a failure code.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	n   int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.n {
		t.buf = t.buf[len(t.buf)-t.n:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
