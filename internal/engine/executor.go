package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schererja/boardforge/internal/buildlog"
	"github.com/schererja/boardforge/pkg/logger"
)

// tailLines is how many trailing output lines a Result keeps for diagnostics.
const tailLines = 20

// Executor runs the build engine for a board and turns its output into events.
type Executor struct {
	tool      string
	dir       string
	outputDir string
	env       []string
	waitDelay time.Duration
	logger    *logger.Logger
}

// NewExecutor creates an Executor. outputDir is the engine's output tree;
// the raw log goes to <outputDir>/<board>/build/build.log.
func NewExecutor(tool, dir, outputDir string, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{tool: tool, dir: dir, outputDir: outputDir, waitDelay: waitDelay, logger: log}
}

// SetEnv adds KEY=VALUE entries to the engine's environment.
func (e *Executor) SetEnv(env []string) {
	e.env = env
}

// Result summarizes one engine run.
type Result struct {
	ExitCode int
	Lines    int
	LogPath  string
	Tail     []string
	Duration time.Duration
}

// Success reports whether the engine exited cleanly.
func (r *Result) Success() bool { return r.ExitCode == 0 }

// buildTarget returns the engine target for a (clean) build.
func buildTarget(board string, clean bool) string {
	if clean {
		return board + "-cleanbuild"
	}
	return board + "-build"
}

// LogPath returns where the raw output of a board build is archived.
func (e *Executor) LogPath(board string) string {
	return filepath.Join(e.outputDir, board, "build", "build.log")
}

// Run starts the build and blocks until the engine exits. Output is read
// line by line on the calling goroutine: each line is archived, emitted as
// an EventLine and classified against the progress grammar. A non-zero exit
// code is reported in the Result, not as an error; errors are reserved for
// failing to run the engine at all.
func (e *Executor) Run(ctx context.Context, board string, clean bool, handler Handler) (*Result, error) {
	start := time.Now()
	target := buildTarget(board, clean)
	if board == "" {
		return nil, &BuildSystemError{Op: "build", Target: target, Err: errors.New("board is required")}
	}
	if handler == nil {
		handler = func(Event) {}
	}

	logFile, err := buildlog.Open(e.LogPath(board), e.logger)
	if err != nil {
		return nil, &BuildSystemError{Op: "build", Target: target, Err: err}
	}
	defer logFile.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &BuildSystemError{Op: "build", Target: target, Err: fmt.Errorf("failed to create output pipe: %w", err)}
	}

	cmd := command(ctx, e.tool, e.dir, target, e.env)
	cmd.WaitDelay = e.waitDelay
	cmd.Stdout = pw
	cmd.Stderr = pw

	e.logger.Info("starting build", slog.String("board", board), slog.String("target", target), slog.String("log", logFile.Path()))
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &BuildSystemError{Op: "build", Target: target, Err: err}
	}
	// The child holds its own copy of the write end; EOF arrives when it exits.
	pw.Close()

	// Descendants of the engine may inherit the write end and keep it open
	// after the engine is gone. Once cancelled, the read end is closed after
	// the wait delay so the loop below always ends.
	readDone := make(chan struct{})
	stopWatch := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(e.waitDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			pr.Close()
		case <-readDone:
		}
	})
	defer stopWatch()

	stages := newStageTracker()
	tail := make([]string, 0, tailLines)
	lines := 0

	reader := bufio.NewReaderSize(pr, 64*1024)
	for {
		raw, readErr := reader.ReadString('\n')
		if raw != "" {
			line := strings.TrimRight(raw, "\r\n")
			lines++
			logFile.WriteLine(line)
			if len(tail) == tailLines {
				tail = tail[1:]
			}
			tail = append(tail, line)

			handler(Event{Type: EventLine, RawLine: line})
			for _, ev := range stages.parse(line) {
				handler(ev)
			}
		}
		if readErr != nil {
			switch {
			case errors.Is(readErr, io.EOF):
			case errors.Is(readErr, os.ErrClosed):
				e.logger.Warn("build output still open after cancellation, stopped reading", slog.String("board", board))
			default:
				e.logger.Warn("build output read failed", slog.String("error", readErr.Error()))
			}
			break
		}
	}
	close(readDone)
	pr.Close()

	waitErr := cmd.Wait()
	exitCode := exitCodeOf(waitErr)
	if exitCode == 0 {
		for _, ev := range stages.flush() {
			handler(ev)
		}
	}
	handler(Event{Type: EventFinished, ExitCode: exitCode})

	result := &Result{
		ExitCode: exitCode,
		Lines:    lines,
		LogPath:  logFile.Path(),
		Tail:     tail,
		Duration: time.Since(start),
	}
	if exitCode != 0 {
		e.logger.Warn("build exited with failure",
			slog.String("board", board),
			slog.Int("exit_code", exitCode),
			slog.Duration("duration", result.Duration))
	} else {
		e.logger.Info("build completed",
			slog.String("board", board),
			slog.Int("lines", lines),
			slog.Duration("duration", result.Duration))
	}
	if n := logFile.Reopens(); n > 0 {
		e.logger.Info("build log was replaced during the run", slog.String("path", logFile.Path()), slog.Int("reopens", n))
	}
	return result, nil
}
