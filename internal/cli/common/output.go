package common

import (
	"os"

	"golang.org/x/term"

	"github.com/schererja/boardforge/internal/progress"
	"github.com/schererja/boardforge/pkg/logger"
)

// Output bundles the logger and progress tracker of one command.
type Output struct {
	Logger  *logger.Logger
	Tracker *progress.Tracker
}

// NewOutput picks the rendering mode for stderr. On a terminal, log records
// are printed above a live progress block; otherwise records are JSON and
// progress is reported as log lines.
func NewOutput(verbose bool) *Output {
	fd := int(os.Stderr.Fd())
	if term.IsTerminal(fd) {
		width, _, err := term.GetSize(fd)
		if err != nil {
			width = 0
		}
		renderer := progress.NewTerminalRenderer(os.Stderr, width)
		return &Output{
			Logger:  logger.New(renderer, logger.Options{Debug: verbose}),
			Tracker: progress.New(renderer),
		}
	}
	log := logger.New(os.Stderr, logger.Options{Debug: verbose, JSON: true})
	return &Output{
		Logger:  log,
		Tracker: progress.New(progress.NewLogRenderer(log)),
	}
}

// NewLogger returns a plain stderr logger for commands without a live
// display.
func NewLogger(verbose bool) *logger.Logger {
	if verbose {
		return logger.New(os.Stderr, logger.Options{Debug: true, JSON: !term.IsTerminal(int(os.Stderr.Fd()))})
	}
	return logger.NewLogger()
}
