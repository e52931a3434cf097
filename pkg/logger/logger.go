package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

type Logger struct {
	*slog.Logger
}

var isDebug = os.Getenv("DEBUG")

// Options controls handler selection for New.
type Options struct {
	// Debug lowers the level to DEBUG and adds source locations.
	Debug bool
	// JSON forces the JSON handler even when the output is a terminal.
	JSON bool
}

// NewLogger creates a Logger writing to stderr. Text output is used on a
// terminal, JSON when stderr is piped. DEBUG=1 enables debug output.
func NewLogger() *Logger {
	return New(os.Stderr, Options{
		Debug: isDebug == "1",
		JSON:  !term.IsTerminal(int(os.Stderr.Fd())),
	})
}

// New creates a Logger writing to w.
func New(w io.Writer, opts Options) *Logger {
	handlerOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if opts.Debug || isDebug == "1" {
		handlerOpts.Level = slog.LevelDebug
		handlerOpts.AddSource = true
	}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return New(io.Discard, Options{})
}

// withError enhances log attributes with error details if present
func withError(err error, attrs []slog.Attr) []slog.Attr {
	if err == nil {
		return attrs
	}
	return append(attrs, slog.String("error", err.Error()))
}

// Info logs a message at INFO level without context
func (l *Logger) Info(msg string, attrs ...slog.Attr) {
	l.Logger.Info(msg, slog.Any("data", attrs))
}

// InfoContext logs a message at INFO level with context
func (l *Logger) InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Logger.InfoContext(ctx, msg, slog.Any("data", attrs))
}

// Warn logs a message at WARN level without context
func (l *Logger) Warn(msg string, attrs ...slog.Attr) {
	l.Logger.Warn(msg, slog.Any("data", attrs))
}

// WarnContext logs a message at WARN level with context
func (l *Logger) WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Logger.WarnContext(ctx, msg, slog.Any("data", attrs))
}

// Error logs a message at ERROR level with error details without context
func (l *Logger) Error(msg string, err error, attrs ...slog.Attr) {
	l.Logger.Error(msg, slog.Any("data", withError(err, attrs)))
}

// ErrorContext logs a message at ERROR level with error details and context
func (l *Logger) ErrorContext(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	l.Logger.ErrorContext(ctx, msg, slog.Any("data", withError(err, attrs)))
}

// Debug logs a message at DEBUG level without context
func (l *Logger) Debug(msg string, attrs ...slog.Attr) {
	l.Logger.Debug(msg, slog.Any("data", attrs))
}

// DebugContext logs a message at DEBUG level with context
func (l *Logger) DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.Logger.DebugContext(ctx, msg, slog.Any("data", attrs))
}

// With creates a new Logger with the given attributes that will be included in all log messages
func (l *Logger) With(attrs ...slog.Attr) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Any("context", attrs))}
}
