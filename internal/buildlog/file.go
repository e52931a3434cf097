// Package buildlog persists raw build engine output to a log file that
// survives being unlinked or replaced by another process while it is open.
package buildlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schererja/boardforge/pkg/logger"
)

// File is an append-only log file bound to a path rather than to a single
// inode. Before each write it checks that the open handle still refers to
// the file at the path and reopens the path when it does not.
//
// File is not safe for concurrent use; the build executor is its only writer.
type File struct {
	path    string
	f       *os.File
	info    os.FileInfo
	logger  *logger.Logger
	reopens int
}

// Open creates (or appends to) the log file at path, creating parent
// directories as needed.
func Open(path string, log *logger.Logger) (*File, error) {
	if log == nil {
		log = logger.NewNop()
	}
	lf := &File{path: path, logger: log}
	if err := lf.open(); err != nil {
		return nil, err
	}
	return lf, nil
}

func (lf *File) open() error {
	if err := os.MkdirAll(filepath.Dir(lf.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open build log %s: %w", lf.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat build log %s: %w", lf.path, err)
	}
	lf.f = f
	lf.info = info
	return nil
}

// Path returns the log file path.
func (lf *File) Path() string { return lf.path }

// Reopens reports how many times the path had to be reopened.
func (lf *File) Reopens() int { return lf.reopens }

// replaced reports whether the path no longer names the open file.
func (lf *File) replaced() bool {
	if lf.f == nil {
		return true
	}
	current, err := os.Stat(lf.path)
	if err != nil {
		return true
	}
	return !os.SameFile(current, lf.info)
}

func (lf *File) reopen() error {
	if lf.f != nil {
		_ = lf.f.Close()
		lf.f = nil
	}
	if err := lf.open(); err != nil {
		return err
	}
	lf.reopens++
	lf.logger.Debug("build log reopened", slog.String("path", lf.path), slog.Int("reopens", lf.reopens))
	return nil
}

// Write appends p to the log file. Errors are recovered by reopening the
// path once; anything left over is logged and swallowed so the build stream
// is never interrupted by log file trouble.
func (lf *File) Write(p []byte) (int, error) {
	if lf.replaced() {
		if err := lf.reopen(); err != nil {
			lf.logger.Warn("build log unavailable", slog.String("path", lf.path), slog.String("error", err.Error()))
			return len(p), nil
		}
	}
	if _, err := lf.f.Write(p); err != nil {
		if rerr := lf.reopen(); rerr != nil {
			lf.logger.Warn("build log write failed", slog.String("path", lf.path), slog.String("error", rerr.Error()))
			return len(p), nil
		}
		if _, err := lf.f.Write(p); err != nil {
			lf.logger.Warn("build log write failed", slog.String("path", lf.path), slog.String("error", err.Error()))
		}
	}
	return len(p), nil
}

// WriteLine appends line followed by a newline.
func (lf *File) WriteLine(line string) {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, _ = lf.Write(buf)
}

// Close closes the underlying handle.
func (lf *File) Close() error {
	if lf.f == nil {
		return nil
	}
	err := lf.f.Close()
	lf.f = nil
	return err
}
