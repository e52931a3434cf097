// Package local publishes artifacts into a directory tree. It backs file://
// bucket paths, used for dry runs and for serving images from a mounted share.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/internal/storage"
	"github.com/schererja/boardforge/pkg/logger"
)

func init() {
	storage.Register("file", func(_ context.Context, _ config.StorageConfig, log *logger.Logger) (storage.Uploader, error) {
		return New(log), nil
	})
}

// Uploader copies files below the bucket directory.
type Uploader struct {
	logger *logger.Logger
}

// New creates a local Uploader.
func New(log *logger.Logger) *Uploader {
	if log == nil {
		log = logger.NewNop()
	}
	return &Uploader{logger: log}
}

// URL returns the file URL of the object.
func (u *Uploader) URL(bucket, key string) string {
	return "file://" + filepath.ToSlash(filepath.Join(bucket, filepath.FromSlash(key)))
}

// Upload copies localPath to <bucket>/<key> through a temporary file that is
// renamed into place once complete.
func (u *Uploader) Upload(ctx context.Context, localPath, bucket, key, _ string, progress storage.ProgressFunc) error {
	src, err := os.Open(localPath)
	if err != nil {
		return storage.Permanent(fmt.Errorf("failed to open source: %w", err))
	}
	defer src.Close()

	dest := filepath.Join(bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := &progressWriter{ctx: ctx, w: tmp, fn: progress}
	if _, err := io.Copy(w, src); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy %s: %w", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// progressWriter counts bytes and aborts when ctx is done.
type progressWriter struct {
	ctx  context.Context
	w    io.Writer
	sent int64
	fn   storage.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	p.sent += int64(n)
	if p.fn != nil {
		p.fn(p.sent)
	}
	return n, err
}
