// Package s3 publishes artifacts to S3-compatible object storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/internal/storage"
	"github.com/schererja/boardforge/pkg/logger"
)

// DefaultEndpoint is used when no endpoint is configured.
const DefaultEndpoint = "s3.amazonaws.com"

func init() {
	storage.Register("s3", func(_ context.Context, cfg config.StorageConfig, log *logger.Logger) (storage.Uploader, error) {
		return New(cfg.S3, log)
	})
}

// Uploader puts objects through the minio client.
type Uploader struct {
	client *minio.Client
	logger *logger.Logger
}

// New creates an Uploader. Static keys from cfg win; otherwise credentials
// are taken from the AWS and MinIO environment variables, the shared
// credentials file or the instance role, in that order.
func New(cfg config.S3Config, log *logger.Logger) (*Uploader, error) {
	if log == nil {
		log = logger.NewNop()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &Uploader{client: client, logger: log}, nil
}

func (u *Uploader) URL(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

func (u *Uploader) Upload(ctx context.Context, localPath, bucket, key, contentType string, progress storage.ProgressFunc) error {
	f, err := os.Open(localPath)
	if err != nil {
		return storage.Permanent(fmt.Errorf("failed to open source: %w", err))
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return storage.Permanent(fmt.Errorf("failed to stat source: %w", err))
	}

	opts := minio.PutObjectOptions{ContentType: contentType}
	if progress != nil {
		opts.Progress = &progressReader{fn: progress}
	}
	if _, err := u.client.PutObject(ctx, bucket, key, f, info.Size(), opts); err != nil {
		return classify(err)
	}
	return nil
}

// progressReader receives a slice sized to each chunk minio has sent.
// Multipart uploads call Read from several part workers at once.
type progressReader struct {
	sent atomic.Int64
	fn   storage.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	p.fn(p.sent.Add(int64(len(b))))
	return len(b), nil
}

// classify marks client errors other than timeouts and throttling as
// permanent.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	if isPermanentStatus(resp.StatusCode) {
		return storage.Permanent(fmt.Errorf("s3 %s: %w", resp.Code, err))
	}
	return err
}

func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
