// Package azure publishes artifacts to Azure Blob Storage. Bucket paths use
// the az://<container>/<prefix> form; the account comes from configuration.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/internal/storage"
	"github.com/schererja/boardforge/pkg/logger"
)

const (
	blockSize   = 8 * 1024 * 1024
	concurrency = 4
)

func init() {
	storage.Register("az", func(_ context.Context, cfg config.StorageConfig, log *logger.Logger) (storage.Uploader, error) {
		return New(cfg.Azure, log)
	})
}

// Uploader writes block blobs.
type Uploader struct {
	client     *azblob.Client
	accountURL string
	logger     *logger.Logger
}

// New creates an Uploader authenticated with the default Azure credential
// chain (environment, workload identity, managed identity, Azure CLI).
func New(cfg config.AzureConfig, log *logger.Logger) (*Uploader, error) {
	if log == nil {
		log = logger.NewNop()
	}
	accountURL := strings.TrimRight(cfg.AccountURL, "/")
	if accountURL == "" {
		return nil, errors.New("storage.azure.account_url is required for az:// bucket paths")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &Uploader{client: client, accountURL: accountURL, logger: log}, nil
}

func (u *Uploader) URL(container, key string) string {
	return u.accountURL + "/" + container + "/" + key
}

func (u *Uploader) Upload(ctx context.Context, localPath, container, key, contentType string, progress storage.ProgressFunc) error {
	f, err := os.Open(localPath)
	if err != nil {
		return storage.Permanent(fmt.Errorf("failed to open source: %w", err))
	}
	defer f.Close()

	opts := &azblob.UploadFileOptions{
		BlockSize:   blockSize,
		Concurrency: concurrency,
	}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	if progress != nil {
		opts.Progress = func(sent int64) { progress(sent) }
	}

	if _, err := u.client.UploadFile(ctx, container, key, f, opts); err != nil {
		return classify(err)
	}
	return nil
}

// classify marks client errors other than timeouts and throttling as
// permanent, as are credential failures.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.StatusCode
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return storage.Permanent(fmt.Errorf("azure %s: %w", respErr.ErrorCode, err))
		}
		return err
	}
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return storage.Permanent(err)
	}
	return err
}
