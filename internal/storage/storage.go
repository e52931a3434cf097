// Package storage defines the object-storage capability used to publish
// artifacts and the registry of backends selected by bucket URL scheme.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/pkg/logger"
)

// ProgressFunc receives the cumulative number of bytes sent for one attempt.
type ProgressFunc func(sent int64)

// Uploader copies a local file to an object key.
type Uploader interface {
	// Upload stores localPath under key in bucket. An empty contentType is
	// left for the backend to decide. progress may be nil.
	Upload(ctx context.Context, localPath, bucket, key, contentType string, progress ProgressFunc) error
	// URL renders the public location of an object.
	URL(bucket, key string) string
}

// PermanentError marks a failure that retrying cannot fix, such as an
// authorization or validation error returned by the service.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Location is a parsed bucket path.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

// Key joins the prefix with a relative object path.
func (l Location) Key(rel string) string {
	if l.Prefix == "" {
		return rel
	}
	return path.Join(l.Prefix, rel)
}

func (l Location) String() string {
	return l.Scheme + "://" + path.Join(l.Bucket, l.Prefix)
}

// ParseBucketPath splits "<scheme>://<bucket>[/<prefix>]". For file URLs the
// bucket is the directory path and the prefix is empty. A bare path is
// treated as a file URL.
func ParseBucketPath(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, errors.New("empty bucket path")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: "file", Bucket: path.Clean(raw)}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid bucket path %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "file" {
		dir := path.Clean(u.Host + u.Path)
		if dir == "." {
			return Location{}, fmt.Errorf("invalid bucket path %q: missing directory", raw)
		}
		return Location{Scheme: scheme, Bucket: dir}, nil
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("invalid bucket path %q: missing bucket", raw)
	}
	return Location{
		Scheme: scheme,
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
	}, nil
}

// Factory builds an Uploader from the storage configuration.
type Factory func(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (Uploader, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available for a URL scheme. It panics on
// duplicate registration.
func Register(scheme string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[scheme]; dup {
		panic("storage: Register called twice for scheme " + scheme)
	}
	registry[scheme] = f
}

// Schemes lists the registered URL schemes.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Open parses bucketPath and builds the backend registered for its scheme.
func Open(ctx context.Context, bucketPath string, cfg config.StorageConfig, log *logger.Logger) (Uploader, Location, error) {
	loc, err := ParseBucketPath(bucketPath)
	if err != nil {
		return nil, Location{}, err
	}
	registryMu.RLock()
	f, ok := registry[loc.Scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, Location{}, fmt.Errorf("unsupported bucket scheme %q (supported: %s)", loc.Scheme, strings.Join(Schemes(), ", "))
	}
	if log == nil {
		log = logger.NewNop()
	}
	up, err := f(ctx, cfg, log)
	if err != nil {
		return nil, Location{}, fmt.Errorf("failed to open %s storage: %w", loc.Scheme, err)
	}
	return up, loc, nil
}
