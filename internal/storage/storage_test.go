package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/pkg/logger"
)

func TestParseBucketPath(t *testing.T) {
	tests := []struct {
		raw     string
		want    Location
		wantErr bool
	}{
		{raw: "s3://images/nightly", want: Location{Scheme: "s3", Bucket: "images", Prefix: "nightly"}},
		{raw: "s3://images/", want: Location{Scheme: "s3", Bucket: "images"}},
		{raw: "S3://images/a/b/", want: Location{Scheme: "s3", Bucket: "images", Prefix: "a/b"}},
		{raw: "az://releases/boards", want: Location{Scheme: "az", Bucket: "releases", Prefix: "boards"}},
		{raw: "file:///srv/images", want: Location{Scheme: "file", Bucket: "/srv/images"}},
		{raw: "/srv/images/", want: Location{Scheme: "file", Bucket: "/srv/images"}},
		{raw: "", wantErr: true},
		{raw: "s3:///nobucket", wantErr: true},
		{raw: "file://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseBucketPath(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBucketPath(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseBucketPath(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLocation_Key(t *testing.T) {
	if got := (Location{Prefix: "nightly"}).Key("rk3588/1-2/x.img.gz"); got != "nightly/rk3588/1-2/x.img.gz" {
		t.Errorf("Key = %s", got)
	}
	if got := (Location{}).Key("rk3588/x"); got != "rk3588/x" {
		t.Errorf("Key without prefix = %s", got)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
	base := errors.New("403 forbidden")
	err := fmt.Errorf("upload: %w", Permanent(base))
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Errorf("wrapped permanent error lost its identity: %v", err)
	}
	if IsPermanent(base) {
		t.Error("plain errors are not permanent")
	}
}

type nopUploader struct{}

func (nopUploader) Upload(context.Context, string, string, string, string, ProgressFunc) error {
	return nil
}
func (nopUploader) URL(bucket, key string) string { return "mem://" + bucket + "/" + key }

func TestOpen(t *testing.T) {
	Register("mem", func(context.Context, config.StorageConfig, *logger.Logger) (Uploader, error) {
		return nopUploader{}, nil
	})

	up, loc, err := Open(context.Background(), "mem://bucket/prefix", config.StorageConfig{}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if loc.Bucket != "bucket" || up.URL(loc.Bucket, loc.Key("k")) != "mem://bucket/prefix/k" {
		t.Errorf("unexpected location %+v", loc)
	}

	if _, _, err := Open(context.Background(), "gs://bucket", config.StorageConfig{}, nil); err == nil {
		t.Error("expected an error for an unregistered scheme")
	}
}
