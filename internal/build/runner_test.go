package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/internal/container"
	"github.com/schererja/boardforge/internal/db"
	"github.com/schererja/boardforge/internal/engine"
	"github.com/schererja/boardforge/internal/progress"
	"github.com/schererja/boardforge/internal/storage"
	"github.com/schererja/boardforge/internal/upload"
)

// fakeEngine writes a make stand-in that resolves three packages and, on
// build, emits progress lines and produces one image with its siblings.
func fakeEngine(t *testing.T, buildBody string) string {
	t.Helper()
	script := `#!/bin/sh
case "$1" in
  *-show-build-order) printf 'toolchain\nkernel\nbatocera-base\n' ;;
  *-build|*-cleanbuild)
` + buildBody + `
  ;;
  *) exit 2 ;;
esac
`
	path := filepath.Join(t.TempDir(), "fake-make")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

const producesImage = `    d=output/rk3588/images/myproj/images/rk3588
    mkdir -p "$d"
    echo ">>> toolchain 1.0 install"
    echo ">>> kernel 6.1.0 configure"
    echo ">>> kernel 6.1.0 build"
    echo ">>> batocera-base 41 install"
    echo image > "$d/myproj-rk3588-41-20240101.img.gz"
    echo sum > "$d/myproj-rk3588-41-20240101.img.gz.sha256"
    echo boot > "$d/boot.tar.xz"
    echo 41 > "$d/myproj.version"`

func testConfig(t *testing.T, tool string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Board = "rk3588"
	cfg.Engine.Tool = tool
	cfg.Engine.Dir = t.TempDir()
	cfg.Bucket = "file://" + t.TempDir()
	cfg.Upload.InitialBackoff = time.Millisecond
	cfg.Upload.MaxBackoff = time.Millisecond
	return cfg
}

func openLedger(t *testing.T) *db.DB {
	t.Helper()
	ledger, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestRunner_BuildAndPublish(t *testing.T) {
	cfg := testConfig(t, fakeEngine(t, producesImage))
	cfg.Suffix = "beta"
	ledger := openLedger(t)
	tracker := progress.New(nil)

	r := NewRunner(cfg, nil, WithLedger(ledger), WithTracker(tracker))
	res, err := r.Run(context.Background(), OptionsFromConfig(cfg))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || res.Packages != 3 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Publish == nil || res.Publish.Tasks != 4 || !res.Publish.OK() {
		t.Fatalf("expected 4 published files, got %+v", res.Publish)
	}

	bucket := strings.TrimPrefix(cfg.Bucket, "file://")
	published := filepath.Join(bucket, "rk3588", "41-20240101-beta", "myproj-rk3588-41-20240101-beta.img.gz")
	if data, err := os.ReadFile(published); err != nil || string(data) != "image\n" {
		t.Errorf("image not published to %s: %v", published, err)
	}

	build, ok := tracker.Task("build/rk3588")
	if !ok || build.Completed != 3 || build.Total != 3 || build.Status != progress.Succeeded {
		t.Errorf("unexpected build task %+v", build)
	}

	run, err := ledger.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != db.StatusSucceeded || run.Packages != 3 || run.ExitCode == nil || *run.ExitCode != 0 {
		t.Errorf("unexpected run record %+v", run)
	}
	uploads, err := ledger.ListUploads(context.Background(), res.RunID)
	if err != nil || len(uploads) != 4 {
		t.Errorf("expected 4 recorded uploads, got %d (%v)", len(uploads), err)
	}
}

func TestRunner_BuildFailureAbortsBeforeUpload(t *testing.T) {
	cfg := testConfig(t, fakeEngine(t, producesImage+`
    echo "error: recipe failed" >&2
    exit 3`))
	ledger := openLedger(t)

	res, err := NewRunner(cfg, nil, WithLedger(ledger)).Run(context.Background(), OptionsFromConfig(cfg))
	var bse *engine.BuildSystemError
	if !errors.As(err, &bse) || bse.ExitCode != 3 {
		t.Fatalf("expected BuildSystemError with exit code 3, got %v", err)
	}
	if res.ExitCode != 3 || res.Publish != nil {
		t.Errorf("build exit code must propagate and skip upload, got %+v", res)
	}
	if !strings.Contains(bse.Stderr, "recipe failed") {
		t.Errorf("tail of the log missing from error: %q", bse.Stderr)
	}

	run, _ := ledger.GetRun(context.Background(), res.RunID)
	if run == nil || run.Status != db.StatusBuildFailed {
		t.Errorf("unexpected run record %+v", run)
	}
}

func TestRunner_SkipBuildPublishesExistingImages(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "never-called"))
	dir := filepath.Join(cfg.OutputPath(), "rk3588", "images", "myproj", "images", "rk3588")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "myproj-rk3588-41-20240101.img.gz"), []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := OptionsFromConfig(cfg)
	opts.SkipBuild = true
	res, err := NewRunner(cfg, nil).Run(context.Background(), opts)
	if err != nil || res.ExitCode != 0 || res.Publish.Tasks != 1 {
		t.Errorf("unexpected skip-build result %+v, %v", res, err)
	}
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, string, string, string, storage.ProgressFunc) error {
	return errors.New("connection refused")
}
func (failingUploader) URL(bucket, key string) string { return bucket + "/" + key }

func TestRunner_UploadFailureKeepsBuildExitCode(t *testing.T) {
	cfg := testConfig(t, fakeEngine(t, producesImage))
	cfg.Upload.MaxAttempts = 2
	ledger := openLedger(t)

	res, err := NewRunner(cfg, nil, WithLedger(ledger), WithUploader(failingUploader{})).Run(context.Background(), OptionsFromConfig(cfg))
	var incomplete *upload.IncompleteError
	if !errors.As(err, &incomplete) || len(incomplete.Failed) != 4 {
		t.Fatalf("expected IncompleteError with 4 keys, got %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("upload failures must not change the exit code, got %d", res.ExitCode)
	}
	run, _ := ledger.GetRun(context.Background(), res.RunID)
	if run == nil || run.Status != db.StatusUploadFailed {
		t.Errorf("unexpected run record %+v", run)
	}
}

func TestRunner_Cancelled(t *testing.T) {
	cfg := testConfig(t, fakeEngine(t, `    exec sleep 5`))
	cfg.SkipUpload = true

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	res, err := NewRunner(cfg, nil).Run(ctx, OptionsFromConfig(cfg))
	if err == nil || res.ExitCode != ExitInterrupted {
		t.Errorf("expected exit code %d, got %+v (%v)", ExitInterrupted, res, err)
	}
}

type fakeRuntime struct{ err error }

func (f fakeRuntime) Check(context.Context, string) (container.RuntimeInfo, error) {
	return container.RuntimeInfo{Name: "docker", Version: "28.5.0"}, f.err
}
func (fakeRuntime) Close() error { return nil }

func TestRunner_Preflight(t *testing.T) {
	cfg := testConfig(t, fakeEngine(t, producesImage))
	cfg.SkipUpload = true
	cfg.Engine.CheckDocker = true

	if _, err := NewRunner(cfg, nil, WithRuntime(fakeRuntime{})).Run(context.Background(), OptionsFromConfig(cfg)); err != nil {
		t.Errorf("Run with healthy runtime: %v", err)
	}

	res, err := NewRunner(cfg, nil, WithRuntime(fakeRuntime{err: errors.New("daemon down")})).Run(context.Background(), OptionsFromConfig(cfg))
	var bse *engine.BuildSystemError
	if !errors.As(err, &bse) || bse.Op != "preflight" || res.ExitCode != 1 {
		t.Errorf("expected preflight BuildSystemError and exit 1, got %+v (%v)", res, err)
	}
}
