package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/schererja/boardforge/internal/progress"
	"github.com/schererja/boardforge/internal/storage"
)

const image = "myproj-rk3588-20240101-full.img.gz"

// fakeUploader records calls and fails according to a per-key script.
type fakeUploader struct {
	mu       sync.Mutex
	calls    map[string]int
	types    map[string]string
	failures map[string][]error // consumed one per attempt; nil entries succeed
	always   map[string]error
	block    chan struct{}
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		calls:    make(map[string]int),
		types:    make(map[string]string),
		failures: make(map[string][]error),
		always:   make(map[string]error),
	}
}

func (f *fakeUploader) Upload(ctx context.Context, localPath, bucket, key, contentType string, progress storage.ProgressFunc) error {
	f.mu.Lock()
	f.calls[key]++
	f.types[key] = contentType
	var err error
	if e, ok := f.always[key]; ok {
		err = e
	} else if script := f.failures[key]; len(script) > 0 {
		err = script[0]
		f.failures[key] = script[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	info, statErr := os.Stat(localPath)
	if statErr != nil {
		return storage.Permanent(statErr)
	}
	if progress != nil {
		progress(info.Size() / 2)
		progress(info.Size())
	}
	return nil
}

func (f *fakeUploader) URL(bucket, key string) string { return "mem://" + bucket + "/" + key }

func (f *fakeUploader) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type memRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (m *memRecorder) RecordUpload(_ context.Context, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return nil
}

// writeImageTree lays out one image and its siblings under
// out/rk3588/images/myproj/images/rk3588, minus the names in skip.
func writeImageTree(t *testing.T, skip ...string) string {
	t.Helper()
	out := t.TempDir()
	dir := filepath.Join(out, "rk3588", "images", "myproj", "images", "rk3588")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		image:                "image-bytes",
		image + ".sha256":    "x  " + image + "\n",
		image + ".md5":       "y  " + image + "\n",
		"boot.tar.xz":        "boot",
		"boot.tar.xz.sha256": "z  boot.tar.xz\n",
		"boot.tar.xz.md5":    "w  boot.tar.xz\n",
		"myproj.version":     "20240101-full\n",
	}
	for name, content := range files {
		skipped := false
		for _, s := range skip {
			skipped = skipped || s == name
		}
		if skipped {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return out
}

func fastOptions() Options {
	return Options{Workers: 3, MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, GracePeriod: time.Second}
}

func key(name string) string {
	return "nightly/rk3588/20240101-full-beta/" + name
}

func TestPublish_MissingBootArchive(t *testing.T) {
	out := writeImageTree(t, "boot.tar.xz")
	up := newFakeUploader()
	rec := &memRecorder{}
	tracker := progress.New(nil)
	p := NewPublisher(up, out, fastOptions(), nil, WithRecorder(rec), WithTracker(tracker))

	res, err := p.Publish(context.Background(), "mem://images/nightly", "rk3588", "beta")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Tasks != 6 || !res.OK() || len(res.Skipped) != 1 {
		t.Fatalf("expected 6 successful tasks and one skipped entry, got %+v", res)
	}

	want := []string{
		key("boot.tar.xz.md5"),
		key("boot.tar.xz.sha256"),
		key("myproj-rk3588-20240101-full-beta.img.gz"),
		key("myproj-rk3588-20240101-full-beta.img.gz.md5"),
		key("myproj-rk3588-20240101-full-beta.img.gz.sha256"),
		key("myproj.version"),
	}
	if !reflect.DeepEqual(res.Succeeded, want) {
		t.Errorf("succeeded =\n%v\nwant\n%v", res.Succeeded, want)
	}
	if got := up.types[key("myproj-rk3588-20240101-full-beta.img.gz")]; got != "application/gzip" {
		t.Errorf("image content type = %q", got)
	}
	if len(rec.outcomes) != 6 {
		t.Errorf("recorder saw %d outcomes, want 6", len(rec.outcomes))
	}

	s, ok := tracker.Task(key("myproj.version"))
	if !ok || s.Status != progress.Succeeded || s.Completed != s.Total || s.Labels[progress.LabelURL] == "" {
		t.Errorf("tracker state not updated: %+v", s)
	}
}

func TestPublish_NoImages(t *testing.T) {
	p := NewPublisher(newFakeUploader(), t.TempDir(), fastOptions(), nil)
	res, err := p.Publish(context.Background(), "mem://images", "rk3588", "")
	if err != nil || !res.OK() || res.Tasks != 0 {
		t.Errorf("empty publish should succeed, got %+v, %v", res, err)
	}
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	out := writeImageTree(t)
	up := newFakeUploader()
	target := key("myproj-rk3588-20240101-full-beta.img.gz")
	up.failures[target] = []error{errors.New("connection reset"), errors.New("503 slow down")}

	p := NewPublisher(up, out, fastOptions(), nil)
	res, err := p.Publish(context.Background(), "mem://images/nightly", "rk3588", "beta")
	if err != nil || !res.OK() {
		t.Fatalf("expected success after retries, got %+v, %v", res, err)
	}
	if n := up.callCount(target); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestPublish_PermanentAndExhaustedFailures(t *testing.T) {
	out := writeImageTree(t)
	up := newFakeUploader()
	denied := key("boot.tar.xz")
	flaky := key("myproj.version")
	up.always[denied] = storage.Permanent(errors.New("403 access denied"))
	up.always[flaky] = errors.New("timeout")

	p := NewPublisher(up, out, fastOptions(), nil)
	res, err := p.Publish(context.Background(), "mem://images/nightly", "rk3588", "beta")

	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	wantFailed := []string{denied, flaky}
	sort.Strings(wantFailed)
	if !reflect.DeepEqual(res.Failed, wantFailed) || !reflect.DeepEqual(incomplete.Failed, wantFailed) {
		t.Errorf("failed = %v, want %v", res.Failed, wantFailed)
	}
	if len(res.Succeeded) != 5 {
		t.Errorf("siblings must continue, succeeded = %v", res.Succeeded)
	}
	if n := up.callCount(denied); n != 1 {
		t.Errorf("permanent failure retried: %d attempts", n)
	}
	if n := up.callCount(flaky); n != 5 {
		t.Errorf("transient failure attempts = %d, want 5", n)
	}

	var ue *UploadError
	if !errors.As(res.Errors[flaky], &ue) || ue.Attempts != 5 {
		t.Errorf("unexpected error for %s: %v", flaky, res.Errors[flaky])
	}
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	up := newFakeUploader()
	p := NewPublisher(up, t.TempDir(), fastOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task{{Key: "a", LocalPath: "/nonexistent/a"}, {Key: "b", LocalPath: "/nonexistent/b"}}
	res := p.Execute(ctx, "images", tasks)
	if res.OK() || len(res.Failed) != 2 {
		t.Fatalf("cancelled tasks must be reported as failed, got %+v", res)
	}
	if !errors.Is(res.Errors["a"], context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Errors["a"])
	}
	if up.callCount("a")+up.callCount("b") != 0 {
		t.Errorf("no upload may start after cancellation")
	}
}

func TestExecute_GracePeriod(t *testing.T) {
	out := writeImageTree(t)
	up := newFakeUploader()
	up.block = make(chan struct{})

	opts := fastOptions()
	opts.Workers = 1
	opts.GracePeriod = 50 * time.Millisecond
	p := NewPublisher(up, out, opts, nil)

	tasks := []Task{
		{Key: "first", LocalPath: filepath.Join(out, "rk3588", "images", "myproj", "images", "rk3588", image)},
		{Key: "second", LocalPath: filepath.Join(out, "rk3588", "images", "myproj", "images", "rk3588", image)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	res := p.Execute(ctx, "images", tasks)
	elapsed := time.Since(start)

	if elapsed < 60*time.Millisecond {
		t.Errorf("in-flight upload aborted before the grace period: %s", elapsed)
	}
	if len(res.Failed) != 2 || up.callCount("second") != 0 {
		t.Errorf("unexpected result %+v (second calls %d)", res, up.callCount("second"))
	}
}

func TestExecute_VerifyChecksum(t *testing.T) {
	out := writeImageTree(t)
	up := newFakeUploader()
	opts := fastOptions()
	opts.Verify = true
	p := NewPublisher(up, out, opts, nil)

	local := filepath.Join(out, "rk3588", "images", "myproj", "images", "rk3588", image)
	res := p.Execute(context.Background(), "images", []Task{{Key: "img", LocalPath: local}})
	if res.OK() || up.callCount("img") != 0 {
		t.Errorf("a checksum mismatch must fail without uploading, got %+v", res)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"x.img.gz":          "application/gzip",
		"boot.tar.xz":       "application/x-xz",
		"x.img.gz.sha256":   "text/plain",
		"boot.tar.xz.md5":   "text/plain",
		"myproj.version":    "text/plain",
		"no-extension":      "",
		"weird.zzzunknown1": "",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
