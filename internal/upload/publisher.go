// Package upload publishes the images of a board build, together with their
// checksums, boot archive and version marker, to object storage.
package upload

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/schererja/boardforge/internal/artifacts"
	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/internal/progress"
	"github.com/schererja/boardforge/internal/storage"
	"github.com/schererja/boardforge/pkg/logger"
)

// Options tunes task execution.
type Options struct {
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	GracePeriod    time.Duration
	Verify         bool
}

// OptionsFromConfig copies the upload section of the configuration.
func OptionsFromConfig(c config.UploadConfig) Options {
	return Options{
		Workers:        c.Workers,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		GracePeriod:    c.GracePeriod,
		Verify:         c.Verify,
	}
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = max(30*time.Second, o.InitialBackoff)
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 10 * time.Second
	}
}

// Outcome is the final state of one task.
type Outcome struct {
	Task
	Bucket   string
	URL      string
	Attempts int
	Err      error
	Duration time.Duration
}

// Recorder persists task outcomes. Failures to record are logged only.
type Recorder interface {
	RecordUpload(ctx context.Context, o Outcome) error
}

// Result aggregates a publish run.
type Result struct {
	Tasks     int
	Succeeded []string
	Failed    []string
	Skipped   []string // manifest entries with no local file
	Invalid   []error  // images that could not be identified
	Errors    map[string]error
	Bytes     int64
	Duration  time.Duration
}

// OK reports whether every task succeeded.
func (r *Result) OK() bool {
	return len(r.Succeeded) == r.Tasks
}

// Publisher uploads artifacts through a storage backend.
type Publisher struct {
	uploader  storage.Uploader
	outputDir string
	opts      Options
	tracker   *progress.Tracker
	recorder  Recorder
	logger    *logger.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithTracker reports per-file byte progress to t.
func WithTracker(t *progress.Tracker) PublisherOption {
	return func(p *Publisher) { p.tracker = t }
}

// WithRecorder hands every finished task to r.
func WithRecorder(r Recorder) PublisherOption {
	return func(p *Publisher) { p.recorder = r }
}

// NewPublisher creates a Publisher reading images from outputDir.
func NewPublisher(up storage.Uploader, outputDir string, opts Options, log *logger.Logger, options ...PublisherOption) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	opts.applyDefaults()
	p := &Publisher{
		uploader:  up,
		outputDir: outputDir,
		opts:      opts,
		logger:    log,
	}
	for _, o := range options {
		o(p)
	}
	if p.tracker == nil {
		p.tracker = progress.New(nil)
	}
	return p
}

// Publish uploads every image produced for board to bucketPath, folding the
// version and suffix into the remote path. The Result is always returned
// once planning succeeded; the error is an *IncompleteError when any task
// failed. Finding no images is not an error.
func (p *Publisher) Publish(ctx context.Context, bucketPath, board, suffix string) (*Result, error) {
	loc, err := storage.ParseBucketPath(bucketPath)
	if err != nil {
		return nil, err
	}
	plan, err := BuildPlan(p.outputDir, board, suffix, loc)
	if err != nil {
		return nil, err
	}
	for _, e := range plan.Invalid {
		p.logger.Warn("skipping unrecognized image", slog.String("error", e.Error()))
	}
	for _, m := range plan.Missing {
		p.logger.Debug("manifest entry not present, skipping", slog.String("path", m))
	}
	if len(plan.Images) == 0 {
		p.logger.Warn("no images found to publish", slog.String("board", board), slog.String("pattern", artifacts.GlobPattern(p.outputDir, board)))
	}

	res := p.Execute(ctx, loc.Bucket, plan.Tasks)
	res.Skipped = plan.Missing
	res.Invalid = plan.Invalid

	p.logger.Info("publish finished",
		slog.String("bucket", loc.String()),
		slog.Int("tasks", res.Tasks),
		slog.Int("succeeded", len(res.Succeeded)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Duration("duration", res.Duration))

	if !res.OK() {
		return res, &IncompleteError{Failed: res.Failed}
	}
	return res, nil
}

// Execute runs tasks on a bounded pool. Once ctx is cancelled no new task
// starts; running uploads keep going until the grace period elapses.
func (p *Publisher) Execute(ctx context.Context, bucket string, tasks []Task) *Result {
	start := time.Now()
	res := &Result{Tasks: len(tasks), Errors: make(map[string]error)}

	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stopGrace := context.AfterFunc(ctx, func() {
		p.logger.Warn("publish interrupted, waiting for running uploads", slog.Duration("grace_period", p.opts.GracePeriod))
		time.AfterFunc(p.opts.GracePeriod, cancelWork)
	})
	defer stopGrace()

	var mu sync.Mutex
	finish := func(o Outcome) {
		if p.recorder != nil {
			if err := p.recorder.RecordUpload(context.WithoutCancel(ctx), o); err != nil {
				p.logger.Error("failed to record upload", err, slog.String("key", o.Key))
			}
		}
		mu.Lock()
		defer mu.Unlock()
		if o.Err != nil {
			res.Failed = append(res.Failed, o.Key)
			res.Errors[o.Key] = o.Err
			return
		}
		res.Succeeded = append(res.Succeeded, o.Key)
		res.Bytes += o.Size
	}
	cancelled := func(t Task) Outcome {
		return Outcome{Task: t, Bucket: bucket, URL: p.uploader.URL(bucket, t.Key), Err: context.Cause(ctx)}
	}

	g := new(errgroup.Group)
	g.SetLimit(p.opts.Workers)
	for _, t := range tasks {
		if ctx.Err() != nil {
			finish(cancelled(t))
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				finish(cancelled(t))
				return nil
			}
			finish(p.run(work, bucket, t))
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Succeeded)
	sort.Strings(res.Failed)
	res.Duration = time.Since(start)
	return res
}

// run uploads one task with retries.
func (p *Publisher) run(ctx context.Context, bucket string, t Task) Outcome {
	start := time.Now()
	out := Outcome{Task: t, Bucket: bucket, URL: p.uploader.URL(bucket, t.Key)}

	p.tracker.AddTask(t.Key, path.Base(t.Key), t.Size, progress.Bytes)
	p.tracker.SetLabel(t.Key, progress.LabelURL, out.URL)

	if p.opts.Verify {
		if err := artifacts.VerifyChecksum(t.LocalPath); err != nil && !errors.Is(err, artifacts.ErrNoChecksum) {
			out.Err = &UploadError{Key: t.Key, Err: err}
			out.Duration = time.Since(start)
			p.tracker.Finish(t.Key, err)
			p.logger.Error("checksum verification failed", err, slog.String("path", t.LocalPath))
			return out
		}
	}

	op := func() error {
		out.Attempts++
		err := p.uploader.Upload(ctx, t.LocalPath, bucket, t.Key, t.ContentType, func(sent int64) {
			p.tracker.Advance(t.Key, sent)
		})
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("transient upload failure, retrying",
			slog.String("key", t.Key),
			slog.Int("attempt", out.Attempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))
	}

	if err := backoff.RetryNotify(op, p.policy(ctx), notify); err != nil {
		out.Err = &UploadError{Key: t.Key, Attempts: out.Attempts, Err: err}
		p.logger.Error("upload failed", err, slog.String("key", t.Key), slog.Int("attempts", out.Attempts))
	} else {
		p.logger.Debug("uploaded", slog.String("url", out.URL), slog.Int64("bytes", t.Size))
	}
	out.Duration = time.Since(start)
	p.tracker.Finish(t.Key, out.Err)
	return out
}

func (p *Publisher) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialBackoff
	b.MaxInterval = p.opts.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.opts.MaxAttempts-1)), ctx)
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch {
	case storage.IsPermanent(err),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var ce *artifacts.ChecksumError
	return !errors.As(err, &ce)
}
