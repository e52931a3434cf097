package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/internal/container"
	"github.com/schererja/boardforge/internal/container/docker"
	"github.com/schererja/boardforge/internal/db"
	"github.com/schererja/boardforge/internal/engine"
	"github.com/schererja/boardforge/internal/progress"
	"github.com/schererja/boardforge/internal/storage"
	"github.com/schererja/boardforge/internal/upload"
	"github.com/schererja/boardforge/pkg/logger"
)

// ExitInterrupted is the exit code of a cancelled run.
const ExitInterrupted = 130

// Options captures the per-invocation switches
type Options struct {
	Board      string
	Clean      bool
	Bucket     string
	Suffix     string
	SkipBuild  bool
	SkipUpload bool
}

// OptionsFromConfig copies the run switches out of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Board:      cfg.Board,
		Clean:      cfg.Clean,
		Bucket:     cfg.Bucket,
		Suffix:     cfg.Suffix,
		SkipBuild:  cfg.SkipBuild,
		SkipUpload: cfg.SkipUpload,
	}
}

// Result summarizes a pipeline run
type Result struct {
	RunID    string
	ExitCode int
	Packages int
	Build    *engine.Result
	Publish  *upload.Result
	Duration time.Duration
}

// Runner executes the build-then-publish pipeline
type Runner struct {
	cfg      *config.Config
	logger   *logger.Logger
	tracker  *progress.Tracker
	ledger   *db.DB
	runtime  container.Runtime
	uploader storage.Uploader
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithTracker reports build and upload progress to t
func WithTracker(t *progress.Tracker) RunnerOption {
	return func(r *Runner) { r.tracker = t }
}

// WithLedger records runs and uploads in the history database
func WithLedger(d *db.DB) RunnerOption {
	return func(r *Runner) { r.ledger = d }
}

// WithRuntime overrides the container runtime used for the preflight
func WithRuntime(rt container.Runtime) RunnerOption {
	return func(r *Runner) { r.runtime = rt }
}

// WithUploader overrides the backend selected from the bucket URL
func WithUploader(u storage.Uploader) RunnerOption {
	return func(r *Runner) { r.uploader = u }
}

// NewRunner creates a new pipeline Runner
func NewRunner(cfg *config.Config, log *logger.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Runner{cfg: cfg, logger: log}
	for _, o := range opts {
		o(r)
	}
	if r.tracker == nil {
		r.tracker = progress.New(nil)
	}
	return r
}

// Run resolves the build order, runs the build and publishes its images.
// A non-zero build exit aborts before upload and becomes the run's exit
// code. Upload failures are returned as an *upload.IncompleteError while
// the exit code stays the build's. A cancelled run exits with 130.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.New().String()}
	log := r.logger.With(slog.String("run_id", res.RunID), slog.String("board", opts.Board))

	r.startRecord(ctx, res.RunID, opts)

	err := r.run(ctx, opts, res, log)
	res.Duration = time.Since(start)

	switch {
	case ctx.Err() != nil:
		res.ExitCode = ExitInterrupted
		if err == nil {
			err = context.Cause(ctx)
		}
	case res.ExitCode == 0 && err != nil && !isUploadOnly(err):
		res.ExitCode = 1
	}

	r.completeRecord(ctx, res, err)
	return res, err
}

func (r *Runner) run(ctx context.Context, opts Options, res *Result, log *logger.Logger) error {
	var uploader storage.Uploader
	if !opts.SkipUpload {
		var err error
		if uploader, err = r.openStorage(ctx, opts.Bucket); err != nil {
			return err
		}
	}

	if !opts.SkipBuild {
		if err := r.build(ctx, opts, res, log); err != nil {
			return err
		}
	}

	if opts.SkipUpload {
		log.Info("skipping upload")
		return nil
	}
	publisher := upload.NewPublisher(uploader, r.cfg.OutputPath(), upload.OptionsFromConfig(r.cfg.Upload), log,
		upload.WithTracker(r.tracker),
		upload.WithRecorder(r.recorder(res.RunID)),
	)
	pub, err := publisher.Publish(ctx, opts.Bucket, opts.Board, opts.Suffix)
	res.Publish = pub
	return err
}

func (r *Runner) openStorage(ctx context.Context, bucket string) (storage.Uploader, error) {
	if r.uploader != nil {
		return r.uploader, nil
	}
	up, _, err := storage.Open(ctx, bucket, r.cfg.Storage, r.logger)
	if err != nil {
		return nil, err
	}
	return up, nil
}

// build runs preflight, resolve and execute.
func (r *Runner) build(ctx context.Context, opts Options, res *Result, log *logger.Logger) error {
	if r.cfg.Engine.CheckDocker {
		if err := r.preflight(ctx, log); err != nil {
			return err
		}
	}

	resolver := engine.NewResolver(r.cfg.Engine.Tool, r.cfg.Engine.Dir, log)
	resolver.SetEnv(r.cfg.Engine.Env)
	packages, err := resolver.Resolve(ctx, opts.Board)
	if err != nil {
		return err
	}
	res.Packages = len(packages)
	if r.ledger != nil {
		if err := r.ledger.SetPackages(ctx, res.RunID, len(packages)); err != nil {
			log.Warn("failed to record package count", slog.String("error", err.Error()))
		}
	}

	total := int64(len(packages))
	ordinals := engine.Ordinals(packages)
	taskID := "build/" + opts.Board
	r.tracker.AddTask(taskID, "build "+opts.Board, total, progress.Items)

	handler := func(ev engine.Event) {
		switch ev.Type {
		case engine.EventProgress:
			if ord, ok := ordinals[ev.Package]; ok {
				r.tracker.Advance(taskID, int64(ord))
			}
			r.tracker.SetLabel(taskID, progress.LabelPackage, ev.Package+" "+ev.Version)
			r.tracker.SetLabel(taskID, progress.LabelStage, ev.Stage)
		case engine.EventStageComplete:
			log.Debug("stage complete", slog.String("package", ev.Package), slog.String("stage", ev.Stage))
		case engine.EventFinished:
			// A failed build leaves the bar where the last package got it.
			if ev.ExitCode == 0 {
				r.tracker.Advance(taskID, total)
			}
		}
	}

	executor := engine.NewExecutor(r.cfg.Engine.Tool, r.cfg.Engine.Dir, r.cfg.OutputPath(), log)
	executor.SetEnv(r.cfg.Engine.Env)
	result, err := executor.Run(ctx, opts.Board, opts.Clean, handler)
	if err != nil {
		r.tracker.Finish(taskID, err)
		return err
	}
	res.Build = result
	res.ExitCode = result.ExitCode
	if !result.Success() {
		buildErr := &engine.BuildSystemError{
			Op:       "build",
			Target:   opts.Board,
			ExitCode: result.ExitCode,
			Stderr:   strings.Join(result.Tail, "\n"),
		}
		r.tracker.Finish(taskID, fmt.Errorf("exit code %d", result.ExitCode))
		log.Error("build failed, skipping upload", buildErr, slog.String("log", result.LogPath))
		return buildErr
	}
	r.tracker.Finish(taskID, nil)
	return nil
}

func (r *Runner) preflight(ctx context.Context, log *logger.Logger) error {
	rt := r.runtime
	if rt == nil {
		checker, err := docker.NewChecker()
		if err != nil {
			return &engine.BuildSystemError{Op: "preflight", Err: err}
		}
		defer checker.Close()
		rt = checker
	}
	info, err := rt.Check(ctx, r.cfg.Engine.DockerImage)
	if err != nil {
		return &engine.BuildSystemError{Op: "preflight", Err: err}
	}
	log.Info("container runtime ready",
		slog.String("runtime", info.Name),
		slog.String("version", info.Version),
		slog.String("api_version", info.APIVersion),
		slog.Int("cpus", info.CPUs),
		slog.String("memory", units.BytesSize(float64(info.Memory))))
	if r.cfg.Engine.DockerImage != "" && !info.ImagePresent {
		log.Warn("build image not present locally, the engine will pull it", slog.String("image", r.cfg.Engine.DockerImage))
	}
	return nil
}

func (r *Runner) startRecord(ctx context.Context, runID string, opts Options) {
	if r.ledger == nil {
		return
	}
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	bucket := opts.Bucket
	if opts.SkipUpload {
		bucket = ""
	}
	run := &db.Run{
		ID:      runID,
		Board:   opts.Board,
		Bucket:  bucket,
		Suffix:  opts.Suffix,
		Clean:   opts.Clean,
		LogPath: r.cfg.BuildLogPath(),
		User:    username,
		Host:    hostname,
	}
	if err := r.ledger.CreateRun(ctx, run); err != nil {
		r.logger.Error("failed to create run record", err)
	}
}

func (r *Runner) completeRecord(ctx context.Context, res *Result, err error) {
	if r.ledger == nil {
		return
	}
	status := db.StatusSucceeded
	switch {
	case res.ExitCode == ExitInterrupted:
		status = db.StatusCancelled
	case err != nil && isUploadOnly(err):
		status = db.StatusUploadFailed
	case err != nil || res.ExitCode != 0:
		status = db.StatusBuildFailed
	}
	var msg string
	if err != nil {
		msg = err.Error()
	}
	if cerr := r.ledger.CompleteRun(context.WithoutCancel(ctx), res.RunID, status, res.ExitCode, res.Duration, msg); cerr != nil {
		r.logger.Error("failed to update run completion", cerr)
	}
}

// recorder returns the upload recorder for a run, or nil without a ledger.
func (r *Runner) recorder(runID string) upload.Recorder {
	if r.ledger == nil {
		return nil
	}
	return &ledgerRecorder{ledger: r.ledger, runID: runID}
}

// isUploadOnly reports whether err only concerns failed uploads.
func isUploadOnly(err error) bool {
	var incomplete *upload.IncompleteError
	return errors.As(err, &incomplete)
}
