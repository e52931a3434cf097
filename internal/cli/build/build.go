package build

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	buildpkg "github.com/schererja/boardforge/internal/build"
	"github.com/schererja/boardforge/internal/cli/common"
	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/internal/db"
	"github.com/schererja/boardforge/internal/upload"
)

// New returns the build command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a board and publish its images",
		Long: `Resolve the build order for a board, run the build engine with live progress
and upload every produced image to the bucket path. A failing build skips the
upload and its exit code becomes the exit code of boardforge.`,
		Example: `  boardforge build --board rk3588 --bucket s3://images/nightly --suffix beta
  boardforge build -b x86_64 --skip-upload --clean`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.BindFlags(cmd); err != nil {
				return err
			}
			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBuild(ctx, cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringP("board", "b", config.DefaultBoard, "board to build")
	flags.Bool("clean", false, "run the clean build target")
	flags.String("bucket", "", "destination, e.g. s3://bucket/prefix, az://container/prefix or a local directory")
	flags.String("suffix", "", "suffix appended to image names and the version directory")
	flags.Bool("skip-build", false, "publish the images already in the output directory")
	flags.Bool("skip-upload", false, "build without publishing")
	flags.Int("workers", 0, "number of concurrent uploads")
	flags.String("engine-dir", "", "directory the build engine runs in")
	flags.String("tool", "", "build engine front-end executable")
	flags.String("output-dir", "", "engine output directory, relative to --engine-dir")
	flags.Bool("verify", false, "check images against their .sha256 file before upload")
	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	out := common.NewOutput(common.Verbose())
	log := out.Logger

	opts := []buildpkg.RunnerOption{buildpkg.WithTracker(out.Tracker)}
	if !cfg.History.Disabled {
		ledger, err := db.Open(cfg.History.Path)
		if err != nil {
			log.Warn("build history unavailable", slog.String("path", cfg.History.Path), slog.String("error", err.Error()))
		} else {
			defer ledger.Close()
			opts = append(opts, buildpkg.WithLedger(ledger))
		}
	}

	runner := buildpkg.NewRunner(cfg, log, opts...)
	out.Tracker.Start()
	res, err := runner.Run(ctx, buildpkg.OptionsFromConfig(cfg))
	out.Tracker.Stop()

	printSummary(cmd.OutOrStdout(), cfg, res, err)

	// Upload failures are listed in the summary and leave the exit code alone.
	var incomplete *upload.IncompleteError
	if errors.As(err, &incomplete) && res.ExitCode == 0 {
		return nil
	}
	if res.ExitCode == buildpkg.ExitInterrupted {
		return common.Exit(res.ExitCode, errors.New("interrupted"))
	}
	return common.Exit(res.ExitCode, err)
}
