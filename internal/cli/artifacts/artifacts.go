package artifacts

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/schererja/boardforge/internal/artifacts"
	"github.com/schererja/boardforge/internal/cli/common"
	"github.com/schererja/boardforge/internal/config"
	"github.com/schererja/boardforge/internal/storage"
	"github.com/schererja/boardforge/internal/upload"
)

// New returns the artifacts command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List built images and what would be uploaded",
		Long: `Scan the output directory for the images of a board and print the upload plan
without contacting any storage backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.BindFlags(cmd); err != nil {
				return err
			}
			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}
			var loc storage.Location
			if cfg.Bucket != "" {
				if loc, err = storage.ParseBucketPath(cfg.Bucket); err != nil {
					return err
				}
			}
			plan, err := upload.BuildPlan(cfg.OutputPath(), cfg.Board, cfg.Suffix, loc)
			if err != nil {
				return err
			}
			verify, _ := cmd.Flags().GetBool("verify")
			printPlan(cmd.OutOrStdout(), cfg, loc, plan, verify)
			return nil
		},
	}
	cmd.Flags().StringP("board", "b", config.DefaultBoard, "board whose images are listed")
	cmd.Flags().String("bucket", "", "destination used to compute remote keys")
	cmd.Flags().String("suffix", "", "suffix appended to image names and the version directory")
	cmd.Flags().String("engine-dir", "", "directory the build engine runs in")
	cmd.Flags().String("output-dir", "", "engine output directory, relative to --engine-dir")
	cmd.Flags().Bool("verify", false, "check images against their .sha256 file")
	return cmd
}

func printPlan(w io.Writer, cfg *config.Config, loc storage.Location, plan *upload.Plan, verify bool) {
	if len(plan.Images) == 0 {
		fmt.Fprintf(w, "No images found (%s)\n", artifacts.GlobPattern(cfg.OutputPath(), cfg.Board))
	}
	for _, d := range plan.Images {
		line := fmt.Sprintf("📦 %s  %s", d.ImageFilename, d.VersionTag(cfg.Suffix))
		if verify {
			line += "  " + checksumState(d.Path())
		}
		fmt.Fprintln(w, line)
	}

	if len(plan.Tasks) > 0 {
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("LOCAL", "KEY", "TYPE", "SIZE")
		for _, task := range plan.Tasks {
			t.Row(filepath.Base(task.LocalPath), task.Key, task.ContentType, units.HumanSize(float64(task.Size)))
		}
		fmt.Fprintln(w, t.String())
		dest := loc.String()
		if loc.Scheme == "" {
			dest = "(no bucket)"
		}
		fmt.Fprintf(w, "%d files, %s to %s\n", len(plan.Tasks), units.HumanSize(float64(plan.Bytes())), dest)
	}
	for _, m := range plan.Missing {
		fmt.Fprintf(w, "missing: %s\n", m)
	}
	for _, e := range plan.Invalid {
		fmt.Fprintf(w, "invalid: %v\n", e)
	}
}

func checksumState(path string) string {
	err := artifacts.VerifyChecksum(path)
	switch {
	case err == nil:
		return "sha256 ok"
	case errors.Is(err, artifacts.ErrNoChecksum):
		return "no checksum"
	default:
		return "sha256 MISMATCH"
	}
}
