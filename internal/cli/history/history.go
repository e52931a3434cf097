package history

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/schererja/boardforge/internal/cli/common"
	"github.com/schererja/boardforge/internal/db"
)

// New returns the history command.
func New() *cobra.Command {
	var (
		board string
		limit int
		runID string
		prune time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs and their uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.BindFlags(cmd); err != nil {
				return err
			}
			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}
			ledger, err := db.Open(cfg.History.Path)
			if err != nil {
				return fmt.Errorf("failed to open build history: %w", err)
			}
			defer ledger.Close()

			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			switch {
			case prune > 0:
				n, err := ledger.DeleteRunsBefore(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "🧹 Removed %d runs older than %s\n", n, prune)
				return nil
			case runID != "":
				run, err := ledger.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				uploads, err := ledger.ListUploads(ctx, runID)
				if err != nil {
					return err
				}
				printRun(w, run, uploads)
				return nil
			}
			runs, err := ledger.ListRuns(ctx, board, limit)
			if err != nil {
				return err
			}
			printRuns(w, runs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&board, "board", "b", "", "only list runs for this board")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().StringVar(&runID, "run", "", "show the uploads of one run")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete runs older than this age, e.g. 720h")
	cmd.Flags().String("history", "", "path of the history database")
	return cmd
}

func exitCode(c *int) string {
	if c == nil {
		return "-"
	}
	return strconv.Itoa(*c)
}

func duration(s *int) string {
	if s == nil {
		return "-"
	}
	return (time.Duration(*s) * time.Second).String()
}

func printRuns(w io.Writer, runs []*db.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "BOARD", "STATUS", "EXIT", "PACKAGES", "UPLOADS", "STARTED", "DURATION")
	for _, r := range runs {
		uploads := strconv.Itoa(r.UploadsSucceeded)
		if r.UploadsFailed > 0 {
			uploads += fmt.Sprintf(" (%d failed)", r.UploadsFailed)
		}
		t.Row(r.ID[:min(8, len(r.ID))], r.Board, string(r.Status), exitCode(r.ExitCode),
			strconv.Itoa(r.Packages), uploads, r.CreatedAt.Local().Format(time.DateTime), duration(r.DurationSeconds))
	}
	fmt.Fprintln(w, t.String())
}

func printRun(w io.Writer, r *db.Run, uploads []*db.Upload) {
	fmt.Fprintf(w, "Run %s\n", r.ID)
	fmt.Fprintf(w, "  Board:   %s\n", r.Board)
	fmt.Fprintf(w, "  Status:  %s (exit %s)\n", r.Status, exitCode(r.ExitCode))
	if r.Bucket != "" {
		fmt.Fprintf(w, "  Bucket:  %s\n", r.Bucket)
	}
	fmt.Fprintf(w, "  By:      %s@%s\n", r.User, r.Host)
	if r.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:   %s\n", r.ErrorMessage)
	}
	if len(uploads) == 0 {
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("KEY", "STATUS", "ATTEMPTS", "SIZE")
	for _, u := range uploads {
		status := string(u.Status)
		if u.ErrorMessage != "" {
			status += ": " + u.ErrorMessage
		}
		t.Row(u.RemoteKey, status, strconv.Itoa(u.Attempts), units.HumanSize(float64(u.SizeBytes)))
	}
	fmt.Fprintln(w, t.String())
}
