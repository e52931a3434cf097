package build

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"

	buildpkg "github.com/schererja/boardforge/internal/build"
	"github.com/schererja/boardforge/internal/config"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

func printSummary(w io.Writer, cfg *config.Config, res *buildpkg.Result, err error) {
	if res == nil {
		return
	}
	fmt.Fprintln(w)
	status := okStyle.Render("✅ success")
	switch {
	case res.ExitCode == buildpkg.ExitInterrupted:
		status = failStyle.Render("⛔ interrupted")
	case res.ExitCode != 0:
		status = failStyle.Render(fmt.Sprintf("❌ build failed (exit %d)", res.ExitCode))
	case err != nil:
		status = failStyle.Render("⚠️  upload incomplete")
	}
	fmt.Fprintf(w, "%s %s\n", status, dimStyle.Render("run "+res.RunID))
	fmt.Fprintf(w, "   Board:    %s\n", cfg.Board)
	if res.Packages > 0 {
		fmt.Fprintf(w, "   Packages: %d\n", res.Packages)
	}
	if res.Build != nil {
		fmt.Fprintf(w, "   Build:    %s (log %s)\n", res.Build.Duration.Round(time.Second), res.Build.LogPath)
		if res.ExitCode != 0 {
			for _, line := range res.Build.Tail {
				fmt.Fprintf(w, "   %s\n", dimStyle.Render(line))
			}
		}
	}
	if p := res.Publish; p != nil {
		fmt.Fprintf(w, "   Uploads:  %d/%d (%s) to %s\n", len(p.Succeeded), p.Tasks, units.HumanSize(float64(p.Bytes)), cfg.Bucket)
		for _, key := range p.Failed {
			fmt.Fprintf(w, "   %s %s: %v\n", failStyle.Render("✗"), key, p.Errors[key])
		}
		for _, e := range p.Invalid {
			fmt.Fprintf(w, "   %s %v\n", dimStyle.Render("skipped"), e)
		}
	}
	fmt.Fprintf(w, "   Total:    %s\n", res.Duration.Round(time.Millisecond))
}
