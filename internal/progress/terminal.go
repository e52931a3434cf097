package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/docker/go-units"
)

const (
	defaultWidth = 100
	barWidth     = 28
	titleWidth   = 28
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// TerminalRenderer redraws a live block of progress bars in place. It is
// also an io.Writer: anything written to it (typically log output) is
// printed above the block, which is then redrawn underneath.
type TerminalRenderer struct {
	mu    sync.Mutex
	out   io.Writer
	width int
	bar   bar.Model
	last  string
	lines int
}

// NewTerminalRenderer creates a renderer for a terminal of the given width.
func NewTerminalRenderer(out io.Writer, width int) *TerminalRenderer {
	if width <= 0 {
		width = defaultWidth
	}
	return &TerminalRenderer{
		out:   out,
		width: width,
		bar:   bar.New(bar.WithDefaultGradient(), bar.WithWidth(barWidth), bar.WithoutPercentage()),
	}
}

// Render replaces the previous frame. A final frame stays on screen.
func (r *TerminalRenderer) Render(s Snapshot) {
	frame := r.frame(s)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clear()
	io.WriteString(r.out, frame)
	r.lines = strings.Count(frame, "\n")
	r.last = frame
	if s.Final {
		r.lines = 0
		r.last = ""
	}
}

// Write prints p above the live block.
func (r *TerminalRenderer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clear()
	n, err := r.out.Write(p)
	if len(p) > 0 && p[len(p)-1] != '\n' {
		io.WriteString(r.out, "\n")
	}
	if r.last != "" {
		io.WriteString(r.out, r.last)
		r.lines = strings.Count(r.last, "\n")
	}
	return n, err
}

// clear erases the lines of the previous frame. Callers hold r.mu.
func (r *TerminalRenderer) clear() {
	if r.lines == 0 {
		return
	}
	var b strings.Builder
	for range r.lines {
		b.WriteString(ansi.CursorUp(1))
		b.WriteString(ansi.EraseEntireLine)
	}
	b.WriteString("\r")
	io.WriteString(r.out, b.String())
	r.lines = 0
}

func (r *TerminalRenderer) frame(s Snapshot) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("boardforge"))
	b.WriteString(dimStyle.Render(" " + s.Elapsed.Round(time.Second).String()))
	b.WriteString("\n")
	for _, t := range s.Tasks {
		b.WriteString(r.line(t))
		b.WriteString("\n")
	}
	return b.String()
}

func (r *TerminalRenderer) line(t TaskState) string {
	var icon string
	switch t.Status {
	case Succeeded:
		icon = okStyle.Render("✓")
	case Failed:
		icon = failStyle.Render("✗")
	default:
		icon = runningStyle.Render("•")
	}

	title := ansi.Truncate(t.Title, titleWidth, "…")
	title += strings.Repeat(" ", max(0, titleWidth-ansi.StringWidth(title)))

	row := fmt.Sprintf("%s %s %s %s", icon, title, r.bar.ViewAs(t.Fraction()), counter(t))
	if d := detail(t); d != "" {
		row += " " + dimStyle.Render(d)
	}
	return ansi.Truncate(row, r.width, "…")
}

// counter formats "completed/total" in the task's unit.
func counter(t TaskState) string {
	if t.Unit == Bytes {
		return units.HumanSize(float64(t.Completed)) + "/" + units.HumanSize(float64(t.Total))
	}
	if t.Total <= 0 {
		return fmt.Sprintf("%d", t.Completed)
	}
	return fmt.Sprintf("%d/%d", t.Completed, t.Total)
}

// detail is the label text shown after the counter.
func detail(t TaskState) string {
	if msg, ok := t.Labels[LabelError]; ok && t.Status == Failed {
		return msg
	}
	if t.Status != Running {
		return ""
	}
	if url := t.Labels[LabelURL]; url != "" {
		return url
	}
	return strings.TrimSpace(t.Labels[LabelPackage] + " " + t.Labels[LabelStage])
}
