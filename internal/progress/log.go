package progress

import (
	"log/slog"

	"github.com/schererja/boardforge/pkg/logger"
)

type logged struct {
	status  Status
	decile  int
	pkg     string
	visible bool
}

// LogRenderer reports progress as log records when no terminal is attached.
// It logs a task when it appears, at every tenth of its total, when its
// current package changes (debug level) and when it finishes.
type LogRenderer struct {
	logger *logger.Logger
	seen   map[string]logged
}

// NewLogRenderer creates a LogRenderer.
func NewLogRenderer(log *logger.Logger) *LogRenderer {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogRenderer{logger: log, seen: make(map[string]logged)}
}

func (r *LogRenderer) Render(s Snapshot) {
	for _, t := range s.Tasks {
		prev := r.seen[t.ID]
		cur := logged{
			status:  t.Status,
			decile:  int(t.Fraction() * 10),
			pkg:     t.Labels[LabelPackage],
			visible: true,
		}
		attrs := []slog.Attr{
			slog.String("task", t.Title),
			slog.Int64("completed", t.Completed),
			slog.Int64("total", t.Total),
		}

		if !prev.visible {
			r.logger.Info("task started", attrs...)
			prev = logged{status: Running, visible: true}
		}

		switch {
		case cur.status != prev.status && cur.status == Failed:
			r.logger.Warn("task failed", append(attrs, slog.String("error", t.Labels[LabelError]))...)
		case cur.status != prev.status && cur.status == Succeeded:
			r.logger.Info("task finished", append(attrs, slog.Duration("duration", t.EndedAt.Sub(t.StartedAt)))...)
		case cur.decile > prev.decile:
			r.logger.Info("task progress", append(attrs, slog.Int("percent", cur.decile*10))...)
		case cur.pkg != prev.pkg && cur.pkg != "":
			r.logger.Debug("building package", append(attrs, slog.String("package", cur.pkg), slog.String("stage", t.Labels[LabelStage]))...)
		}
		r.seen[t.ID] = cur
	}
}
