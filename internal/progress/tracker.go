// Package progress tracks the build and upload tasks of one run and redraws
// them at a fixed rate. All I/O is delegated to a Renderer.
package progress

import (
	"maps"
	"sync"
	"time"
)

// DefaultInterval is the redraw period.
const DefaultInterval = 150 * time.Millisecond

// Unit says how a task's counters are displayed.
type Unit int

const (
	// Items counts discrete steps, e.g. packages built.
	Items Unit = iota
	// Bytes counts transferred bytes.
	Bytes
)

// Status is the lifecycle state of a task.
type Status int

const (
	Running Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Common label keys.
const (
	LabelPackage = "package"
	LabelStage   = "stage"
	LabelURL     = "url"
	LabelError   = "error"
)

// TaskState is a copy of one task's record.
type TaskState struct {
	ID        string
	Title     string
	Unit      Unit
	Completed int64
	Total     int64
	Status    Status
	Labels    map[string]string
	StartedAt time.Time
	EndedAt   time.Time
}

// Fraction returns Completed/Total in [0,1]; 0 when the total is unknown.
func (s TaskState) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	f := float64(s.Completed) / float64(s.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Snapshot is the state handed to a Renderer on every frame.
type Snapshot struct {
	Tasks   []TaskState
	Elapsed time.Duration
	Final   bool
}

// Renderer draws snapshots. Render is only ever called from one goroutine
// at a time.
type Renderer interface {
	Render(s Snapshot)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithInterval sets the redraw period.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

// Tracker holds per-task progress. Updates may come from any goroutine and
// are serialized by a single mutex; a ticker goroutine renders the latest
// state. Counters never move backwards. Every update after Stop is a no-op.
type Tracker struct {
	renderer Renderer
	interval time.Duration

	mu      sync.Mutex
	tasks   map[string]*TaskState
	order   []string
	started time.Time
	running bool
	stopped bool

	renderMu sync.Mutex
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a Tracker drawing to r. A nil renderer discards frames.
func New(r Renderer, opts ...Option) *Tracker {
	t := &Tracker{
		renderer: r,
		interval: DefaultInterval,
		tasks:    make(map[string]*TaskState),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start begins periodic rendering. It must be called at most once.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.running || t.stopped {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.started = time.Now()
	t.mu.Unlock()

	if t.interval > 0 {
		t.wg.Add(1)
		go t.loop()
	}
}

// Stop halts rendering, draws a final frame and freezes the tracker.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	wasRunning := t.running
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()
	if wasRunning {
		t.render(true)
	}
}

func (t *Tracker) loop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.render(false)
		case <-t.done:
			return
		}
	}
}

func (t *Tracker) render(final bool) {
	if t.renderer == nil {
		return
	}
	snap := t.Snapshot()
	snap.Final = final
	t.renderMu.Lock()
	defer t.renderMu.Unlock()
	t.renderer.Render(snap)
}

// update runs fn on the named task under the lock. It reports false when the
// tracker is stopped or the task is unknown.
func (t *Tracker) update(id string, fn func(*TaskState)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	tk, ok := t.tasks[id]
	if !ok {
		return false
	}
	fn(tk)
	return true
}

// AddTask registers a task. Adding an existing id updates its title and
// raises its total, keeping progress already made.
func (t *Tracker) AddTask(id, title string, total int64, unit Unit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if tk, ok := t.tasks[id]; ok {
		tk.Title = title
		if total > tk.Total {
			tk.Total = total
		}
		return
	}
	t.tasks[id] = &TaskState{
		ID:        id,
		Title:     title,
		Unit:      unit,
		Total:     total,
		Labels:    make(map[string]string),
		StartedAt: time.Now(),
	}
	t.order = append(t.order, id)
}

// Advance raises a task's completed counter to n. Lower values are ignored
// and n is capped at the total when one is known.
func (t *Tracker) Advance(id string, n int64) {
	t.update(id, func(tk *TaskState) {
		if tk.Status != Running {
			return
		}
		if tk.Total > 0 && n > tk.Total {
			n = tk.Total
		}
		if n > tk.Completed {
			tk.Completed = n
		}
	})
}

// SetLabel sets a free-form label on a task.
func (t *Tracker) SetLabel(id, key, value string) {
	t.update(id, func(tk *TaskState) {
		tk.Labels[key] = value
	})
}

// Finish marks a task done. A nil err fills the counter to its total.
func (t *Tracker) Finish(id string, err error) {
	t.update(id, func(tk *TaskState) {
		if tk.Status != Running {
			return
		}
		tk.EndedAt = time.Now()
		if err != nil {
			tk.Status = Failed
			tk.Labels[LabelError] = err.Error()
			return
		}
		tk.Status = Succeeded
		if tk.Total > tk.Completed {
			tk.Completed = tk.Total
		}
	})
}

// Task returns a copy of one task's state.
func (t *Tracker) Task(id string) (TaskState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	return copyState(tk), true
}

// Snapshot returns a copy of every task in registration order.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{Tasks: make([]TaskState, 0, len(t.order))}
	if !t.started.IsZero() {
		snap.Elapsed = time.Since(t.started)
	}
	for _, id := range t.order {
		snap.Tasks = append(snap.Tasks, copyState(t.tasks[id]))
	}
	return snap
}

func copyState(tk *TaskState) TaskState {
	s := *tk
	s.Labels = maps.Clone(tk.Labels)
	return s
}
