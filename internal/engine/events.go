package engine

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// EventType distinguishes the kinds of Event emitted while a build runs.
type EventType int

const (
	// EventLine carries every raw output line, progress-bearing or not.
	EventLine EventType = iota
	// EventProgress is emitted for each line matching the progress grammar.
	EventProgress
	// EventStageComplete carries the stage a package just left.
	EventStageComplete
	// EventFinished is the synthetic terminal event carrying the exit code.
	// After exit code 0 every package is complete and its last stage has
	// been reported by a preceding EventStageComplete. After a failure the
	// last stage of each package is left open and no completion is emitted.
	EventFinished
)

func (t EventType) String() string {
	switch t {
	case EventLine:
		return "line"
	case EventProgress:
		return "progress"
	case EventStageComplete:
		return "stage-complete"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is one item of the build event stream.
type Event struct {
	Type     EventType
	Package  string
	Version  string
	Stage    string
	RawLine  string
	ExitCode int // EventFinished only
}

// Handler consumes build events. It runs on the executor's read loop and
// should return quickly.
type Handler func(Event)

// progressLine is the engine's progress grammar: ">>> <package> <version> <stage>".
// The stage is the remainder of the line.
var progressLine = regexp.MustCompile(`>>>\s+(\S+)\s+(\S+)\s+(.*\S)`)

type pendingStage struct {
	version string
	stage   string
}

// stageTracker classifies output lines and remembers the current stage of
// every package seen so far.
type stageTracker struct {
	current map[string]pendingStage
	order   []string
}

func newStageTracker() *stageTracker {
	return &stageTracker{current: make(map[string]pendingStage)}
}

// parse returns the events a raw line produces beyond the EventLine itself.
// Malformed lines produce nothing.
func (s *stageTracker) parse(raw string) []Event {
	m := progressLine.FindStringSubmatch(ansi.Strip(raw))
	if m == nil {
		return nil
	}
	pkg, version, stage := m[1], m[2], strings.TrimSpace(m[3])

	events := []Event{{Type: EventProgress, Package: pkg, Version: version, Stage: stage, RawLine: raw}}

	prev, seen := s.current[pkg]
	switch {
	case !seen:
		s.order = append(s.order, pkg)
	case prev.stage != stage:
		events = append(events, Event{Type: EventStageComplete, Package: pkg, Version: prev.version, Stage: prev.stage, RawLine: raw})
	}
	s.current[pkg] = pendingStage{version: version, stage: stage}
	return events
}

// flush completes every package's last stage, in first-seen order.
func (s *stageTracker) flush() []Event {
	events := make([]Event, 0, len(s.order))
	for _, pkg := range s.order {
		p := s.current[pkg]
		events = append(events, Event{Type: EventStageComplete, Package: pkg, Version: p.version, Stage: p.stage})
	}
	s.order = nil
	s.current = make(map[string]pendingStage)
	return events
}
