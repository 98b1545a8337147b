package replay

import (
	"time"

	"github.com/cuemby/beads/pkg/metrics"
	"github.com/cuemby/beads/pkg/projection"
	"github.com/cuemby/beads/pkg/store"
)

// Progress is a snapshot of an in-flight or completed replay, matching
// spec §6's replay tracker wire fields.
type Progress struct {
	EventsProcessed int
	EventsTotal     int
	PercentComplete int
	StartedAt       time.Time
	Elapsed         time.Duration
}

// Tracker receives Progress updates from a running replay. OnProgress is
// called from the replay's goroutine; implementations that need to hand off
// to another goroutine must do their own buffering.
type Tracker interface {
	OnProgress(Progress)
}

// TrackerFunc adapts a plain function to a Tracker.
type TrackerFunc func(Progress)

func (f TrackerFunc) OnProgress(p Progress) { f(p) }

// noopTracker discards progress updates.
type noopTracker struct{}

func (noopTracker) OnProgress(Progress) {}

// Engine replays events from an EventStore into a projection.State.
type Engine struct {
	store         store.EventStore
	progressEvery int // report every N events; 0 means only at completion
}

// NewEngine constructs a replay Engine reading from es. progressEvery
// controls how often Tracker.OnProgress fires during a long replay; pass 0
// to only report once, at completion.
func NewEngine(es store.EventStore, progressEvery int) *Engine {
	return &Engine{store: es, progressEvery: progressEvery}
}

// ReplayAll replays every event after cursor (0 for the very start) into
// base, reporting progress to tracker (nil is replaced with a no-op). It
// returns the resulting projection.State and the offset of the last event
// processed, which the caller should persist as the new cursor.
func (e *Engine) ReplayAll(cursor uint64, base *projection.State, tracker Tracker) (*projection.State, uint64, error) {
	if tracker == nil {
		tracker = noopTracker{}
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplayDuration)

	events, err := e.store.ReplayFrom(cursor)
	if err != nil {
		return nil, cursor, err
	}

	started := time.Now().UTC()
	total := len(events)
	state := base
	lastOffset := cursor

	for i, ev := range events {
		state = projection.Apply(state, ev)
		lastOffset = ev.Offset
		metrics.ReplayEventsProcessedTotal.Inc()

		if e.progressEvery > 0 && (i+1)%e.progressEvery == 0 {
			e.report(tracker, i+1, total, started)
		}
	}

	e.report(tracker, total, total, started)
	return state, lastOffset, nil
}

func (e *Engine) report(tracker Tracker, processed, total int, started time.Time) {
	percent := 100
	if total > 0 {
		percent = processed * 100 / total
	}
	tracker.OnProgress(Progress{
		EventsProcessed: processed,
		EventsTotal:     total,
		PercentComplete: percent,
		StartedAt:       started,
		Elapsed:         time.Since(started),
	})
}
