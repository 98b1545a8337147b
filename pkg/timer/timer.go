package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/beads/pkg/log"
	"github.com/cuemby/beads/pkg/metrics"
)

// Entry is one scheduled timer.
type Entry struct {
	ID         string
	FireAt     time.Time
	Payload    any
	CallbackID string

	index int // heap.Interface bookkeeping
}

// Outcome is what a Callback reports after executing a due timer.
type Outcome int

const (
	Success Outcome = iota
	Failed
	Retry
)

// Result is a Callback's return value: Success or Failed are terminal;
// Retry schedules the timer's payload and callback again, as a new timer
// with a new ID, RetryAfter in the future instead of dropping it (original_source's timers/executor.rs Retry(delay) shape,
// carried per SPEC_FULL.md §12).
type Result struct {
	Outcome    Outcome
	RetryAfter time.Duration
	Err        error
}

// Callback executes a due timer.
type Callback func(Entry) Result

type timerHeap []*Entry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].FireAt.Before(h[j].FireAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *timerHeap) Push(x any)         { e := x.(*Entry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler holds pending timers in a fire_at-ordered priority queue and
// dispatches due ones to registered callbacks with bounded concurrency.
type Scheduler struct {
	mu        sync.Mutex
	queue     timerHeap
	byID      map[string]*Entry
	callbacks map[string]Callback

	maxConcurrent int
	inFlight      int
	cond          *sync.Cond

	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler constructs a Scheduler allowing at most maxConcurrent
// callback executions in flight at once; excess due timers wait for a slot
// to free up (spec §4.10's "overflow defers").
func NewScheduler(maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	s := &Scheduler{
		byID:          make(map[string]*Entry),
		callbacks:     make(map[string]Callback),
		maxConcurrent: maxConcurrent,
		logger:        log.WithComponent("timer"),
		stopCh:        make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// RegisterCallback associates callbackID with fn, so timers scheduled with
// that CallbackID dispatch to it.
func (s *Scheduler) RegisterCallback(callbackID string, fn Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[callbackID] = fn
}

// Schedule adds a new timer firing at fireAt and returns its id.
func (s *Scheduler) Schedule(fireAt time.Time, payload any, callbackID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &Entry{ID: uuid.NewString(), FireAt: fireAt, Payload: payload, CallbackID: callbackID}
	heap.Push(&s.queue, e)
	s.byID[e.ID] = e
	return e.ID
}

// Cancel removes a pending timer. It reports whether a timer with that id
// was found (already-fired or already-cancelled timers return false).
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, e.index)
	delete(s.byID, id)
	return true
}

// PollDue removes and returns every timer whose FireAt is at or before now.
func (s *Scheduler) PollDue(now time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Entry
	for s.queue.Len() > 0 && !s.queue[0].FireAt.After(now) {
		e := heap.Pop(&s.queue).(*Entry)
		delete(s.byID, e.ID)
		due = append(due, *e)
	}
	return due
}

// RunDue polls for and dispatches every timer due at now, blocking until
// each has either started (subject to maxConcurrent) or the slot became
// available. It does not wait for callbacks to finish.
func (s *Scheduler) RunDue(now time.Time) {
	for _, e := range s.PollDue(now) {
		s.dispatch(e)
	}
}

func (s *Scheduler) dispatch(e Entry) {
	s.mu.Lock()
	for s.inFlight >= s.maxConcurrent {
		s.cond.Wait()
	}
	s.inFlight++
	fn := s.callbacks[e.CallbackID]
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.inFlight--
			s.cond.Signal()
			s.mu.Unlock()
		}()

		metrics.TimersFiredTotal.Inc()
		if fn == nil {
			s.logger.Warn().Str("callback_id", e.CallbackID).Msg("no callback registered for due timer")
			return
		}

		result := fn(e)
		switch result.Outcome {
		case Retry:
			metrics.TimersRetriedTotal.Inc()
			s.Schedule(time.Now().Add(result.RetryAfter), e.Payload, e.CallbackID)
		case Failed:
			s.logger.Warn().Str("timer_id", e.ID).Err(result.Err).Msg("timer callback failed")
		}
	}()
}

// Start begins a background loop calling RunDue on the given poll interval.
func (s *Scheduler) Start(pollInterval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunDue(time.Now())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the background poll loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// DeliveryTracker records which message ids have already been delivered, so
// at-least-once redelivery can be deduped by consumers (spec §4.10).
type DeliveryTracker struct {
	mu        sync.Mutex
	delivered map[string]bool
}

// NewDeliveryTracker creates an empty tracker.
func NewDeliveryTracker() *DeliveryTracker {
	return &DeliveryTracker{delivered: make(map[string]bool)}
}

// MarkDelivered records messageID as delivered and reports whether this is
// the first time it has been marked (false means it was already delivered
// and the caller should skip reprocessing).
func (t *DeliveryTracker) MarkDelivered(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.delivered[messageID] {
		return false
	}
	t.delivered[messageID] = true
	return true
}

// IsDelivered reports whether messageID has already been marked delivered.
func (t *DeliveryTracker) IsDelivered(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delivered[messageID]
}
