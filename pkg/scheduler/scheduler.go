package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/bus"
	"github.com/cuemby/beads/pkg/dag"
	"github.com/cuemby/beads/pkg/log"
	"github.com/cuemby/beads/pkg/metrics"
	"github.com/cuemby/beads/pkg/store"
	"github.com/cuemby/beads/pkg/types"
)

// Scheduler owns bead lifecycle state, the per-workflow DAG, and worker
// assignments (spec §4.7). Every bead lifecycle operation that succeeds
// (ScheduleBead, MarkReady, AssignToWorker and the Handle* methods) durably
// appends the corresponding event and publishes it on the bus; workflow
// registration and dependency edges are held in memory only and emit no
// event. Callers that need to react to transitions should subscribe to the
// bus rather than poll the scheduler.
type Scheduler struct {
	mu          sync.Mutex
	beads       map[string]*types.Bead     // bead_id -> bead
	graphs      map[string]*dag.Graph      // workflow_id -> graph
	completed   map[string]map[string]bool // workflow_id -> completed bead ids
	assignments map[string]string          // bead_id -> worker_id

	store    store.EventStore
	bus      *bus.Bus
	strategy Strategy
	logger   zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler backed by the given event store and bus, using
// strategy for bead/agent selection.
func New(es store.EventStore, b *bus.Bus, strategy Strategy) *Scheduler {
	return &Scheduler{
		beads:       make(map[string]*types.Bead),
		graphs:      make(map[string]*dag.Graph),
		completed:   make(map[string]map[string]bool),
		assignments: make(map[string]string),
		store:       es,
		bus:         b,
		strategy:    strategy,
		logger:      log.WithComponent("scheduler"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the scheduler's periodic ready-set re-evaluation loop. Start
// is optional: all state-transition operations work synchronously without
// it; the loop exists only to re-check readiness on a cadence as a safety
// net against missed re-evaluation triggers.
func (s *Scheduler) Start(interval time.Duration) {
	s.wg.Add(1)
	go s.run(interval)
}

// Stop halts the periodic loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reevaluateReadySet()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) reevaluateReadySet() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	s.mu.Lock()
	defer s.mu.Unlock()

	for beadID, bead := range s.beads {
		if bead.State != types.BeadPending {
			continue
		}
		g := s.graphs[bead.WorkflowID]
		if g == nil {
			continue
		}
		if g.Ready(beadID, s.completed[bead.WorkflowID]) {
			s.transitionLocked(bead, types.BeadReady, types.EventDependencyResolved, nil)
		}
	}
}

// RegisterWorkflow creates an empty DAG for workflowID. Idempotent.
func (s *Scheduler) RegisterWorkflow(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[workflowID]; !ok {
		s.graphs[workflowID] = dag.New(workflowID)
		s.completed[workflowID] = make(map[string]bool)
	}
}

// UnregisterWorkflow drops a workflow's DAG and completion tracking. Beads
// already scheduled under it are left untouched (callers should cancel them
// first if that's desired).
func (s *Scheduler) UnregisterWorkflow(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.graphs, workflowID)
	delete(s.completed, workflowID)
}

// AddDependency registers a dependency edge in workflowID's DAG.
func (s *Scheduler) AddDependency(workflowID, from, to string, kind types.EdgeKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.graphs[workflowID]
	if g == nil {
		return beaderr.New(beaderr.UnknownBead, "unregistered workflow: "+workflowID)
	}
	return g.AddEdge(from, to, kind)
}

// ScheduleBead registers bead under workflowID and moves it to Pending.
func (s *Scheduler) ScheduleBead(workflowID string, bead *types.Bead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.graphs[workflowID]
	if g == nil {
		return beaderr.New(beaderr.UnknownBead, "unregistered workflow: "+workflowID)
	}

	bead.WorkflowID = workflowID
	bead.State = types.BeadPending
	now := time.Now().UTC()
	bead.CreatedAt, bead.UpdatedAt = now, now
	g.AddNode(bead.ID)
	s.beads[bead.ID] = bead

	return s.emit(bead, types.EventCreated, map[string]any{
		"workflow_id":           workflowID,
		"title":                 bead.Title,
		"complexity":            string(bead.Complexity),
		"priority":              bead.Priority,
		"required_capabilities": bead.RequiredCapabilities,
	})
}

// MarkReady moves a Pending bead to Ready, rejecting it with
// ILLEGAL_TRANSITION if its blocking dependencies are unsatisfied.
func (s *Scheduler) MarkReady(beadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bead, err := s.mustBead(beadID)
	if err != nil {
		return err
	}
	g := s.graphs[bead.WorkflowID]
	if !g.Ready(beadID, s.completed[bead.WorkflowID]) {
		return s.illegalTransition(bead.State, types.BeadReady)
	}
	return s.transitionLocked(bead, types.BeadReady, types.EventDependencyResolved, nil)
}

// AssignToWorker moves a Ready bead to Running, recording the worker.
func (s *Scheduler) AssignToWorker(beadID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bead, err := s.mustBead(beadID)
	if err != nil {
		return err
	}
	if bead.State != types.BeadReady {
		return s.illegalTransition(bead.State, types.BeadRunning)
	}
	s.assignments[beadID] = workerID
	bead.CurrentWorker = workerID
	return s.transitionLocked(bead, types.BeadRunning, types.EventClaimed, map[string]any{"worker_id": workerID})
}

// HandleBeadCompleted moves a Running bead to Completed, clears its
// assignment, and re-evaluates the readiness of its DAG successors.
func (s *Scheduler) HandleBeadCompleted(beadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bead, err := s.mustBead(beadID)
	if err != nil {
		return err
	}
	if bead.State != types.BeadRunning {
		return s.illegalTransition(bead.State, types.BeadCompleted)
	}
	delete(s.assignments, beadID)
	bead.CurrentWorker = ""
	if err := s.transitionLocked(bead, types.BeadCompleted, types.EventCompleted, nil); err != nil {
		return err
	}
	s.completed[bead.WorkflowID][beadID] = true
	s.reevaluateSuccessorsLocked(bead)
	return nil
}

// HandleBeadFailed moves a Running bead to Failed and clears its assignment.
func (s *Scheduler) HandleBeadFailed(beadID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bead, err := s.mustBead(beadID)
	if err != nil {
		return err
	}
	if bead.State != types.BeadRunning {
		return s.illegalTransition(bead.State, types.BeadFailed)
	}
	delete(s.assignments, beadID)
	bead.CurrentWorker = ""
	return s.transitionLocked(bead, types.BeadFailed, types.EventFailed, map[string]any{"reason": reason})
}

// HandleBeadCancelled cancels bead from any non-terminal state.
func (s *Scheduler) HandleBeadCancelled(beadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bead, err := s.mustBead(beadID)
	if err != nil {
		return err
	}
	if bead.State.Terminal() {
		return s.illegalTransition(bead.State, types.BeadCancelled)
	}
	delete(s.assignments, beadID)
	bead.CurrentWorker = ""
	return s.transitionLocked(bead, types.BeadCancelled, types.EventCancelled, nil)
}

// BeadCountsByState reports how many beads are currently in each lifecycle
// state, satisfying pkg/metrics.BeadSource.
func (s *Scheduler) BeadCountsByState() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, b := range s.beads {
		counts[string(b.State)]++
	}
	return counts
}

// GetBead returns a copy of the bead identified by beadID, or
// beaderr.UnknownBead if no such bead has been scheduled.
func (s *Scheduler) GetBead(beadID string) (*types.Bead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bead, err := s.mustBead(beadID)
	if err != nil {
		return nil, err
	}
	cp := *bead
	return &cp, nil
}

// ListBeads returns a copy of every bead known to the scheduler, optionally
// filtered to a single workflow (pass "" for no filter).
func (s *Scheduler) ListBeads(workflowID string) []*types.Bead {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Bead
	for _, b := range s.beads {
		if workflowID != "" && b.WorkflowID != workflowID {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// ReadyBeads returns the beads currently in the Ready state.
func (s *Scheduler) ReadyBeads() []*types.Bead {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Bead
	for _, b := range s.beads {
		if b.State == types.BeadReady {
			out = append(out, b)
		}
	}
	return out
}

// SelectNext uses the configured Strategy to choose the next bead to assign
// and the agent to assign it to, then performs the assignment.
func (s *Scheduler) SelectNext(agents []Agent) (beadID, workerID string, err error) {
	ready := s.ReadyBeads()
	beadID, ok := s.strategy.SelectBead(ready)
	if !ok {
		return "", "", nil
	}

	s.mu.Lock()
	bead := s.beads[beadID]
	s.mu.Unlock()

	workerID, err = s.strategy.SelectAgent(bead, agents)
	if err != nil {
		return "", "", err
	}
	if err := s.AssignToWorker(beadID, workerID); err != nil {
		return "", "", err
	}
	return beadID, workerID, nil
}

func (s *Scheduler) reevaluateSuccessorsLocked(bead *types.Bead) {
	g := s.graphs[bead.WorkflowID]
	if g == nil {
		return
	}
	for id, b := range s.beads {
		if b.WorkflowID != bead.WorkflowID || b.State != types.BeadPending {
			continue
		}
		if g.Ready(id, s.completed[bead.WorkflowID]) {
			s.transitionLocked(b, types.BeadReady, types.EventDependencyResolved, nil)
		}
	}
}

func (s *Scheduler) mustBead(beadID string) (*types.Bead, error) {
	bead, ok := s.beads[beadID]
	if !ok {
		return nil, beaderr.New(beaderr.UnknownBead, "unknown bead: "+beadID)
	}
	return bead, nil
}

func (s *Scheduler) illegalTransition(from, to types.BeadState) error {
	return beaderr.New(beaderr.IllegalTransition,
		"illegal transition from "+string(from)+" to "+string(to))
}

func (s *Scheduler) transitionLocked(bead *types.Bead, to types.BeadState, kind types.EventKind, payload map[string]any) error {
	if !types.IsLegalTransition(bead.State, to) {
		return s.illegalTransition(bead.State, to)
	}

	from := bead.State
	now := time.Now().UTC()
	bead.State = to
	bead.UpdatedAt = now
	bead.History = append(bead.History, types.Transition{From: from, To: to, At: now})

	if err := s.emit(bead, kind, payload); err != nil {
		// roll back in-memory state so the projection stays consistent with
		// the durable log
		bead.State = from
		bead.History = bead.History[:len(bead.History)-1]
		return err
	}

	metrics.BeadTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	if to == types.BeadFailed {
		metrics.BeadsFailedTotal.Inc()
	}
	s.logger.Info().Str("bead_id", bead.ID).Str("from", string(from)).Str("to", string(to)).Msg("bead state changed")
	return nil
}

func (s *Scheduler) emit(bead *types.Bead, kind types.EventKind, payload map[string]any) error {
	seq, err := s.store.LatestSequence(bead.ID)
	if err != nil {
		return err
	}
	event := &types.Event{
		AggregateID: bead.ID,
		Sequence:    seq + 1,
		Kind:        kind,
		Payload:     payload,
	}
	if err := s.store.Append(event); err != nil {
		return err
	}
	metrics.EventsAppendedTotal.Inc()
	s.bus.Publish(*event)
	return nil
}
