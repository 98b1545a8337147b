package projection

import (
	"github.com/cuemby/beads/pkg/types"
)

// BeadView is the projected, queryable shape of a single bead: current
// state, its transition history, current worker assignment if any, and a
// count of phases started/completed along the way.
type BeadView struct {
	ID            string
	WorkflowID    string
	Title         string
	State         types.BeadState
	History       []types.Transition
	CurrentWorker string
	PhaseCounts   map[string]int
}

func (b *BeadView) clone() *BeadView {
	cp := *b
	cp.History = append([]types.Transition(nil), b.History...)
	cp.PhaseCounts = make(map[string]int, len(b.PhaseCounts))
	for k, v := range b.PhaseCounts {
		cp.PhaseCounts[k] = v
	}
	return &cp
}

// WorkflowView is the per-workflow completion view: the set of completed
// beads and a total count seen so far, used by the scheduler's readiness
// check and by the reconciler's convergence comparison.
type WorkflowView struct {
	WorkflowID string
	Completed  map[string]bool
	Total      int
}

func (w *WorkflowView) clone() *WorkflowView {
	cp := *w
	cp.Completed = make(map[string]bool, len(w.Completed))
	for k, v := range w.Completed {
		cp.Completed[k] = v
	}
	return &cp
}

// State is the immutable, queryable result of folding an event prefix.
// Apply never mutates its input State; it returns a new State sharing
// untouched entries with the old one (copy-on-write), so a reader holding a
// reference to an older State sees a stable, consistent snapshot forever.
type State struct {
	Beads     map[string]*BeadView
	Workflows map[string]*WorkflowView
}

// Initial returns the empty projection state, the fold's starting point.
func Initial() *State {
	return &State{
		Beads:     make(map[string]*BeadView),
		Workflows: make(map[string]*WorkflowView),
	}
}

// Apply folds one event into state, returning the resulting state. apply is
// total: event kinds it does not recognize, or events referencing a bead it
// has not seen Created for (other than Created itself), are skipped rather
// than treated as an error, preserving determinism over any well-formed
// event sequence.
func Apply(s *State, e types.Event) *State {
	next := &State{Beads: s.Beads, Workflows: s.Workflows}

	switch e.Kind {
	case types.EventCreated:
		bead := &BeadView{
			ID:          e.AggregateID,
			State:       types.BeadPending,
			PhaseCounts: make(map[string]int),
		}
		if wfID, ok := e.Payload["workflow_id"].(string); ok {
			bead.WorkflowID = wfID
		}
		if title, ok := e.Payload["title"].(string); ok {
			bead.Title = title
		}
		next.Beads = cloneBeads(s.Beads)
		next.Beads[e.AggregateID] = bead

		if bead.WorkflowID != "" {
			next.Workflows = cloneWorkflows(s.Workflows)
			wf := getOrNewWorkflow(next.Workflows, bead.WorkflowID)
			wf.Total++
			next.Workflows[bead.WorkflowID] = wf
		}
		return next

	case types.EventStateChanged, types.EventClaimed, types.EventFailed,
		types.EventCompleted, types.EventCancelled, types.EventDependencyResolved,
		types.EventWorkerUnhealthy, types.EventPriorityChanged:
		bead, ok := s.Beads[e.AggregateID]
		if !ok {
			return s
		}
		cp := bead.clone()
		applyTransitionFields(cp, e)
		next.Beads = cloneBeads(s.Beads)
		next.Beads[e.AggregateID] = cp

		if e.Kind == types.EventCompleted && cp.WorkflowID != "" {
			next.Workflows = cloneWorkflows(s.Workflows)
			wf := getOrNewWorkflow(next.Workflows, cp.WorkflowID)
			wf.Completed[e.AggregateID] = true
			next.Workflows[cp.WorkflowID] = wf
		}
		return next

	case types.EventPhaseStarted:
		bead, ok := s.Beads[e.AggregateID]
		if !ok {
			return s
		}
		cp := bead.clone()
		cp.PhaseCounts["started"]++
		next.Beads = cloneBeads(s.Beads)
		next.Beads[e.AggregateID] = cp
		return next

	case types.EventPhaseCompleted:
		bead, ok := s.Beads[e.AggregateID]
		if !ok {
			return s
		}
		cp := bead.clone()
		cp.PhaseCounts["completed"]++
		next.Beads = cloneBeads(s.Beads)
		next.Beads[e.AggregateID] = cp
		return next

	default:
		return s
	}
}

func applyTransitionFields(bead *BeadView, e types.Event) {
	if workerID, ok := e.Payload["worker_id"].(string); ok {
		bead.CurrentWorker = workerID
	}
	if e.Kind == types.EventCompleted || e.Kind == types.EventFailed || e.Kind == types.EventCancelled {
		bead.CurrentWorker = ""
	}
	switch e.Kind {
	case types.EventClaimed:
		bead.State = types.BeadRunning
	case types.EventDependencyResolved:
		bead.State = types.BeadReady
	case types.EventFailed:
		bead.State = types.BeadFailed
	case types.EventCompleted:
		bead.State = types.BeadCompleted
	case types.EventCancelled:
		bead.State = types.BeadCancelled
	}
	bead.History = append(bead.History, types.Transition{To: bead.State, At: e.Timestamp})
}

func getOrNewWorkflow(m map[string]*WorkflowView, id string) *WorkflowView {
	if wf, ok := m[id]; ok {
		return wf.clone()
	}
	return &WorkflowView{WorkflowID: id, Completed: make(map[string]bool)}
}

func cloneBeads(m map[string]*BeadView) map[string]*BeadView {
	cp := make(map[string]*BeadView, len(m)+1)
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneWorkflows(m map[string]*WorkflowView) map[string]*WorkflowView {
	cp := make(map[string]*WorkflowView, len(m)+1)
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Fold applies every event in order to initial, returning the resulting
// state. Folding the same prefix twice, from the same starting state,
// always yields equal results (spec property 1).
func Fold(initial *State, events []types.Event) *State {
	state := initial
	for _, e := range events {
		state = Apply(state, e)
	}
	return state
}
