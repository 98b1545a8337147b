package main

import (
	"sync"

	"github.com/cuemby/beads/pkg/actor"
	"github.com/cuemby/beads/pkg/bus"
	"github.com/cuemby/beads/pkg/projection"
	"github.com/cuemby/beads/pkg/reconciler"
	"github.com/cuemby/beads/pkg/scheduler"
	"github.com/cuemby/beads/pkg/store"
	"github.com/cuemby/beads/pkg/types"
)

// liveProjection keeps a projection.State up to date by folding every event
// the scheduler publishes on the bus, independent of the scheduler's own
// in-memory bookkeeping. It serves as the reconciler's ActualProvider.
type liveProjection struct {
	mu    sync.Mutex
	state *projection.State
}

func newLiveProjection(b *bus.Bus) *liveProjection {
	lp := &liveProjection{state: projection.Initial()}
	sub := b.Subscribe(bus.All())
	go func() {
		for event := range sub.C {
			lp.mu.Lock()
			lp.state = projection.Apply(lp.state, event)
			lp.mu.Unlock()
		}
	}()
	return lp
}

func (lp *liveProjection) Snapshot() *projection.State {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.state
}

// durableDesired treats every non-terminal bead in the durable event log as
// desired: it is the reconciler's self-healing source of truth, independent
// of whatever the scheduler's live process state or the event bus currently
// reflect. A full replay on every cycle is deliberately simple; a production
// deployment would cache against a checkpoint and replay only the tail.
type durableDesired struct {
	store store.EventStore
}

func (d *durableDesired) Desired() (reconciler.DesiredState, error) {
	events, err := d.store.ReplayFrom(0)
	if err != nil {
		return reconciler.DesiredState{}, err
	}
	state := projection.Fold(projection.Initial(), events)

	desired := reconciler.DesiredState{Beads: make(map[string]reconciler.DesiredBead)}
	for id, bead := range state.Beads {
		if bead.State.Terminal() {
			continue
		}
		desired.Beads[id] = reconciler.DesiredBead{BeadID: id, WorkflowID: bead.WorkflowID}
	}
	return desired, nil
}

// schedulerExecutor applies corrective commands against the live scheduler:
// a missing bead is rescheduled from its durable projection record, and an
// undesired-but-present bead is cancelled. Every corrective action that is
// applied without error is also reported to the dag-supervisor actor, which watches for a bead thrashing
// between correction and drift and cancels it outright rather than letting
// the reconciler loop on it forever.
type schedulerExecutor struct {
	sched      *scheduler.Scheduler
	store      store.EventStore
	supervisor *actor.Actor
}

func (e *schedulerExecutor) Execute(cmd reconciler.CorrectiveCommand) error {
	var err error
	switch cmd.Kind {
	case reconciler.CommandCancel:
		err = e.sched.HandleBeadCancelled(cmd.BeadID)
	case reconciler.CommandCreate:
		err = e.recreate(cmd)
	default:
		return nil
	}
	if err == nil {
		e.supervisor.Tell(actor.Command{Kind: "corrective", Payload: cmd})
	}
	return err
}

func (e *schedulerExecutor) recreate(cmd reconciler.CorrectiveCommand) error {
	events, err := e.store.ReadEvents(cmd.BeadID)
	if err != nil {
		return err
	}
	state := projection.Fold(projection.Initial(), events)
	view, ok := state.Beads[cmd.BeadID]
	if !ok {
		return nil
	}

	e.sched.RegisterWorkflow(cmd.WorkflowID)
	return e.sched.ScheduleBead(cmd.WorkflowID, &types.Bead{
		ID:    cmd.BeadID,
		Title: view.Title,
	})
}
