package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/bus"
	"github.com/cuemby/beads/pkg/store"
	"github.com/cuemby/beads/pkg/types"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	es, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { es.Close() })
	return New(es, bus.New(), NewPriorityStrategy())
}

func TestScheduleBeadEntersPending(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")

	bead := &types.Bead{ID: "b1", Title: "do the thing"}
	require.NoError(t, s.ScheduleBead("wf-1", bead))
	assert.Equal(t, types.BeadPending, bead.State)
}

func TestScheduleBeadOnUnregisteredWorkflowFails(t *testing.T) {
	s := newTestScheduler(t)
	err := s.ScheduleBead("ghost", &types.Bead{ID: "b1"})
	assert.True(t, beaderr.Is(err, beaderr.UnknownBead))
}

// TestFullLifecycleNoDependencies exercises the full legal path of the state
// machine directly against the Scheduler: Pending -> Ready -> Running ->
// Completed, asserting the recorded history at each step.
func TestFullLifecycleNoDependencies(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b1"}))

	require.NoError(t, s.MarkReady("b1"))
	bead, err := s.GetBead("b1")
	require.NoError(t, err)
	assert.Equal(t, types.BeadReady, bead.State)

	require.NoError(t, s.AssignToWorker("b1", "agent-1"))
	bead, err = s.GetBead("b1")
	require.NoError(t, err)
	assert.Equal(t, types.BeadRunning, bead.State)
	assert.Equal(t, "agent-1", bead.CurrentWorker)

	require.NoError(t, s.HandleBeadCompleted("b1"))
	bead, err = s.GetBead("b1")
	require.NoError(t, err)
	assert.Equal(t, types.BeadCompleted, bead.State)
	assert.Empty(t, bead.CurrentWorker)

	require.Len(t, bead.History, 3)
	assert.Equal(t, types.BeadPending, bead.History[0].From)
	assert.Equal(t, types.BeadReady, bead.History[0].To)
	assert.Equal(t, types.BeadReady, bead.History[1].From)
	assert.Equal(t, types.BeadRunning, bead.History[1].To)
	assert.Equal(t, types.BeadRunning, bead.History[2].From)
	assert.Equal(t, types.BeadCompleted, bead.History[2].To)
}

func TestMarkReadyRejectsUnsatisfiedDependency(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "upstream"}))
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "downstream"}))
	require.NoError(t, s.AddDependency("wf-1", "upstream", "downstream", types.BlockingDependency))

	err := s.MarkReady("downstream")
	assert.True(t, beaderr.Is(err, beaderr.IllegalTransition))
}

func TestMarkReadyTwiceIsIllegal(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b1"}))
	require.NoError(t, s.MarkReady("b1"))

	err := s.MarkReady("b1")
	assert.True(t, beaderr.Is(err, beaderr.IllegalTransition))
}

func TestAssignToWorkerRequiresReady(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b1"}))

	err := s.AssignToWorker("b1", "agent-1")
	assert.True(t, beaderr.Is(err, beaderr.IllegalTransition))
}

func TestHandleBeadFailedRequiresRunning(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b1"}))

	err := s.HandleBeadFailed("b1", "boom")
	assert.True(t, beaderr.Is(err, beaderr.IllegalTransition))

	require.NoError(t, s.MarkReady("b1"))
	require.NoError(t, s.AssignToWorker("b1", "agent-1"))
	require.NoError(t, s.HandleBeadFailed("b1", "boom"))

	bead, err := s.GetBead("b1")
	require.NoError(t, err)
	assert.Equal(t, types.BeadFailed, bead.State)
	assert.Empty(t, bead.CurrentWorker)
}

func TestHandleBeadCancelledFromAnyNonTerminalState(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b1"}))
	require.NoError(t, s.HandleBeadCancelled("b1"))

	bead, err := s.GetBead("b1")
	require.NoError(t, err)
	assert.Equal(t, types.BeadCancelled, bead.State)
}

func TestHandleBeadCancelledRejectsTerminalState(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b1"}))
	require.NoError(t, s.HandleBeadCancelled("b1"))

	err := s.HandleBeadCancelled("b1")
	assert.True(t, beaderr.Is(err, beaderr.IllegalTransition))
}

// TestDiamondDependencyReadiness exercises S2: a diamond a -> {b, c} -> d,
// where d only becomes ready once both b and c have completed.
func TestDiamondDependencyReadiness(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: id}))
	}
	require.NoError(t, s.AddDependency("wf-1", "a", "b", types.BlockingDependency))
	require.NoError(t, s.AddDependency("wf-1", "a", "c", types.BlockingDependency))
	require.NoError(t, s.AddDependency("wf-1", "b", "d", types.BlockingDependency))
	require.NoError(t, s.AddDependency("wf-1", "c", "d", types.BlockingDependency))

	require.NoError(t, s.MarkReady("a"))
	require.NoError(t, s.AssignToWorker("a", "agent-1"))
	require.NoError(t, s.HandleBeadCompleted("a"))

	// Completing a re-evaluates its successors, so b and c are already Ready.
	bead, err := s.GetBead("b")
	require.NoError(t, err)
	assert.Equal(t, types.BeadReady, bead.State, "completing a must ready b")
	bead, err = s.GetBead("c")
	require.NoError(t, err)
	assert.Equal(t, types.BeadReady, bead.State, "completing a must ready c")

	err = s.MarkReady("d")
	assert.True(t, beaderr.Is(err, beaderr.IllegalTransition), "d must not be ready until both b and c complete")

	require.NoError(t, s.AssignToWorker("b", "agent-1"))
	require.NoError(t, s.HandleBeadCompleted("b"))
	err = s.MarkReady("d")
	assert.True(t, beaderr.Is(err, beaderr.IllegalTransition), "d must still wait on c")

	require.NoError(t, s.AssignToWorker("c", "agent-1"))
	require.NoError(t, s.HandleBeadCompleted("c"))
	err = s.MarkReady("d")
	assert.True(t, beaderr.Is(err, beaderr.IllegalTransition), "completing c must already have readied d")

	bead, err = s.GetBead("d")
	require.NoError(t, err)
	assert.Equal(t, types.BeadReady, bead.State)
}

// TestHandleBeadCompletedReevaluatesSuccessors exercises the chain scenario
// S1: a -> b, where completing a automatically moves b to Ready without a
// separate MarkReady call.
func TestHandleBeadCompletedReevaluatesSuccessors(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "a"}))
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b"}))
	require.NoError(t, s.AddDependency("wf-1", "a", "b", types.BlockingDependency))

	require.NoError(t, s.MarkReady("a"))
	require.NoError(t, s.AssignToWorker("a", "agent-1"))
	require.NoError(t, s.HandleBeadCompleted("a"))

	bead, err := s.GetBead("b")
	require.NoError(t, err)
	assert.Equal(t, types.BeadReady, bead.State, "completing a must re-evaluate and ready its successor b")
}

func TestListBeadsFiltersByWorkflow(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	s.RegisterWorkflow("wf-2")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b1"}))
	require.NoError(t, s.ScheduleBead("wf-2", &types.Bead{ID: "b2"}))

	beads := s.ListBeads("wf-1")
	require.Len(t, beads, 1)
	assert.Equal(t, "b1", beads[0].ID)
}

func TestReadyBeadsOnlyReturnsReadyState(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b1"}))
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "b2"}))
	require.NoError(t, s.MarkReady("b1"))

	ready := s.ReadyBeads()
	require.Len(t, ready, 1)
	assert.Equal(t, "b1", ready[0].ID)
}

func TestSelectNextAssignsHighestPriorityBead(t *testing.T) {
	s := newTestScheduler(t)
	s.RegisterWorkflow("wf-1")
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "low", Priority: 1}))
	require.NoError(t, s.ScheduleBead("wf-1", &types.Bead{ID: "high", Priority: 5}))
	require.NoError(t, s.MarkReady("low"))
	require.NoError(t, s.MarkReady("high"))

	beadID, workerID, err := s.SelectNext([]Agent{{ID: "agent-1"}})
	require.NoError(t, err)
	assert.Equal(t, "high", beadID)
	assert.Equal(t, "agent-1", workerID)

	bead, err := s.GetBead("high")
	require.NoError(t, err)
	assert.Equal(t, types.BeadRunning, bead.State)
}
