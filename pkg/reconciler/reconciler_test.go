package reconciler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beads/pkg/projection"
	"github.com/cuemby/beads/pkg/types"
)

type fixedDesired struct {
	state DesiredState
	err   error
}

func (f fixedDesired) Desired() (DesiredState, error) { return f.state, f.err }

type fixedActual struct{ state *projection.State }

func (f fixedActual) Snapshot() *projection.State { return f.state }

type recordingExecutor struct {
	executed []CorrectiveCommand
	failKind CommandKind
}

func (e *recordingExecutor) Execute(cmd CorrectiveCommand) error {
	if e.failKind != "" && cmd.Kind == e.failKind {
		return errors.New("execution failed")
	}
	e.executed = append(e.executed, cmd)
	return nil
}

func TestEmptySystemConverges(t *testing.T) {
	// spec property 9: an empty system converges in one cycle.
	desired := fixedDesired{state: DesiredState{Beads: map[string]DesiredBead{}}}
	actual := fixedActual{state: projection.Initial()}
	exec := &recordingExecutor{}

	r := New(desired, actual, exec, DefaultErrorPolicy())
	commands, err := r.Reconcile()

	require.NoError(t, err)
	assert.Empty(t, commands, "converged means zero corrective commands")
}

func TestMissingDesiredBeadEmitsOneCreate(t *testing.T) {
	// spec property 9: one desired bead absent from actual does not converge
	// and emits exactly one corrective action.
	desired := fixedDesired{state: DesiredState{Beads: map[string]DesiredBead{
		"b1": {BeadID: "b1", WorkflowID: "wf-1"},
	}}}
	actual := fixedActual{state: projection.Initial()}
	exec := &recordingExecutor{}

	r := New(desired, actual, exec, DefaultErrorPolicy())
	commands, err := r.Reconcile()

	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, CommandCreate, commands[0].Kind)
	assert.Equal(t, "b1", commands[0].BeadID)
	assert.Len(t, exec.executed, 1)
}

func TestNoLongerDesiredNonTerminalBeadIsCancelled(t *testing.T) {
	state := projection.Initial()
	state.Beads["b1"] = &projection.BeadView{ID: "b1", WorkflowID: "wf-1", State: types.BeadRunning}

	desired := fixedDesired{state: DesiredState{Beads: map[string]DesiredBead{}}}
	actual := fixedActual{state: state}
	exec := &recordingExecutor{}

	r := New(desired, actual, exec, DefaultErrorPolicy())
	commands, err := r.Reconcile()

	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, CommandCancel, commands[0].Kind)
}

func TestTerminalBeadNotDesiredIsNotCancelled(t *testing.T) {
	state := projection.Initial()
	state.Beads["b1"] = &projection.BeadView{ID: "b1", WorkflowID: "wf-1", State: types.BeadCompleted}

	desired := fixedDesired{state: DesiredState{Beads: map[string]DesiredBead{}}}
	actual := fixedActual{state: state}
	exec := &recordingExecutor{}

	r := New(desired, actual, exec, DefaultErrorPolicy())
	commands, err := r.Reconcile()

	require.NoError(t, err)
	assert.Empty(t, commands)
}

func TestTickResetsConsecutiveErrorsOnSuccess(t *testing.T) {
	desired := fixedDesired{state: DesiredState{Beads: map[string]DesiredBead{}}}
	actual := fixedActual{state: projection.Initial()}
	exec := &recordingExecutor{}

	r := New(desired, actual, exec, DefaultErrorPolicy())
	r.consecutiveErrors = 2
	stop := r.tick()

	assert.False(t, stop)
	assert.Equal(t, 0, r.consecutiveErrors)
}

func TestTickStopOnFirstErrorStopsImmediately(t *testing.T) {
	desired := fixedDesired{err: errors.New("provider unavailable")}
	actual := fixedActual{state: projection.Initial()}
	exec := &recordingExecutor{}

	r := New(desired, actual, exec, ErrorPolicy{StopOnFirstError: true})
	stop := r.tick()

	assert.True(t, stop)
	assert.Equal(t, 1, r.consecutiveErrors)
}

func TestTickTolerantStopsOnlyAfterBudgetExhausted(t *testing.T) {
	desired := fixedDesired{err: errors.New("provider unavailable")}
	actual := fixedActual{state: projection.Initial()}
	exec := &recordingExecutor{}

	r := New(desired, actual, exec, ErrorPolicy{StopOnFirstError: false, MaxConsecutiveErrors: 2})

	assert.False(t, r.tick())
	assert.True(t, r.tick())
}
