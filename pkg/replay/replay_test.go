package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/beads/pkg/projection"
	"github.com/cuemby/beads/pkg/store"
	"github.com/cuemby/beads/pkg/types"
)

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReplayAllFoldsEveryEvent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(&types.Event{AggregateID: "b1", Sequence: 1, Kind: types.EventCreated,
		Payload: map[string]any{"workflow_id": "wf-1"}}))
	require.NoError(t, s.Append(&types.Event{AggregateID: "b1", Sequence: 2, Kind: types.EventCompleted}))

	engine := NewEngine(s, 0)
	var last Progress
	state, cursor, err := engine.ReplayAll(0, projection.Initial(), TrackerFunc(func(p Progress) { last = p }))
	require.NoError(t, err)

	require.Equal(t, types.BeadCompleted, state.Beads["b1"].State)
	require.Equal(t, uint64(2), cursor)
	require.Equal(t, 2, last.EventsProcessed)
	require.Equal(t, 100, last.PercentComplete)
}

func TestReplayResumesFromCursor(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(&types.Event{AggregateID: "b1", Sequence: 1, Kind: types.EventCreated,
		Payload: map[string]any{"workflow_id": "wf-1"}}))

	engine := NewEngine(s, 0)
	state, cursor, err := engine.ReplayAll(0, projection.Initial(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Append(&types.Event{AggregateID: "b1", Sequence: 2, Kind: types.EventCompleted}))

	state, _, err = engine.ReplayAll(cursor, state, nil)
	require.NoError(t, err)
	require.Equal(t, types.BeadCompleted, state.Beads["b1"].State)
}

func TestEmptyReplayIsFast(t *testing.T) {
	s := newTestStore(t)
	engine := NewEngine(s, 0)

	start := time.Now()
	state, _, err := engine.ReplayAll(0, projection.Initial(), nil)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Empty(t, state.Beads)
}

func TestReplayPerformanceContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping performance test in short mode")
	}
	s := newTestStore(t)

	kinds := []types.EventKind{
		types.EventCreated, types.EventStateChanged, types.EventStateChanged,
		types.EventStateChanged, types.EventStateChanged, types.EventClaimed,
		types.EventPhaseCompleted, types.EventCompleted,
	}
	seq := make(map[string]uint64)
	count := 0
	for count < 1000 {
		for i := 0; i < 100 && count < 1000; i++ {
			beadID := "bead-" + itoa(i)
			seq[beadID]++
			kind := kinds[count%len(kinds)]
			var payload map[string]any
			if kind == types.EventCreated {
				payload = map[string]any{"workflow_id": "wf-perf"}
			}
			require.NoError(t, s.Append(&types.Event{
				AggregateID: beadID, Sequence: seq[beadID], Kind: kind, Payload: payload,
			}))
			count++
		}
	}

	engine := NewEngine(s, 0)
	start := time.Now()
	_, _, err := engine.ReplayAll(0, projection.Initial(), nil)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.LessOrEqual(t, elapsed, 5*time.Second)
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var buf []byte
	for i > 0 {
		buf = append([]byte{digits[i%10]}, buf...)
		i /= 10
	}
	return string(buf)
}
