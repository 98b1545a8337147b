package checkpoint

import (
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/projection"
	"github.com/cuemby/beads/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func sampleState() *projection.State {
	s := projection.Initial()
	s.Beads["b1"] = &projection.BeadView{ID: "b1", State: types.BeadRunning, PhaseCounts: map[string]int{}}
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Create(sampleState(), 42)
	require.NoError(t, err)

	restored, cursor, err := m.Restore(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cursor)
	assert.Equal(t, types.BeadRunning, restored.Beads["b1"].State)
}

func TestRestoreUnknownIDReturnsCheckpointNotFound(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.Restore("does-not-exist")
	require.Error(t, err)
	assert.True(t, beaderr.Is(err, beaderr.CheckpointNotFound))
}

func TestRestoreVersionMismatch(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Create(sampleState(), 1)
	require.NoError(t, err)

	// Overwrite the stored blob with one carrying an incompatible version
	// header to simulate reading a checkpoint written by a future format.
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, CurrentVersion+1)
	tampered := enc.EncodeAll(append(header, []byte("{}")...), nil)
	require.NoError(t, enc.Close())

	require.NoError(t, m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlob).Put([]byte(id), tampered)
	}))

	_, _, err = m.Restore(id)
	require.Error(t, err)
	assert.True(t, beaderr.Is(err, beaderr.VersionMismatch))
}

func TestGetLatestPicksMaxSequence(t *testing.T) {
	// S4: checkpoints at cursors {50, 100, 75}; latest must be the one at 100.
	m := newTestManager(t)

	idLow, err := m.Create(sampleState(), 50)
	require.NoError(t, err)
	idHigh, err := m.Create(sampleState(), 100)
	require.NoError(t, err)
	_, err = m.Create(sampleState(), 75)
	require.NoError(t, err)

	latest, err := m.GetLatest()
	require.NoError(t, err)
	assert.Equal(t, idHigh, latest.CheckpointID)
	assert.Equal(t, uint64(100), latest.EventCursor)

	require.NoError(t, m.Prune(1))
	records, err := m.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, idHigh, records[0].CheckpointID)
	assert.NotEqual(t, idLow, records[0].CheckpointID)
}

func TestGetLatestOnEmptyStoreReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetLatest()
	require.Error(t, err)
	assert.True(t, beaderr.Is(err, beaderr.CheckpointNotFound))
}
