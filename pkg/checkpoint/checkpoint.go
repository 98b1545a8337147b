package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/metrics"
	"github.com/cuemby/beads/pkg/projection"
)

// CurrentVersion is the checkpoint blob format version. Restoring a blob
// whose header does not match this fails with beaderr.VersionMismatch.
const CurrentVersion uint32 = 1

var (
	bucketBlob = []byte("checkpoint_blob") // checkpoint_id -> zstd(u32_le(version) || json(state))
	bucketMeta = []byte("checkpoint_meta") // checkpoint_id -> json({event_cursor, created_at})
)

// Record is a checkpoint's metadata, without its (potentially large) blob.
type Record struct {
	CheckpointID string
	EventCursor  uint64
	CreatedAt    time.Time
}

// Manager creates, restores, and prunes checkpoints of projection.State,
// backed by a dedicated bbolt database (spec §4.6).
type Manager struct {
	db *bolt.DB
}

// NewManager opens (creating if absent) the checkpoint database under
// dataDir.
func NewManager(dataDir string) (*Manager, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "checkpoints.db"), 0600, nil)
	if err != nil {
		return nil, beaderr.Wrap(beaderr.StoreFailed, "failed to open checkpoint store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlob, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, beaderr.Wrap(beaderr.StoreFailed, "failed to initialize checkpoint buckets", err)
	}
	return &Manager{db: db}, nil
}

func (m *Manager) Close() error { return m.db.Close() }

// Create serializes state, prepends the version header, zstd-compresses it,
// and durably stores it alongside eventCursor. It returns the new
// checkpoint's id.
func (m *Manager) Create(state *projection.State, eventCursor uint64) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckpointCreateDuration)

	payload, err := json.Marshal(state)
	if err != nil {
		return "", beaderr.Wrap(beaderr.StoreFailed, "failed to serialize checkpoint state", err)
	}

	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, CurrentVersion)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", beaderr.Wrap(beaderr.StoreFailed, "failed to initialize compressor", err)
	}
	blob := enc.EncodeAll(append(header, payload...), nil)
	if err := enc.Close(); err != nil {
		return "", beaderr.Wrap(beaderr.StoreFailed, "failed to close compressor", err)
	}

	id := uuid.NewString()
	rec := Record{CheckpointID: id, EventCursor: eventCursor, CreatedAt: time.Now().UTC()}
	recData, err := json.Marshal(rec)
	if err != nil {
		return "", beaderr.Wrap(beaderr.StoreFailed, "failed to serialize checkpoint record", err)
	}

	err = m.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlob).Put([]byte(id), blob); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(id), recData)
	})
	if err != nil {
		return "", beaderr.Wrap(beaderr.StoreFailed, "failed to persist checkpoint", err)
	}
	return id, nil
}

// Restore loads checkpointID, decompresses and deserializes it, and returns
// the recovered projection.State along with the event cursor it was taken
// at. Each failure mode in spec §4.6's restoration pipeline is a distinct
// error code.
func (m *Manager) Restore(checkpointID string) (*projection.State, uint64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckpointRestoreDuration)

	var blob []byte
	var rec Record

	err := m.db.View(func(tx *bolt.Tx) error {
		blob = tx.Bucket(bucketBlob).Get([]byte(checkpointID))
		if blob == nil {
			return beaderr.New(beaderr.CheckpointNotFound, "no checkpoint with id "+checkpointID)
		}
		blob = append([]byte(nil), blob...)

		metaData := tx.Bucket(bucketMeta).Get([]byte(checkpointID))
		if metaData == nil {
			return beaderr.New(beaderr.CheckpointNotFound, "checkpoint metadata missing for id "+checkpointID)
		}
		return json.Unmarshal(metaData, &rec)
	})
	if err != nil {
		return nil, 0, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, 0, beaderr.Wrap(beaderr.DecompressionFailed, "failed to initialize decompressor", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, 0, beaderr.Wrap(beaderr.DecompressionFailed, "failed to decompress checkpoint", err)
	}
	if len(raw) < 4 {
		return nil, 0, beaderr.New(beaderr.DecompressionFailed, "checkpoint blob shorter than version header")
	}

	version := binary.LittleEndian.Uint32(raw[:4])
	if version != CurrentVersion {
		return nil, 0, beaderr.New(beaderr.VersionMismatch,
			fmt.Sprintf("checkpoint version mismatch: expected %d, found %d", CurrentVersion, version))
	}

	var state projection.State
	if err := json.Unmarshal(raw[4:], &state); err != nil {
		return nil, 0, beaderr.Wrap(beaderr.DeserializationFailed, "failed to deserialize checkpoint state", err)
	}
	return &state, rec.EventCursor, nil
}

// GetLatest returns the Record with the highest EventCursor, or
// beaderr.CheckpointNotFound if none exist.
func (m *Manager) GetLatest() (Record, error) {
	records, err := m.List()
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, beaderr.New(beaderr.CheckpointNotFound, "no checkpoints exist")
	}
	return records[0], nil
}

// List returns every checkpoint Record, ordered descending by EventCursor.
func (m *Manager) List() ([]Record, error) {
	var records []Record
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return beaderr.Wrap(beaderr.DeserializationFailed, "failed to decode checkpoint record", err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].EventCursor > records[j].EventCursor })
	return records, nil
}

// Prune deletes every checkpoint except the keepN with the highest
// EventCursor (original_source's checkpoint_store.rs prune(keepN), carried
// in per SPEC_FULL.md §12).
func (m *Manager) Prune(keepN int) error {
	records, err := m.List()
	if err != nil {
		return err
	}
	if len(records) <= keepN {
		return nil
	}

	toDelete := records[keepN:]
	return m.db.Update(func(tx *bolt.Tx) error {
		blobs := tx.Bucket(bucketBlob)
		meta := tx.Bucket(bucketMeta)
		for _, rec := range toDelete {
			if err := blobs.Delete([]byte(rec.CheckpointID)); err != nil {
				return err
			}
			if err := meta.Delete([]byte(rec.CheckpointID)); err != nil {
				return err
			}
			metrics.CheckpointsPrunedTotal.Inc()
		}
		return nil
	})
}
