package idempotency

import (
	"crypto/sha256"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/beads/pkg/metrics"
)

// Key computes the canonical idempotency key for (beadID, input):
// v5(v5(DNS, bead_id), sha256(input)). Equal (beadID, input) pairs always
// produce equal keys; input is hashed as raw bytes, so whitespace
// differences in an otherwise-equivalent JSON payload do change the key.
func Key(beadID string, input []byte) uuid.UUID {
	beadNamespace := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(beadID))
	sum := sha256.Sum256(input)
	return uuid.NewSHA1(beadNamespace, sum[:])
}

// KeyFromBytes is Key restated under the name original_source's
// keys.rs uses for the raw-bytes variant (SPEC_FULL.md §12); it is the same
// derivation.
func KeyFromBytes(beadID string, input []byte) uuid.UUID {
	return Key(beadID, input)
}

// KeyFromJSON marshals v to canonical Go JSON encoding and derives its key,
// the variant original_source's keys.rs calls KeyFromJSON.
func KeyFromJSON(beadID string, v any) (uuid.UUID, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return uuid.UUID{}, err
	}
	return Key(beadID, data), nil
}

// Store records the first result produced for a given idempotency key so
// re-submission of the same (bead_id, input) returns that result instead of
// re-executing the command handler.
type Store struct {
	mu      sync.Mutex
	results map[uuid.UUID][]byte
	group   singleflight.Group
}

// NewStore creates an empty idempotency result store.
func NewStore() *Store {
	return &Store{results: make(map[uuid.UUID][]byte)}
}

// GetOrCompute returns the stored result for key if one exists (a "hit"),
// otherwise runs compute, stores its result (a "miss"), and returns that.
// compute is never invoked twice for the same key unless Forget is called
// between: concurrent callers racing on the same key before it's ever been
// computed are collapsed onto a single compute call via singleflight, with
// every caller receiving its result. Calls on distinct keys still run
// independently.
func (s *Store) GetOrCompute(key uuid.UUID, compute func() ([]byte, error)) ([]byte, error) {
	s.mu.Lock()
	if result, ok := s.results[key]; ok {
		s.mu.Unlock()
		metrics.IdempotencyHitsTotal.Inc()
		return result, nil
	}
	s.mu.Unlock()

	result, err, shared := s.group.Do(key.String(), func() (any, error) {
		// A call for key may have finished and stored its result between the
		// check above and this flight starting; reuse it rather than recompute.
		s.mu.Lock()
		if result, ok := s.results[key]; ok {
			s.mu.Unlock()
			return result, nil
		}
		s.mu.Unlock()

		result, err := compute()
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.results[key] = result
		s.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		metrics.IdempotencyHitsTotal.Inc()
	} else {
		metrics.IdempotencyMissesTotal.Inc()
	}
	return result.([]byte), nil
}

// Forget drops any stored result for key, allowing the next GetOrCompute to
// re-run compute.
func (s *Store) Forget(key uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, key)
}
