// Package idempotency implements the Idempotency Layer (spec §4.8): a
// deterministic UUID v5 key derived from a bead id and an input payload,
// used by command handlers to dedup re-submissions. Key derives from
// v5(v5(DNS, bead_id), sha256(serialize(input))), so the same (bead_id,
// input) always yields the same key and distinct beads yield distinct keys
// with overwhelming probability.
package idempotency
