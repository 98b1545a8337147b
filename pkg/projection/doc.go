// Package projection implements the deterministic fold over the event log
// that reconstructs scheduler-observable state: an all-beads view and a
// per-workflow completion view. apply is total — unknown event kinds are
// skipped rather than treated as errors, and a given event prefix always
// produces an equal state regardless of how many times it is folded.
package projection
