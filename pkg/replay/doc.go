// Package replay drives projections from the event store: it reads events
// from a cursor (zero, or a checkpoint's cursor), folds them through
// projection.Apply, and reports progress to a Tracker at a configurable
// cadence. A transient store error aborts the in-flight replay with a
// retryable error; re-running is always safe because folding is
// deterministic over the same prefix.
package replay
