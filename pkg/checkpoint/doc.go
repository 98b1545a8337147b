// Package checkpoint implements the Checkpoint Manager (spec §4.6): on each
// call it snapshots projection state (cmd/beadsd drives it on an interval),
// compressed and versioned, and
// records the event cursor it was taken at so the Replay Engine can resume
// from there instead of from the beginning of the log. The on-disk blob
// layout is zstd(u32_le(version) ‖ json(state)); version mismatches and
// corrupt blobs surface as distinct, specific errors rather than a generic
// failure, per spec §4.6's restoration pipeline.
package checkpoint
