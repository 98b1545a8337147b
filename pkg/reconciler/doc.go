// Package reconciler implements the Reconciler Loop (spec §4.9): a periodic
// control loop comparing desired state against a projected actual-state
// snapshot and emitting corrective commands (create, cancel) to close the
// gap. It tracks a consecutive-error counter and supports two error
// policies, stop_on_error and tolerant, matching spec §4.9's options. The
// ticker/mutex run loop is adapted from the teacher's reconciler, which
// compared desired container placement against actual cluster state on the
// same cadence.
package reconciler
