// Package timer implements the Timer / Delivery Services (spec §4.10): a
// fire-at-time scheduler backed by a priority queue, with bounded
// concurrent dispatch and callback-requested retry rescheduling, plus an
// at-least-once message delivery tracker that dedups by message id.
package timer
