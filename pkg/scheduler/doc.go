/*
Package scheduler owns the bead lifecycle state machine, the ready set, and
worker assignments (spec §4.7). It selects the next bead/worker pair to run
using a pluggable Strategy, and emits an event for every successful
transition via the event store and bus.

The run loop and its locking discipline are adapted from the teacher's
pkg/scheduler (a ticker-driven loop guarded by a single mutex); here the loop
re-evaluates the ready set instead of reconciling container placement.
*/
package scheduler
