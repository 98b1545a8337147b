/*
Package bus implements the in-process event bus of spec §4.2: fan-out of
newly appended events to subscribers filtered by pattern (all events, one
aggregate, or a set of kinds), with bounded per-subscriber buffers and a
drop-oldest overflow policy so a slow subscriber never blocks the appender.

Adapted from the teacher's pkg/events Broker, which buffers per-subscriber
channels but drops the newest event on overflow; this bus instead evicts the
oldest buffered event to satisfy the drop-oldest contract.
*/
package bus
