/*
Package store implements the durable, append-only event log (spec §4.1):
per-aggregate ordered append, per-aggregate reads, and a global replay
cursor, backed by bbolt the way the teacher's pkg/storage backs cluster
state.
*/
package store
