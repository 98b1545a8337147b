// Package actor implements the Actor Runtime Integration (spec §4.11):
// typed mailboxes with two message shapes — fire-and-forget Commands and
// request/reply Queries — plus supervision that restarts a failed
// supervisable actor with fresh state up to a bounded restart count before
// escalating, and a graceful shutdown that drains commands and flushes
// in-flight queries.
package actor
