/*
Package types defines the core data structures shared by every other package:
beads, their state machine, dependency edges, events, and messages.
*/
package types
