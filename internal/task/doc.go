// Package task persists training task records in SQLite and enforces the
// lifecycle state machine: pending -> running -> completed, failed, or
// stopped. All state transitions are conditional updates so concurrent
// workers and the reconciler cannot move a task twice or resurrect a
// terminal record.
package task
