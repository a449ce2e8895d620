// Package replication drives the two one-shot streaming protocols spec.md
// §4.8 describes: Initsync (first bring-up of a replica) and Reindex
// (migrating series to a new pool owner after the pool count grows). Both
// share the same IDLE -> RUNNING -> {PAUSED -> RUNNING} -> DONE state
// machine, with ERROR reachable from RUNNING on an unrecoverable failure,
// and both persist a cursor after every batch so a crash resumes instead
// of restarting from scratch.
//
// Cursor persistence reuses internal/catalog's generic length-prefixed
// record Log rather than inventing a second on-disk format, per
// SPEC_FULL.md §4.8.
package replication
