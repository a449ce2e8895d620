// Package buffer holds each series' most recent, not-yet-shard-resident
// points in a bounded in-memory page, journaled to disk for crash safety
// before being acknowledged (spec.md §4.4).
//
// Every Append is first written to a Journal — a tidwall/wal.Log opened
// against <dbpath>/buffer — before the in-memory Page is updated, so a
// crash between the two loses nothing: Journal.Replay re-populates the
// pages from the log on restart. A Syncer then periodically (or
// immediately, when a page fills) sorts each page, groups its points by
// shard window, and flushes them into internal/shard, recording the new
// residency in internal/catalog before truncating the journal's committed
// prefix.
package buffer
