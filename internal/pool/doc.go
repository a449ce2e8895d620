// Package pool implements SiriDB's pool lookup table: the deterministic,
// rebalance-minimizing mapping from a series name to the pool that owns it,
// plus health tracking for the peer servers that make up the cluster.
//
// # Overview
//
// A database is horizontally partitioned into pools. Each pool owns a slice
// of the 8192-slot lookup table; a series name hashes into exactly one slot
// and is therefore owned by exactly one pool at a time (barring an in-flight
// reindex, see internal/replication). Growing the pool count rebuilds the
// table so that only the minimal set of slots change owner.
//
// # Concurrency model
//
// Table is immutable once built; the server context holds it behind an
// atomic.Pointer so readers never observe a half-built table. PeerMonitor
// is the mutable, concurrently-updated piece: it polls every server in
// every pool (not just the local pool). Neither fan-out queries nor reindex
// migrations consult it.
package pool
