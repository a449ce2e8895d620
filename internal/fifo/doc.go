// Package fifo implements the durable, bounded, per-peer outbound
// replication queue described in spec.md §4.7: a primary buffers
// replication packages for an unreachable replica and replays them in
// order once the peer recovers.
//
// Each peer's FIFO is one github.com/tidwall/wal.Log opened against
// <dbpath>/fifo/<peer>/ (SPEC_FULL.md §2's domain-stack wiring): the
// library's own segment rotation and open-time tail validation already
// give a FIFO file "never contains a partial record" and "truncate to the
// last commit point on open" for free, so Append/Peek/Commit map directly
// onto Write/Read/TruncateFront rather than reimplementing record framing.
package fifo
