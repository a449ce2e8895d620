// Package optimizer runs the single background worker that keeps shard
// fragmentation in check (spec.md §4.6): for each shard whose tombstone
// ratio or average block length crosses a threshold, it reads every live
// block under the shard's read lock, merges contiguous runs per series,
// writes the merged result into a fresh next-generation shard, and
// publishes it with internal/shard.Store's Supersede — which is the only
// point where the source shard's write lock is taken.
package optimizer
