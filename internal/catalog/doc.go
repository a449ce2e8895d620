// Package catalog tracks every series a database knows about: its id, point
// type, sample counts, timestamp range, and which shards currently hold its
// blocks (spec.md §4.5).
//
// The in-memory index is a pair of RWMutex-guarded maps, the same locking
// idiom as internal/pool's health registry: readers take RLock, mutators
// take Lock, and every accessor returns a copy so callers can't corrupt
// catalog state through an aliased pointer.
//
// Mutations are durable before they're visible: Create/Drop/Retype append a
// framed, length-prefixed msgpack record to an on-disk log before updating
// the in-memory maps, using the same record framing Log exposes to
// internal/replication for persisting sync cursors.
package catalog
