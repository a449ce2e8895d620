package pool

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// NumSlots is the fixed size of the lookup table (spec: 8192 slots).
const NumSlots = 8192

// Table is the read-only, atomically-swapped mapping from a hashed series
// name to the pool that owns it. Build constructs one from the cluster's
// pool set; Lookup never mutates it, so a Table can be shared across
// goroutines without locking once published.
type Table struct {
	slots [NumSlots]ID
	npool int
}

// Build derives a lookup table from the ordered list of pools. Slot
// ownership is computed with a jump-consistent-hash style assignment:
// jumpHash(slot, len(pools)) is recomputed for the *current* pool count
// rather than incrementally patched, which is what gives the scheme its
// minimal-movement property — jumpHash(k, n) and jumpHash(k, n-1) agree for
// all but ~1/n of keys, so growing from N to N+1 pools moves close to
// 8192/(N+1) slots and leaves the rest on their existing owner.
func Build(pools []Pool) (*Table, error) {
	if len(pools) == 0 {
		return nil, fmt.Errorf("pool: cannot build lookup table with zero pools")
	}
	t := &Table{npool: len(pools)}
	for slot := 0; slot < NumSlots; slot++ {
		idx := jumpHash(uint64(slot), len(pools))
		t.slots[slot] = pools[idx].ID
	}
	return t, nil
}

// Lookup returns the pool that owns name under this table.
func (t *Table) Lookup(name string) ID {
	slot := xxhash.Sum64String(name) % NumSlots
	return t.slots[slot]
}

// LookupSlot returns the owning pool for a raw slot index, mostly useful
// for tests and admin introspection.
func (t *Table) LookupSlot(slot int) ID {
	return t.slots[slot%NumSlots]
}

// NumPools reports how many pools this table was built from.
func (t *Table) NumPools() int {
	return t.npool
}

// Diff returns the slots whose owner changed between two tables, keyed by
// slot index. Used by internal/replication to discover which series need
// to move during a reindex: any series whose name hashes into one of these
// slots has a new owner.
func Diff(old, next *Table) map[int]struct{ Old, New ID } {
	changed := make(map[int]struct{ Old, New ID })
	for slot := 0; slot < NumSlots; slot++ {
		if old.slots[slot] != next.slots[slot] {
			changed[slot] = struct {
				Old, New ID
			}{old.slots[slot], next.slots[slot]}
		}
	}
	return changed
}

// jumpHash implements Lamping & Veach's "A Fast, Minimal Memory, Consistent
// Hash Algorithm". It maps key uniformly onto [0, numBuckets) such that
// increasing numBuckets by one moves only the keys that land on the new
// bucket.
func jumpHash(key uint64, numBuckets int) int32 {
	var b, j int64 = -1, 0
	for j < int64(numBuckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int32(b)
}
