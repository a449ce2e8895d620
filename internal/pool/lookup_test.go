package pool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPools() []Pool {
	return []Pool{
		{ID: 0, Primary: Server{Addr: "10.0.0.1:9000", PoolID: 0, IsPrimary: true}},
		{ID: 1, Primary: Server{Addr: "10.0.0.2:9000", PoolID: 1, IsPrimary: true}},
	}
}

func TestBuildRejectsEmptySet(t *testing.T) {
	_, err := Build(nil)
	require.Error(t, err)
}

func TestLookupIsDeterministic(t *testing.T) {
	table, err := Build(twoPools())
	require.NoError(t, err)

	names := []string{"cpu", "mem.used", "disk/sda1", "net-eth0"}
	for _, n := range names {
		first := table.Lookup(n)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, table.Lookup(n), "lookup(%q) must be stable across calls", n)
		}
	}
}

func TestBuildCoversEveryPool(t *testing.T) {
	table, err := Build(twoPools())
	require.NoError(t, err)

	seen := make(map[ID]int)
	for slot := 0; slot < NumSlots; slot++ {
		seen[table.LookupSlot(slot)]++
	}
	assert.Len(t, seen, 2)
	for id, n := range seen {
		assert.Greater(t, n, 0, "pool %d received no slots", id)
	}
}

// TestGrowthMinimizesMovement checks the jump-hash rebalance property from
// spec §4.1: growing from N to N+1 pools should only move slots onto the
// newly added pool, never shuffle ownership among the existing N.
func TestGrowthMinimizesMovement(t *testing.T) {
	before, err := Build(twoPools())
	require.NoError(t, err)

	grown := append(twoPools(), Pool{ID: 2, Primary: Server{Addr: "10.0.0.3:9000", PoolID: 2, IsPrimary: true}})
	after, err := Build(grown)
	require.NoError(t, err)

	diff := Diff(before, after)
	for slot, d := range diff {
		assert.Equal(t, ID(2), d.New, "slot %d moved to a pool other than the new one", slot)
	}

	// Movement should be in the right ballpark: roughly 8192/3 slots land
	// on the new pool, not e.g. half the table.
	assert.InDelta(t, float64(NumSlots)/3, float64(len(diff)), float64(NumSlots)/3)
}

func TestLookupDistributionIsRoughlyUniform(t *testing.T) {
	pools := make([]Pool, 4)
	for i := range pools {
		pools[i] = Pool{ID: ID(i), Primary: Server{Addr: fmt.Sprintf("10.0.0.%d:9000", i+1), PoolID: ID(i), IsPrimary: true}}
	}
	table, err := Build(pools)
	require.NoError(t, err)

	counts := make(map[ID]int)
	for i := 0; i < 20000; i++ {
		counts[table.Lookup(fmt.Sprintf("series-%d", i))]++
	}
	require.Len(t, counts, 4)
	for _, c := range counts {
		assert.InDelta(t, 5000, c, 1200)
	}
}
