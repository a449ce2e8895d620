package replication

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/pool"
	"github.com/siridb/siridb-go/internal/shard"
	"github.com/siridb/siridb-go/internal/wire"
)

func newTestCatalogAndShards(t *testing.T) (*catalog.Catalog, *shard.Store) {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.Open(filepath.Join(dir, "database.dat"))
	require.NoError(t, err)
	shards, err := shard.NewStore(filepath.Join(dir, "shards"))
	require.NoError(t, err)
	return cat, shards
}

func writeSeriesBlock(t *testing.T, cat *catalog.Catalog, shards *shard.Store, name string, pts []point.Point) catalog.Series {
	t.Helper()
	s, err := cat.Create(name, point.TypeInt, 0)
	require.NoError(t, err)

	h, err := shards.ForWrite(shard.DurationDay, pts[0].TS)
	require.NoError(t, err)
	payload, hdr, err := point.Encode(point.TypeInt, pts)
	require.NoError(t, err)
	_, err = h.AppendBlock(s.ID, payload, hdr)
	require.NoError(t, err)
	require.NoError(t, cat.RecordBlock(s.ID, uint64(h.ID()), uint64(hdr.Count), hdr.MinTS, hdr.MaxTS))

	got, ok := cat.Get(s.ID)
	require.True(t, ok)
	return got
}

func noBuffer(uint64) []point.Point { return nil }

func TestInitsyncStreamsEverySeriesInOrder(t *testing.T) {
	cat, shards := newTestCatalogAndShards(t)
	writeSeriesBlock(t, cat, shards, "cpu", []point.Point{{TS: 1, IVal: 10}, {TS: 2, IVal: 20}})
	writeSeriesBlock(t, cat, shards, "mem", []point.Point{{TS: 5, IVal: 1}})

	var received []wire.ReplicationBatch
	send := func(_ context.Context, b wire.ReplicationBatch) error {
		received = append(received, b)
		return nil
	}

	sync, err := NewInitsync(filepath.Join(t.TempDir(), "cursor"), cat, shards, noBuffer, send)
	require.NoError(t, err)
	defer sync.Close()

	require.NoError(t, sync.Run(context.Background()))
	assert.Equal(t, StateDone, sync.State())
	require.Len(t, received, 2)
	assert.ElementsMatch(t, []string{"cpu", "mem"}, []string{received[0].SeriesName, received[1].SeriesName})
	assert.Less(t, received[0].SeriesID, received[1].SeriesID)
}

func TestInitsyncResumesFromPersistedCursor(t *testing.T) {
	cat, shards := newTestCatalogAndShards(t)
	writeSeriesBlock(t, cat, shards, "cpu", []point.Point{{TS: 1, IVal: 10}})
	writeSeriesBlock(t, cat, shards, "mem", []point.Point{{TS: 5, IVal: 1}})

	cursorPath := filepath.Join(t.TempDir(), "cursor")

	var firstRunNames []string
	attempt := 0
	send := func(_ context.Context, b wire.ReplicationBatch) error {
		attempt++
		firstRunNames = append(firstRunNames, b.SeriesName)
		if attempt == 2 {
			return ErrPeerUnreachable
		}
		return nil
	}
	sync1, err := NewInitsync(cursorPath, cat, shards, noBuffer, send)
	require.NoError(t, err)
	err = sync1.Run(context.Background())
	assert.ErrorIs(t, err, ErrPeerUnreachable)
	assert.Equal(t, StatePaused, sync1.State())
	require.NoError(t, sync1.Close())

	var secondRunNames []string
	send2 := func(_ context.Context, b wire.ReplicationBatch) error {
		secondRunNames = append(secondRunNames, b.SeriesName)
		return nil
	}
	sync2, err := NewInitsync(cursorPath, cat, shards, noBuffer, send2)
	require.NoError(t, err)
	defer sync2.Close()
	require.NoError(t, sync2.Run(context.Background()))
	assert.Equal(t, StateDone, sync2.State())
	assert.NotContains(t, secondRunNames, firstRunNames[0], "resumed run must not resend the already-committed series")
}

func TestReindexMigratesOnlySeriesThatRehashed(t *testing.T) {
	cat, shards := newTestCatalogAndShards(t)

	pools := []pool.Pool{
		{ID: 0, Primary: pool.Server{Addr: "a:9000", PoolID: 0, IsPrimary: true}},
	}
	oldTable, err := pool.Build(pools)
	require.NoError(t, err)

	grown := append(pools, pool.Pool{ID: 1, Primary: pool.Server{Addr: "b:9000", PoolID: 1, IsPrimary: true}})
	newTable, err := pool.Build(grown)
	require.NoError(t, err)

	// Find one series name that keeps its pool-0 owner and one that
	// rehashes to the new pool, rather than assuming arbitrary names land
	// on either side.
	var stayName, moveName string
	for i := 0; stayName == "" || moveName == ""; i++ {
		name := fmt.Sprintf("series-%d", i)
		if oldTable.Lookup(name) != newTable.Lookup(name) && moveName == "" {
			moveName = name
		} else if oldTable.Lookup(name) == newTable.Lookup(name) && stayName == "" {
			stayName = name
		}
	}

	s1, err := cat.Create(stayName, point.TypeInt, 0)
	require.NoError(t, err)
	require.NoError(t, cat.RecordBlock(s1.ID, 1, 1, 1, 1))
	s2, err := cat.Create(moveName, point.TypeInt, 0)
	require.NoError(t, err)
	require.NoError(t, cat.RecordBlock(s2.ID, 2, 1, 1, 1))

	var migrated []uint64
	send := func(context.Context, wire.ReplicationBatch) error { return nil }
	ack := func(_ context.Context, seriesID uint64, newOwner pool.ID) error {
		migrated = append(migrated, seriesID)
		return nil
	}

	rx, err := NewReindex(filepath.Join(t.TempDir(), "cursor"), 0, newTable, cat, shards, noBuffer, send, ack)
	require.NoError(t, err)
	defer rx.Close()

	require.NoError(t, rx.Run(context.Background()))
	assert.Equal(t, StateDone, rx.State())
	assert.NotContains(t, migrated, s1.ID, "a series staying on pool 0 should not be migrated")

	_, stillLocal := cat.Lookup(stayName)
	assert.True(t, stillLocal, "a series whose owner didn't change must not be dropped")
	_, movedAway := cat.Lookup(moveName)
	assert.False(t, movedAway, "a migrated series must be dropped locally after the new owner acks")
}
