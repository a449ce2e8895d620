package buffer

import (
	"path/filepath"
	"testing"

	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageAppendReportsFullAtCapacity(t *testing.T) {
	p := NewPage(2)
	full, err := p.Append(point.Point{TS: 1})
	require.NoError(t, err)
	assert.False(t, full)

	full, err = p.Append(point.Point{TS: 2})
	require.NoError(t, err)
	assert.True(t, full)
}

func TestPageDrainEmptiesAndReturnsPoints(t *testing.T) {
	p := NewPage(4)
	p.Append(point.Point{TS: 1})
	p.Append(point.Point{TS: 2})

	drained := p.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, p.Len())
}

func TestJournalAppendAndReplay(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(1, point.Point{TS: 10, IVal: 1}))
	require.NoError(t, j.Append(1, point.Point{TS: 20, IVal: 2}))
	require.NoError(t, j.Append(2, point.Point{TS: 5, FVal: 1.5}))

	var got []record
	err = j.Replay(func(seriesID uint64, pt point.Point) error {
		got = append(got, record{SeriesID: seriesID, Point: pt})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].SeriesID)
	assert.Equal(t, int64(10), got[0].Point.TS)
}

func TestJournalTruncateFrontDiscardsCommittedPrefix(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(1, point.Point{TS: 1}))
	require.NoError(t, j.Append(1, point.Point{TS: 2}))
	last, err := j.LastIndex()
	require.NoError(t, err)

	require.NoError(t, j.TruncateFront(last))

	var count int
	err = j.Replay(func(uint64, point.Point) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func newTestManager(t *testing.T) (*Manager, *catalog.Catalog) {
	t.Helper()
	dir := t.TempDir()
	journal, err := OpenJournal(filepath.Join(dir, "buffer"))
	require.NoError(t, err)
	store, err := shard.NewStore(filepath.Join(dir, "shards"))
	require.NoError(t, err)
	cat, err := catalog.Open(filepath.Join(dir, "database.dat"))
	require.NoError(t, err)
	return NewManager(journal, store, cat), cat
}

func TestManagerWriteThenSyncFlushesToShard(t *testing.T) {
	m, cat := newTestManager(t)

	s, err := cat.Create("cpu.load", point.TypeInt, 0)
	require.NoError(t, err)

	require.NoError(t, m.Write(s.ID, shard.DurationHour, point.Point{TS: 100, IVal: 1}))
	require.NoError(t, m.Write(s.ID, shard.DurationHour, point.Point{TS: 200, IVal: 2}))
	require.NoError(t, m.SyncAll())

	got, ok := cat.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Count)
	assert.Len(t, got.Residency, 1)
}

func TestManagerSyncGroupsAcrossWindows(t *testing.T) {
	m, cat := newTestManager(t)

	s, err := cat.Create("net.bytes", point.TypeInt, 0)
	require.NoError(t, err)

	hourSecs := shard.DurationHour.Seconds()
	require.NoError(t, m.Write(s.ID, shard.DurationHour, point.Point{TS: 10, IVal: 1}))
	require.NoError(t, m.Write(s.ID, shard.DurationHour, point.Point{TS: hourSecs + 10, IVal: 2}))
	require.NoError(t, m.SyncAll())

	got, ok := cat.Get(s.ID)
	require.True(t, ok)
	assert.Len(t, got.Residency, 2, "points in different shard windows should produce two blocks")
}

func TestGroupByWindowGroupsConsecutiveSameWindowPoints(t *testing.T) {
	hourSecs := shard.DurationHour.Seconds()
	pts := []point.Point{
		{TS: 0}, {TS: 10}, {TS: hourSecs}, {TS: hourSecs + 5},
	}
	groups := groupByWindow(pts, shard.DurationHour)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].points, 2)
	assert.Len(t, groups[1].points, 2)
}
