package catalog

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/siridb/siridb-go/internal/point"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIsIdempotentByName(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "database.dat"))
	require.NoError(t, err)
	defer c.Close()

	a, err := c.Create("cpu.load", point.TypeFloat, 0)
	require.NoError(t, err)
	b, err := c.Create("cpu.load", point.TypeFloat, 0)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestLookupAndGet(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "database.dat"))
	require.NoError(t, err)
	defer c.Close()

	s, err := c.Create("mem.used", point.TypeInt, 1)
	require.NoError(t, err)

	byName, ok := c.Lookup("mem.used")
	require.True(t, ok)
	assert.Equal(t, s.ID, byName.ID)

	byID, ok := c.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, "mem.used", byID.Name)

	_, ok = c.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestDropRemovesSeries(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "database.dat"))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Create("temp.probe", point.TypeFloat, 0)
	require.NoError(t, err)
	require.NoError(t, c.Drop("temp.probe"))

	_, ok := c.Lookup("temp.probe")
	assert.False(t, ok)
}

func TestRecordBlockUpdatesRangeAndResidency(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "database.dat"))
	require.NoError(t, err)
	defer c.Close()

	s, err := c.Create("disk.io", point.TypeInt, 0)
	require.NoError(t, err)

	require.NoError(t, c.RecordBlock(s.ID, 100, 3, 10, 30))
	require.NoError(t, c.RecordBlock(s.ID, 200, 2, 40, 50))

	got, ok := c.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.Count)
	assert.Equal(t, int64(10), got.FirstTS)
	assert.Equal(t, int64(50), got.LastTS)
	assert.Len(t, got.Residency, 2)
}

func TestScanFiltersByPattern(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "database.dat"))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Create("cpu.user", point.TypeFloat, 0)
	require.NoError(t, err)
	_, err = c.Create("cpu.system", point.TypeFloat, 0)
	require.NoError(t, err)
	_, err = c.Create("mem.free", point.TypeInt, 0)
	require.NoError(t, err)

	matched := c.Scan(regexp.MustCompile(`^cpu\.`))
	assert.Len(t, matched, 2)

	all := c.Scan(nil)
	assert.Len(t, all, 3)
}

func TestReopenReplaysLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.dat")
	c, err := Open(path)
	require.NoError(t, err)
	s, err := c.Create("net.bytes", point.TypeInt, 2)
	require.NoError(t, err)
	require.NoError(t, c.RecordBlock(s.ID, 7, 1, 5, 5))
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, "net.bytes", got.Name)
	assert.Equal(t, uint64(1), got.Count)
	assert.Len(t, got.Residency, 1)
}

func TestCompactPreservesCurrentState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.dat")
	c, err := Open(path)
	require.NoError(t, err)

	s, err := c.Create("gc.pause", point.TypeFloat, 0)
	require.NoError(t, err)
	require.NoError(t, c.RecordBlock(s.ID, 1, 4, 0, 100))
	require.NoError(t, c.Drop("gc.pause"))
	_, err = c.Create("gc.pause2", point.TypeFloat, 0)
	require.NoError(t, err)

	require.NoError(t, c.Compact())
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	all := reopened.Scan(nil)
	require.Len(t, all, 1)
	assert.Equal(t, "gc.pause2", all[0].Name)
}

func TestRetypeChangesPointType(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "database.dat"))
	require.NoError(t, err)
	defer c.Close()

	s, err := c.Create("raw.metric", point.TypeInt, 0)
	require.NoError(t, err)
	require.NoError(t, c.Retype("raw.metric", point.TypeFloat))

	got, ok := c.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, point.TypeFloat, got.Type)
}
