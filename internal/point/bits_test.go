package point

import (
	"bytes"
	"math"
	"testing"

	bitstream "github.com/dgryski/go-bitstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTimestamps(t *testing.T, ts []int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := bitstream.NewWriter(&buf)
	w := newTSWriter(bw)
	for _, v := range ts {
		require.NoError(t, w.Write(v))
	}
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func readTimestamps(t *testing.T, data []byte, n int) []int64 {
	t.Helper()
	br := bitstream.NewReader(bytes.NewReader(data))
	r := newTSReader(br)
	out := make([]int64, n)
	for i := range out {
		v, err := r.Read()
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

func TestTSRoundTripRegularInterval(t *testing.T) {
	ts := []int64{1000, 1010, 1020, 1030, 1040, 1050}
	data := writeTimestamps(t, ts)
	assert.Equal(t, ts, readTimestamps(t, data, len(ts)))
}

func TestTSRoundTripIrregularJumps(t *testing.T) {
	ts := []int64{1000, 1010, 1025, 1026, 2000, 2001, 50000}
	data := writeTimestamps(t, ts)
	assert.Equal(t, ts, readTimestamps(t, data, len(ts)))
}

func TestTSRoundTripNegativeDeltas(t *testing.T) {
	// Deltas need not grow: a burst can arrive slightly out of cadence
	// while still satisfying the overall non-decreasing invariant.
	ts := []int64{1000, 1100, 1150, 1151, 1300}
	data := writeTimestamps(t, ts)
	assert.Equal(t, ts, readTimestamps(t, data, len(ts)))
}

func TestTSRoundTripLargeDoDFallsBackTo64Bit(t *testing.T) {
	ts := []int64{0, 1, 2, 1 << 40, (1 << 40) + 1, (1 << 41)}
	data := writeTimestamps(t, ts)
	assert.Equal(t, ts, readTimestamps(t, data, len(ts)))
}

func TestTSRoundTripTwoPoints(t *testing.T) {
	ts := []int64{5, 9}
	data := writeTimestamps(t, ts)
	assert.Equal(t, ts, readTimestamps(t, data, len(ts)))
}

func TestTSRoundTripSinglePoint(t *testing.T) {
	ts := []int64{42}
	data := writeTimestamps(t, ts)
	assert.Equal(t, ts, readTimestamps(t, data, len(ts)))
}

func writeValues(t *testing.T, vals []uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := bitstream.NewWriter(&buf)
	w := newValWriter(bw)
	for _, v := range vals {
		require.NoError(t, w.Write(v))
	}
	require.NoError(t, bw.Flush(bitstream.Zero))
	return buf.Bytes()
}

func readValues(t *testing.T, data []byte, n int) []uint64 {
	t.Helper()
	br := bitstream.NewReader(bytes.NewReader(data))
	r := newValReader(br)
	out := make([]uint64, n)
	for i := range out {
		v, err := r.Read()
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

func TestValRoundTripIdenticalValues(t *testing.T) {
	vals := []uint64{7, 7, 7, 7, 7}
	data := writeValues(t, vals)
	assert.Equal(t, vals, readValues(t, data, len(vals)))
}

func TestValRoundTripSmallDriftReusesWindow(t *testing.T) {
	vals := []uint64{100, 101, 102, 103, 99, 104}
	data := writeValues(t, vals)
	assert.Equal(t, vals, readValues(t, data, len(vals)))
}

func TestValRoundTripLargeJumpsNeedNewWindow(t *testing.T) {
	vals := []uint64{0, 1 << 63, 1, 1<<40 - 1, 0xDEADBEEF}
	data := writeValues(t, vals)
	assert.Equal(t, vals, readValues(t, data, len(vals)))
}

func TestValRoundTripSingleValue(t *testing.T) {
	vals := []uint64{123456789}
	data := writeValues(t, vals)
	assert.Equal(t, vals, readValues(t, data, len(vals)))
}

func TestValRoundTripFloatBits(t *testing.T) {
	floats := []float64{1.5, 1.5, 1.50001, -2.25, 0, 3.14159265}
	vals := make([]uint64, len(floats))
	for i, f := range floats {
		vals[i] = math.Float64bits(f)
	}
	data := writeValues(t, vals)
	got := readValues(t, data, len(vals))
	for i, v := range got {
		assert.Equal(t, vals[i], v)
		assert.Equal(t, floats[i], math.Float64frombits(v))
	}
}

func TestZigzagRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -63, 64, -64, 1 << 40, -(1 << 40)} {
		assert.Equal(t, v, unzigzag(zigzag(v)))
	}
}
