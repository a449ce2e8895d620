package point

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeIntBlock(t *testing.T) {
	pts := []Point{
		{TS: 100, IVal: 1},
		{TS: 110, IVal: 2},
		{TS: 120, IVal: 2},
		{TS: 135, IVal: -7},
	}
	payload, hdr, err := Encode(TypeInt, pts)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(pts)), hdr.Count)
	assert.Equal(t, int64(100), hdr.MinTS)
	assert.Equal(t, int64(135), hdr.MaxTS)
	assert.Equal(t, uint32(len(payload)), hdr.PayloadLen)

	got, err := Decode(TypeInt, hdr, payload)
	require.NoError(t, err)
	assert.Equal(t, pts, got)
}

func TestEncodeDecodeFloatBlock(t *testing.T) {
	pts := []Point{
		{TS: 0, FVal: 1.5},
		{TS: 10, FVal: 1.5},
		{TS: 20, FVal: 2.75},
		{TS: 30, FVal: -0.125},
	}
	payload, hdr, err := Encode(TypeFloat, pts)
	require.NoError(t, err)

	got, err := Decode(TypeFloat, hdr, payload)
	require.NoError(t, err)
	assert.Equal(t, pts, got)
}

func TestEncodeDecodeStringBlockSmallStaysRaw(t *testing.T) {
	pts := []Point{
		{TS: 1, SVal: "ok"},
		{TS: 2, SVal: "warn"},
	}
	payload, hdr, err := Encode(TypeString, pts)
	require.NoError(t, err)
	require.NotEmpty(t, payload)
	assert.Equal(t, byte(0), payload[0], "small payload should not be snappy-compressed")

	got, err := Decode(TypeString, hdr, payload)
	require.NoError(t, err)
	assert.Equal(t, pts, got)
}

func TestEncodeDecodeStringBlockLargeUsesSnappy(t *testing.T) {
	big := strings.Repeat("the quick brown fox jumps over the lazy dog ", 20)
	pts := []Point{
		{TS: 1, SVal: big},
		{TS: 2, SVal: big},
		{TS: 3, SVal: big},
	}
	payload, hdr, err := Encode(TypeString, pts)
	require.NoError(t, err)
	assert.Equal(t, byte(1), payload[0], "large repetitive payload should be snappy-compressed")

	got, err := Decode(TypeString, hdr, payload)
	require.NoError(t, err)
	assert.Equal(t, pts, got)
}

func TestDecodeRejectsCorruptPayload(t *testing.T) {
	pts := []Point{{TS: 1, IVal: 1}, {TS: 2, IVal: 2}}
	payload, hdr, err := Encode(TypeInt, pts)
	require.NoError(t, err)

	payload[0] ^= 0xFF

	_, err = Decode(TypeInt, hdr, payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptBlock))
}

func TestEncodeRejectsEmptyBlock(t *testing.T) {
	_, _, err := Encode(TypeInt, nil)
	assert.Error(t, err)
}
