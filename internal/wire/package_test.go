package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := InsertRequest{Points: []InsertPoint{
		{Series: "cpu", TS: 1, IVal: 10, Type: 0},
		{Series: "cpu", TS: 2, IVal: 20, Type: 0},
	}}

	pkg, err := Encode(1, TypeInsert, req)
	require.NoError(t, err)
	assert.Equal(t, TypeInsert, pkg.Type)

	var got InsertRequest
	require.NoError(t, pkg.Decode(&got))
	assert.Equal(t, req, got)
}

func TestWriteReadPackage(t *testing.T) {
	pkg, err := Encode(42, TypeQuery, QueryRequest{DeadlineUnix: 123})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := pkg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(headerSize+len(pkg.Body)), n)

	got, err := ReadPackage(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, pkg.PID, got.PID)
	assert.Equal(t, pkg.Type, got.Type)
	assert.Equal(t, pkg.Body, got.Body)
}

func TestReadPackageRejectsBadCheckbit(t *testing.T) {
	pkg, err := Encode(1, TypeAck, Ack{OK: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = pkg.WriteTo(&buf)
	require.NoError(t, err)

	corrupted := buf.Bytes()
	corrupted[7] = 0x00

	_, err = ReadPackage(bufio.NewReader(bytes.NewReader(corrupted)))
	assert.Error(t, err)
}

func TestReadPackageRejectsOversizedLength(t *testing.T) {
	hdr := make([]byte, headerSize)
	hdr[0], hdr[1], hdr[2], hdr[3] = 0xFF, 0xFF, 0xFF, 0x7F // huge length
	hdr[7] = checkbit

	_, err := ReadPackage(bufio.NewReader(bytes.NewReader(hdr)))
	assert.Error(t, err)
}

func TestPIDGeneratorIsMonotonicAndWraps(t *testing.T) {
	var g PIDGenerator
	first := g.Next()
	second := g.Next()
	assert.Equal(t, first+1, second)

	g.next = 65535
	assert.Equal(t, uint16(0), g.Next())
}
