package shard

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// On-disk layout, verbatim from spec.md §6:
//
//	header(64B) | blocks... | index | footer(32B)
const (
	headerSize = 64
	footerSize = 32
)

var magic = [4]byte{'S', 'D', 'S', 'H'}

const formatVersion uint16 = 1

// Status is the shard's lifecycle flag, stored in the header.
type Status uint8

const (
	StatusActive Status = iota
	StatusSuperseded
)

// header mirrors spec.md §6's header layout:
// {magic, version, duration, window_start, status, generation, reserved}.
type header struct {
	Version     uint16
	Duration    uint32
	WindowStart int64
	Status      Status
	Generation  uint32
}

func encodeHeader(h header) []byte {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, magic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, h.Version)
	buf = binary.LittleEndian.AppendUint32(buf, h.Duration)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.WindowStart))
	buf = append(buf, byte(h.Status))
	buf = binary.LittleEndian.AppendUint32(buf, h.Generation)
	buf = append(buf, make([]byte, headerSize-len(buf))...)
	return buf
}

func decodeHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, fmt.Errorf("shard: short header (%d bytes)", len(b))
	}
	if !bytes.Equal(b[:4], magic[:]) {
		return header{}, fmt.Errorf("shard: bad magic %x: %w", b[:4], ErrFatal)
	}
	h := header{
		Version:     binary.LittleEndian.Uint16(b[4:6]),
		Duration:    binary.LittleEndian.Uint32(b[6:10]),
		WindowStart: int64(binary.LittleEndian.Uint64(b[10:18])),
		Status:      Status(b[18]),
		Generation:  binary.LittleEndian.Uint32(b[19:23]),
	}
	if h.Version != formatVersion {
		return header{}, fmt.Errorf("shard: unsupported version %d: %w", h.Version, ErrFatal)
	}
	return h, nil
}

// footer mirrors spec.md §6: {index_offset, index_len, crc32}.
type footer struct {
	IndexOffset uint64
	IndexLen    uint64
	CRC32       uint32
}

func encodeFooter(f footer) []byte {
	buf := make([]byte, 0, footerSize)
	buf = binary.LittleEndian.AppendUint64(buf, f.IndexOffset)
	buf = binary.LittleEndian.AppendUint64(buf, f.IndexLen)
	buf = binary.LittleEndian.AppendUint32(buf, f.CRC32)
	buf = append(buf, make([]byte, footerSize-len(buf))...)
	return buf
}

func decodeFooter(b []byte) (footer, error) {
	if len(b) < footerSize {
		return footer{}, fmt.Errorf("shard: short footer (%d bytes)", len(b))
	}
	return footer{
		IndexOffset: binary.LittleEndian.Uint64(b[0:8]),
		IndexLen:    binary.LittleEndian.Uint64(b[8:16]),
		CRC32:       binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// blockFlag marks an index entry's block as live or tombstoned.
type blockFlag uint8

const (
	flagLive blockFlag = iota
	flagTombstoned
)

// blockRef is one index entry's record of a single block: spec.md §6's
// `(offset, len, min_ts, max_ts, flags)`.
type blockRef struct {
	Offset uint64
	Len    uint32
	MinTS  int64
	MaxTS  int64
	Flags  blockFlag
}

// seriesIndex is one index entry: spec.md §6's `{series_id, n_blocks, blocks...}`.
type seriesIndex struct {
	SeriesID uint64
	Blocks   []blockRef
}

// encodeIndex serializes entries sorted by series id, matching spec.md §6.
func encodeIndex(entries []seriesIndex) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		var hdr [12]byte
		binary.LittleEndian.PutUint64(hdr[0:8], e.SeriesID)
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(e.Blocks)))
		buf.Write(hdr[:])
		for _, b := range e.Blocks {
			var rec [29]byte
			binary.LittleEndian.PutUint64(rec[0:8], b.Offset)
			binary.LittleEndian.PutUint32(rec[8:12], b.Len)
			binary.LittleEndian.PutUint64(rec[12:20], uint64(b.MinTS))
			binary.LittleEndian.PutUint64(rec[20:28], uint64(b.MaxTS))
			rec[28] = byte(b.Flags)
			buf.Write(rec[:])
		}
	}
	return buf.Bytes()
}

func decodeIndex(b []byte) ([]seriesIndex, error) {
	var entries []seriesIndex
	for len(b) > 0 {
		if len(b) < 12 {
			return nil, fmt.Errorf("shard: truncated index entry header: %w", ErrCorrupt)
		}
		e := seriesIndex{
			SeriesID: binary.LittleEndian.Uint64(b[0:8]),
		}
		n := binary.LittleEndian.Uint32(b[8:12])
		b = b[12:]
		e.Blocks = make([]blockRef, n)
		for i := range e.Blocks {
			if len(b) < 29 {
				return nil, fmt.Errorf("shard: truncated block record: %w", ErrCorrupt)
			}
			e.Blocks[i] = blockRef{
				Offset: binary.LittleEndian.Uint64(b[0:8]),
				Len:    binary.LittleEndian.Uint32(b[8:12]),
				MinTS:  int64(binary.LittleEndian.Uint64(b[12:20])),
				MaxTS:  int64(binary.LittleEndian.Uint64(b[20:28])),
				Flags:  blockFlag(b[28]),
			}
			b = b[29:]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func crc32Of(b []byte) uint32 { return crc32.ChecksumIEEE(b) }

func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getUint64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
func getUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
