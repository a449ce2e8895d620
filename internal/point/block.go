package point

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	bitstream "github.com/dgryski/go-bitstream"
	"github.com/golang/snappy"
)

// snappyThreshold is the encoded-string-payload size above which Encode
// applies snappy compression; below it the framing overhead isn't worth
// paying for.
const snappyThreshold = 128

// Encode compresses points (already sorted by timestamp, per invariant 2)
// into one block payload and its header. typ must match every point's
// populated field.
func Encode(typ Type, points []Point) ([]byte, Header, error) {
	if len(points) == 0 {
		return nil, Header{}, fmt.Errorf("point: cannot encode an empty block")
	}

	var payload []byte
	var err error
	switch typ {
	case TypeInt:
		payload, err = encodeNumeric(points, func(p Point) uint64 { return uint64(p.IVal) })
	case TypeFloat:
		payload, err = encodeNumeric(points, func(p Point) uint64 { return math.Float64bits(p.FVal) })
	case TypeString:
		payload, err = encodeString(points)
	default:
		return nil, Header{}, fmt.Errorf("point: unknown type %d", typ)
	}
	if err != nil {
		return nil, Header{}, err
	}

	hdr := Header{
		Count:      uint32(len(points)),
		MinTS:      points[0].TS,
		MaxTS:      points[len(points)-1].TS,
		PayloadLen: uint32(len(payload)),
		CRC32:      crc32.ChecksumIEEE(payload),
	}
	return payload, hdr, nil
}

// Decode reverses Encode, validating the CRC first (spec §7: a bad CRC is a
// `corrupt` error, handled by the caller skipping/tombstoning the block).
func Decode(typ Type, hdr Header, payload []byte) ([]Point, error) {
	if crc32.ChecksumIEEE(payload) != hdr.CRC32 {
		return nil, fmt.Errorf("point: %w", ErrCorruptBlock)
	}
	switch typ {
	case TypeInt:
		return decodeNumeric(hdr, payload, func(p *Point, bits uint64) { p.IVal = int64(bits) })
	case TypeFloat:
		return decodeNumeric(hdr, payload, func(p *Point, bits uint64) { p.FVal = math.Float64frombits(bits) })
	case TypeString:
		return decodeString(hdr, payload)
	default:
		return nil, fmt.Errorf("point: unknown type %d", typ)
	}
}

// ErrCorruptBlock is returned when a block's payload fails its CRC check.
var ErrCorruptBlock = fmt.Errorf("block failed crc32 validation")

func encodeNumeric(points []Point, val func(Point) uint64) ([]byte, error) {
	var buf bytes.Buffer
	bw := bitstream.NewWriter(&buf)
	tsw := newTSWriter(bw)
	vw := newValWriter(bw)

	for _, p := range points {
		if err := tsw.Write(p.TS); err != nil {
			return nil, err
		}
		if err := vw.Write(val(p)); err != nil {
			return nil, err
		}
	}
	if err := tsw.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeNumeric(hdr Header, payload []byte, assign func(*Point, uint64)) ([]Point, error) {
	br := bitstream.NewReader(bytes.NewReader(payload))
	tsr := newTSReader(br)
	vr := newValReader(br)

	out := make([]Point, hdr.Count)
	for i := range out {
		ts, err := tsr.Read()
		if err != nil {
			return nil, fmt.Errorf("point: decode ts[%d]: %w", i, err)
		}
		v, err := vr.Read()
		if err != nil {
			return nil, fmt.Errorf("point: decode val[%d]: %w", i, err)
		}
		out[i].TS = ts
		assign(&out[i], v)
	}
	return out, nil
}

// encodeString writes a byte-aligned length-prefixed run: for every point,
// an 8-byte timestamp, a varint length, then the raw UTF-8 bytes. The whole
// run is snappy-compressed when it's worth the overhead, flagged by the
// leading byte (0 = raw, 1 = snappy).
func encodeString(points []Point) ([]byte, error) {
	var buf bytes.Buffer
	var tsBuf [8]byte
	var lenBuf [binary.MaxVarintLen64]byte
	for _, p := range points {
		binary.LittleEndian.PutUint64(tsBuf[:], uint64(p.TS))
		buf.Write(tsBuf[:])
		n := binary.PutUvarint(lenBuf[:], uint64(len(p.SVal)))
		buf.Write(lenBuf[:n])
		buf.WriteString(p.SVal)
	}

	raw := buf.Bytes()
	if len(raw) < snappyThreshold {
		out := make([]byte, 1+len(raw))
		out[0] = 0
		copy(out[1:], raw)
		return out, nil
	}

	compressed := snappy.Encode(nil, raw)
	out := make([]byte, 1+len(compressed))
	out[0] = 1
	copy(out[1:], compressed)
	return out, nil
}

func decodeString(hdr Header, payload []byte) ([]Point, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("point: empty string payload")
	}
	flag := payload[0]
	raw := payload[1:]
	if flag == 1 {
		var err error
		raw, err = snappy.Decode(nil, raw)
		if err != nil {
			return nil, fmt.Errorf("point: snappy decode: %w", err)
		}
	}

	out := make([]Point, 0, hdr.Count)
	r := bytes.NewReader(raw)
	for i := uint32(0); i < hdr.Count; i++ {
		var tsBuf [8]byte
		if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
			return nil, fmt.Errorf("point: read ts[%d]: %w", i, err)
		}
		ts := int64(binary.LittleEndian.Uint64(tsBuf[:]))

		slen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("point: read string length[%d]: %w", i, err)
		}
		sbuf := make([]byte, slen)
		if _, err := io.ReadFull(r, sbuf); err != nil {
			return nil, fmt.Errorf("point: read string body[%d]: %w", i, err)
		}
		out = append(out, Point{TS: ts, SVal: string(sbuf)})
	}
	return out, nil
}
