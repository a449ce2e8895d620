package point

import (
	"math/bits"

	bitstream "github.com/dgryski/go-bitstream"
)

// tsWriter encodes a strictly non-decreasing run of timestamps with the
// Gorilla delta-of-delta scheme: the first timestamp is stored raw, the
// first delta is stored raw, and every delta thereafter is bucketed by how
// far its delta-of-delta strays from zero, spending as few as one bit when
// the series samples at a perfectly regular interval.
type tsWriter struct {
	bw        *bitstream.BitWriter
	first     bool
	hadSecond bool
	t0, t1    int64
	prevDelta int64
}

func newTSWriter(bw *bitstream.BitWriter) *tsWriter {
	return &tsWriter{bw: bw, first: true}
}

func (w *tsWriter) Write(ts int64) error {
	if w.first {
		if err := w.bw.WriteBits(uint64(ts), 64); err != nil {
			return err
		}
		w.t0 = ts
		w.first = false
		return nil
	}
	if !w.hadSecond {
		delta := ts - w.t0
		if err := w.bw.WriteBits(zigzag(delta), 64); err != nil {
			return err
		}
		w.t1 = ts
		w.prevDelta = delta
		w.hadSecond = true
		return nil
	}

	delta := ts - w.t1
	dod := delta - w.prevDelta
	if err := writeDoD(w.bw, dod); err != nil {
		return err
	}
	w.t1 = ts
	w.prevDelta = delta
	return nil
}

// zigzag maps a signed integer onto the unsigned range so small negative
// and positive deltas both encode compactly.
func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// writeDoD writes one delta-of-delta using the bucketed scheme from the
// Gorilla paper: a unary prefix selects the bit width, keeping common
// (near-zero) deltas-of-delta to a handful of bits.
func writeDoD(bw *bitstream.BitWriter, dod int64) error {
	switch {
	case dod == 0:
		return bw.WriteBit(bitstream.Zero)
	case dod >= -63 && dod <= 64:
		if err := write1(bw, 1, 0); err != nil {
			return err
		}
		return bw.WriteBits(uint64(dod+63)&0x7F, 7)
	case dod >= -255 && dod <= 256:
		if err := write1(bw, 1, 1, 0); err != nil {
			return err
		}
		return bw.WriteBits(uint64(dod+255)&0x1FF, 9)
	case dod >= -2047 && dod <= 2048:
		if err := write1(bw, 1, 1, 1, 0); err != nil {
			return err
		}
		return bw.WriteBits(uint64(dod+2047)&0xFFF, 12)
	default:
		if err := write1(bw, 1, 1, 1, 1); err != nil {
			return err
		}
		return bw.WriteBits(zigzag(dod), 64)
	}
}

// write1 writes a sequence of 0/1 ints as bits; a tiny helper so the bucket
// table above reads like the prefix codes it implements.
func write1(bw *bitstream.BitWriter, bitsSeq ...int) error {
	for _, b := range bitsSeq {
		bit := bitstream.Zero
		if b == 1 {
			bit = bitstream.One
		}
		if err := bw.WriteBit(bit); err != nil {
			return err
		}
	}
	return nil
}

// Flush pads the underlying bitstream to a byte boundary.
func (w *tsWriter) Flush() error {
	return w.bw.Flush(bitstream.Zero)
}

// tsReader is the mirror of tsWriter.
type tsReader struct {
	br        *bitstream.BitReader
	first     bool
	hadSecond bool
	t0, t1    int64
	prevDelta int64
}

func newTSReader(br *bitstream.BitReader) *tsReader {
	return &tsReader{br: br, first: true}
}

func (r *tsReader) Read() (int64, error) {
	if r.first {
		v, err := r.br.ReadBits(64)
		if err != nil {
			return 0, err
		}
		r.t0 = int64(v)
		r.first = false
		return r.t0, nil
	}
	if !r.hadSecond {
		v, err := r.br.ReadBits(64)
		if err != nil {
			return 0, err
		}
		delta := unzigzag(v)
		r.t1 = r.t0 + delta
		r.prevDelta = delta
		r.hadSecond = true
		return r.t1, nil
	}

	dod, err := readDoD(r.br)
	if err != nil {
		return 0, err
	}
	delta := r.prevDelta + dod
	r.t1 += delta
	r.prevDelta = delta
	return r.t1, nil
}

func readDoD(br *bitstream.BitReader) (int64, error) {
	n, err := countOnes(br, 4)
	if err != nil {
		return 0, err
	}
	switch n {
	case 0:
		return 0, nil
	case 1:
		v, err := br.ReadBits(7)
		if err != nil {
			return 0, err
		}
		return int64(v) - 63, nil
	case 2:
		v, err := br.ReadBits(9)
		if err != nil {
			return 0, err
		}
		return int64(v) - 255, nil
	case 3:
		v, err := br.ReadBits(12)
		if err != nil {
			return 0, err
		}
		return int64(v) - 2047, nil
	default:
		v, err := br.ReadBits(64)
		if err != nil {
			return 0, err
		}
		return unzigzag(v), nil
	}
}

// countOnes reads up to max leading one-bits terminated by a zero bit (or
// by reaching max), returning how many ones were seen. This decodes the
// unary prefixes writeDoD/write1 produce.
func countOnes(br *bitstream.BitReader, max int) (int, error) {
	for i := 0; i < max; i++ {
		bit, err := br.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == bitstream.Zero {
			return i, nil
		}
	}
	return max, nil
}

// valWriter XOR-encodes a run of 64-bit payloads (int64 or float64 bit
// patterns) using the Gorilla scheme: a run of identical bits is reused
// across samples so a flat or slowly drifting metric costs little more
// than one bit per point.
type valWriter struct {
	bw                        *bitstream.BitWriter
	first                     bool
	prev                      uint64
	prevLeading, prevTrailing int
}

func newValWriter(bw *bitstream.BitWriter) *valWriter {
	return &valWriter{bw: bw, first: true, prevLeading: -1}
}

func (w *valWriter) Write(v uint64) error {
	if w.first {
		w.first = false
		w.prev = v
		return w.bw.WriteBits(v, 64)
	}

	xor := w.prev ^ v
	w.prev = v
	if xor == 0 {
		return w.bw.WriteBit(bitstream.Zero)
	}

	leading := bits.LeadingZeros64(xor)
	trailing := bits.TrailingZeros64(xor)
	// Cap leading at 31 so it always fits the 5-bit field below.
	if leading > 31 {
		leading = 31
	}

	if w.prevLeading != -1 && leading >= w.prevLeading && trailing >= w.prevTrailing {
		if err := write1(w.bw, 1, 0); err != nil {
			return err
		}
		sigLen := 64 - w.prevLeading - w.prevTrailing
		return w.bw.WriteBits(xor>>uint(w.prevTrailing), sigLen)
	}

	if err := write1(w.bw, 1, 1); err != nil {
		return err
	}
	if err := w.bw.WriteBits(uint64(leading), 5); err != nil {
		return err
	}
	sigLen := 64 - leading - trailing
	// sigLen ranges 1..64; store sigLen-1 so it always fits the 6-bit field.
	if err := w.bw.WriteBits(uint64(sigLen-1), 6); err != nil {
		return err
	}
	if err := w.bw.WriteBits(xor>>uint(trailing), sigLen); err != nil {
		return err
	}
	w.prevLeading, w.prevTrailing = leading, trailing
	return nil
}

type valReader struct {
	br                        *bitstream.BitReader
	first                     bool
	prev                      uint64
	prevLeading, prevTrailing int
}

func newValReader(br *bitstream.BitReader) *valReader {
	return &valReader{br: br, first: true}
}

func (r *valReader) Read() (uint64, error) {
	if r.first {
		r.first = false
		v, err := r.br.ReadBits(64)
		if err != nil {
			return 0, err
		}
		r.prev = v
		return v, nil
	}

	zeroBit, err := r.br.ReadBit()
	if err != nil {
		return 0, err
	}
	if zeroBit == bitstream.Zero {
		return r.prev, nil
	}

	controlBit, err := r.br.ReadBit()
	if err != nil {
		return 0, err
	}

	if controlBit == bitstream.Zero {
		sigLen := 64 - r.prevLeading - r.prevTrailing
		bitsv, err := r.br.ReadBits(sigLen)
		if err != nil {
			return 0, err
		}
		xor := bitsv << uint(r.prevTrailing)
		v := r.prev ^ xor
		r.prev = v
		return v, nil
	}

	leadingV, err := r.br.ReadBits(5)
	if err != nil {
		return 0, err
	}
	sigLenV, err := r.br.ReadBits(6)
	if err != nil {
		return 0, err
	}
	leading := int(leadingV)
	sigLen := int(sigLenV) + 1
	trailing := 64 - leading - sigLen

	bitsv, err := r.br.ReadBits(sigLen)
	if err != nil {
		return 0, err
	}
	xor := bitsv << uint(trailing)
	v := r.prev ^ xor
	r.prev = v
	r.prevLeading, r.prevTrailing = leading, trailing
	return v, nil
}
