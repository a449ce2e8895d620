package shard

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/siridb/siridb-go/internal/point"
)

// Handle is one open shard file. It is the survivor of the original's two
// parallel file-handler designs: a single read-many/write-one mutex guards
// the index while appends are serialized by the file's own offset, matching
// the storage.Store idiom's "one lock, simple invariant" shape.
type Handle struct {
	id   ID
	path string

	mu     sync.RWMutex // guards index, tail, header.Generation/Status
	file   *os.File
	header header
	index  map[uint64][]blockRef // series id -> blocks, rebuilt on Open
	tail   int64                 // offset the next AppendBlock writes at
	dirty  bool                  // index changed since last footer write
	closed atomic.Bool
}

// Open opens an existing shard file, or creates one with the given duration
// class and window if it doesn't exist. It validates the header and footer,
// loads the index, and truncates any partial block tail left by an unclean
// shutdown (spec.md §4.3, invariant 4's shard analog).
func Open(path string, id ID) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shard: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shard: stat %s: %w", path, err)
	}

	h := &Handle{id: id, path: path, file: f, index: map[uint64][]blockRef{}}

	if info.Size() == 0 {
		h.header = header{
			Version:     formatVersion,
			Duration:    uint32(id.Class().Seconds()),
			WindowStart: id.WindowStart(),
			Status:      StatusActive,
			Generation:  1,
		}
		if _, err := f.WriteAt(encodeHeader(h.header), 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("shard: write header %s: %w", path, err)
		}
		h.tail = headerSize
		h.dirty = true
		return h, nil
	}

	if err := h.load(info.Size()); err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

// load reads the header, then the footer/index if present and untruncated,
// rebuilding the index by scanning the block tail if the footer is stale or
// missing (the crash-recovery path).
func (h *Handle) load(size int64) error {
	hdrBuf := make([]byte, headerSize)
	if _, err := h.file.ReadAt(hdrBuf, 0); err != nil {
		return fmt.Errorf("shard: read header %s: %w", h.path, err)
	}
	hdr, err := decodeHeader(hdrBuf)
	if err != nil {
		return err
	}
	h.header = hdr

	if size < headerSize+footerSize {
		return h.rebuildIndex(headerSize, size)
	}

	ftrBuf := make([]byte, footerSize)
	if _, err := h.file.ReadAt(ftrBuf, size-footerSize); err != nil {
		return fmt.Errorf("shard: read footer %s: %w", h.path, err)
	}
	ftr, err := decodeFooter(ftrBuf)
	if err != nil {
		return h.rebuildIndex(headerSize, size)
	}
	if ftr.IndexOffset == 0 || ftr.IndexOffset+ftr.IndexLen+footerSize != uint64(size) {
		return h.rebuildIndex(headerSize, size)
	}

	idxBuf := make([]byte, ftr.IndexLen)
	if _, err := h.file.ReadAt(idxBuf, int64(ftr.IndexOffset)); err != nil {
		return fmt.Errorf("shard: read index %s: %w", h.path, err)
	}
	if crc32Of(idxBuf) != ftr.CRC32 {
		return h.rebuildIndex(headerSize, size)
	}

	entries, err := decodeIndex(idxBuf)
	if err != nil {
		return h.rebuildIndex(headerSize, size)
	}
	for _, e := range entries {
		h.index[e.SeriesID] = e.Blocks
	}
	h.tail = int64(ftr.IndexOffset)
	return nil
}

// rebuildIndex scans blocks sequentially from a known-good offset, stopping
// at the first short/corrupt read, and truncates any trailing partial
// block — the crash-safety path spec.md §4.3's append_block describes.
func (h *Handle) rebuildIndex(from, size int64) error {
	offset := from
	for offset+blockHeaderSize <= size {
		blkHdr := make([]byte, blockHeaderSize)
		if _, err := h.file.ReadAt(blkHdr, offset); err != nil {
			break
		}
		seriesID, bhdr, ok := decodeBlockHeader(blkHdr)
		if !ok {
			break
		}
		end := offset + blockHeaderSize + int64(bhdr.PayloadLen)
		if end > size {
			break
		}
		h.index[seriesID] = append(h.index[seriesID], blockRef{
			Offset: uint64(offset),
			Len:    blockHeaderSize + bhdr.PayloadLen,
			MinTS:  bhdr.MinTS,
			MaxTS:  bhdr.MaxTS,
			Flags:  flagLive,
		})
		offset = end
	}
	if offset != size {
		if err := h.file.Truncate(offset); err != nil {
			return fmt.Errorf("shard: truncate partial tail %s: %w", h.path, err)
		}
	}
	h.tail = offset
	h.dirty = true
	return nil
}

// blockHeaderSize is the on-disk framing AppendBlock wraps around every
// point.Block payload: series id, payload length, and the block's own
// min/max timestamps (duplicated from point.Header so rebuildIndex can scan
// without decoding the compressed payload). It carries point.Header in
// full (count and crc32 included) so a block can be handed straight back
// to point.Decode without the shard index needing to store them too.
const blockHeaderSize = 8 + 4 + 4 + 8 + 8 + 4

func encodeBlockHeader(seriesID uint64, hdr point.Header) []byte {
	buf := make([]byte, blockHeaderSize)
	putUint64(buf[0:8], seriesID)
	putUint32(buf[8:12], hdr.Count)
	putUint32(buf[12:16], hdr.PayloadLen)
	putUint64(buf[16:24], uint64(hdr.MinTS))
	putUint64(buf[24:32], uint64(hdr.MaxTS))
	putUint32(buf[32:36], hdr.CRC32)
	return buf
}

func decodeBlockHeader(b []byte) (seriesID uint64, hdr point.Header, ok bool) {
	if len(b) < blockHeaderSize {
		return 0, point.Header{}, false
	}
	hdr = point.Header{
		Count:      getUint32(b[8:12]),
		PayloadLen: getUint32(b[12:16]),
		MinTS:      int64(getUint64(b[16:24])),
		MaxTS:      int64(getUint64(b[24:32])),
		CRC32:      getUint32(b[32:36]),
	}
	return getUint64(b[0:8]), hdr, true
}

// AppendBlock writes a pre-encoded point.Block payload to the tail of the
// file and records it in the in-memory index. The file is fsync'd before
// the call returns so a crash after return never loses the block
// (spec.md §4.3's append_block).
func (h *Handle) AppendBlock(seriesID uint64, payload []byte, hdr point.Header) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return 0, fmt.Errorf("shard %s: %w", h.path, ErrSuperseded)
	}

	hdr.PayloadLen = uint32(len(payload))
	offset := h.tail
	frame := append(encodeBlockHeader(seriesID, hdr), payload...)
	if _, err := h.file.WriteAt(frame, offset); err != nil {
		return 0, fmt.Errorf("shard: append block %s: %w", h.path, err)
	}
	if err := h.file.Sync(); err != nil {
		return 0, fmt.Errorf("shard: fsync %s: %w", h.path, err)
	}

	h.index[seriesID] = append(h.index[seriesID], blockRef{
		Offset: uint64(offset),
		Len:    uint32(len(frame)),
		MinTS:  hdr.MinTS,
		MaxTS:  hdr.MaxTS,
		Flags:  flagLive,
	})
	h.tail = offset + int64(len(frame))
	h.dirty = true
	return offset, nil
}

// BlockRef is the public view of one block's location, returned by
// ReadBlocks so a caller can fetch and decode payloads lazily.
type BlockRef struct {
	SeriesID uint64
	Offset   int64
	MinTS    int64
	MaxTS    int64
}

// ReadBlocks returns every non-tombstoned block for seriesID whose
// [MinTS,MaxTS] overlaps [from,to], in offset (and therefore timestamp)
// order, per spec.md §4.3's read_blocks.
func (h *Handle) ReadBlocks(seriesID uint64, from, to int64) ([]BlockRef, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	refs := h.index[seriesID]
	out := make([]BlockRef, 0, len(refs))
	for _, r := range refs {
		if r.Flags == flagTombstoned {
			continue
		}
		if r.MaxTS < from || r.MinTS > to {
			continue
		}
		out = append(out, BlockRef{
			SeriesID: seriesID,
			Offset:   int64(r.Offset),
			MinTS:    r.MinTS,
			MaxTS:    r.MaxTS,
		})
	}
	return out, nil
}

// ReadPayload reads one block back out and returns its decompressed
// points directly, using the header framed alongside the payload on disk
// (count and crc32 included, so no caller-supplied state is needed).
func (h *Handle) ReadPayload(typ point.Type, ref BlockRef) ([]point.Point, error) {
	h.mu.RLock()
	hdrBuf := make([]byte, blockHeaderSize)
	if _, err := h.file.ReadAt(hdrBuf, ref.Offset); err != nil {
		h.mu.RUnlock()
		return nil, fmt.Errorf("shard: read block header at %d: %w", ref.Offset, err)
	}
	_, hdr, ok := decodeBlockHeader(hdrBuf)
	if !ok {
		h.mu.RUnlock()
		return nil, fmt.Errorf("shard: %w", ErrCorrupt)
	}
	payload := make([]byte, hdr.PayloadLen)
	_, err := h.file.ReadAt(payload, ref.Offset+blockHeaderSize)
	h.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("shard: read block payload at %d: %w", ref.Offset, err)
	}

	pts, err := point.Decode(typ, hdr, payload)
	if err != nil {
		return nil, fmt.Errorf("shard: decode block at %d: %w", ref.Offset, err)
	}
	return pts, nil
}

// Tombstone marks the index slot for the block at offset as logically
// removed. The bytes stay on disk until the optimizer rewrites the shard
// (spec.md §4.3's tombstone).
func (h *Handle) Tombstone(seriesID uint64, offset int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	refs := h.index[seriesID]
	for i := range refs {
		if int64(refs[i].Offset) == offset {
			refs[i].Flags = flagTombstoned
			h.dirty = true
			return nil
		}
	}
	return fmt.Errorf("shard %s: no block for series %d at offset %d", h.path, seriesID, offset)
}

// Supersede publishes next as the new generation for this shard's slot and
// marks h read-only for future writers; in-flight readers that already hold
// h keep using it until they release it (invariant 5). Callers typically
// call this via Store.Supersede, which also swaps the directory's pointer.
func (h *Handle) Supersede(next *Handle) error {
	h.mu.Lock()
	h.header.Status = StatusSuperseded
	h.closed.Store(true)
	h.mu.Unlock()

	next.mu.Lock()
	next.header.Generation = h.header.Generation + 1
	next.mu.Unlock()
	return nil
}

// Close flushes the index and footer, then closes the underlying file.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.flushIndexLocked(); err != nil {
		return err
	}
	return h.file.Close()
}

// flushIndexLocked rewrites the index and footer at the current tail. Must
// be called with h.mu held.
func (h *Handle) flushIndexLocked() error {
	if !h.dirty {
		return nil
	}

	ids := make([]uint64, 0, len(h.index))
	for id := range h.index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make([]seriesIndex, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, seriesIndex{SeriesID: id, Blocks: h.index[id]})
	}
	idxBytes := encodeIndex(entries)

	if _, err := h.file.WriteAt(idxBytes, h.tail); err != nil {
		return fmt.Errorf("shard: write index %s: %w", h.path, err)
	}
	ftr := footer{IndexOffset: uint64(h.tail), IndexLen: uint64(len(idxBytes)), CRC32: crc32Of(idxBytes)}
	if _, err := h.file.WriteAt(encodeFooter(ftr), h.tail+int64(len(idxBytes))); err != nil {
		return fmt.Errorf("shard: write footer %s: %w", h.path, err)
	}
	if _, err := h.file.WriteAt(encodeHeader(h.header), 0); err != nil {
		return fmt.Errorf("shard: rewrite header %s: %w", h.path, err)
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("shard: fsync %s: %w", h.path, err)
	}
	h.dirty = false
	return nil
}

// Stats summarizes fragmentation for the optimizer's threshold check
// (spec.md §4.6): the tombstone ratio, the average block length, and the
// average number of live blocks per series, all computed over the current
// in-memory index under a read lock.
type Stats struct {
	LiveBlocks       int
	TombstonedBlocks int
	AvgBlockLen      float64
	BlocksPerSeries  float64
}

func (h *Handle) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var live, tomb int
	var totalLen uint64
	for _, refs := range h.index {
		for _, r := range refs {
			if r.Flags == flagTombstoned {
				tomb++
				continue
			}
			live++
			totalLen += uint64(r.Len)
		}
	}
	avg := 0.0
	if live > 0 {
		avg = float64(totalLen) / float64(live)
	}
	perSeries := 0.0
	if len(h.index) > 0 {
		perSeries = float64(live) / float64(len(h.index))
	}
	return Stats{LiveBlocks: live, TombstonedBlocks: tomb, AvgBlockLen: avg, BlocksPerSeries: perSeries}
}

// SeriesIDs returns every series id with at least one block in this shard.
func (h *Handle) SeriesIDs() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uint64, 0, len(h.index))
	for id := range h.index {
		ids = append(ids, id)
	}
	return ids
}

func (h *Handle) ID() ID { return h.id }

// Path returns the shard file's path on disk.
func (h *Handle) Path() string { return h.path }

func (h *Handle) Generation() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.header.Generation
}

var _ io.Closer = (*Handle)(nil)
