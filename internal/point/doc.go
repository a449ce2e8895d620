// Package point implements the atomic on-disk unit of SiriDB storage: a
// compressed, typed run of points for one series within one shard's time
// window (spec §4.2).
//
// Integer and float series share one encoder: timestamps are compressed
// with the classic Gorilla delta-of-delta scheme (bucketed bit widths keyed
// off how close consecutive deltas are to each other), and the 64-bit
// payload (the int64 reinterpreted as bits, or the float64's IEEE-754 bits)
// is compressed with Gorilla XOR encoding — leading/trailing zero runs are
// reused across points so that slowly-changing metrics cost only a couple
// of bits per sample. String series skip both schemes (there is no XOR of
// variable-length UTF-8) and instead store length-prefixed strings,
// optionally snappy-compressed as a whole when the run is large enough to
// benefit.
//
// Blocks are immutable once encoded; to "edit" one (drop a point, merge two
// blocks), a caller decodes, mutates the point slice, and encodes a new
// block — the optimizer (internal/optimizer) is the only thing that does
// this.
package point
