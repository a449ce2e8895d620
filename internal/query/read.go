package query

import (
	"math"
	"sort"

	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/pool"
	"github.com/siridb/siridb-go/internal/shard"
	"github.com/siridb/siridb-go/internal/wire"
)

// bufferLookup returns a series' not-yet-flushed points, in whatever order
// internal/buffer's page holds them (unsorted); read merges and sorts.
type bufferLookup func(seriesID uint64) []point.Point

// bufferGeneration is the tie-break rank given to buffer-resident points:
// a point still in the buffer is always newer than anything flushed to a
// shard, so it outranks every on-disk generation (spec.md §4.9's "higher
// generation wins").
const bufferGeneration = math.MaxUint32

// readLocal reads every block (and any buffered points) for s within r,
// returning points in strictly ascending timestamp order with duplicate
// timestamps resolved by spec.md §4.9's tie-break: higher generation wins,
// ties broken by higher pool id.
func readLocal(shards *shard.Store, buf bufferLookup, localPool pool.ID, s catalog.Series, r TimeRange) ([]wire.ResultPoint, error) {
	var out []wire.ResultPoint

	for _, ref := range s.Residency {
		h, err := shards.Get(shard.ID(ref.ShardID))
		if err != nil {
			return nil, err
		}
		blocks, err := h.ReadBlocks(s.ID, r.From, r.To)
		if err != nil {
			return nil, err
		}
		gen := h.Generation()
		for _, blk := range blocks {
			pts, err := h.ReadPayload(s.Type, blk)
			if err != nil {
				// spec.md §7's `corrupt` recovery: skip the block, keep going.
				continue
			}
			for _, p := range pts {
				if p.TS < r.From || p.TS > r.To {
					continue
				}
				out = append(out, toResultPoint(p, s.Type, gen, localPool))
			}
		}
	}

	for _, p := range buf(s.ID) {
		if p.TS < r.From || p.TS > r.To {
			continue
		}
		out = append(out, toResultPoint(p, s.Type, bufferGeneration, localPool))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return dedupeByTimestamp(out), nil
}

func toResultPoint(p point.Point, typ point.Type, generation uint32, owner pool.ID) wire.ResultPoint {
	rp := wire.ResultPoint{TS: p.TS, Type: uint8(typ), Generation: generation, PoolID: uint16(owner)}
	switch typ {
	case point.TypeFloat:
		rp.FVal = p.FVal
	case point.TypeString:
		rp.SVal = p.SVal
	default:
		rp.IVal = p.IVal
	}
	return rp
}

// dedupeByTimestamp collapses points that share a timestamp — the overlap
// window a reindex migration or a lagging replica can produce — keeping
// the one with the higher generation, then the one owned by the higher
// pool id, per spec.md §4.9.
func dedupeByTimestamp(pts []wire.ResultPoint) []wire.ResultPoint {
	if len(pts) < 2 {
		return pts
	}
	out := make([]wire.ResultPoint, 0, len(pts))
	out = append(out, pts[0])
	for _, p := range pts[1:] {
		last := &out[len(out)-1]
		if p.TS != last.TS {
			out = append(out, p)
			continue
		}
		if winsOver(p, *last) {
			*last = p
		}
	}
	return out
}

// winsOver reports whether candidate should replace incumbent under
// spec.md §4.9's tie-break: higher generation wins, then higher pool id.
func winsOver(candidate, incumbent wire.ResultPoint) bool {
	if candidate.Generation != incumbent.Generation {
		return candidate.Generation > incumbent.Generation
	}
	return candidate.PoolID > incumbent.PoolID
}
