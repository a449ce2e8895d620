package replication

import (
	"fmt"
	"math"

	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/shard"
	"github.com/siridb/siridb-go/internal/wire"
)

// seriesBatches builds the wire.ReplicationBatch sequence for one series:
// its buffer page first (flagged FromBuffer), then one batch per live
// block across every shard in its residency index, in the order spec.md
// §4.8's Initsync describes ("streams its buffer plus every live block of
// every shard intersecting the series' retention").
func seriesBatches(shards *shard.Store, bufferPoints func(seriesID uint64) []point.Point, s catalog.Series) ([]wire.ReplicationBatch, error) {
	var batches []wire.ReplicationBatch

	if buf := bufferPoints(s.ID); len(buf) > 0 {
		batches = append(batches, wire.ReplicationBatch{
			SeriesName: s.Name,
			SeriesID:   s.ID,
			Type:       uint8(s.Type),
			Points:     toInsertPoints(s.Name, s.Type, buf),
			FromBuffer: true,
		})
	}

	for _, ref := range s.Residency {
		h, err := shards.Get(shard.ID(ref.ShardID))
		if err != nil {
			return nil, fmt.Errorf("replication: open shard %d for series %d: %w", ref.ShardID, s.ID, err)
		}
		blocks, err := h.ReadBlocks(s.ID, math.MinInt64, math.MaxInt64)
		if err != nil {
			return nil, fmt.Errorf("replication: read blocks for series %d: %w", s.ID, err)
		}
		for _, blk := range blocks {
			pts, err := h.ReadPayload(s.Type, blk)
			if err != nil {
				return nil, fmt.Errorf("replication: read payload for series %d: %w", s.ID, err)
			}
			batches = append(batches, wire.ReplicationBatch{
				SeriesName: s.Name,
				SeriesID:   s.ID,
				Type:       uint8(s.Type),
				Points:     toInsertPoints(s.Name, s.Type, pts),
			})
		}
	}
	return batches, nil
}

func toInsertPoints(name string, typ point.Type, pts []point.Point) []wire.InsertPoint {
	out := make([]wire.InsertPoint, len(pts))
	for i, p := range pts {
		out[i] = wire.InsertPoint{Series: name, TS: p.TS, IVal: p.IVal, FVal: p.FVal, SVal: p.SVal, Type: uint8(typ)}
	}
	return out
}
