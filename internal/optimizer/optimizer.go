package optimizer

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/shard"
)

// Config tunes when a shard is considered fragmented enough to rewrite
// (config `optimizer.*`, spec.md §4.6).
type Config struct {
	TombstoneRatio  float64
	MinAvgBlockLen  float64
	ScanInterval    time.Duration
}

// DefaultConfig matches spec.md §4.6's illustrative thresholds.
func DefaultConfig() Config {
	return Config{TombstoneRatio: 0.3, MinAvgBlockLen: 64, ScanInterval: time.Minute}
}

// Worker is the single background goroutine that sweeps every open shard
// looking for fragmentation, matching spec.md §5's "single background
// worker" resource model.
type Worker struct {
	cfg    Config
	shards *shard.Store
	types  func(seriesID uint64) point.Type
}

// NewWorker wires a Worker around an already-open shard store. types
// resolves a series id to its point type (the catalog), needed to
// re-encode merged blocks.
func NewWorker(cfg Config, shards *shard.Store, types func(seriesID uint64) point.Type) *Worker {
	return &Worker{cfg: cfg, shards: shards, types: types}
}

// Run sweeps on cfg.ScanInterval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	interval := w.cfg.ScanInterval
	if interval <= 0 {
		interval = DefaultConfig().ScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep performs one pass over every open shard, rewriting any that meet
// the fragmentation threshold.
func (w *Worker) Sweep() {
	for _, id := range w.shards.List() {
		h, err := w.shards.Get(id)
		if err != nil {
			continue
		}
		if !w.needsRewrite(h) {
			continue
		}
		_ = w.rewrite(h)
	}
}

func (w *Worker) needsRewrite(h *shard.Handle) bool {
	st := h.Stats()
	total := st.LiveBlocks + st.TombstonedBlocks
	if total == 0 {
		return false
	}
	ratio := float64(st.TombstonedBlocks) / float64(total)
	if ratio >= w.cfg.TombstoneRatio {
		return true
	}
	// A shard with at most one live block per series is already as merged
	// as rewrite can make it; gating MinAvgBlockLen on BlocksPerSeries too
	// keeps a small-but-optimal shard from being rewritten every sweep.
	return st.BlocksPerSeries > 1 && st.AvgBlockLen < w.cfg.MinAvgBlockLen
}

// rewrite reads every live block of h (read lock only), merges contiguous
// runs per series, writes the result into a fresh Handle, and publishes it
// via Store.Supersede — the only step that takes h's write lock.
func (w *Worker) rewrite(h *shard.Handle) error {
	id := h.ID()
	nextPath := filepath.Join(shardsDirOf(h), fmt.Sprintf("%s.next", id))
	next, err := shard.Open(nextPath, id)
	if err != nil {
		return fmt.Errorf("optimizer: open next-generation shard: %w", err)
	}

	for _, seriesID := range h.SeriesIDs() {
		refs, err := h.ReadBlocks(seriesID, math.MinInt64, math.MaxInt64)
		if err != nil {
			return fmt.Errorf("optimizer: read blocks for series %d: %w", seriesID, err)
		}
		if len(refs) == 0 {
			continue
		}

		typ := w.types(seriesID)
		var merged []point.Point
		for _, ref := range refs {
			pts, err := h.ReadPayload(typ, ref)
			if err != nil {
				// spec.md §7's `corrupt` recovery: skip the block, keep going.
				continue
			}
			merged = append(merged, pts...)
		}
		if len(merged) == 0 {
			continue
		}
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].TS < merged[j].TS })
		merged = dedupeSameTimestamp(merged)

		payload, newHdr, err := point.Encode(typ, merged)
		if err != nil {
			return fmt.Errorf("optimizer: encode merged block for series %d: %w", seriesID, err)
		}
		if _, err := next.AppendBlock(seriesID, payload, newHdr); err != nil {
			return fmt.Errorf("optimizer: append merged block for series %d: %w", seriesID, err)
		}
	}

	return w.shards.Supersede(id, next)
}

// dedupeSameTimestamp keeps the last point for any run of equal
// timestamps. rewrite sorts merged stably from ReadBlocks' offset order, so
// the surviving point is the later write within one series' committed
// storage.
func dedupeSameTimestamp(pts []point.Point) []point.Point {
	out := pts[:0]
	for i, p := range pts {
		if i > 0 && p.TS == out[len(out)-1].TS {
			out[len(out)-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// shardsDirOf recovers the directory a Handle's file lives in so the
// optimizer can place next-generation files alongside it. Exposed this way
// rather than duplicating Store's path layout.
func shardsDirOf(h *shard.Handle) string {
	return filepath.Dir(h.Path())
}
