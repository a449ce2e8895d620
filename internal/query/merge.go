package query

import (
	"sort"

	"github.com/siridb/siridb-go/internal/wire"
)

// mergeSeries unions a series' local points with every remote pool's
// contribution for the same series name, re-sorting and re-deduping across
// the combined set (spec.md §4.9 step 4: "merge per series by timestamp,
// applying the same overlap tie-break across pool boundaries").
func mergeSeries(local []wire.ResultPoint, remote ...[]wire.ResultPoint) []wire.ResultPoint {
	total := len(local)
	for _, r := range remote {
		total += len(r)
	}
	merged := make([]wire.ResultPoint, 0, total)
	merged = append(merged, local...)
	for _, r := range remote {
		merged = append(merged, r...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].TS < merged[j].TS })
	return dedupeByTimestamp(merged)
}

// mergeResponses folds every remote pool's QueryResponse into the local
// per-series result set built during resolve+read, and reports whether any
// contributor's portion was partial (spec.md §8 scenario F).
func mergeResponses(local map[string][]wire.ResultPoint, responses []*wire.QueryResponse) (map[string][]wire.ResultPoint, bool) {
	out := make(map[string][]wire.ResultPoint, len(local))
	for name, pts := range local {
		out[name] = pts
	}

	partial := false
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		if resp.Partial {
			partial = true
		}
		for name, pts := range resp.Series {
			out[name] = mergeSeries(out[name], pts)
		}
	}
	return out, partial
}
