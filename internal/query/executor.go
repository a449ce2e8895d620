package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/pool"
	"github.com/siridb/siridb-go/internal/shard"
	"github.com/siridb/siridb-go/internal/wire"
)

// Dispatcher sends a sub-query to a remote pool and returns its
// contribution, per spec.md §4.9 step 2. Implementations live in
// internal/server, where a real wire.Package round trip happens; tests
// supply an in-process stand-in.
type Dispatcher func(ctx context.Context, target pool.ID, req wire.SubQueryRequest) (*wire.QueryResponse, error)

// Result is what Executor.Run hands back to the caller that will frame it
// as a wire.QueryResponse (the local node's own contribution has already
// been merged in by the time Run returns).
type Result struct {
	Series  map[string][]wire.ResultPoint
	Partial bool
}

// Executor runs one already-parsed query against this node's local data
// and every other pool that could hold a match, merging the results per
// spec.md §4.9's six-step pipeline:
//  1. resolve series expression -> local matches + remote pool set
//  2. dispatch a sub-query to each remote pool concurrently
//  3. read local buffer+shard data for local matches
//  4. apply the aggregation pipeline to each local series
//  5. merge remote responses (each already aggregated by its own pool) into
//     the local result set, deduping overlaps
//  6. return, marking the result partial if any contributor ran out of time
type Executor struct {
	Catalog   *catalog.Catalog
	Shards    *shard.Store
	Buffer    bufferLookup
	Table     *pool.Table
	LocalPool pool.ID
	AllPools  []pool.ID
	Dispatch  Dispatcher
}

// Run executes q: it applies q's aggregation pipeline to every series of
// this node's own local read, fans out to remote pools, and merges their
// responses with the local result.
func (e *Executor) Run(ctx context.Context, q Query) (*Result, error) {
	if !q.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, q.Deadline)
		defer cancel()
	}

	res := resolve(e.Catalog, e.Table, e.LocalPool, e.AllPools, q.Series)

	local := make(map[string][]wire.ResultPoint, len(res.Local))
	for _, s := range res.Local {
		pts, err := readLocal(e.Shards, e.Buffer, e.LocalPool, s, q.Range)
		if err != nil {
			return nil, fmt.Errorf("query: read local series %q: %w", s.Name, err)
		}
		for _, agg := range q.Aggregations {
			out, err := Apply(agg, pts)
			if err != nil {
				return nil, fmt.Errorf("query: apply aggregation to series %q: %w", s.Name, err)
			}
			pts = out
		}
		local[s.Name] = pts
	}

	hint := make([]string, len(res.Local))
	for i, s := range res.Local {
		hint[i] = s.Name
	}
	// AST carries the already-parsed Query itself rather than a grammar
	// tree: the node-to-node fan-out boundary is internal to this
	// implementation, unlike the client-facing parser spec.md §1 excludes.
	req := wire.SubQueryRequest{AST: q, DeadlineUnix: q.Deadline.UnixMilli(), SeriesHint: hint}

	responses, partial := e.fanOut(ctx, res.RemotePools, req)

	merged, mergePartial := mergeResponses(local, responses)
	partial = partial || mergePartial

	return &Result{Series: merged, Partial: partial}, nil
}

// fanOut dispatches req to every pool in targets concurrently, per spec.md
// §4.9 step 2. A remote pool that errors (including context cancellation
// from the deadline expiring) contributes nothing and marks the result
// partial rather than failing the whole query, matching spec.md §8
// scenario F's "a slow pool degrades its own answer, not the cluster's".
func (e *Executor) fanOut(ctx context.Context, targets []pool.ID, req wire.SubQueryRequest) ([]*wire.QueryResponse, bool) {
	if len(targets) == 0 {
		return nil, false
	}
	responses := make([]*wire.QueryResponse, len(targets))

	var wg sync.WaitGroup
	var mu sync.Mutex
	partial := false

	for i, target := range targets {
		wg.Add(1)
		go func(i int, target pool.ID) {
			defer wg.Done()
			resp, err := e.Dispatch(ctx, target, req)
			if err != nil {
				mu.Lock()
				partial = true
				mu.Unlock()
				return
			}
			responses[i] = resp
		}(i, target)
	}
	wg.Wait()

	return responses, partial
}
