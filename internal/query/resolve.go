package query

import (
	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/pool"
)

// resolved is the output of step 1 in spec.md §4.9: the series this pool
// owns that match the query, plus the set of other pools that must be
// asked because they could own a match too.
type resolved struct {
	Local       []catalog.Series
	RemotePools []pool.ID
}

// resolve splits expr across the local catalog and the lookup table. An
// explicit name list is resolved exactly, by hashing each name through
// table: only the pools that actually own one of the named series are
// asked. A regex/wildcard expression can't be pruned that way (any pool
// might hold a matching name this node has never seen), so it fans out to
// every other pool, same as spec.md §4.9 step 2 describes for the general
// case.
func resolve(cat *catalog.Catalog, table *pool.Table, localPool pool.ID, allPools []pool.ID, expr SeriesExpr) resolved {
	if len(expr.Names) > 0 {
		return resolveNames(cat, table, localPool, expr.Names)
	}
	return resolvePattern(cat, localPool, allPools, expr)
}

func resolveNames(cat *catalog.Catalog, table *pool.Table, localPool pool.ID, names []string) resolved {
	var r resolved
	seenPool := map[pool.ID]bool{}
	for _, name := range names {
		owner := table.Lookup(name)
		if owner == localPool {
			if s, ok := cat.Lookup(name); ok {
				r.Local = append(r.Local, s)
			}
			continue
		}
		if !seenPool[owner] {
			seenPool[owner] = true
			r.RemotePools = append(r.RemotePools, owner)
		}
	}
	return r
}

func resolvePattern(cat *catalog.Catalog, localPool pool.ID, allPools []pool.ID, expr SeriesExpr) resolved {
	r := resolved{Local: cat.Scan(expr.Pattern)}
	for _, p := range allPools {
		if p != localPool {
			r.RemotePools = append(r.RemotePools, p)
		}
	}
	return r
}
