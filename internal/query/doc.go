// Package query implements the cluster fan-out executor described in
// spec.md §4.9: resolve a series expression against the local catalog and
// the pool lookup table, dispatch a sub-query to every other pool that
// could hold a match, read local buffer+shard data for local matches,
// apply an aggregation, merge remote results in, and hand back a
// wire-ready Result.
//
// The query grammar/parser that produces the AST this package consumes is
// an external collaborator (spec.md §1's explicit Non-goal list); this
// package's Query type is the already-parsed shape that boundary hands
// over, not a parser.
package query
