package query

import (
	"regexp"
	"time"
)

// SeriesExpr selects which series a query runs over: an explicit name
// list, or a compiled regex, per spec.md §4.9 step 1 ("name list, regex,
// or tag set" — tag sets are out of scope per spec.md §1's non-goal of no
// secondary indexes beyond regex filtering).
type SeriesExpr struct {
	Names   []string
	Pattern *regexp.Regexp
}

// TimeRange bounds a query to [From, To] (inclusive), unix seconds.
type TimeRange struct {
	From, To int64
}

// FilterOp is one of the comparison operators spec.md §4.9's filter
// aggregation supports.
type FilterOp string

const (
	FilterEQ FilterOp = "eq"
	FilterNE FilterOp = "ne"
	FilterLT FilterOp = "lt"
	FilterLE FilterOp = "le"
	FilterGT FilterOp = "gt"
	FilterGE FilterOp = "ge"
)

// AggKind enumerates spec.md §4.9's supported aggregations.
type AggKind string

const (
	AggCount        AggKind = "count"
	AggSum          AggKind = "sum"
	AggMin          AggKind = "min"
	AggMax          AggKind = "max"
	AggMean         AggKind = "mean"
	AggMedian       AggKind = "median"
	AggMedianLow    AggKind = "median_low"
	AggMedianHigh   AggKind = "median_high"
	AggVariance     AggKind = "variance"
	AggPVariance    AggKind = "pvariance"
	AggStddev       AggKind = "stddev"
	AggFirst        AggKind = "first"
	AggLast         AggKind = "last"
	AggDifference   AggKind = "difference"
	AggDerivative   AggKind = "derivative"
	AggLimit        AggKind = "limit"
	AggFilter       AggKind = "filter"
)

// Aggregation is one clause in the query's aggregate list. Window groups
// points into fixed buckets before Kind is applied per-bucket (e.g.
// "mean(1h)"); a zero Window applies Kind over the whole series.
type Aggregation struct {
	Kind AggKind
	// Window buckets the point stream before aggregating (spec.md §8
	// scenario E: "mean(1h)").
	Window time.Duration
	// DerivativeTimespan is the `timespan` argument to derivative(timespan).
	DerivativeTimespan time.Duration
	// MedianPercentage selects linear-interpolation semantics for
	// median(percentage) on double series, per spec.md §4.9.
	MedianPercentage float64
	HasPercentage    bool
	// Limit is the argument to the `limit` aggregation.
	Limit int
	// FilterOp/FilterValue parameterize the `filter` aggregation.
	FilterOp    FilterOp
	FilterValue any
	FilterRegex *regexp.Regexp
}

// Query is the already-parsed request the executor runs: the output of
// the external grammar/parser's AST walked down to exactly what
// Executor.Run needs (spec.md §4.9, §9's design note on the AST boundary).
type Query struct {
	Series       SeriesExpr
	Range        TimeRange
	Aggregations []Aggregation
	Deadline     time.Time
}
