package query

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/wire"
)

// valueOf extracts the numeric value of a ResultPoint regardless of
// whether it was written as an int or a float series (spec.md §4.9:
// "for integer series, the mean is computed in double").
func valueOf(p wire.ResultPoint) float64 {
	if point.Type(p.Type) == point.TypeFloat {
		return p.FVal
	}
	return float64(p.IVal)
}

// bucket groups a time-ordered point stream into fixed-width windows,
// matching spec.md §8 scenario E's "mean(1h)" grouping.
func bucket(pts []wire.ResultPoint, window int64) [][]wire.ResultPoint {
	if window <= 0 {
		return [][]wire.ResultPoint{pts}
	}
	var out [][]wire.ResultPoint
	var cur []wire.ResultPoint
	var curStart int64
	for _, p := range pts {
		start := (p.TS / window) * window
		if len(cur) == 0 {
			curStart = start
		}
		if start != curStart {
			out = append(out, cur)
			cur = nil
			curStart = start
		}
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// Apply runs agg over pts (already sorted ascending by TS, invariant 2),
// returning the resulting point stream: one point per bucket for the
// scalar aggregations, or a transformed stream for first/last/limit/
// filter/difference/derivative, per spec.md §4.9's aggregation list.
func Apply(agg Aggregation, pts []wire.ResultPoint) ([]wire.ResultPoint, error) {
	switch agg.Kind {
	case AggFirst:
		if len(pts) == 0 {
			return nil, nil
		}
		return pts[:1], nil
	case AggLast:
		if len(pts) == 0 {
			return nil, nil
		}
		return pts[len(pts)-1:], nil
	case AggLimit:
		n := agg.Limit
		if n > len(pts) {
			n = len(pts)
		}
		if n < 0 {
			n = 0
		}
		return pts[:n], nil
	case AggFilter:
		return applyFilter(agg, pts)
	case AggDifference:
		return applyDifference(pts), nil
	case AggDerivative:
		return applyDerivative(agg, pts), nil
	default:
		return applyScalar(agg, pts)
	}
}

func applyFilter(agg Aggregation, pts []wire.ResultPoint) ([]wire.ResultPoint, error) {
	var out []wire.ResultPoint
	for _, p := range pts {
		if agg.FilterRegex != nil {
			if agg.FilterRegex.MatchString(p.SVal) {
				out = append(out, p)
			}
			continue
		}
		want, ok := agg.FilterValue.(float64)
		if !ok {
			return nil, fmt.Errorf("query: filter requires a numeric value for a non-string series")
		}
		v := valueOf(p)
		match := false
		switch agg.FilterOp {
		case FilterEQ:
			match = v == want
		case FilterNE:
			match = v != want
		case FilterLT:
			match = v < want
		case FilterLE:
			match = v <= want
		case FilterGT:
			match = v > want
		case FilterGE:
			match = v >= want
		default:
			return nil, fmt.Errorf("query: unknown filter op %q", agg.FilterOp)
		}
		if match {
			out = append(out, p)
		}
	}
	return out, nil
}

func applyDifference(pts []wire.ResultPoint) []wire.ResultPoint {
	if len(pts) < 2 {
		return nil
	}
	out := make([]wire.ResultPoint, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		out = append(out, wire.ResultPoint{
			TS:   pts[i].TS,
			FVal: valueOf(pts[i]) - valueOf(pts[i-1]),
			Type: uint8(point.TypeFloat),
		})
	}
	return out
}

// applyDerivative divides successive deltas by Δt/timespan, per spec.md
// §4.9's "derivative(timespan): derivative divides successive Δvalue by
// Δt/timespan".
func applyDerivative(agg Aggregation, pts []wire.ResultPoint) []wire.ResultPoint {
	if len(pts) < 2 {
		return nil
	}
	timespan := agg.DerivativeTimespan.Seconds()
	if timespan <= 0 {
		timespan = 1
	}
	out := make([]wire.ResultPoint, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		dv := valueOf(pts[i]) - valueOf(pts[i-1])
		dt := float64(pts[i].TS - pts[i-1].TS)
		if dt == 0 {
			continue
		}
		out = append(out, wire.ResultPoint{
			TS:   pts[i].TS,
			FVal: dv / (dt / timespan),
			Type: uint8(point.TypeFloat),
		})
	}
	return out
}

func applyScalar(agg Aggregation, pts []wire.ResultPoint) ([]wire.ResultPoint, error) {
	buckets := bucket(pts, int64(agg.Window.Seconds()))
	out := make([]wire.ResultPoint, 0, len(buckets))
	for _, b := range buckets {
		if len(b) == 0 {
			continue
		}
		v, err := scalarValue(agg, b)
		if err != nil {
			return nil, err
		}
		out = append(out, wire.ResultPoint{TS: b[0].TS, FVal: v, Type: uint8(point.TypeFloat)})
	}
	return out, nil
}

// scalarValue computes agg.Kind over one bucket's worth of points.
// count/sum/min/max/mean/median*/variance/pvariance/stddev are standard
// per spec.md §4.9; variance/pvariance both compute the population
// variance (SPEC_FULL.md §3, grounded in the original's variance.c, which
// divides by n rather than n-1 even for an integer series' double-
// precision mean) since gonum's own Variance/StdDev helpers are the
// (n-1) sample estimators and don't fit that contract.
func scalarValue(agg Aggregation, pts []wire.ResultPoint) (float64, error) {
	vals := make([]float64, len(pts))
	for i, p := range pts {
		vals[i] = valueOf(p)
	}

	switch agg.Kind {
	case AggCount:
		return float64(len(vals)), nil
	case AggSum:
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum, nil
	case AggMin:
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case AggMax:
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	case AggMean:
		return stat.Mean(vals, nil), nil
	case AggMedian:
		return median(agg, vals), nil
	case AggMedianLow:
		return medianSide(vals, false), nil
	case AggMedianHigh:
		return medianSide(vals, true), nil
	case AggVariance, AggPVariance:
		return popVariance(vals), nil
	case AggStddev:
		return math.Sqrt(popVariance(vals)), nil
	default:
		return 0, fmt.Errorf("query: unknown aggregation %q", agg.Kind)
	}
}

func popVariance(vals []float64) float64 {
	mean := stat.Mean(vals, nil)
	var sumSq float64
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(vals))
}

// median applies gonum's linear-interpolation quantile when a percentage
// argument was given (spec.md §4.9: "median over a double series uses
// linear interpolation iff median(percentage) is used"); otherwise it
// falls back to the conventional average-of-two-middles median.
func median(agg Aggregation, vals []float64) float64 {
	if agg.HasPercentage {
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		return stat.Quantile(agg.MedianPercentage, stat.LinInterp, sorted, nil)
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// medianSide picks the lower (high=false) or higher (high=true) of the two
// middle values for an even count, per spec.md §4.9; for an odd count both
// sides are the single middle value.
func medianSide(vals []float64, high bool) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	if high {
		return sorted[n/2]
	}
	return sorted[n/2-1]
}
