package engine

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"golang.org/x/exp/constraints"

	chunkerr "github.com/chunkwise/chunkwise/internal/errors"
)

// Reduction kernels. Each reduction runs either directly on fully
// materialized data or through the chunk/merge/aggregate path; both produce
// the same value up to floating-point rounding.
//
// Variance uses the single-pass formula (Σx² − (Σx)²/n) / (n − unbiased).
// The sum-of-squares form is vulnerable to catastrophic cancellation for
// large-magnitude low-variance data, but it is the one formula that chunks
// over out-of-core data in a single pass; callers needing higher stability
// must pre-center externally. A slightly negative variance produced by
// rounding clamps to zero.

func sumSlice[T constraints.Integer | constraints.Float](xs []T) T {
	var total T
	for _, x := range xs {
		total += x
	}
	return total
}

// reduceCount returns the number of elements of a materialized value.
func reduceCount(v any) (int64, error) {
	switch data := v.(type) {
	case arrow.Array:
		return int64(data.Len()), nil
	case arrow.Record:
		return data.NumRows(), nil
	case []any:
		return int64(len(data)), nil
	default:
		return 0, chunkerr.NewUnsupported("Count", fmt.Sprintf("cannot count %T", v))
	}
}

// reduceSum returns the sum of a materialized numeric value: int64 for
// integer elements, float64 otherwise. An empty input sums to zero.
func reduceSum(v any) (any, error) {
	switch data := v.(type) {
	case *array.Int64:
		return sumSlice(data.Int64Values()), nil
	case *array.Float64:
		return sumSlice(data.Float64Values()), nil
	case []any:
		return sumSeq(data)
	default:
		return nil, chunkerr.NewUnsupported("Sum", fmt.Sprintf("cannot sum %T", v))
	}
}

func sumSeq(data []any) (any, error) {
	var ints int64
	var floats float64
	sawFloat := false
	for _, e := range data {
		switch x := e.(type) {
		case int64:
			ints += x
		case float64:
			sawFloat = true
			floats += x
		default:
			return nil, chunkerr.NewUnsupported("Sum", fmt.Sprintf("cannot sum element %T", e))
		}
	}
	if sawFloat {
		return floats + float64(ints), nil
	}
	return ints, nil
}

// reduceMean returns sum/count. An empty input is a numeric-domain error,
// never NaN.
func reduceMean(v any) (float64, error) {
	m, err := observeAll(v)
	if err != nil {
		return 0, err
	}
	return m.mean()
}

// reduceVariance returns the single-pass variance; the unbiased flag selects
// the n-1 divisor.
func reduceVariance(v any, unbiased bool) (float64, error) {
	m, err := observeAll(v)
	if err != nil {
		return 0, err
	}
	return m.variance(unbiased)
}

// reduceStd returns the square root of the variance.
func reduceStd(v any, unbiased bool) (float64, error) {
	m, err := observeAll(v)
	if err != nil {
		return 0, err
	}
	return m.std(unbiased)
}

// reduceNunique returns the exact number of distinct elements. Exactness is
// guaranteed: this is a true distinct set, not a cardinality estimate.
func reduceNunique(v any) (int64, error) {
	set := newDistinctSet()
	switch data := v.(type) {
	case arrow.Array:
		for i := 0; i < data.Len(); i++ {
			v, err := elementAt(data, i)
			if err != nil {
				return 0, err
			}
			if _, err := set.add(v); err != nil {
				return 0, err
			}
		}
	case []any:
		for _, e := range data {
			if _, err := set.add(e); err != nil {
				return 0, err
			}
		}
	default:
		return 0, chunkerr.NewUnsupported("Nunique", fmt.Sprintf("cannot count distinct of %T", v))
	}
	return int64(set.size()), nil
}

// moments accumulates count, Σx and Σx² in one pass. Chunked reductions feed
// one partition at a time into the same accumulator the direct path uses.
type moments struct {
	n     int64
	sum   float64
	sumsq float64
}

func (m *moments) observeArray(arr arrow.Array) error {
	switch a := arr.(type) {
	case *array.Int64:
		for _, x := range a.Int64Values() {
			f := float64(x)
			m.sum += f
			m.sumsq += f * f
		}
	case *array.Float64:
		for _, x := range a.Float64Values() {
			m.sum += x
			m.sumsq += x * x
		}
	default:
		return chunkerr.NewUnsupported("Moments", fmt.Sprintf("non-numeric array %T", arr))
	}
	m.n += int64(arr.Len())
	return nil
}

func (m *moments) observe(e any) error {
	var f float64
	switch x := e.(type) {
	case int64:
		f = float64(x)
	case float64:
		f = x
	default:
		return chunkerr.NewUnsupported("Moments", fmt.Sprintf("non-numeric element %T", e))
	}
	m.n++
	m.sum += f
	m.sumsq += f * f
	return nil
}

func (m moments) mean() (float64, error) {
	if m.n == 0 {
		return 0, chunkerr.NewNumericDomain("Mean", "mean of empty data")
	}
	return m.sum / float64(m.n), nil
}

func (m moments) variance(unbiased bool) (float64, error) {
	div := m.n
	if unbiased {
		div--
	}
	if div <= 0 {
		return 0, chunkerr.NewNumericDomain("Var", fmt.Sprintf("variance of %d element(s)", m.n))
	}
	v := (m.sumsq - m.sum*m.sum/float64(m.n)) / float64(div)
	if v < 0 {
		// Rounding in the sum-of-squares formula can push a near-zero
		// variance slightly negative.
		v = 0
	}
	return v, nil
}

func (m moments) std(unbiased bool) (float64, error) {
	v, err := m.variance(unbiased)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// observeAll feeds an entire materialized value through a moments
// accumulator.
func observeAll(v any) (moments, error) {
	var m moments
	switch data := v.(type) {
	case arrow.Array:
		if err := m.observeArray(data); err != nil {
			return m, err
		}
	case []any:
		for _, e := range data {
			if err := m.observe(e); err != nil {
				return m, err
			}
		}
	default:
		return m, chunkerr.NewUnsupported("Moments", fmt.Sprintf("cannot reduce %T", v))
	}
	return m, nil
}
