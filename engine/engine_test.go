package engine

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkwise/chunkwise/expr"
	chunkerr "github.com/chunkwise/chunkwise/internal/errors"
	"github.com/chunkwise/chunkwise/internal/parallel"
	"github.com/chunkwise/chunkwise/source"
)

// outOfCore forces the partitioned strategies regardless of actual data
// size; inCore forces direct evaluation.
func outOfCore(chunkSize int) []Option {
	return []Option{
		WithAvailableMemory(FixedAvailable(0)),
		WithChunkSize(chunkSize),
	}
}

func inCore() []Option {
	return []Option{WithAvailableMemory(FixedAvailable(1 << 40))}
}

func intColumn(values ...int64) *source.Column {
	return source.FromInt64(values, 4, memory.NewGoAllocator())
}

func cityTable(t *testing.T) *source.Table {
	t.Helper()
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "city", Type: arrow.BinaryTypes.String},
		{Name: "qty", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	sb := array.NewStringBuilder(mem)
	sb.AppendValues([]string{"nyc", "lon", "nyc", "lon", "tok", "nyc"}, nil)
	cities := sb.NewArray()
	sb.Release()
	ib := array.NewInt64Builder(mem)
	ib.AppendValues([]int64{1, 2, 3, 4, 5, 6}, nil)
	qty := ib.NewArray()
	ib.Release()
	rec := array.NewRecord(schema, []arrow.Array{cities, qty}, 6)
	cities.Release()
	qty.Release()
	return source.NewTable(rec, mem)
}

// The partitioned strategies must agree with direct in-memory evaluation for
// every chunk size, including chunk sizes that divide the data unevenly and
// a chunk size larger than the data.
func TestChunkedReductionsMatchDirect(t *testing.T) {
	values := []int64{9, 1, 4, 4, 7, 2, 9, 9, 3, 8, 5, 5, 5}
	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))

	queries := map[string]expr.Expr{
		"sum":          expr.Sum(x),
		"count":        expr.Count(x),
		"nunique":      expr.Nunique(x),
		"mean":         expr.Mean(x),
		"var unbiased": expr.Var(x, true),
		"var biased":   expr.Var(x, false),
		"std":          expr.Std(x, true),
		"sum of mapped": expr.Sum(
			expr.Map(x, expr.OpMul, int64(3))),
		"count filtered": expr.Count(
			expr.Filter(x, expr.Cmp(expr.CmpGt, int64(4)))),
		"mean filtered": expr.Mean(
			expr.Filter(x, expr.Cmp(expr.CmpGe, int64(5)))),
	}

	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			col := intColumn(values...)
			defer col.Release()

			direct, err := New(inCore()...).Execute(q, col)
			require.NoError(t, err)

			for _, chunkSize := range []int{1, 2, 3, 5, 13, 100} {
				chunked, err := New(outOfCore(chunkSize)...).Execute(q, col)
				require.NoError(t, err, "chunkSize=%d", chunkSize)

				switch want := direct.(type) {
				case float64:
					assert.InDelta(t, want, chunked, 1e-9, "chunkSize=%d", chunkSize)
				default:
					assert.Equal(t, want, chunked, "chunkSize=%d", chunkSize)
				}
			}
		})
	}
}

// Duplicates placed adversarially across chunk boundaries must still count
// exactly once: per-chunk distinct sets are unioned, never estimated.
func TestNuniqueAcrossChunkBoundaries(t *testing.T) {
	col := intColumn(1, 1, 2, 2, 3)
	defer col.Release()

	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))
	out, err := New(outOfCore(2)...).Execute(expr.Nunique(x), col)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

func TestChunkedKeepDims(t *testing.T) {
	col := intColumn(1, 2, 3, 4, 5)
	defer col.Release()
	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))

	out, err := New(outOfCore(2)...).Execute(expr.Sum(x).KeepDims(), col)
	require.NoError(t, err)
	arr, ok := out.(*array.Int64)
	require.Truef(t, ok, "expected one-element array, got %T", out)
	defer arr.Release()
	assert.Equal(t, []int64{15}, arr.Int64Values())

	out, err = New(outOfCore(2)...).Execute(expr.Mean(x).KeepDims(), col)
	require.NoError(t, err)
	farr, ok := out.(*array.Float64)
	require.Truef(t, ok, "expected one-element array, got %T", out)
	defer farr.Release()
	assert.Equal(t, []float64{3.0}, farr.Float64Values())
}

func TestCheapExpressionStreamsWhenTooLarge(t *testing.T) {
	col := intColumn(5, -1, 7, -2, 9, 11)
	defer col.Release()
	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))

	t.Run("filter", func(t *testing.T) {
		out, err := New(outOfCore(2)...).Execute(
			expr.Filter(x, expr.Cmp(expr.CmpGt, int64(0))), col)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(5), int64(7), int64(9), int64(11)}, out)
	})

	t.Run("head short-circuits", func(t *testing.T) {
		out, err := New(outOfCore(2)...).Execute(expr.Head(x, 3), col)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(5), int64(-1), int64(7)}, out)
	})

	t.Run("slice", func(t *testing.T) {
		out, err := New(outOfCore(2)...).Execute(expr.Slice(x, 2, 5), col)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(7), int64(-2), int64(9)}, out)
	})

	t.Run("distinct", func(t *testing.T) {
		dup := intColumn(4, 4, 2, 4, 2)
		defer dup.Release()
		out, err := New(outOfCore(2)...).Execute(expr.Distinct(x), dup)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(4), int64(2)}, out)
	})
}

// A column over an Arrow type outside the engine's scalar set must surface
// an unsupported-operation error from every path, never panic mid-query.
func TestUnsupportedElementTypeIsAnError(t *testing.T) {
	mem := memory.NewGoAllocator()
	b := array.NewInt32Builder(mem)
	b.AppendValues([]int32{1, 2, 3, 4}, nil)
	arr := b.NewArray()
	b.Release()
	col, err := source.NewColumn(mem, arr)
	require.NoError(t, err)
	defer col.Release()

	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int32))

	t.Run("filter falls back and errors", func(t *testing.T) {
		_, err := New(inCore()...).Execute(
			expr.Filter(x, expr.Cmp(expr.CmpGt, int64(0))), col)
		require.Error(t, err)
		assert.True(t, chunkerr.IsKind(err, chunkerr.KindUnsupported))
	})

	t.Run("distinct errors", func(t *testing.T) {
		_, err := New(inCore()...).Execute(expr.Distinct(x), col)
		require.Error(t, err)
		assert.True(t, chunkerr.IsKind(err, chunkerr.KindUnsupported))
	})

	t.Run("streamed cursor errors", func(t *testing.T) {
		_, err := New(outOfCore(2)...).Execute(expr.Distinct(x), col)
		require.Error(t, err)
		assert.True(t, chunkerr.IsKind(err, chunkerr.KindUnsupported))
	})
}

// A slice past the end of the data is an input error on the streamed path
// just as it is on the direct path.
func TestSliceOutOfBoundsMatchesAcrossPaths(t *testing.T) {
	col := intColumn(1, 2, 3, 4, 5)
	defer col.Release()
	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))
	q := expr.Slice(x, 2, 50)

	_, err := New(inCore()...).Execute(q, col)
	assert.True(t, chunkerr.IsKind(err, chunkerr.KindInvalidInput))

	_, err = New(outOfCore(2)...).Execute(q, col)
	assert.True(t, chunkerr.IsKind(err, chunkerr.KindInvalidInput))
}

// Distinct below a moments reduction cannot run per partition; the engine
// falls back to the streamed accumulator and stays exact.
func TestMomentsOverDistinctStreams(t *testing.T) {
	col := intColumn(1, 1, 2, 2, 3, 3)
	defer col.Release()
	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))

	out, err := New(outOfCore(2)...).Execute(expr.Mean(expr.Distinct(x)), col)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out, 1e-12)
}

func TestEmptySource(t *testing.T) {
	col := source.FromInt64(nil, 4, memory.NewGoAllocator())
	defer col.Release()
	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))

	t.Run("count is zero", func(t *testing.T) {
		out, err := New(outOfCore(2)...).Execute(expr.Count(x), col)
		require.NoError(t, err)
		assert.Equal(t, int64(0), out)
	})

	t.Run("sum is zero", func(t *testing.T) {
		out, err := New(outOfCore(2)...).Execute(expr.Sum(x), col)
		require.NoError(t, err)
		assert.Equal(t, int64(0), out)
	})

	t.Run("mean is a domain error", func(t *testing.T) {
		_, err := New(outOfCore(2)...).Execute(expr.Mean(x), col)
		assert.True(t, chunkerr.IsKind(err, chunkerr.KindNumericDomain))
	})
}

func TestGroupByStrategies(t *testing.T) {
	s := expr.NewSymbol("t", expr.Table(nil))
	q := expr.GroupBy(s, "city", "qty", expr.ReduceSum)

	check := func(t *testing.T, out any) {
		t.Helper()
		rec, ok := out.(arrow.Record)
		require.Truef(t, ok, "expected record, got %T", out)
		defer rec.Release()

		require.Equal(t, int64(3), rec.NumRows())
		keys := rec.Column(0).(*array.String)
		sums := rec.Column(1).(*array.Int64)
		assert.Equal(t, []string{"nyc", "lon", "tok"},
			[]string{keys.Value(0), keys.Value(1), keys.Value(2)})
		assert.Equal(t, []int64{10, 6, 5}, sums.Int64Values())
	}

	t.Run("direct", func(t *testing.T) {
		tab := cityTable(t)
		defer tab.Release()
		out, err := New(inCore()...).Execute(q, tab)
		require.NoError(t, err)
		check(t, out)
	})

	t.Run("streamed", func(t *testing.T) {
		tab := cityTable(t)
		defer tab.Release()
		out, err := New(outOfCore(2)...).Execute(q, tab)
		require.NoError(t, err)
		check(t, out)
	})
}

func TestTabularChunkedCount(t *testing.T) {
	tab := cityTable(t)
	defer tab.Release()

	s := expr.NewSymbol("t", expr.Table(tab.Schema()))
	out, err := New(outOfCore(2)...).Execute(expr.Count(s), tab)
	require.NoError(t, err)
	assert.Equal(t, int64(6), out)

	out, err = New(outOfCore(4)...).Execute(expr.Sum(expr.Field(s, "qty")), tab)
	require.NoError(t, err)
	assert.Equal(t, int64(21), out)
}

func TestParallelMatchesSequential(t *testing.T) {
	values := make([]int64, 1000)
	for i := range values {
		values[i] = int64(i % 17)
	}
	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))

	for name, q := range map[string]expr.Expr{
		"sum":     expr.Sum(x),
		"nunique": expr.Nunique(x),
		"var":     expr.Var(x, true),
	} {
		t.Run(name, func(t *testing.T) {
			col := intColumn(values...)
			defer col.Release()

			seq, err := New(append(outOfCore(64), WithMapper(parallel.Sequential))...).Execute(q, col)
			require.NoError(t, err)

			par, err := New(append(outOfCore(64), WithParallelism(8))...).Execute(q, col)
			require.NoError(t, err)

			switch want := seq.(type) {
			case float64:
				assert.InDelta(t, want, par, 1e-9)
			default:
				assert.Equal(t, want, par)
			}
		})
	}
}

// failingSource delegates to a real column but refuses to materialize any
// partition at or past failAt.
type failingSource struct {
	inner  source.Source
	failAt int
}

func (f *failingSource) Len() int        { return f.inner.Len() }
func (f *failingSource) NumBytes() int64 { return f.inner.NumBytes() }

func (f *failingSource) Slice(start, stop int) (any, error) {
	if start >= f.failAt {
		return nil, errors.New("backing store unavailable")
	}
	return f.inner.Slice(start, stop)
}

func (f *failingSource) Elements() source.Cursor { return f.inner.Elements() }

func TestChunkFailurePropagates(t *testing.T) {
	col := intColumn(1, 2, 3, 4, 5, 6)
	defer col.Release()
	src := &failingSource{inner: col, failAt: 2}

	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))
	_, err := New(outOfCore(2)...).Execute(expr.Sum(x), src)

	require.Error(t, err)
	assert.True(t, chunkerr.IsKind(err, chunkerr.KindChunkFailed))
	assert.ErrorContains(t, err, "backing store unavailable")

	_, err = New(outOfCore(2)...).Execute(expr.Var(x, true), src)
	assert.True(t, chunkerr.IsKind(err, chunkerr.KindChunkFailed))
}

func TestUnsplittableStructureIsUnsupported(t *testing.T) {
	col := intColumn(1, 2, 3)
	defer col.Release()
	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))

	// Arithmetic on top of a mean cannot be decomposed into chunk and
	// aggregate parts, and the mean is not the root, so the moments
	// strategies do not apply either.
	q := expr.Map(expr.Mean(x), expr.OpAdd, int64(1))
	_, err := New(outOfCore(2)...).Execute(q, col)
	assert.True(t, chunkerr.IsKind(err, chunkerr.KindUnsupported))
}

func TestDirectPathForSmallData(t *testing.T) {
	col := intColumn(1, 2, 3, 4)
	defer col.Release()
	x := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))

	out, err := New(inCore()...).Execute(expr.Map(x, expr.OpAdd, int64(10)), col)
	require.NoError(t, err)
	arr, ok := out.(*array.Int64)
	require.True(t, ok)
	defer arr.Release()
	assert.Equal(t, []int64{11, 12, 13, 14}, arr.Int64Values())
}
