package expr_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkwise/chunkwise/expr"
)

func chunkLeaf() *expr.Symbol {
	return expr.NewSymbol("chunk", expr.ArrayN(arrow.PrimitiveTypes.Int64, 1024))
}

// kinds flattens the single-child spine of an expression, root first.
func kinds(e expr.Expr) []expr.Kind {
	var out []expr.Kind
	for {
		out = append(out, e.Kind())
		children := e.Children()
		if len(children) == 0 {
			return out
		}
		e = children[0]
	}
}

func TestSplitSum(t *testing.T) {
	x := intLeaf()
	chunk := chunkLeaf()

	ce, agg, ae, err := expr.Split(x, expr.Sum(x), chunk)
	require.NoError(t, err)

	// Chunk side: per-chunk sum, dimension-preserving so partials
	// concatenate into an array.
	require.Equal(t, []expr.Kind{expr.KindReduce, expr.KindSymbol}, kinds(ce))
	cr := ce.(*expr.ReduceExpr)
	assert.Equal(t, expr.ReduceSum, cr.Op())
	assert.True(t, cr.Dims())

	// Aggregate side: sum of partial sums, collapsing back to a scalar.
	require.Equal(t, []expr.Kind{expr.KindReduce, expr.KindSymbol}, kinds(ae))
	ar := ae.(*expr.ReduceExpr)
	assert.Equal(t, expr.ReduceSum, ar.Op())
	assert.False(t, ar.Dims())
	assert.Same(t, agg, ae.Children()[0])
}

func TestSplitCount(t *testing.T) {
	x := intLeaf()

	ce, _, ae, err := expr.Split(x, expr.Count(x), chunkLeaf())
	require.NoError(t, err)

	assert.Equal(t, expr.ReduceCount, ce.(*expr.ReduceExpr).Op())
	assert.True(t, ce.(*expr.ReduceExpr).Dims())
	assert.Equal(t, expr.ReduceSum, ae.(*expr.ReduceExpr).Op())
}

func TestSplitNunique(t *testing.T) {
	x := intLeaf()

	ce, _, ae, err := expr.Split(x, expr.Nunique(x), chunkLeaf())
	require.NoError(t, err)

	// Distinct per chunk shrinks the intermediate; the union is re-counted
	// exactly on the aggregate side.
	assert.Equal(t, []expr.Kind{expr.KindDistinct, expr.KindSymbol}, kinds(ce))
	assert.Equal(t, expr.ReduceNunique, ae.(*expr.ReduceExpr).Op())
}

func TestSplitPushesCheapWorkIntoChunks(t *testing.T) {
	x := intLeaf()
	full := expr.Sum(expr.Filter(expr.Map(x, expr.OpMul, int64(2)), expr.Cmp(expr.CmpGt, int64(10))))

	ce, _, ae, err := expr.Split(x, full, chunkLeaf())
	require.NoError(t, err)

	// Map and filter both run chunk-locally, under the per-chunk sum.
	assert.Equal(t, []expr.Kind{expr.KindReduce, expr.KindFilter, expr.KindMap, expr.KindSymbol}, kinds(ce))
	assert.Equal(t, []expr.Kind{expr.KindReduce, expr.KindSymbol}, kinds(ae))
}

func TestSplitDistinctRunsOnBothSides(t *testing.T) {
	x := intLeaf()

	ce, _, ae, err := expr.Split(x, expr.Distinct(x), chunkLeaf())
	require.NoError(t, err)

	assert.Equal(t, []expr.Kind{expr.KindDistinct, expr.KindSymbol}, kinds(ce))
	assert.Equal(t, []expr.Kind{expr.KindDistinct, expr.KindSymbol}, kinds(ae))
}

func TestSplitHeadRunsOnBothSides(t *testing.T) {
	x := intLeaf()

	ce, _, ae, err := expr.Split(x, expr.Head(x, 7), chunkLeaf())
	require.NoError(t, err)

	assert.Equal(t, []expr.Kind{expr.KindHead, expr.KindSymbol}, kinds(ce))
	require.Equal(t, []expr.Kind{expr.KindHead, expr.KindSymbol}, kinds(ae))
	assert.Equal(t, 7, ae.(*expr.HeadExpr).N())
}

func TestSplitWorkAboveReductionMovesToAggregate(t *testing.T) {
	x := intLeaf()
	// count(distinct(x)) + 1: the map applies to the combined count, so it
	// must run after the merge, not per chunk.
	full := expr.Map(expr.Count(expr.Distinct(x)), expr.OpAdd, int64(1))

	ce, _, ae, err := expr.Split(x, full, chunkLeaf())
	require.NoError(t, err)

	assert.Equal(t, []expr.Kind{expr.KindDistinct, expr.KindSymbol}, kinds(ce))
	// The merged distinct sets re-deduplicate, then count, then map.
	assert.Equal(t, []expr.Kind{expr.KindMap, expr.KindReduce, expr.KindDistinct, expr.KindSymbol}, kinds(ae))
}

func TestSplitMomentsAreUnsplittable(t *testing.T) {
	x := intLeaf()
	for _, full := range []expr.Expr{
		expr.Mean(x),
		expr.Var(x, true),
		expr.Std(x, false),
	} {
		_, _, _, err := expr.Split(x, full, chunkLeaf())
		assert.ErrorIs(t, err, expr.ErrUnsplittable, "%s", full)
	}
}

func TestSplitRejectsForeignLeaf(t *testing.T) {
	x := intLeaf()
	other := intLeaf()

	_, _, _, err := expr.Split(other, expr.Sum(x), chunkLeaf())
	assert.Error(t, err)
}

func TestSplitKeepDimsSurvivesOnAggregate(t *testing.T) {
	x := intLeaf()

	_, _, ae, err := expr.Split(x, expr.Sum(x).KeepDims(), chunkLeaf())
	require.NoError(t, err)
	assert.True(t, ae.(*expr.ReduceExpr).Dims())
}
