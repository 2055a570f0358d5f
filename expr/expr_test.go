package expr_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkwise/chunkwise/expr"
)

func intLeaf() *expr.Symbol {
	return expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))
}

func tableLeaf() *expr.Symbol {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "city", Type: arrow.BinaryTypes.String},
		{Name: "price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "qty", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	return expr.NewSymbol("t", expr.Table(schema))
}

func TestKinds(t *testing.T) {
	x := intLeaf()
	tests := []struct {
		name string
		e    expr.Expr
		kind expr.Kind
	}{
		{"symbol", x, expr.KindSymbol},
		{"map", expr.Map(x, expr.OpAdd, int64(1)), expr.KindMap},
		{"filter", expr.Filter(x, expr.Cmp(expr.CmpGt, int64(0))), expr.KindFilter},
		{"head", expr.Head(x, 5), expr.KindHead},
		{"slice", expr.Slice(x, 2, 7), expr.KindSlice},
		{"distinct", expr.Distinct(x), expr.KindDistinct},
		{"field", expr.Field(tableLeaf(), "price"), expr.KindField},
		{"project", expr.Project(tableLeaf(), "city", "qty"), expr.KindProject},
		{"groupby", expr.GroupBy(tableLeaf(), "city", "price", expr.ReduceSum), expr.KindGroupBy},
		{"reduce", expr.Sum(x), expr.KindReduce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.e.Kind())
		})
	}
}

func TestShapePropagation(t *testing.T) {
	x := intLeaf()

	t.Run("map keeps integer type for integer operand", func(t *testing.T) {
		s := expr.Map(x, expr.OpMul, int64(2)).Shape()
		assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int64, s.Elem))
	})

	t.Run("map promotes to float for float operand", func(t *testing.T) {
		s := expr.Map(x, expr.OpMul, 2.5).Shape()
		assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, s.Elem))
	})

	t.Run("field projects element type from schema", func(t *testing.T) {
		s := expr.Field(tableLeaf(), "price").Shape()
		assert.False(t, s.IsTable())
		assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, s.Elem))
	})

	t.Run("project keeps table shape", func(t *testing.T) {
		s := expr.Project(tableLeaf(), "city", "qty").Shape()
		require.True(t, s.IsTable())
		assert.Equal(t, 2, s.Schema.NumFields())
	})

	t.Run("count is an integer scalar", func(t *testing.T) {
		s := expr.Count(x).Shape()
		assert.True(t, s.IsScalar())
		assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int64, s.Elem))
	})

	t.Run("mean is a float scalar", func(t *testing.T) {
		s := expr.Mean(x).Shape()
		assert.True(t, s.IsScalar())
		assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, s.Elem))
	})

	t.Run("keepdims is a one-element array", func(t *testing.T) {
		s := expr.Sum(x).KeepDims().Shape()
		assert.False(t, s.IsScalar())
		assert.Equal(t, 1, s.Length)
	})
}

func TestKeepDimsReturnsCopy(t *testing.T) {
	r := expr.Var(intLeaf(), true)
	kd := r.KeepDims()

	assert.False(t, r.Dims())
	assert.True(t, kd.Dims())
	assert.Equal(t, r.Op(), kd.Op())
	assert.Equal(t, r.Unbiased(), kd.Unbiased())
	assert.Same(t, r.Children()[0], kd.Children()[0])
}

func TestLeaves(t *testing.T) {
	x := intLeaf()

	t.Run("single leaf reported once", func(t *testing.T) {
		e := expr.Sum(expr.Filter(expr.Map(x, expr.OpAdd, int64(1)), expr.Cmp(expr.CmpGt, int64(3))))
		leaves := expr.Leaves(e)
		require.Len(t, leaves, 1)
		assert.Same(t, x, leaves[0])
	})

	t.Run("distinct symbols with equal names stay distinct", func(t *testing.T) {
		a := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))
		b := expr.NewSymbol("x", expr.Array(arrow.PrimitiveTypes.Int64))
		assert.Len(t, expr.Leaves(a), 1)
		assert.NotSame(t, a, b)
	})
}

func TestPath(t *testing.T) {
	x := intLeaf()
	e := expr.Count(expr.Distinct(expr.Head(x, 10)))

	path := expr.Path(e, x)
	require.Len(t, path, 4)
	assert.Equal(t, expr.KindReduce, path[0].Kind())
	assert.Equal(t, expr.KindDistinct, path[1].Kind())
	assert.Equal(t, expr.KindHead, path[2].Kind())
	assert.Same(t, x, path[3])

	other := intLeaf()
	assert.Nil(t, expr.Path(e, other))
}

func TestRebase(t *testing.T) {
	x := intLeaf()
	y := expr.NewSymbol("y", expr.Array(arrow.PrimitiveTypes.Int64))
	e := expr.Sum(expr.Filter(expr.Map(x, expr.OpMul, int64(3)), expr.Cmp(expr.CmpLt, int64(100))))

	rebased := expr.Rebase(e, x, y)

	leaves := expr.Leaves(rebased)
	require.Len(t, leaves, 1)
	assert.Same(t, y, leaves[0])

	// The original tree is untouched.
	orig := expr.Leaves(e)
	require.Len(t, orig, 1)
	assert.Same(t, x, orig[0])

	// Structure survives the rewrite.
	assert.Equal(t, expr.KindReduce, rebased.Kind())
	assert.Equal(t, expr.KindFilter, rebased.Children()[0].Kind())
}

func TestPredicateChaining(t *testing.T) {
	base := expr.Cmp(expr.CmpGt, int64(0))

	withAnd := base.And(expr.Cmp(expr.CmpLt, int64(10)))
	require.NotNil(t, withAnd.Conj())
	assert.Nil(t, base.Conj(), "And must not mutate the receiver")

	withOr := base.Or(expr.Cmp(expr.CmpEq, int64(-1)))
	require.NotNil(t, withOr.Disj())
	assert.Nil(t, base.Disj(), "Or must not mutate the receiver")
}

func TestPredicateAccessors(t *testing.T) {
	p := expr.CmpField("price", expr.CmpGe, 9.5)
	assert.Equal(t, expr.CmpGe, p.Op())
	assert.Equal(t, "price", p.FieldName())
	assert.Equal(t, 9.5, p.Literal())
	assert.Nil(t, p.Fn())

	fn := expr.Func(func(v any) bool { return v == nil })
	assert.NotNil(t, fn.Fn())
}

func TestStringRendering(t *testing.T) {
	x := intLeaf()
	e := expr.Mean(expr.Filter(x, expr.Cmp(expr.CmpGt, int64(5))))
	s := e.String()
	assert.Contains(t, s, "x")
	assert.Contains(t, s, "mean")
}
