package engine

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/chunkwise/chunkwise/expr"
	chunkerr "github.com/chunkwise/chunkwise/internal/errors"
	"github.com/chunkwise/chunkwise/source"
)

// evaluator computes an expression tree over fully materialized values.
// Bindings map symbols (by identity) to the data they stand for: an
// arrow.Array, an arrow.Record, or an []any sequence. The caller owns every
// returned Arrow value.
type evaluator struct {
	mem memory.Allocator
}

func newEvaluator(mem memory.Allocator) *evaluator {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &evaluator{mem: mem}
}

func (ev *evaluator) eval(e expr.Expr, binds map[*expr.Symbol]any) (any, error) {
	switch n := e.(type) {
	case *expr.Symbol:
		v, ok := binds[n]
		if !ok {
			return nil, chunkerr.NewInvalidInput("Evaluate", fmt.Sprintf("unbound symbol %s", n))
		}
		retainValue(v)
		return v, nil

	case *expr.MapExpr:
		child, err := ev.eval(n.Children()[0], binds)
		if err != nil {
			return nil, err
		}
		defer releaseValue(child)
		return ev.evalMap(n, child)

	case *expr.FilterExpr:
		child, err := ev.eval(n.Children()[0], binds)
		if err != nil {
			return nil, err
		}
		defer releaseValue(child)
		return ev.evalFilter(n.Predicate(), child)

	case *expr.HeadExpr:
		child, err := ev.eval(n.Children()[0], binds)
		if err != nil {
			return nil, err
		}
		defer releaseValue(child)
		return ev.evalSlice(child, 0, n.N(), true)

	case *expr.SliceExpr:
		child, err := ev.eval(n.Children()[0], binds)
		if err != nil {
			return nil, err
		}
		defer releaseValue(child)
		return ev.evalSlice(child, n.Start(), n.Stop(), false)

	case *expr.DistinctExpr:
		child, err := ev.eval(n.Children()[0], binds)
		if err != nil {
			return nil, err
		}
		defer releaseValue(child)
		return ev.evalDistinct(child)

	case *expr.FieldExpr:
		child, err := ev.eval(n.Children()[0], binds)
		if err != nil {
			return nil, err
		}
		defer releaseValue(child)
		return ev.evalField(child, n.Name())

	case *expr.ProjectExpr:
		child, err := ev.eval(n.Children()[0], binds)
		if err != nil {
			return nil, err
		}
		defer releaseValue(child)
		return ev.evalProject(child, n.Names())

	case *expr.GroupByExpr:
		child, err := ev.eval(n.Children()[0], binds)
		if err != nil {
			return nil, err
		}
		defer releaseValue(child)
		return ev.evalGroupBy(n, child)

	case *expr.ReduceExpr:
		child, err := ev.eval(n.Children()[0], binds)
		if err != nil {
			return nil, err
		}
		defer releaseValue(child)
		return ev.evalReduce(n, child)

	default:
		return nil, chunkerr.NewUnsupported("Evaluate", fmt.Sprintf("no evaluation for %s node", e.Kind()))
	}
}

func (ev *evaluator) evalMap(n *expr.MapExpr, child any) (any, error) {
	switch data := child.(type) {
	case *array.Int64:
		if lit, ok := asInt64(n.Operand()); ok && !isFloatLiteral(n.Operand()) {
			b := array.NewInt64Builder(ev.mem)
			defer b.Release()
			for _, x := range data.Int64Values() {
				y, err := applyInt(x, n.Op(), lit)
				if err != nil {
					return nil, err
				}
				b.Append(y)
			}
			return b.NewArray(), nil
		}
		if lit, ok := asFloat64(n.Operand()); ok {
			b := array.NewFloat64Builder(ev.mem)
			defer b.Release()
			for _, x := range data.Int64Values() {
				b.Append(applyFloat(float64(x), n.Op(), lit))
			}
			return b.NewArray(), nil
		}
	case *array.Float64:
		if lit, ok := asFloat64(n.Operand()); ok {
			b := array.NewFloat64Builder(ev.mem)
			defer b.Release()
			for _, x := range data.Float64Values() {
				b.Append(applyFloat(x, n.Op(), lit))
			}
			return b.NewArray(), nil
		}
	case []any:
		out := make([]any, 0, len(data))
		for _, e := range data {
			y, err := applyDynamic(e, n.Op(), n.Operand())
			if err != nil {
				return nil, err
			}
			out = append(out, y)
		}
		return out, nil
	}
	return nil, chunkerr.NewUnsupported("Map",
		fmt.Sprintf("cannot apply %s %v to %T", n.Op(), n.Operand(), child))
}

func isFloatLiteral(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	default:
		return false
	}
}

func applyInt(x int64, op expr.MapOp, lit int64) (int64, error) {
	switch op {
	case expr.OpAdd:
		return x + lit, nil
	case expr.OpSub:
		return x - lit, nil
	case expr.OpMul:
		return x * lit, nil
	case expr.OpDiv:
		if lit == 0 {
			return 0, chunkerr.NewNumericDomain("Map", "integer division by zero")
		}
		return x / lit, nil
	default:
		return 0, chunkerr.NewUnsupported("Map", fmt.Sprintf("unknown operation %v", op))
	}
}

func applyFloat(x float64, op expr.MapOp, lit float64) float64 {
	switch op {
	case expr.OpAdd:
		return x + lit
	case expr.OpSub:
		return x - lit
	case expr.OpMul:
		return x * lit
	default:
		return x / lit
	}
}

func applyDynamic(e any, op expr.MapOp, operand any) (any, error) {
	if x, ok := e.(int64); ok {
		if lit, isInt := asInt64(operand); isInt && !isFloatLiteral(operand) {
			return applyInt(x, op, lit)
		}
	}
	x, okX := asFloat64(e)
	lit, okL := asFloat64(operand)
	if !okX || !okL {
		return nil, chunkerr.NewUnsupported("Map",
			fmt.Sprintf("cannot apply %v %v to element %T", op, operand, e))
	}
	return applyFloat(x, op, lit), nil
}

// evalFilter applies the vectorized mask fast path when the predicate
// compiles, and silently falls back to element-by-element evaluation when it
// does not.
func (ev *evaluator) evalFilter(pred *expr.Predicate, child any) (any, error) {
	switch data := child.(type) {
	case arrow.Array:
		if kernel, err := compileMask(pred, data.DataType()); err == nil {
			mask := make([]bool, data.Len())
			if err := kernel(data, mask); err != nil {
				return nil, err
			}
			return ev.filterArray(data, mask)
		}
		mask := make([]bool, data.Len())
		for i := range mask {
			v, err := elementAt(data, i)
			if err != nil {
				return nil, err
			}
			keep, err := evalPred(pred, v)
			if err != nil {
				return nil, err
			}
			mask[i] = keep
		}
		return ev.filterArray(data, mask)

	case arrow.Record:
		mask := make([]bool, int(data.NumRows()))
		if kernel, err := compileRecordMask(pred, data.Schema()); err == nil {
			if err := kernel(data, mask); err != nil {
				return nil, err
			}
		} else {
			for i := range mask {
				row, err := recordRow(data, i)
				if err != nil {
					return nil, err
				}
				keep, err := evalPred(pred, row)
				if err != nil {
					return nil, err
				}
				mask[i] = keep
			}
		}
		return ev.filterRecord(data, mask)

	case []any:
		out := make([]any, 0, len(data))
		for _, e := range data {
			keep, err := evalPred(pred, e)
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, e)
			}
		}
		return out, nil

	default:
		return nil, chunkerr.NewUnsupported("Filter", fmt.Sprintf("cannot filter %T", child))
	}
}

func (ev *evaluator) filterArray(arr arrow.Array, mask []bool) (arrow.Array, error) {
	b := array.NewBuilder(ev.mem, arr.DataType())
	defer b.Release()
	for i, keep := range mask {
		if !keep {
			continue
		}
		v, err := elementAt(arr, i)
		if err != nil {
			return nil, err
		}
		if err := appendElement(b, v); err != nil {
			return nil, err
		}
	}
	return b.NewArray(), nil
}

func (ev *evaluator) filterRecord(rec arrow.Record, mask []bool) (arrow.Record, error) {
	schema := rec.Schema()
	cols := make([]arrow.Array, rec.NumCols())
	var rows int64
	for _, keep := range mask {
		if keep {
			rows++
		}
	}
	for c := range cols {
		col, err := ev.filterArray(rec.Column(c), mask)
		if err != nil {
			for _, done := range cols[:c] {
				done.Release()
			}
			return nil, err
		}
		cols[c] = col
	}
	out := array.NewRecord(schema, cols, rows)
	for _, col := range cols {
		col.Release()
	}
	return out, nil
}

func (ev *evaluator) evalSlice(child any, start, stop int, clampOnly bool) (any, error) {
	switch data := child.(type) {
	case arrow.Array:
		lo, hi, err := clampRange(start, stop, data.Len(), clampOnly)
		if err != nil {
			return nil, err
		}
		return array.NewSlice(data, int64(lo), int64(hi)), nil
	case arrow.Record:
		lo, hi, err := clampRange(start, stop, int(data.NumRows()), clampOnly)
		if err != nil {
			return nil, err
		}
		return data.NewSlice(int64(lo), int64(hi)), nil
	case []any:
		lo, hi, err := clampRange(start, stop, len(data), clampOnly)
		if err != nil {
			return nil, err
		}
		out := make([]any, hi-lo)
		copy(out, data[lo:hi])
		return out, nil
	default:
		return nil, chunkerr.NewUnsupported("Slice", fmt.Sprintf("cannot slice %T", child))
	}
}

// clampRange bounds [start, stop) to a value of n elements. Head clamps
// freely; an explicit slice out of range is an input error.
func clampRange(start, stop, n int, clampOnly bool) (int, int, error) {
	if clampOnly {
		if stop < 0 {
			stop = 0
		}
		if stop > n {
			stop = n
		}
		return 0, stop, nil
	}
	if start < 0 || stop < start || stop > n {
		return 0, 0, chunkerr.NewInvalidInput("Slice",
			fmt.Sprintf("range [%d:%d) out of bounds for %d elements", start, stop, n))
	}
	return start, stop, nil
}

func (ev *evaluator) evalDistinct(child any) (any, error) {
	set := newDistinctSet()
	switch data := child.(type) {
	case arrow.Array:
		b := array.NewBuilder(ev.mem, data.DataType())
		defer b.Release()
		for i := 0; i < data.Len(); i++ {
			v, err := elementAt(data, i)
			if err != nil {
				return nil, err
			}
			fresh, err := set.add(v)
			if err != nil {
				return nil, err
			}
			if fresh {
				if err := appendElement(b, v); err != nil {
					return nil, err
				}
			}
		}
		return b.NewArray(), nil
	case []any:
		out := make([]any, 0, len(data))
		for _, e := range data {
			fresh, err := set.add(e)
			if err != nil {
				return nil, err
			}
			if fresh {
				out = append(out, e)
			}
		}
		return out, nil
	default:
		return nil, chunkerr.NewUnsupported("Distinct", fmt.Sprintf("cannot take distinct of %T", child))
	}
}

func (ev *evaluator) evalField(child any, name string) (any, error) {
	switch data := child.(type) {
	case arrow.Record:
		indices := data.Schema().FieldIndices(name)
		if len(indices) == 0 {
			return nil, chunkerr.NewInvalidInput("Field", fmt.Sprintf("unknown field %q", name))
		}
		col := data.Column(indices[0])
		col.Retain()
		return col, nil
	case []any:
		out := make([]any, 0, len(data))
		for _, e := range data {
			row, ok := e.(source.Row)
			if !ok {
				return nil, chunkerr.NewUnsupported("Field", fmt.Sprintf("element %T is not a row", e))
			}
			v, present := row[name]
			if !present {
				return nil, chunkerr.NewInvalidInput("Field", fmt.Sprintf("unknown field %q", name))
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, chunkerr.NewUnsupported("Field", fmt.Sprintf("cannot access field of %T", child))
	}
}

func (ev *evaluator) evalProject(child any, names []string) (any, error) {
	switch data := child.(type) {
	case arrow.Record:
		fields := make([]arrow.Field, 0, len(names))
		cols := make([]arrow.Array, 0, len(names))
		for _, name := range names {
			indices := data.Schema().FieldIndices(name)
			if len(indices) == 0 {
				return nil, chunkerr.NewInvalidInput("Project", fmt.Sprintf("unknown field %q", name))
			}
			fields = append(fields, data.Schema().Field(indices[0]))
			cols = append(cols, data.Column(indices[0]))
		}
		return array.NewRecord(arrow.NewSchema(fields, nil), cols, data.NumRows()), nil
	case []any:
		out := make([]any, 0, len(data))
		for _, e := range data {
			row, ok := e.(source.Row)
			if !ok {
				return nil, chunkerr.NewUnsupported("Project", fmt.Sprintf("element %T is not a row", e))
			}
			sub := make(source.Row, len(names))
			for _, name := range names {
				v, present := row[name]
				if !present {
					return nil, chunkerr.NewInvalidInput("Project", fmt.Sprintf("unknown field %q", name))
				}
				sub[name] = v
			}
			out = append(out, sub)
		}
		return out, nil
	default:
		return nil, chunkerr.NewUnsupported("Project", fmt.Sprintf("cannot project %T", child))
	}
}

func (ev *evaluator) evalReduce(n *expr.ReduceExpr, child any) (any, error) {
	var result any
	var err error
	switch n.Op() {
	case expr.ReduceCount:
		result, err = reduceCount(child)
	case expr.ReduceSum:
		result, err = reduceSum(child)
	case expr.ReduceMean:
		result, err = reduceMean(child)
	case expr.ReduceVar:
		result, err = reduceVariance(child, n.Unbiased())
	case expr.ReduceStd:
		result, err = reduceStd(child, n.Unbiased())
	case expr.ReduceNunique:
		result, err = reduceNunique(child)
	default:
		err = chunkerr.NewUnsupported("Reduce", fmt.Sprintf("unknown reduction %v", n.Op()))
	}
	if err != nil {
		return nil, err
	}
	if n.Dims() {
		return ev.wrapScalar(result)
	}
	return result, nil
}

// wrapScalar embeds a reduction result in a single-element array, the
// dimension-preserving presentation of a scalar.
func (ev *evaluator) wrapScalar(v any) (arrow.Array, error) {
	switch x := v.(type) {
	case int64:
		b := array.NewInt64Builder(ev.mem)
		defer b.Release()
		b.Append(x)
		return b.NewArray(), nil
	case float64:
		b := array.NewFloat64Builder(ev.mem)
		defer b.Release()
		b.Append(x)
		return b.NewArray(), nil
	default:
		return nil, chunkerr.NewUnsupported("Reduce", fmt.Sprintf("cannot wrap scalar %T", v))
	}
}

func appendElement(b array.Builder, v any) error {
	switch builder := b.(type) {
	case *array.Int64Builder:
		x, ok := v.(int64)
		if !ok {
			return chunkerr.NewInvalidInput("Append", fmt.Sprintf("expected int64, got %T", v))
		}
		builder.Append(x)
	case *array.Float64Builder:
		x, ok := v.(float64)
		if !ok {
			return chunkerr.NewInvalidInput("Append", fmt.Sprintf("expected float64, got %T", v))
		}
		builder.Append(x)
	case *array.StringBuilder:
		x, ok := v.(string)
		if !ok {
			return chunkerr.NewInvalidInput("Append", fmt.Sprintf("expected string, got %T", v))
		}
		builder.Append(x)
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return chunkerr.NewInvalidInput("Append", fmt.Sprintf("expected bool, got %T", v))
		}
		builder.Append(x)
	default:
		return chunkerr.NewUnsupported("Append", fmt.Sprintf("unsupported builder %T", b))
	}
	return nil
}

func recordRow(rec arrow.Record, i int) (source.Row, error) {
	row := make(source.Row, rec.NumCols())
	for c := 0; c < int(rec.NumCols()); c++ {
		v, err := elementAt(rec.Column(c), i)
		if err != nil {
			return nil, err
		}
		row[rec.Schema().Field(c).Name] = v
	}
	return row, nil
}

func retainValue(v any) {
	switch x := v.(type) {
	case arrow.Array:
		x.Retain()
	case arrow.Record:
		x.Retain()
	}
}

func releaseValue(v any) {
	switch x := v.(type) {
	case arrow.Array:
		x.Release()
	case arrow.Record:
		x.Release()
	}
}
