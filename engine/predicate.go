package engine

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"golang.org/x/exp/constraints"

	"github.com/chunkwise/chunkwise/expr"
	"github.com/chunkwise/chunkwise/source"
)

// Predicate evaluation has two paths. compileMask / compileRecordMask
// produce a vectorized boolean-mask kernel for predicates the engine can
// compile: plain comparisons over supported element types, combined with
// and/or. Compilation failure is never surfaced — the caller downgrades to
// evalPred, the element-by-element fallback, which additionally handles
// opaque Func predicates. The two paths are functionally equivalent; the
// fallback is only slower.

func cmpKernel[T constraints.Ordered](op expr.CmpOp) (func(T, T) bool, error) {
	switch op {
	case expr.CmpEq:
		return func(a, b T) bool { return a == b }, nil
	case expr.CmpNe:
		return func(a, b T) bool { return a != b }, nil
	case expr.CmpLt:
		return func(a, b T) bool { return a < b }, nil
	case expr.CmpLe:
		return func(a, b T) bool { return a <= b }, nil
	case expr.CmpGt:
		return func(a, b T) bool { return a > b }, nil
	case expr.CmpGe:
		return func(a, b T) bool { return a >= b }, nil
	default:
		return nil, fmt.Errorf("unknown comparison %v", op)
	}
}

// maskKernel fills mask[i] with the predicate's value on element i.
type maskKernel func(arr arrow.Array, mask []bool) error

// compileMask compiles a predicate over scalar elements of type dt into a
// vectorized kernel, or fails when the predicate shape is not compilable.
func compileMask(p *expr.Predicate, dt arrow.DataType) (maskKernel, error) {
	if p.Fn() != nil {
		return nil, fmt.Errorf("opaque predicate function is not vectorizable")
	}
	if p.FieldName() != "" {
		return nil, fmt.Errorf("field predicate %q over non-tabular data", p.FieldName())
	}
	leaf, err := compileLeaf(p, dt)
	if err != nil {
		return nil, err
	}
	return combineMask(p, leaf, func(q *expr.Predicate) (maskKernel, error) {
		return compileMask(q, dt)
	})
}

func compileLeaf(p *expr.Predicate, dt arrow.DataType) (maskKernel, error) {
	switch dt.ID() {
	case arrow.INT64:
		if lit, ok := asInt64(p.Literal()); ok {
			cmp, err := cmpKernel[int64](p.Op())
			if err != nil {
				return nil, err
			}
			return func(arr arrow.Array, mask []bool) error {
				ints, ok := arr.(*array.Int64)
				if !ok {
					return fmt.Errorf("expected int64 array, got %T", arr)
				}
				for i, x := range ints.Int64Values() {
					mask[i] = cmp(x, lit)
				}
				return nil
			}, nil
		}
		if lit, ok := asFloat64(p.Literal()); ok {
			cmp, err := cmpKernel[float64](p.Op())
			if err != nil {
				return nil, err
			}
			return func(arr arrow.Array, mask []bool) error {
				ints, ok := arr.(*array.Int64)
				if !ok {
					return fmt.Errorf("expected int64 array, got %T", arr)
				}
				for i, x := range ints.Int64Values() {
					mask[i] = cmp(float64(x), lit)
				}
				return nil
			}, nil
		}
		return nil, fmt.Errorf("literal %T is not comparable with int64 elements", p.Literal())

	case arrow.FLOAT64:
		lit, ok := asFloat64(p.Literal())
		if !ok {
			return nil, fmt.Errorf("literal %T is not comparable with float64 elements", p.Literal())
		}
		cmp, err := cmpKernel[float64](p.Op())
		if err != nil {
			return nil, err
		}
		return func(arr arrow.Array, mask []bool) error {
			floats, ok := arr.(*array.Float64)
			if !ok {
				return fmt.Errorf("expected float64 array, got %T", arr)
			}
			for i, x := range floats.Float64Values() {
				mask[i] = cmp(x, lit)
			}
			return nil
		}, nil

	case arrow.STRING:
		lit, ok := p.Literal().(string)
		if !ok {
			return nil, fmt.Errorf("literal %T is not comparable with string elements", p.Literal())
		}
		cmp, err := cmpKernel[string](p.Op())
		if err != nil {
			return nil, err
		}
		return func(arr arrow.Array, mask []bool) error {
			strs, ok := arr.(*array.String)
			if !ok {
				return fmt.Errorf("expected string array, got %T", arr)
			}
			for i := 0; i < strs.Len(); i++ {
				mask[i] = cmp(strs.Value(i), lit)
			}
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("no vectorized comparison for %v elements", dt)
	}
}

// combineMask layers the And/Or combinations of p on top of its compiled
// leaf kernel.
func combineMask(p *expr.Predicate, leaf maskKernel, compile func(*expr.Predicate) (maskKernel, error)) (maskKernel, error) {
	kernel := leaf
	if conj := p.Conj(); conj != nil {
		right, err := compile(conj)
		if err != nil {
			return nil, err
		}
		left := kernel
		kernel = func(arr arrow.Array, mask []bool) error {
			if err := left(arr, mask); err != nil {
				return err
			}
			other := make([]bool, len(mask))
			if err := right(arr, other); err != nil {
				return err
			}
			for i := range mask {
				mask[i] = mask[i] && other[i]
			}
			return nil
		}
	}
	if disj := p.Disj(); disj != nil {
		right, err := compile(disj)
		if err != nil {
			return nil, err
		}
		left := kernel
		kernel = func(arr arrow.Array, mask []bool) error {
			if err := left(arr, mask); err != nil {
				return err
			}
			other := make([]bool, len(mask))
			if err := right(arr, other); err != nil {
				return err
			}
			for i := range mask {
				mask[i] = mask[i] || other[i]
			}
			return nil
		}
	}
	return kernel, nil
}

// recordMaskKernel fills mask[i] with the predicate's value on row i.
type recordMaskKernel func(rec arrow.Record, mask []bool) error

// compileRecordMask compiles a predicate over rows of the given schema. Each
// leaf must name a field; the per-field kernel reuses the scalar compilation.
func compileRecordMask(p *expr.Predicate, schema *arrow.Schema) (recordMaskKernel, error) {
	if p.Fn() != nil {
		return nil, fmt.Errorf("opaque predicate function is not vectorizable")
	}
	field := p.FieldName()
	if field == "" {
		return nil, fmt.Errorf("predicate over tabular data must name a field")
	}
	indices := schema.FieldIndices(field)
	if len(indices) == 0 {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	col := indices[0]
	leafScalar, err := compileLeaf(p, schema.Field(col).Type)
	if err != nil {
		return nil, err
	}
	leaf := func(rec arrow.Record, mask []bool) error {
		return leafScalar(rec.Column(col), mask)
	}
	kernel := leaf
	if conj := p.Conj(); conj != nil {
		right, err := compileRecordMask(conj, schema)
		if err != nil {
			return nil, err
		}
		left := kernel
		kernel = func(rec arrow.Record, mask []bool) error {
			if err := left(rec, mask); err != nil {
				return err
			}
			other := make([]bool, len(mask))
			if err := right(rec, other); err != nil {
				return err
			}
			for i := range mask {
				mask[i] = mask[i] && other[i]
			}
			return nil
		}
	}
	if disj := p.Disj(); disj != nil {
		right, err := compileRecordMask(disj, schema)
		if err != nil {
			return nil, err
		}
		left := kernel
		kernel = func(rec arrow.Record, mask []bool) error {
			if err := left(rec, mask); err != nil {
				return err
			}
			other := make([]bool, len(mask))
			if err := right(rec, other); err != nil {
				return err
			}
			for i := range mask {
				mask[i] = mask[i] || other[i]
			}
			return nil
		}
	}
	return kernel, nil
}

// evalPred is the streaming fallback: evaluate the predicate on one element
// (a scalar or a source.Row). It handles every predicate shape, including
// opaque functions.
func evalPred(p *expr.Predicate, elem any) (bool, error) {
	var ok bool
	var err error
	switch {
	case p.Fn() != nil:
		ok = p.Fn()(elem)
	case p.FieldName() != "":
		row, isRow := elem.(source.Row)
		if !isRow {
			return false, fmt.Errorf("field predicate %q over non-row element %T", p.FieldName(), elem)
		}
		v, present := row[p.FieldName()]
		if !present {
			return false, fmt.Errorf("unknown field %q", p.FieldName())
		}
		ok, err = compareDynamic(v, p.Op(), p.Literal())
	default:
		ok, err = compareDynamic(elem, p.Op(), p.Literal())
	}
	if err != nil {
		return false, err
	}
	if conj := p.Conj(); conj != nil {
		if !ok {
			return false, nil
		}
		return evalPred(conj, elem)
	}
	if disj := p.Disj(); disj != nil {
		if ok {
			return true, nil
		}
		return evalPred(disj, elem)
	}
	return ok, nil
}

func compareDynamic(a any, op expr.CmpOp, b any) (bool, error) {
	if as, okA := a.(string); okA {
		bs, okB := b.(string)
		if !okB {
			return false, fmt.Errorf("cannot compare string with %T", b)
		}
		cmp, err := cmpKernel[string](op)
		if err != nil {
			return false, err
		}
		return cmp(as, bs), nil
	}
	if ab, okA := a.(bool); okA {
		bb, okB := b.(bool)
		if !okB {
			return false, fmt.Errorf("cannot compare bool with %T", b)
		}
		switch op {
		case expr.CmpEq:
			return ab == bb, nil
		case expr.CmpNe:
			return ab != bb, nil
		default:
			return false, fmt.Errorf("unsupported bool comparison %v", op)
		}
	}
	af, okA := asFloat64(a)
	bf, okB := asFloat64(b)
	if !okA || !okB {
		return false, fmt.Errorf("cannot compare %T with %T", a, b)
	}
	cmp, err := cmpKernel[float64](op)
	if err != nil {
		return false, err
	}
	return cmp(af, bf), nil
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
