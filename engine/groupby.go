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

// groupAccumulator aggregates one column per group of a single key column.
// It accepts rows one at a time, so the same accumulator serves both the
// materialized path and the streamed row-at-a-time path. Groups surface in
// first-seen order.
type groupAccumulator struct {
	key string
	on  string
	agg expr.ReduceOp

	keys   []any
	index  map[any]int
	counts []int64
	sums   []float64
	isInt  bool
	sawAny bool
}

func newGroupAccumulator(key, on string, agg expr.ReduceOp) (*groupAccumulator, error) {
	switch agg {
	case expr.ReduceCount, expr.ReduceSum, expr.ReduceMean:
	default:
		return nil, chunkerr.NewUnsupported("GroupBy", fmt.Sprintf("unsupported group aggregation %v", agg))
	}
	return &groupAccumulator{
		key:   key,
		on:    on,
		agg:   agg,
		index: make(map[any]int),
	}, nil
}

func (g *groupAccumulator) observeRow(row source.Row) error {
	k, ok := row[g.key]
	if !ok {
		return chunkerr.NewInvalidInput("GroupBy", fmt.Sprintf("unknown key field %q", g.key))
	}
	slot, ok := g.index[k]
	if !ok {
		slot = len(g.keys)
		g.index[k] = slot
		g.keys = append(g.keys, k)
		g.counts = append(g.counts, 0)
		g.sums = append(g.sums, 0)
	}
	g.counts[slot]++
	if g.agg == expr.ReduceCount {
		return nil
	}
	v, ok := row[g.on]
	if !ok {
		return chunkerr.NewInvalidInput("GroupBy", fmt.Sprintf("unknown aggregation field %q", g.on))
	}
	if !g.sawAny {
		_, g.isInt = v.(int64)
		g.sawAny = true
	}
	f, ok := asFloat64(v)
	if !ok {
		return chunkerr.NewUnsupported("GroupBy", fmt.Sprintf("non-numeric aggregation value %T", v))
	}
	g.sums[slot] += f
	return nil
}

// record materializes the groups as a two-column record batch: the key and
// the aggregated value.
func (g *groupAccumulator) record(mem memory.Allocator) (arrow.Record, error) {
	keyType, err := keyDataType(g.keys)
	if err != nil {
		return nil, err
	}
	keyBuilder := array.NewBuilder(mem, keyType)
	defer keyBuilder.Release()
	for _, k := range g.keys {
		if err := appendElement(keyBuilder, k); err != nil {
			return nil, err
		}
	}
	keyCol := keyBuilder.NewArray()
	defer keyCol.Release()

	var aggCol arrow.Array
	var aggType arrow.DataType
	switch {
	case g.agg == expr.ReduceCount:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(g.counts, nil)
		aggCol = b.NewArray()
		aggType = arrow.PrimitiveTypes.Int64
	case g.agg == expr.ReduceSum && g.isInt:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, s := range g.sums {
			b.Append(int64(s))
		}
		aggCol = b.NewArray()
		aggType = arrow.PrimitiveTypes.Int64
	default:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for i, s := range g.sums {
			if g.agg == expr.ReduceMean {
				s /= float64(g.counts[i])
			}
			b.Append(s)
		}
		aggCol = b.NewArray()
		aggType = arrow.PrimitiveTypes.Float64
	}
	defer aggCol.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: g.key, Type: keyType},
		{Name: fmt.Sprintf("%s_%s", g.on, g.agg), Type: aggType},
	}, nil)
	return array.NewRecord(schema, []arrow.Array{keyCol, aggCol}, int64(len(g.keys))), nil
}

func keyDataType(keys []any) (arrow.DataType, error) {
	if len(keys) == 0 {
		return arrow.BinaryTypes.String, nil
	}
	switch keys[0].(type) {
	case int64:
		return arrow.PrimitiveTypes.Int64, nil
	case float64:
		return arrow.PrimitiveTypes.Float64, nil
	case string:
		return arrow.BinaryTypes.String, nil
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, chunkerr.NewUnsupported("GroupBy", fmt.Sprintf("unsupported key type %T", keys[0]))
	}
}

func (ev *evaluator) evalGroupBy(n *expr.GroupByExpr, child any) (any, error) {
	acc, err := newGroupAccumulator(n.Key(), n.On(), n.Agg())
	if err != nil {
		return nil, err
	}
	switch data := child.(type) {
	case arrow.Record:
		for i := 0; i < int(data.NumRows()); i++ {
			row, err := recordRow(data, i)
			if err != nil {
				return nil, err
			}
			if err := acc.observeRow(row); err != nil {
				return nil, err
			}
		}
	case []any:
		for _, e := range data {
			row, ok := e.(source.Row)
			if !ok {
				return nil, chunkerr.NewUnsupported("GroupBy", fmt.Sprintf("element %T is not a row", e))
			}
			if err := acc.observeRow(row); err != nil {
				return nil, err
			}
		}
	default:
		return nil, chunkerr.NewUnsupported("GroupBy", fmt.Sprintf("cannot group %T", child))
	}
	return acc.record(ev.mem)
}
