package engine

import (
	"fmt"

	"github.com/chunkwise/chunkwise/expr"
	chunkerr "github.com/chunkwise/chunkwise/internal/errors"
	"github.com/chunkwise/chunkwise/source"
)

// stepFn pulls the next element of a lazy pipeline stage: value, ok, error.
type stepFn func() (any, bool, error)

// streamEval evaluates an all-cheap expression over the source's lazy
// element cursor, one element at a time, without materializing the source.
// Each node of the chain becomes one pipeline stage; head short-circuits the
// upstream pull as soon as it has its N elements.
func streamEval(e expr.Expr, leaf *expr.Symbol, src source.Source) ([]any, error) {
	step, err := buildStream(e, leaf, src)
	if err != nil {
		return nil, err
	}
	out := []any{}
	for {
		v, ok, err := step()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

func buildStream(e expr.Expr, leaf *expr.Symbol, src source.Source) (stepFn, error) {
	if sym, ok := e.(*expr.Symbol); ok {
		if sym != leaf {
			return nil, chunkerr.NewInvalidInput("Stream", fmt.Sprintf("unbound symbol %s", sym))
		}
		cur := src.Elements()
		return func() (any, bool, error) {
			v, ok, err := cur.Next()
			if err != nil {
				return nil, false, chunkerr.NewUnsupported("Stream", err.Error())
			}
			return v, ok, nil
		}, nil
	}

	child, err := buildStream(e.Children()[0], leaf, src)
	if err != nil {
		return nil, err
	}

	switch n := e.(type) {
	case *expr.MapExpr:
		return func() (any, bool, error) {
			v, ok, err := child()
			if err != nil || !ok {
				return nil, false, err
			}
			y, err := applyDynamic(v, n.Op(), n.Operand())
			if err != nil {
				return nil, false, err
			}
			return y, true, nil
		}, nil

	case *expr.FilterExpr:
		return func() (any, bool, error) {
			for {
				v, ok, err := child()
				if err != nil || !ok {
					return nil, false, err
				}
				keep, err := evalPred(n.Predicate(), v)
				if err != nil {
					return nil, false, err
				}
				if keep {
					return v, true, nil
				}
			}
		}, nil

	case *expr.HeadExpr:
		taken := 0
		return func() (any, bool, error) {
			if taken >= n.N() {
				return nil, false, nil
			}
			v, ok, err := child()
			if err != nil || !ok {
				return nil, false, err
			}
			taken++
			return v, true, nil
		}, nil

	case *expr.SliceExpr:
		// Same bounds policy as the materialized evaluator: a slice past
		// the end of the stream is an input error, not a truncation.
		if n.Start() < 0 || n.Stop() < n.Start() {
			return nil, chunkerr.NewInvalidInput("Slice",
				fmt.Sprintf("invalid range [%d:%d)", n.Start(), n.Stop()))
		}
		pos := 0
		outOfBounds := func() error {
			return chunkerr.NewInvalidInput("Slice",
				fmt.Sprintf("range [%d:%d) out of bounds for %d elements", n.Start(), n.Stop(), pos))
		}
		return func() (any, bool, error) {
			for pos < n.Start() {
				if _, ok, err := child(); err != nil || !ok {
					if err == nil {
						err = outOfBounds()
					}
					return nil, false, err
				}
				pos++
			}
			if pos >= n.Stop() {
				return nil, false, nil
			}
			v, ok, err := child()
			if err != nil || !ok {
				if err == nil {
					err = outOfBounds()
				}
				return nil, false, err
			}
			pos++
			return v, true, nil
		}, nil

	case *expr.DistinctExpr:
		set := newDistinctSet()
		return func() (any, bool, error) {
			for {
				v, ok, err := child()
				if err != nil || !ok {
					return nil, false, err
				}
				fresh, err := set.add(v)
				if err != nil {
					return nil, false, err
				}
				if fresh {
					return v, true, nil
				}
			}
		}, nil

	case *expr.FieldExpr:
		return func() (any, bool, error) {
			v, ok, err := child()
			if err != nil || !ok {
				return nil, false, err
			}
			row, isRow := v.(source.Row)
			if !isRow {
				return nil, false, chunkerr.NewUnsupported("Stream", fmt.Sprintf("element %T is not a row", v))
			}
			f, present := row[n.Name()]
			if !present {
				return nil, false, chunkerr.NewInvalidInput("Stream", fmt.Sprintf("unknown field %q", n.Name()))
			}
			return f, true, nil
		}, nil

	case *expr.ProjectExpr:
		return func() (any, bool, error) {
			v, ok, err := child()
			if err != nil || !ok {
				return nil, false, err
			}
			row, isRow := v.(source.Row)
			if !isRow {
				return nil, false, chunkerr.NewUnsupported("Stream", fmt.Sprintf("element %T is not a row", v))
			}
			sub := make(source.Row, len(n.Names()))
			for _, name := range n.Names() {
				f, present := row[name]
				if !present {
					return nil, false, chunkerr.NewInvalidInput("Stream", fmt.Sprintf("unknown field %q", name))
				}
				sub[name] = f
			}
			return sub, true, nil
		}, nil

	default:
		return nil, chunkerr.NewUnsupported("Stream", fmt.Sprintf("%s node is not streamable", e.Kind()))
	}
}

// streamGroupBy aggregates a group-by row by row over a tabular source that
// is too large to materialize. The child chain below the group-by streams
// through the same pipeline the cheap path uses.
func streamGroupBy(n *expr.GroupByExpr, leaf *expr.Symbol, src source.Source, ev *evaluator) (any, error) {
	acc, err := newGroupAccumulator(n.Key(), n.On(), n.Agg())
	if err != nil {
		return nil, err
	}
	step, err := buildStream(n.Children()[0], leaf, src)
	if err != nil {
		return nil, err
	}
	for {
		v, ok, err := step()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		row, isRow := v.(source.Row)
		if !isRow {
			return nil, chunkerr.NewUnsupported("GroupBy", fmt.Sprintf("element %T is not a row", v))
		}
		if err := acc.observeRow(row); err != nil {
			return nil, err
		}
	}
	return acc.record(ev.mem)
}
