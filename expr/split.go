package expr

import (
	"errors"
	"fmt"
)

// ErrUnsplittable reports that an expression has no chunk/aggregate
// decomposition. The engine falls back to a dedicated strategy (the moment
// formulas for mean, variance and std) or refuses the query.
var ErrUnsplittable = errors.New("expression cannot be split into chunk and aggregate parts")

// aggOp is one node of the aggregate expression, applied outside-in over the
// merged intermediate.
type aggOp func(Expr) Expr

// Split rewrites full, whose single leaf is leaf, into a chunk-local
// expression over the chunk symbol and an aggregate expression over a fresh
// aggregate symbol. Evaluating the chunk expression on every partition in
// turn, merging the results in partition order, binding the merged value to
// the aggregate symbol and evaluating the aggregate expression yields the
// same result as evaluating full over the whole dataset bound to leaf.
//
// The split pushes as much work as possible into the chunk expression;
// only the combining step (sum of partial sums, re-distinct after
// concatenation, re-applied head) remains on the aggregate side.
func Split(leaf *Symbol, full Expr, chunk *Symbol) (chunkExpr Expr, agg *Symbol, aggExpr Expr, err error) {
	if Path(full, leaf) == nil {
		return nil, nil, nil, fmt.Errorf("split: leaf %s does not occur in %s", leaf, full)
	}
	chunkExpr, ops, err := splitNode(full, leaf, chunk)
	if err != nil {
		return nil, nil, nil, err
	}
	agg = NewSymbol("aggregate", mergedShape(chunkExpr.Shape()))
	aggExpr = Expr(agg)
	for _, op := range ops {
		aggExpr = op(aggExpr)
	}
	return chunkExpr, agg, aggExpr, nil
}

// splitNode returns the chunk-local part of e plus the aggregate ops still to
// be applied after merging. Chunk-local growth stops at the first node that
// must see the merged whole (a reduction combine, a re-distinct, a re-head);
// every node above that point moves to the aggregate side.
func splitNode(e Expr, leaf, chunk *Symbol) (Expr, []aggOp, error) {
	switch n := e.(type) {
	case *Symbol:
		if n != leaf {
			return nil, nil, fmt.Errorf("split: unbound symbol %s", n)
		}
		return chunk, nil, nil

	case *MapExpr:
		ce, ops, err := splitNode(n.child, leaf, chunk)
		if err != nil {
			return nil, nil, err
		}
		if len(ops) > 0 {
			return ce, append(ops, func(a Expr) Expr { return Map(a, n.op, n.operand) }), nil
		}
		return Map(ce, n.op, n.operand), nil, nil

	case *FilterExpr:
		ce, ops, err := splitNode(n.child, leaf, chunk)
		if err != nil {
			return nil, nil, err
		}
		if len(ops) > 0 {
			return ce, append(ops, func(a Expr) Expr { return Filter(a, n.pred) }), nil
		}
		return Filter(ce, n.pred), nil, nil

	case *FieldExpr:
		ce, ops, err := splitNode(n.child, leaf, chunk)
		if err != nil {
			return nil, nil, err
		}
		if len(ops) > 0 {
			return ce, append(ops, func(a Expr) Expr { return Field(a, n.name) }), nil
		}
		return Field(ce, n.name), nil, nil

	case *ProjectExpr:
		ce, ops, err := splitNode(n.child, leaf, chunk)
		if err != nil {
			return nil, nil, err
		}
		if len(ops) > 0 {
			return ce, append(ops, func(a Expr) Expr { return Project(a, n.names...) }), nil
		}
		return Project(ce, n.names...), nil, nil

	case *HeadExpr:
		ce, ops, err := splitNode(n.child, leaf, chunk)
		if err != nil {
			return nil, nil, err
		}
		// Taking n per chunk is a safe over-approximation; the aggregate
		// side re-applies head(n) to the concatenation.
		if len(ops) == 0 {
			ce = Head(ce, n.n)
		}
		return ce, append(ops, func(a Expr) Expr { return Head(a, n.n) }), nil

	case *DistinctExpr:
		ce, ops, err := splitNode(n.child, leaf, chunk)
		if err != nil {
			return nil, nil, err
		}
		// Per-chunk distinct shrinks the intermediate but duplicates may
		// still straddle chunks, so distinct runs again after the merge.
		if len(ops) == 0 {
			ce = Distinct(ce)
		}
		return ce, append(ops, func(a Expr) Expr { return Distinct(a) }), nil

	case *ReduceExpr:
		ce, ops, err := splitNode(n.child, leaf, chunk)
		if err != nil {
			return nil, nil, err
		}
		if len(ops) > 0 {
			// Something below already needs the merged whole; the entire
			// reduction happens on the aggregate side.
			return ce, append(ops, func(a Expr) Expr {
				return &ReduceExpr{child: a, op: n.op, unbiased: n.unbiased, keepDims: n.keepDims}
			}), nil
		}
		switch n.op {
		case ReduceCount:
			// Per-chunk lengths, summed. KeepDims keeps the partials
			// array-shaped so the merge concatenates instead of wrapping.
			return Count(ce).KeepDims(), []aggOp{func(a Expr) Expr {
				return &ReduceExpr{child: a, op: ReduceSum, keepDims: n.keepDims}
			}}, nil
		case ReduceSum:
			return Sum(ce).KeepDims(), []aggOp{func(a Expr) Expr {
				return &ReduceExpr{child: a, op: ReduceSum, keepDims: n.keepDims}
			}}, nil
		case ReduceNunique:
			// Exactness requires the union of per-chunk distinct sets, not
			// an estimator: distinct per chunk, nunique of the union.
			return Distinct(ce), []aggOp{func(a Expr) Expr {
				return &ReduceExpr{child: a, op: ReduceNunique, keepDims: n.keepDims}
			}}, nil
		default:
			return nil, nil, fmt.Errorf("split %s: %w", n.op, ErrUnsplittable)
		}

	default:
		return nil, nil, fmt.Errorf("split %s: %w", e.Kind(), ErrUnsplittable)
	}
}

// mergedShape is the shape of the concatenation of per-chunk results of
// shape s.
func mergedShape(s Shape) Shape {
	if s.IsTable() {
		return Shape{Length: LengthUnknown, Schema: s.Schema}
	}
	return Shape{Length: LengthUnknown, Elem: s.Elem}
}
