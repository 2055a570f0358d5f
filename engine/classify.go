package engine

import (
	"github.com/chunkwise/chunkwise/expr"
)

// isCheapKind reports whether an operation is safe to materialize or stream
// directly, without chunk-splitting: identity leaves, elementwise maps,
// filters, first-N and range slices, distinct, and column access. Reductions
// and group-bys are not cheap.
func isCheapKind(k expr.Kind) bool {
	switch k {
	case expr.KindSymbol, expr.KindMap, expr.KindFilter, expr.KindHead,
		expr.KindSlice, expr.KindDistinct, expr.KindField, expr.KindProject:
		return true
	default:
		return false
	}
}

// pathIsCheap reports whether every node from the root of e down to leaf is
// cheap. Only then may the whole expression run on the direct or streamed
// fast path; a cheap prefix under a reduction classifies as not cheap and
// falls through to the reduction or split strategies.
func pathIsCheap(e expr.Expr, leaf *expr.Symbol) bool {
	path := expr.Path(e, leaf)
	if path == nil {
		return false
	}
	for _, node := range path {
		if !isCheapKind(node.Kind()) {
			return false
		}
	}
	return true
}

// pathIsChunkInvariant reports whether evaluating e over each partition and
// concatenating the results equals evaluating e over the whole source. That
// holds for per-element maps, filters and column access; head, range slices
// and distinct all depend on which partition an element landed in.
func pathIsChunkInvariant(e expr.Expr, leaf *expr.Symbol) bool {
	path := expr.Path(e, leaf)
	if path == nil {
		return false
	}
	for _, node := range path {
		switch node.Kind() {
		case expr.KindSymbol, expr.KindMap, expr.KindFilter,
			expr.KindField, expr.KindProject:
		default:
			return false
		}
	}
	return true
}
