// Package engine selects and runs an execution strategy for a bound
// expression: evaluate directly when the source fits in memory, stream
// element by element when a cheap expression does not, and otherwise
// partition the source, evaluate a per-chunk expression over every
// partition, merge the intermediates and finish with an aggregate
// expression.
package engine

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/chunkwise/chunkwise/expr"
	"github.com/chunkwise/chunkwise/internal/config"
	chunkerr "github.com/chunkwise/chunkwise/internal/errors"
	"github.com/chunkwise/chunkwise/internal/parallel"
	"github.com/chunkwise/chunkwise/source"
)

// Engine executes expressions against sources that may be larger than
// memory. The zero-config Engine uses a 2^20-element chunk size, the host's
// free memory for strategy selection, the default Arrow allocator and a
// sequential chunk mapper.
type Engine struct {
	chunkSize int
	policy    memoryPolicy
	mem       memory.Allocator
	mapper    parallel.Mapper
	log       *zap.Logger

	ev *evaluator
}

// New builds an Engine with the given options applied over the defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		chunkSize: config.DefaultChunkSize,
		policy:    newMemoryPolicy(nil),
		mem:       memory.DefaultAllocator,
		mapper:    parallel.Sequential,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ev = newEvaluator(e.mem)
	return e
}

// Execute evaluates ex against src and returns the result: an arrow.Array
// for columnar results, an arrow.Record for tabular results, a []any for
// heterogeneous sequences, or a Go scalar for reductions. Array and Record
// results are owned by the caller, who must Release them.
func (e *Engine) Execute(ex expr.Expr, src source.Source) (any, error) {
	const op = "engine.Execute"

	leaves := expr.Leaves(ex)
	if len(leaves) == 0 {
		return nil, chunkerr.NewInvalidInput(op, "expression has no data leaf")
	}
	if len(leaves) > 1 {
		return nil, chunkerr.NewUnsupported(op,
			fmt.Sprintf("expression binds %d leaves, want exactly 1", len(leaves)))
	}
	leaf := leaves[0]

	if src.Len() == 0 {
		// Zero partitions would leave nothing to merge. Evaluate the full
		// expression over an empty slice instead, so count comes back 0 and
		// mean reports its domain error.
		e.log.Debug("empty source, evaluating directly", zap.String("expr", ex.String()))
		return e.evalRange(ex, leaf, src, 0, 0)
	}

	size := src.NumBytes()
	fits := e.policy.fits(size)

	if pathIsCheap(ex, leaf) {
		if fits {
			e.log.Debug("cheap expression fits, materializing",
				zap.String("expr", ex.String()), zap.Int64("bytes", size))
			return e.evalRange(ex, leaf, src, 0, src.Len())
		}
		e.log.Debug("cheap expression too large, streaming",
			zap.String("expr", ex.String()), zap.Int64("bytes", size))
		return streamEval(ex, leaf, src)
	}

	if fits {
		e.log.Debug("expression fits, evaluating directly",
			zap.String("expr", ex.String()), zap.Int64("bytes", size))
		return e.evalRange(ex, leaf, src, 0, src.Len())
	}

	if g, ok := ex.(*expr.GroupByExpr); ok {
		e.log.Debug("streaming group-by", zap.String("expr", ex.String()))
		return streamGroupBy(g, leaf, src, e.ev)
	}

	plan, err := NewPlan(src.Len(), e.chunkSize)
	if err != nil {
		return nil, chunkerr.NewInvalidInput(op, err.Error())
	}

	if r, ok := ex.(*expr.ReduceExpr); ok {
		switch r.Op() {
		case expr.ReduceMean, expr.ReduceVar, expr.ReduceStd:
			// Mean, var and std do not split into partial results that a
			// second expression can finish. One shared pass over Σx and Σx²
			// does the job instead, chunk by chunk.
			if pathIsChunkInvariant(r.Children()[0], leaf) {
				e.log.Debug("chunked moments reduction",
					zap.String("expr", ex.String()), zap.Int("chunks", plan.Count()))
				return e.executeMoments(r, leaf, src, plan)
			}
			e.log.Debug("streamed moments reduction", zap.String("expr", ex.String()))
			return e.streamMoments(r, leaf, src)
		}
	}

	e.log.Debug("split execution",
		zap.String("expr", ex.String()),
		zap.Int("chunks", plan.Count()),
		zap.Int("chunkSize", e.chunkSize))
	return e.executeSplit(ex, leaf, src, plan)
}

// evalRange materializes src[start:stop), binds it to leaf and evaluates ex
// over it.
func (e *Engine) evalRange(ex expr.Expr, leaf *expr.Symbol, src source.Source, start, stop int) (any, error) {
	data, err := src.Slice(start, stop)
	if err != nil {
		return nil, err
	}
	out, err := e.ev.eval(ex, map[*expr.Symbol]any{leaf: data})
	releaseValue(data)
	return out, err
}

// chunkSymbol builds the placeholder a per-chunk expression is written
// against. Its shape mirrors the leaf at chunk length.
func (e *Engine) chunkSymbol(leaf *expr.Symbol) *expr.Symbol {
	shape := leaf.Shape()
	if shape.IsTable() {
		return expr.NewSymbol("chunk", expr.Table(shape.Schema))
	}
	return expr.NewSymbol("chunk", expr.ArrayN(shape.Elem, e.chunkSize))
}

// executeSplit runs the split strategy: rewrite ex into a per-chunk
// expression and an aggregate expression, evaluate the former over every
// partition, merge the intermediates in partition order and finish with the
// latter.
func (e *Engine) executeSplit(ex expr.Expr, leaf *expr.Symbol, src source.Source, plan Plan) (any, error) {
	const op = "engine.executeSplit"

	chunkSym := e.chunkSymbol(leaf)
	chunkExpr, aggSym, aggExpr, err := expr.Split(leaf, ex, chunkSym)
	if err != nil {
		if errors.Is(err, expr.ErrUnsplittable) {
			return nil, chunkerr.NewUnsupported(op,
				fmt.Sprintf("cannot execute %s out of core", ex))
		}
		return nil, err
	}

	parts, err := e.runChunks(chunkExpr, chunkSym, src, plan)
	if err != nil {
		return nil, err
	}

	merged, err := mergeParts(parts, e.mem)
	if err != nil {
		return nil, err
	}
	out, err := e.ev.eval(aggExpr, map[*expr.Symbol]any{aggSym: merged})
	releaseValue(merged)
	return out, err
}

// runChunks evaluates ce once per partition, binding each materialized slice
// to sym. Results come back indexed by partition, so order survives parallel
// mappers.
func (e *Engine) runChunks(ce expr.Expr, sym *expr.Symbol, src source.Source, plan Plan) ([]any, error) {
	const op = "engine.runChunks"

	return parallel.MapIndexed(e.mapper, plan.Partitions(), func(i int, p Partition) (any, error) {
		data, err := src.Slice(p.Start, p.Stop)
		if err != nil {
			return nil, chunkerr.NewChunkFailed(op, i, err)
		}
		out, err := e.ev.eval(ce, map[*expr.Symbol]any{sym: data})
		releaseValue(data)
		if err != nil {
			return nil, chunkerr.NewChunkFailed(op, i, err)
		}
		return out, nil
	})
}

// executeMoments computes a mean, variance or standard deviation by
// evaluating the reduction's child per partition and accumulating Σx and Σx²
// from each partial result.
func (e *Engine) executeMoments(r *expr.ReduceExpr, leaf *expr.Symbol, src source.Source, plan Plan) (any, error) {
	const op = "engine.executeMoments"

	chunkSym := e.chunkSymbol(leaf)
	childChunk := expr.Rebase(r.Children()[0], leaf, chunkSym)

	partials, err := parallel.MapIndexed(e.mapper, plan.Partitions(), func(i int, p Partition) (moments, error) {
		data, err := src.Slice(p.Start, p.Stop)
		if err != nil {
			return moments{}, chunkerr.NewChunkFailed(op, i, err)
		}
		v, err := e.ev.eval(childChunk, map[*expr.Symbol]any{chunkSym: data})
		releaseValue(data)
		if err != nil {
			return moments{}, chunkerr.NewChunkFailed(op, i, err)
		}
		m, err := observeAll(v)
		releaseValue(v)
		if err != nil {
			return moments{}, chunkerr.NewChunkFailed(op, i, err)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	var total moments
	for _, m := range partials {
		total.n += m.n
		total.sum += m.sum
		total.sumsq += m.sumsq
	}
	return e.finishMoments(r, total)
}

// streamMoments accumulates Σx and Σx² one element at a time. It covers
// reduction children the partitioned pass cannot, such as distinct or head,
// whose per-partition results differ from the whole.
func (e *Engine) streamMoments(r *expr.ReduceExpr, leaf *expr.Symbol, src source.Source) (any, error) {
	step, err := buildStream(r.Children()[0], leaf, src)
	if err != nil {
		return nil, err
	}
	var m moments
	for {
		v, ok, err := step()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := m.observe(v); err != nil {
			return nil, err
		}
	}
	return e.finishMoments(r, m)
}

func (e *Engine) finishMoments(r *expr.ReduceExpr, m moments) (any, error) {
	var (
		out float64
		err error
	)
	switch r.Op() {
	case expr.ReduceMean:
		out, err = m.mean()
	case expr.ReduceVar:
		out, err = m.variance(r.Unbiased())
	case expr.ReduceStd:
		out, err = m.std(r.Unbiased())
	default:
		return nil, chunkerr.NewUnsupported("engine.finishMoments",
			fmt.Sprintf("%s is not a moments reduction", r.Op()))
	}
	if err != nil {
		return nil, err
	}
	if r.Dims() {
		return e.ev.wrapScalar(out)
	}
	return out, nil
}
