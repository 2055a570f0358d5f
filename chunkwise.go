// Package chunkwise executes expressions over columnar data that may be
// larger than memory. This package is the public entry point: callers build
// an expression tree over a symbolic leaf with the expr package, wrap their
// data in a source, and Execute picks a strategy — direct evaluation when
// the data comfortably fits in memory, element streaming for cheap
// expressions that do not, and partitioned chunk-merge-aggregate execution
// for out-of-core reductions.
package chunkwise

import (
	"github.com/chunkwise/chunkwise/engine"
	"github.com/chunkwise/chunkwise/expr"
	"github.com/chunkwise/chunkwise/source"
)

// Re-exported types so common call sites need only this package.
type (
	// Option configures execution: chunk size, memory policy, allocator,
	// parallelism, logging.
	Option = engine.Option

	// Expr is a node in an expression tree.
	Expr = expr.Expr

	// Symbol is the placeholder leaf an expression is written against.
	Symbol = expr.Symbol

	// Source is chunk-addressable data: anything with a length, a byte
	// size, random-access slicing and element iteration.
	Source = source.Source

	// Engine executes expressions; construct one directly to reuse its
	// configuration across queries.
	Engine = engine.Engine
)

// Option constructors, re-exported from engine.
var (
	WithChunkSize       = engine.WithChunkSize
	WithAvailableMemory = engine.WithAvailableMemory
	WithAllocator       = engine.WithAllocator
	WithMapper          = engine.WithMapper
	WithParallelism     = engine.WithParallelism
	WithLogger          = engine.WithLogger
	WithConfig          = engine.WithConfig
)

// NewEngine builds a reusable engine with the given options.
func NewEngine(opts ...Option) *Engine {
	return engine.New(opts...)
}

// Execute evaluates e against src with a one-shot engine configured by
// opts. The result is an arrow.Array for columnar output, an arrow.Record
// for tabular output, a []any for heterogeneous sequences, or a Go scalar
// for reductions; Array and Record results must be Released by the caller.
func Execute(e Expr, src Source, opts ...Option) (any, error) {
	return engine.New(opts...).Execute(e, src)
}
