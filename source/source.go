// Package source defines the addressable data sources the chunkwise engine
// executes against, plus in-memory implementations backed by Apache Arrow.
//
// A source never changes during a query: all reads are by explicit index
// range or by forward iteration, so concurrent readers need no locking.
package source

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Cursor iterates the elements of a source lazily, in source order. For
// columnar sources the yielded values are Go scalars (int64, float64, string,
// bool); for tabular sources they are Rows.
type Cursor interface {
	// Next returns the next element, or false when the source is exhausted.
	// A non-nil error means the element could not be decoded; the cursor is
	// dead after an error.
	Next() (any, bool, error)
}

// Row is one record of a tabular source, keyed by column name.
type Row map[string]any

// Source is the minimal contract the engine needs: report extent and byte
// size, materialize an index range, and iterate lazily.
//
// Slice returns the materialized form of [start, stop): an arrow.Array for
// columnar sources, an arrow.Record for tabular ones. The caller owns the
// returned value and must release it.
type Source interface {
	Len() int
	NumBytes() int64
	Slice(start, stop int) (any, error)
	Elements() Cursor
}

// Columnar is the capability of sources whose elements are scalars of one
// Arrow type.
type Columnar interface {
	Source
	DataType() arrow.DataType
}

// Tabular is the capability of sources whose elements are named-column rows.
type Tabular interface {
	Source
	Schema() *arrow.Schema
}

// byteSize sums the sizes of the buffers backing an array. Shared or sliced
// buffers count in full; the engine only needs an upper bound for its
// fits-in-memory decision.
func byteSize(arr arrow.Array) int64 {
	var n int64
	for _, buf := range arr.Data().Buffers() {
		if buf != nil {
			n += int64(buf.Len())
		}
	}
	return n
}
