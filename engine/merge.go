package engine

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	chunkerr "github.com/chunkwise/chunkwise/internal/errors"
)

// mergeParts combines the ordered chunk results into one intermediate value,
// dispatching on the concrete shape of the first result: dense arrays
// concatenate along the primary axis, record batches concatenate rows, and
// general sequences flatten in order. A single part is returned unchanged —
// merging a list of one must equal that one element, with no extra wrapping.
//
// On success ownership of the parts passes to the merge: the intermediate is
// consumed immediately by the aggregate evaluation and never retained.
func mergeParts(parts []any, mem memory.Allocator) (any, error) {
	if len(parts) == 0 {
		return nil, chunkerr.NewInvalidInput("Merge", "no chunk results to merge")
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	switch first := parts[0].(type) {
	case arrow.Array:
		arrs := make([]arrow.Array, len(parts))
		for i, p := range parts {
			arr, ok := p.(arrow.Array)
			if !ok {
				return nil, chunkerr.NewInvalidInput("Merge",
					fmt.Sprintf("chunk %d is %T, expected array like chunk 0", i, p))
			}
			arrs[i] = arr
		}
		out, err := array.Concatenate(arrs, mem)
		for _, arr := range arrs {
			arr.Release()
		}
		if err != nil {
			return nil, fmt.Errorf("merging arrays: %w", err)
		}
		return out, nil

	case arrow.Record:
		recs := make([]arrow.Record, len(parts))
		for i, p := range parts {
			rec, ok := p.(arrow.Record)
			if !ok {
				return nil, chunkerr.NewInvalidInput("Merge",
					fmt.Sprintf("chunk %d is %T, expected record like chunk 0", i, p))
			}
			recs[i] = rec
		}
		out, err := concatRecords(recs, first.Schema(), mem)
		for _, rec := range recs {
			rec.Release()
		}
		if err != nil {
			return nil, err
		}
		return out, nil

	case []any:
		var out []any
		for i, p := range parts {
			seq, ok := p.([]any)
			if !ok {
				return nil, chunkerr.NewInvalidInput("Merge",
					fmt.Sprintf("chunk %d is %T, expected sequence like chunk 0", i, p))
			}
			out = append(out, seq...)
		}
		if out == nil {
			out = []any{}
		}
		return out, nil

	default:
		return nil, chunkerr.NewUnsupported("Merge", fmt.Sprintf("cannot merge chunk results of type %T", first))
	}
}

// concatRecords concatenates record batches row-wise, preserving column
// schema and order.
func concatRecords(recs []arrow.Record, schema *arrow.Schema, mem memory.Allocator) (arrow.Record, error) {
	ncols := len(schema.Fields())
	cols := make([]arrow.Array, ncols)
	var rows int64
	for _, rec := range recs {
		rows += rec.NumRows()
	}
	for c := 0; c < ncols; c++ {
		pieces := make([]arrow.Array, len(recs))
		for i, rec := range recs {
			pieces[i] = rec.Column(c)
		}
		col, err := array.Concatenate(pieces, mem)
		if err != nil {
			for _, done := range cols[:c] {
				done.Release()
			}
			return nil, fmt.Errorf("merging column %s: %w", schema.Field(c).Name, err)
		}
		cols[c] = col
	}
	out := array.NewRecord(schema, cols, rows)
	for _, col := range cols {
		col.Release()
	}
	return out, nil
}
