package source

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Column is an in-memory columnar source stored as a sequence of Arrow
// segments, so that a source larger than any single allocation is still
// addressable by global index. Slicing stitches across segment boundaries.
type Column struct {
	dtype    arrow.DataType
	segments []arrow.Array
	length   int
	mem      memory.Allocator
}

// NewColumn creates a column from one or more Arrow segments of the same
// element type. The column takes over the caller's references.
func NewColumn(mem memory.Allocator, segments ...arrow.Array) (*Column, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("column: at least one segment required")
	}
	dtype := segments[0].DataType()
	length := 0
	for _, seg := range segments {
		if !arrow.TypeEqual(seg.DataType(), dtype) {
			return nil, fmt.Errorf("column: segment type %v does not match %v", seg.DataType(), dtype)
		}
		length += seg.Len()
	}
	return &Column{dtype: dtype, segments: segments, length: length, mem: mem}, nil
}

// FromInt64 builds a column from values, segmented every segLen elements.
func FromInt64(values []int64, segLen int, mem memory.Allocator) *Column {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	col, _ := NewColumn(mem, buildSegments(values, segLen, func(vals []int64) arrow.Array {
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray()
	})...)
	return col
}

// FromFloat64 builds a column from values, segmented every segLen elements.
func FromFloat64(values []float64, segLen int, mem memory.Allocator) *Column {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	col, _ := NewColumn(mem, buildSegments(values, segLen, func(vals []float64) arrow.Array {
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray()
	})...)
	return col
}

// FromStrings builds a column from values, segmented every segLen elements.
func FromStrings(values []string, segLen int, mem memory.Allocator) *Column {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	col, _ := NewColumn(mem, buildSegments(values, segLen, func(vals []string) arrow.Array {
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray()
	})...)
	return col
}

func buildSegments[T any](values []T, segLen int, build func([]T) arrow.Array) []arrow.Array {
	if segLen <= 0 || segLen > len(values) {
		segLen = len(values)
	}
	if len(values) == 0 {
		return []arrow.Array{build(nil)}
	}
	var segs []arrow.Array
	for start := 0; start < len(values); start += segLen {
		stop := start + segLen
		if stop > len(values) {
			stop = len(values)
		}
		segs = append(segs, build(values[start:stop]))
	}
	return segs
}

// Len returns the total element count across segments.
func (c *Column) Len() int { return c.length }

// DataType returns the element type.
func (c *Column) DataType() arrow.DataType { return c.dtype }

// NumBytes returns the total byte size of the backing buffers.
func (c *Column) NumBytes() int64 {
	var n int64
	for _, seg := range c.segments {
		n += byteSize(seg)
	}
	return n
}

// NumSegments returns the number of backing segments.
func (c *Column) NumSegments() int { return len(c.segments) }

// Slice materializes [start, stop) as a single Arrow array, stitching across
// segment boundaries when the range spans more than one segment. The caller
// owns the result.
func (c *Column) Slice(start, stop int) (any, error) {
	arr, err := c.sliceArray(start, stop)
	if err != nil {
		return nil, err
	}
	return arr, nil
}

func (c *Column) sliceArray(start, stop int) (arrow.Array, error) {
	if start < 0 || stop < start || stop > c.length {
		return nil, fmt.Errorf("column: slice [%d:%d) out of range [0:%d)", start, stop, c.length)
	}
	if start == stop {
		return array.NewSlice(c.segments[0], 0, 0), nil
	}
	var pieces []arrow.Array
	offset := 0
	for _, seg := range c.segments {
		segStart, segStop := offset, offset+seg.Len()
		offset = segStop
		lo, hi := max(start, segStart), min(stop, segStop)
		if lo >= hi {
			continue
		}
		pieces = append(pieces, array.NewSlice(seg, int64(lo-segStart), int64(hi-segStart)))
	}
	if len(pieces) == 1 {
		return pieces[0], nil
	}
	out, err := array.Concatenate(pieces, c.mem)
	for _, p := range pieces {
		p.Release()
	}
	if err != nil {
		return nil, fmt.Errorf("column: concatenating slice pieces: %w", err)
	}
	return out, nil
}

// Elements returns a cursor over all elements in order.
func (c *Column) Elements() Cursor {
	return &columnCursor{col: c}
}

// Release releases the backing segments.
func (c *Column) Release() {
	for _, seg := range c.segments {
		seg.Release()
	}
	c.segments = nil
	c.length = 0
}

type columnCursor struct {
	col *Column
	seg int
	idx int
}

func (cur *columnCursor) Next() (any, bool, error) {
	for cur.seg < len(cur.col.segments) {
		seg := cur.col.segments[cur.seg]
		if cur.idx < seg.Len() {
			v, err := ValueAt(seg, cur.idx)
			if err != nil {
				return nil, false, err
			}
			cur.idx++
			return v, true, nil
		}
		cur.seg++
		cur.idx = 0
	}
	return nil, false, nil
}

// ValueAt returns element i of arr as a Go scalar. Array types outside the
// engine's scalar set (int64, float64, string, bool) are an error, not a
// panic, so that a source built over an arbitrary Arrow column fails cleanly.
func ValueAt(arr arrow.Array, i int) (any, error) {
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.Boolean:
		return a.Value(i), nil
	default:
		return nil, fmt.Errorf("source: unsupported array type %T", arr)
	}
}
