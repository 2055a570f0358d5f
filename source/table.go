package source

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Table is an in-memory tabular source backed by one Arrow record batch.
type Table struct {
	rec arrow.Record
	mem memory.Allocator
}

// NewTable creates a table over rec, taking over the caller's reference.
func NewTable(rec arrow.Record, mem memory.Allocator) *Table {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &Table{rec: rec, mem: mem}
}

// Len returns the row count.
func (t *Table) Len() int { return int(t.rec.NumRows()) }

// Schema returns the column schema.
func (t *Table) Schema() *arrow.Schema { return t.rec.Schema() }

// NumBytes returns the total byte size of the backing column buffers.
func (t *Table) NumBytes() int64 {
	var n int64
	for i := 0; i < int(t.rec.NumCols()); i++ {
		n += byteSize(t.rec.Column(i))
	}
	return n
}

// Slice materializes rows [start, stop) as a record batch sharing the backing
// buffers. The caller owns the result.
func (t *Table) Slice(start, stop int) (any, error) {
	if start < 0 || stop < start || stop > t.Len() {
		return nil, fmt.Errorf("table: slice [%d:%d) out of range [0:%d)", start, stop, t.Len())
	}
	return t.rec.NewSlice(int64(start), int64(stop)), nil
}

// Elements returns a cursor yielding one Row per record.
func (t *Table) Elements() Cursor {
	return &tableCursor{tab: t}
}

// Release releases the backing record.
func (t *Table) Release() {
	if t.rec != nil {
		t.rec.Release()
		t.rec = nil
	}
}

type tableCursor struct {
	tab *Table
	idx int
}

func (cur *tableCursor) Next() (any, bool, error) {
	if cur.idx >= cur.tab.Len() {
		return nil, false, nil
	}
	rec := cur.tab.rec
	row := make(Row, rec.NumCols())
	for c := 0; c < int(rec.NumCols()); c++ {
		v, err := ValueAt(rec.Column(c), cur.idx)
		if err != nil {
			return nil, false, err
		}
		row[rec.Schema().Field(c).Name] = v
	}
	cur.idx++
	return row, true, nil
}
