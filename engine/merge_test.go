package engine

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chunkerr "github.com/chunkwise/chunkwise/internal/errors"
)

func int64Array(mem memory.Allocator, values ...int64) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(values, nil)
	return b.NewArray()
}

func int64Record(mem memory.Allocator, values ...int64) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)
	col := int64Array(mem, values...)
	defer col.Release()
	return array.NewRecord(schema, []arrow.Array{col}, int64(len(values)))
}

// A concatenation failure must still release the chunk results, so a
// counting allocator ends balanced.
func TestMergePartsReleasesOnConcatenateError(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	parts := []any{
		int64Array(mem, 1, 2),
		float64Array(mem, 3.5),
	}

	_, err := mergeParts(parts, mem)
	require.Error(t, err)
	mem.AssertSize(t, 0)
}

func TestMergePartsEmpty(t *testing.T) {
	_, err := mergeParts(nil, memory.NewGoAllocator())
	assert.True(t, chunkerr.IsKind(err, chunkerr.KindInvalidInput))
}

// Merging a single part must be the identity: no wrapping, no copying.
func TestMergePartsSingleIsIdentity(t *testing.T) {
	mem := memory.NewGoAllocator()
	arr := int64Array(mem, 1, 2, 3)
	defer arr.Release()

	out, err := mergeParts([]any{arr}, mem)
	require.NoError(t, err)
	assert.Same(t, any(arr), out)

	scalar, err := mergeParts([]any{int64(42)}, mem)
	require.NoError(t, err)
	assert.Equal(t, int64(42), scalar)
}

func TestMergePartsArrays(t *testing.T) {
	mem := memory.NewGoAllocator()
	parts := []any{
		int64Array(mem, 1, 2),
		int64Array(mem, 3),
		int64Array(mem, 4, 5, 6),
	}

	out, err := mergeParts(parts, mem)
	require.NoError(t, err)

	arr, ok := out.(*array.Int64)
	require.True(t, ok)
	defer arr.Release()
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, arr.Int64Values())
}

func TestMergePartsRecords(t *testing.T) {
	mem := memory.NewGoAllocator()
	parts := []any{
		int64Record(mem, 1, 2),
		int64Record(mem, 3, 4, 5),
	}

	out, err := mergeParts(parts, mem)
	require.NoError(t, err)

	rec, ok := out.(arrow.Record)
	require.True(t, ok)
	defer rec.Release()
	assert.Equal(t, int64(5), rec.NumRows())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, rec.Column(0).(*array.Int64).Int64Values())
}

func TestMergePartsSequences(t *testing.T) {
	out, err := mergeParts([]any{
		[]any{int64(1), int64(2)},
		[]any{},
		[]any{int64(3)},
	}, memory.NewGoAllocator())

	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, out)
}

func TestMergePartsAllEmptySequences(t *testing.T) {
	out, err := mergeParts([]any{[]any{}, []any{}}, memory.NewGoAllocator())
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)
}

func TestMergePartsMixedShapes(t *testing.T) {
	mem := memory.NewGoAllocator()
	arr := int64Array(mem, 1)
	defer arr.Release()

	_, err := mergeParts([]any{arr, []any{int64(2)}}, mem)
	assert.True(t, chunkerr.IsKind(err, chunkerr.KindInvalidInput))
}

func TestMergePartsUnsupportedType(t *testing.T) {
	_, err := mergeParts([]any{int64(1), int64(2)}, memory.NewGoAllocator())
	assert.True(t, chunkerr.IsKind(err, chunkerr.KindUnsupported))
}
