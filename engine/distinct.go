package engine

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cespare/xxhash/v2"

	chunkerr "github.com/chunkwise/chunkwise/internal/errors"
	"github.com/chunkwise/chunkwise/source"
)

func elementAt(arr arrow.Array, i int) (any, error) {
	v, err := source.ValueAt(arr, i)
	if err != nil {
		return nil, chunkerr.NewUnsupported("Element", err.Error())
	}
	return v, nil
}

// distinctSet is an exact set over the scalar element types the engine
// handles. String members are bucketed by xxhash with the originals kept for
// equality, so hash collisions cannot miscount.
type distinctSet struct {
	ints   map[int64]struct{}
	floats map[float64]struct{}
	bools  map[bool]struct{}
	strs   map[uint64][]string
	count  int
}

func newDistinctSet() *distinctSet {
	return &distinctSet{
		ints:   make(map[int64]struct{}),
		floats: make(map[float64]struct{}),
		bools:  make(map[bool]struct{}),
		strs:   make(map[uint64][]string),
	}
}

// add inserts v and reports whether it was not already present. Element
// types outside the scalar set are an error, never a silent drop.
func (s *distinctSet) add(v any) (bool, error) {
	switch x := v.(type) {
	case int64:
		if _, ok := s.ints[x]; ok {
			return false, nil
		}
		s.ints[x] = struct{}{}
	case float64:
		if _, ok := s.floats[x]; ok {
			return false, nil
		}
		s.floats[x] = struct{}{}
	case bool:
		if _, ok := s.bools[x]; ok {
			return false, nil
		}
		s.bools[x] = struct{}{}
	case string:
		h := xxhash.Sum64String(x)
		for _, seen := range s.strs[h] {
			if seen == x {
				return false, nil
			}
		}
		s.strs[h] = append(s.strs[h], x)
	default:
		return false, chunkerr.NewUnsupported("Distinct", fmt.Sprintf("unsupported element type %T", v))
	}
	s.count++
	return true, nil
}

func (s *distinctSet) size() int { return s.count }
