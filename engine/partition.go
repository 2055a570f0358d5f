package engine

import (
	"fmt"
)

// Partition is a half-open index range [Start, Stop) over a source's primary
// axis.
type Partition struct {
	Start int
	Stop  int
}

// Len returns the number of elements the partition covers.
func (p Partition) Len() int { return p.Stop - p.Start }

func (p Partition) String() string { return fmt.Sprintf("[%d:%d)", p.Start, p.Stop) }

// Plan derives the ordered partitioning of a source of the given length into
// chunks of chunkSize elements. A plan is a pure value: partitions are
// re-derived from (length, chunkSize) on every access, so iterating a plan is
// stateless and restartable.
type Plan struct {
	length    int
	chunkSize int
}

// NewPlan validates and creates a partition plan. chunkSize must be at least
// one; length may be zero, producing an empty plan.
func NewPlan(length, chunkSize int) (Plan, error) {
	if length < 0 {
		return Plan{}, fmt.Errorf("plan: negative length %d", length)
	}
	if chunkSize < 1 {
		return Plan{}, fmt.Errorf("plan: chunk size must be at least 1, got %d", chunkSize)
	}
	return Plan{length: length, chunkSize: chunkSize}, nil
}

// Count returns the number of partitions: ceil(length / chunkSize).
func (p Plan) Count() int {
	if p.length == 0 {
		return 0
	}
	return (p.length + p.chunkSize - 1) / p.chunkSize
}

// At returns partition i. The final partition may be shorter than the chunk
// size.
func (p Plan) At(i int) Partition {
	start := i * p.chunkSize
	stop := start + p.chunkSize
	if stop > p.length {
		stop = p.length
	}
	return Partition{Start: start, Stop: stop}
}

// Partitions returns all partitions in order. Together they cover
// [0, length) exactly once with no gaps or overlaps.
func (p Plan) Partitions() []Partition {
	out := make([]Partition, p.Count())
	for i := range out {
		out[i] = p.At(i)
	}
	return out
}
