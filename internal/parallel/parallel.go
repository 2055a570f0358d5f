// Package parallel provides the per-partition mapping strategies used by the
// chunk executor. Chunk evaluations are pure functions of one materialized
// slice and the immutable expression tree, so they run sequentially or
// fanned out across goroutines interchangeably; results land in their
// original slot either way, preserving partition order for the merge step.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Mapper applies fn to every index in [0, n). Implementations must call fn
// exactly once per index and return the first error encountered, at which
// point the remaining work may be abandoned.
type Mapper func(n int, fn func(int) error) error

// Sequential maps in index order on the calling goroutine. This is the
// default strategy.
func Sequential(n int, fn func(int) error) error {
	for i := 0; i < n; i++ {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

// Parallel returns a mapper that fans work out over at most workers
// goroutines. A non-positive worker count defaults to the CPU count. The
// first error cancels the remaining work and is returned.
func Parallel(workers int) Mapper {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return func(n int, fn func(int) error) error {
		var g errgroup.Group
		g.SetLimit(workers)
		for i := 0; i < n; i++ {
			g.Go(func() error { return fn(i) })
		}
		return g.Wait()
	}
}

// MapIndexed applies fn to every item and collects the results in input
// order, regardless of the mapper's scheduling.
func MapIndexed[T, R any](m Mapper, items []T, fn func(int, T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if m == nil {
		m = Sequential
	}
	results := make([]R, len(items))
	err := m(len(items), func(i int) error {
		r, err := fn(i, items[i])
		if err != nil {
			return err
		}
		results[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
