package engine

import (
	"github.com/pbnjay/memory"
)

// memoryMargin is the divisor applied to available memory when deciding
// whether data comfortably fits. The quarter fraction reserves headroom for
// the materialized copy, the evaluator's working set, and any dense
// index or intermediate duplicate a selection or distinct step produces.
const memoryMargin = 4

// AvailableFunc reports currently available memory in bytes. It is queried
// at every decision point rather than memoized, since availability changes
// over the lifetime of a long query.
type AvailableFunc func() uint64

// hostAvailable reads free memory from the host.
func hostAvailable() uint64 {
	return memory.FreeMemory()
}

// FixedAvailable returns an AvailableFunc reporting a constant value, for
// deterministic tests and hard caps.
func FixedAvailable(n uint64) AvailableFunc {
	return func() uint64 { return n }
}

// memoryPolicy answers "does this data comfortably fit in memory?". The
// check is advisory: nothing is reserved, and two concurrent queries may
// both pass it and still compete for the same physical memory.
type memoryPolicy struct {
	available AvailableFunc
}

func newMemoryPolicy(available AvailableFunc) memoryPolicy {
	if available == nil {
		available = hostAvailable
	}
	return memoryPolicy{available: available}
}

// fits reports whether byteSize bytes fit comfortably below the
// safety-margined fraction of available memory.
func (p memoryPolicy) fits(byteSize int64) bool {
	if byteSize < 0 {
		return false
	}
	return uint64(byteSize) < p.available()/memoryMargin
}
