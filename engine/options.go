package engine

import (
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/chunkwise/chunkwise/internal/config"
	"github.com/chunkwise/chunkwise/internal/parallel"
)

// Option configures an Engine.
type Option func(*Engine)

// WithChunkSize sets the number of elements per partition for the chunked
// execution path.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithAvailableMemory injects the available-memory report the fits-in-memory
// policy consults. The default reads free memory from the host; tests
// substitute a fixed value for deterministic strategy selection.
func WithAvailableMemory(fn AvailableFunc) Option {
	return func(e *Engine) {
		e.policy = newMemoryPolicy(fn)
	}
}

// WithAllocator sets the Arrow allocator for materialized intermediates.
func WithAllocator(mem memory.Allocator) Option {
	return func(e *Engine) {
		if mem != nil {
			e.mem = mem
		}
	}
}

// WithMapper injects the per-partition mapping strategy. The default is the
// sequential map; parallel.Parallel(n) fans out across goroutines. Either
// way chunk results reach the merge step in original partition order.
func WithMapper(m parallel.Mapper) Option {
	return func(e *Engine) {
		if m != nil {
			e.mapper = m
		}
	}
}

// WithParallelism is shorthand for WithMapper(parallel.Parallel(workers)).
// Zero or negative workers selects the sequential default.
func WithParallelism(workers int) Option {
	return func(e *Engine) {
		if workers > 0 {
			e.mapper = parallel.Parallel(workers)
		}
	}
}

// WithLogger sets the logger for strategy-decision debug records. The
// default logger discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithConfig applies a configuration: chunk size, worker pool size and
// memory limit map onto the corresponding options.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) {
		if cfg.ChunkSize > 0 {
			e.chunkSize = cfg.ChunkSize
		}
		if cfg.WorkerPoolSize > 0 {
			e.mapper = parallel.Parallel(cfg.WorkerPoolSize)
		}
		if cfg.MemoryLimit > 0 {
			e.policy = newMemoryPolicy(FixedAvailable(uint64(cfg.MemoryLimit)))
		}
	}
}
