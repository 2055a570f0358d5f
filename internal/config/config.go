// Package config provides configuration management for the chunkwise engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config represents the global configuration for engine execution.
type Config struct {
	// ChunkSize is the number of elements per partition for the chunked
	// execution path (0 = default).
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`
	// WorkerPoolSize is the number of goroutines for the parallel mapping
	// strategy (0 = sequential, the default).
	WorkerPoolSize int `json:"worker_pool_size" yaml:"worker_pool_size"`
	// MemoryLimit overrides the reported available memory in bytes
	// (0 = read from the host). Useful for deterministic tests and for
	// capping the engine below what the host reports.
	MemoryLimit int64 `json:"memory_limit" yaml:"memory_limit"`
	// VerboseLogging enables debug logging of strategy decisions.
	VerboseLogging bool `json:"verbose_logging" yaml:"verbose_logging"`
}

// DefaultChunkSize is the partition size used when none is configured.
const DefaultChunkSize = 1 << 20

// NewConfig creates a new configuration with default values.
func NewConfig() Config {
	return Config{
		ChunkSize:      DefaultChunkSize,
		WorkerPoolSize: 0,
		MemoryLimit:    0,
		VerboseLogging: false,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.ChunkSize < 0 {
		return fmt.Errorf("ChunkSize must be non-negative, got %d", c.ChunkSize)
	}
	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("WorkerPoolSize must be non-negative, got %d", c.WorkerPoolSize)
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("MemoryLimit must be non-negative, got %d", c.MemoryLimit)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, chosen by
// extension. Fields absent from the file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := NewConfig()
	data, err := os.ReadFile(path) //nolint:gosec // config path is caller-controlled
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing json config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Environment variable names recognized by LoadFromEnv.
const (
	EnvChunkSize      = "CHUNKWISE_CHUNK_SIZE"
	EnvWorkerPoolSize = "CHUNKWISE_WORKER_POOL_SIZE"
	EnvMemoryLimit    = "CHUNKWISE_MEMORY_LIMIT"
	EnvVerboseLogging = "CHUNKWISE_VERBOSE_LOGGING"
)

// LoadFromEnv overlays environment variables onto cfg. Unset variables leave
// the corresponding field unchanged; malformed values are an error.
func LoadFromEnv(cfg Config) (Config, error) {
	if v := os.Getenv(EnvChunkSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvChunkSize, err)
		}
		cfg.ChunkSize = n
	}
	if v := os.Getenv(EnvWorkerPoolSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvWorkerPoolSize, err)
		}
		cfg.WorkerPoolSize = n
	}
	if v := os.Getenv(EnvMemoryLimit); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvMemoryLimit, err)
		}
		cfg.MemoryLimit = n
	}
	if v := os.Getenv(EnvVerboseLogging); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvVerboseLogging, err)
		}
		cfg.VerboseLogging = b
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Global configuration instance.
var (
	globalConfig = NewConfig()
	configMutex  sync.RWMutex
)

// GetGlobalConfig returns a copy of the global configuration.
func GetGlobalConfig() Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetGlobalConfig replaces the global configuration after validating it.
func SetGlobalConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
	return nil
}
