// Package config loads tuning knobs from defaults, an optional YAML
// file, and TABFLOW_* environment overrides, in that order.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	tferrors "github.com/tabflow/tabflow/pkg/errors"
)

// Config holds every runtime knob.
type Config struct {
	// Workers caps parallel parsing and saving. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`
	// BatchMax clamps every computed batch size.
	BatchMax int `yaml:"batch_max"`
	// BufferSizeKB sizes the read buffer for delimited inputs.
	BufferSizeKB int `yaml:"buffer_size_kb"`
	// Delimiter for CSV inputs, a single character.
	Delimiter string `yaml:"delimiter"`
	// MemoryThresholdMB forces streaming past this input size.
	MemoryThresholdMB int64 `yaml:"memory_threshold_mb"`
	// MemoryLimitMB caps the heap; 0 derives it from the runtime.
	MemoryLimitMB int64 `yaml:"memory_limit_mb"`
	// ParallelRowThreshold is the row estimate past which parsing fans out.
	ParallelRowThreshold int64 `yaml:"parallel_row_threshold"`
	// JoinTimeout bounds the parallel worker barrier.
	JoinTimeout time.Duration `yaml:"join_timeout"`
	// IdentityFields is how many leading schema fields identify a row.
	IdentityFields int `yaml:"identity_fields"`

	Store   StoreConfig   `yaml:"store"`
	Export  ExportConfig  `yaml:"export"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Watch   WatchConfig   `yaml:"watch"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Kind is memory, postgres or redis.
	Kind  string `yaml:"kind"`
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`

	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`

	// SerialChunkRows and ParallelChunkRows tune the save orchestration.
	SerialChunkRows   int `yaml:"serial_chunk_rows"`
	ParallelChunkRows int `yaml:"parallel_chunk_rows"`
}

// ExportConfig tunes the export pipeline.
type ExportConfig struct {
	// PageSize rows fetched per producer claim.
	PageSize int `yaml:"page_size"`
	// QueueDepth bounds the producer/writer queue in pages.
	QueueDepth int `yaml:"queue_depth"`
	// SequentialBelowRows skips the pipeline for small exports.
	SequentialBelowRows int64 `yaml:"sequential_below_rows"`
	// Gzip compresses CSV output.
	Gzip bool `yaml:"gzip"`
	// BOM prepends a UTF-8 byte order mark to CSV output so older
	// spreadsheet tools detect the encoding.
	BOM bool `yaml:"bom"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// WatchConfig controls the directory watcher.
type WatchConfig struct {
	Dir string `yaml:"dir"`
	// DebounceMS delays import after the last write event so partially
	// copied files settle.
	DebounceMS int `yaml:"debounce_ms"`
	// DeleteAfter removes inputs that imported cleanly.
	DeleteAfter bool `yaml:"delete_after"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BatchMax:             10000,
		BufferSizeKB:         256,
		Delimiter:            ",",
		MemoryThresholdMB:    256,
		ParallelRowThreshold: 30000,
		JoinTimeout:          10 * time.Minute,
		IdentityFields:       2,
		Store: StoreConfig{
			Kind:              "memory",
			Table:             "records",
			RedisPrefix:       "tabflow",
			SerialChunkRows:   10000,
			ParallelChunkRows: 30000,
		},
		Export: ExportConfig{
			PageSize:            5000,
			QueueDepth:          8,
			SequentialBelowRows: 10000,
			BOM:                 true,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9090"},
		Watch:   WatchConfig{DebounceMS: 500},
	}
}

// Load layers an optional YAML file and environment overrides on the
// defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, tferrors.FileNotFound(path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, tferrors.Wrap(err, tferrors.CodeInvalidFormat, "parse config").
				WithContext("path", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TABFLOW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv("TABFLOW_BATCH_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BatchMax = n
		}
	}
	if v := os.Getenv("TABFLOW_MEMORY_THRESHOLD_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MemoryThresholdMB = n
		}
	}
	if v := os.Getenv("TABFLOW_STORE_KIND"); v != "" {
		c.Store.Kind = v
	}
	if v := os.Getenv("TABFLOW_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("TABFLOW_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("TABFLOW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.BatchMax <= 0 {
		return tferrors.New(tferrors.CodeInvalidFormat, "batch_max must be positive")
	}
	if len(c.Delimiter) != 1 {
		return tferrors.New(tferrors.CodeInvalidFormat, "delimiter must be one character").
			WithContext("delimiter", c.Delimiter)
	}
	switch c.Store.Kind {
	case "memory", "postgres", "redis":
	default:
		return tferrors.New(tferrors.CodeInvalidFormat, "unknown store kind").
			WithContext("kind", c.Store.Kind)
	}
	if c.Store.Kind == "postgres" && c.Store.DSN == "" {
		return tferrors.New(tferrors.CodeInvalidFormat, "postgres store requires a dsn")
	}
	if c.Store.Kind == "redis" && c.Store.RedisAddr == "" {
		return tferrors.New(tferrors.CodeInvalidFormat, "redis store requires an address")
	}
	if c.Workers < 0 {
		return tferrors.New(tferrors.CodeInvalidFormat, "workers cannot be negative")
	}
	return nil
}

// DelimiterByte returns the CSV delimiter as a byte.
func (c *Config) DelimiterByte() byte { return c.Delimiter[0] }

// BufferSize returns the read buffer size in bytes.
func (c *Config) BufferSize() int { return c.BufferSizeKB << 10 }
