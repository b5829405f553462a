// Package config holds the collection store's configuration.
package config

import "time"

// CompressionAlgorithm selects the WAL payload codec.
type CompressionAlgorithm string

const (
	CompressionNone CompressionAlgorithm = "none"
	CompressionGzip CompressionAlgorithm = "gzip"
	CompressionLZ4  CompressionAlgorithm = "lz4"
)

// CompressionConfig configures the Compression Codec.
type CompressionConfig struct {
	Algorithm CompressionAlgorithm `json:"algorithm"`
	Level     int                  `json:"level"`     // gzip levels 1..9
	Threshold int                  `json:"threshold"` // bytes
}

// WALConfig configures the Log Store and Compression Codec.
type WALConfig struct {
	// Path is the substrate location; ":memory:" selects the in-memory backend.
	Path string `json:"wal_path"`

	// FlushIntervalMS is the periodic flush tick in milliseconds; 0 disables it.
	FlushIntervalMS int `json:"flush_interval_ms"`

	// MaxBufferSize is the buffer high-water count that forces a flush.
	MaxBufferSize int `json:"max_buffer_size"`

	// EnableChecksums signs every appended entry and verifies on read.
	EnableChecksums bool `json:"enable_checksums"`

	// EnableCompression turns on the Compression Codec for DATA payloads.
	EnableCompression bool `json:"enable_compression"`

	// Compression is the codec configuration; only consulted when EnableCompression is true.
	Compression CompressionConfig `json:"compression"`
}

// FlushInterval returns FlushIntervalMS as a time.Duration.
func (c WALConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// Config is the collection store's top-level configuration.
type Config struct {
	DataDir string    `json:"data_dir"`
	WAL     WALConfig `json:"wal"`
}

// DefaultConfig returns a file-backed configuration suitable for production use.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		WAL: WALConfig{
			Path:              "./data/wal.log",
			FlushIntervalMS:   1000,
			MaxBufferSize:     100,
			EnableChecksums:   true,
			EnableCompression: false,
			Compression: CompressionConfig{
				Algorithm: CompressionGzip,
				Level:     6,
				Threshold: 100,
			},
		},
	}
}

// MemoryConfig returns a configuration backed by the in-memory Log
// Store, with no durability, for fast tests and throwaway workloads.
func MemoryConfig() *Config {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.WAL.Path = ":memory:"
	cfg.WAL.FlushIntervalMS = 0
	cfg.WAL.MaxBufferSize = 1000
	return cfg
}

// DiskConfig returns a configuration rooted at dataDir with a file-backed WAL.
func DiskConfig(dataDir string) *Config {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir
	cfg.WAL.Path = dataDir + "/wal.log"
	return cfg
}
