// Package config provides unified configuration for cubeforge build jobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for a cube build job.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// CubeDescPath is the path to the cube descriptor file (YAML or JSON)
	CubeDescPath string `json:"cube_desc_path" yaml:"cube_desc_path"`

	// Build configuration
	Build BuildConfig `json:"build" yaml:"build"`

	// Shuffle configuration
	Shuffle ShuffleConfig `json:"shuffle" yaml:"shuffle"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// BuildConfig holds build phase configuration.
type BuildConfig struct {
	// CollectStatistics controls whether cuboid cardinality sketches are built
	CollectStatistics bool `json:"collect_statistics" yaml:"collect_statistics"`

	// NullMarker is the input token treated as a null field value
	NullMarker string `json:"null_marker" yaml:"null_marker"`

	// SplitConcurrency is the number of input splits processed in parallel
	SplitConcurrency int `json:"split_concurrency" yaml:"split_concurrency"`

	// MaxRowErrors is the number of malformed rows tolerated per split
	// before the split fails (-1 for unlimited)
	MaxRowErrors int `json:"max_row_errors" yaml:"max_row_errors"`

	// SplitTimeout bounds the processing time of a single split
	SplitTimeout time.Duration `json:"split_timeout" yaml:"split_timeout"`
}

// ShuffleConfig holds shuffle output configuration.
type ShuffleConfig struct {
	// SegmentDir is the directory for staged shuffle segments
	SegmentDir string `json:"segment_dir" yaml:"segment_dir"`

	// Partitions is the number of downstream shuffle partitions
	Partitions int `json:"partitions" yaml:"partitions"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/cubeforge",
		Build: BuildConfig{
			CollectStatistics: true,
			NullMarker:        `\N`,
			SplitConcurrency:  4,
			MaxRowErrors:      100,
			SplitTimeout:      30 * time.Minute,
		},
		Shuffle: ShuffleConfig{
			SegmentDir: "",
			Partitions: 1,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/cubeforge"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}

	if c.Shuffle.SegmentDir == "" {
		c.Shuffle.SegmentDir = filepath.Join(c.DataDir, "segments")
	}
}

// CatalogPath returns the path to the statistics catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.CubeDescPath == "" {
		return fmt.Errorf("cube_desc_path is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Build.SplitConcurrency < 1 {
		return fmt.Errorf("build.split_concurrency must be at least 1, got %d", c.Build.SplitConcurrency)
	}

	if c.Build.NullMarker == "" {
		return fmt.Errorf("build.null_marker must not be empty")
	}

	if c.Shuffle.Partitions < 1 {
		return fmt.Errorf("shuffle.partitions must be at least 1, got %d", c.Shuffle.Partitions)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CUBEFORGE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CUBEFORGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CUBEFORGE_CUBE_DESC_PATH"); v != "" {
		cfg.CubeDescPath = v
	}

	// Build configuration
	if v := os.Getenv("CUBEFORGE_BUILD_COLLECT_STATISTICS"); v != "" {
		cfg.Build.CollectStatistics = v == "true" || v == "1"
	}
	if v := os.Getenv("CUBEFORGE_BUILD_NULL_MARKER"); v != "" {
		cfg.Build.NullMarker = v
	}
	if v := os.Getenv("CUBEFORGE_BUILD_SPLIT_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Build.SplitConcurrency)
	}
	if v := os.Getenv("CUBEFORGE_BUILD_MAX_ROW_ERRORS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Build.MaxRowErrors)
	}
	if v := os.Getenv("CUBEFORGE_BUILD_SPLIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Build.SplitTimeout = d
		}
	}

	// Shuffle configuration
	if v := os.Getenv("CUBEFORGE_SHUFFLE_SEGMENT_DIR"); v != "" {
		cfg.Shuffle.SegmentDir = v
	}
	if v := os.Getenv("CUBEFORGE_SHUFFLE_PARTITIONS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Shuffle.Partitions)
	}

	// Storage configuration
	if v := os.Getenv("CUBEFORGE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CUBEFORGE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("CUBEFORGE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("CUBEFORGE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("CUBEFORGE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Storage.Path,
		c.Shuffle.SegmentDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
