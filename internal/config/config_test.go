package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.CubeDescPath = "cube.yaml"
	return cfg
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := validConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join(cfg.DataDir, "storage"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "segments"), cfg.Shuffle.SegmentDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "catalog.db"), cfg.CatalogPath())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing cube desc", func(c *Config) { c.CubeDescPath = "" }},
		{"bad storage type", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"zero concurrency", func(c *Config) { c.Build.SplitConcurrency = 0 }},
		{"empty null marker", func(c *Config) { c.Build.NullMarker = "" }},
		{"zero partitions", func(c *Config) { c.Shuffle.Partitions = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
data_dir: /tmp/cf
cube_desc_path: sales.yaml
build:
  collect_statistics: false
  split_concurrency: 8
shuffle:
  partitions: 4
storage:
  type: s3
  s3:
    bucket: cf-segments
    region: us-east-1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cf", cfg.DataDir)
	assert.Equal(t, "sales.yaml", cfg.CubeDescPath)
	assert.False(t, cfg.Build.CollectStatistics)
	assert.Equal(t, 8, cfg.Build.SplitConcurrency)
	assert.Equal(t, 4, cfg.Shuffle.Partitions)
	assert.Equal(t, "cf-segments", cfg.Storage.S3.Bucket)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, `\N`, cfg.Build.NullMarker)
}

func TestLoadFromFileUnsupportedExt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("CUBEFORGE_DATA_DIR", "/var/lib/cf")
	t.Setenv("CUBEFORGE_BUILD_COLLECT_STATISTICS", "false")
	t.Setenv("CUBEFORGE_BUILD_SPLIT_CONCURRENCY", "16")
	t.Setenv("CUBEFORGE_BUILD_SPLIT_TIMEOUT", "90s")
	t.Setenv("CUBEFORGE_STORAGE_TYPE", "s3")
	t.Setenv("CUBEFORGE_S3_BUCKET", "bkt")

	cfg := validConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/var/lib/cf", cfg.DataDir)
	assert.False(t, cfg.Build.CollectStatistics)
	assert.Equal(t, 16, cfg.Build.SplitConcurrency)
	assert.Equal(t, 90*time.Second, cfg.Build.SplitTimeout)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "bkt", cfg.Storage.S3.Bucket)
}

func TestEnsureDirectories(t *testing.T) {
	cfg := validConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "cf")
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.DataDir, cfg.Storage.Path, cfg.Shuffle.SegmentDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
