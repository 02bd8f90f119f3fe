package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "events", cfg.Table.Prefix)
	assert.Equal(t, "SNAPPY", cfg.Table.Codec)
	assert.Equal(t, "local", cfg.ObjectStore.Backend)
	assert.Equal(t, "./data", cfg.ObjectStore.LocalDir)
	assert.EqualValues(t, 8, cfg.Merge.MaxFileCount)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "icetable.yaml")
	yaml := []byte("table:\n  prefix: events2\n  codec: ZSTD\nobject_store:\n  backend: local\n  local_dir: /tmp/icetable-data\nmerge:\n  max_file_count: 4\n  max_file_size: 1048576\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "events2", cfg.Table.Prefix)
	assert.Equal(t, "ZSTD", cfg.Table.Codec)
	assert.EqualValues(t, 4, cfg.Merge.MaxFileCount)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("ICETABLE_PREFIX", "from-env")
	t.Setenv("ICETABLE_CODEC", "GZIP")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Table.Prefix)
	assert.Equal(t, "GZIP", cfg.Table.Codec)
}

func TestValidateConfigRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.ObjectStore.Backend = "azure"

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestValidateConfigRejectsTooSmallMaxFileCount(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Merge.MaxFileCount = 1

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_file_count must be at least 2")
}
