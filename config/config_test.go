package config

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigStringDefaults(t *testing.T) {
	cfg, err := LoadConfigString(`database_path: /data/ixbrl.db`)
	require.NoError(t, err)
	assert.Equal(t, "/data/ixbrl.db", cfg.DatabasePath)
	assert.Equal(t, defaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, defaultCommitBatchSize, cfg.CommitBatchSize)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
}

func TestLoadConfigStringOverrides(t *testing.T) {
	raw := `
database_path: ixbrl.db
chunk_size: 250
commit_batch_size: 50
workers: 8
log_level: debug
`
	cfg, err := LoadConfigString(raw)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.CommitBatchSize)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigStringInvalidYAML(t *testing.T) {
	_, err := LoadConfigString("database_path: [unterminated")
	assert.Error(t, err)
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfigFile("/no/such/path/ixbrlload.yaml")
	assert.Error(t, err)
}

func TestDefaultAppliesEveryDefault(t *testing.T) {
	cfg := Default("ixbrl.db")
	assert.Equal(t, "ixbrl.db", cfg.DatabasePath)
	assert.Equal(t, defaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, defaultCommitBatchSize, cfg.CommitBatchSize)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
}

func TestValidateRejectsNegativeChunkSizeByFallingBackToDefault(t *testing.T) {
	cfg := &Config{DatabasePath: "x.db", ChunkSize: -5, Workers: -1}
	require.NoError(t, cfg.validate())
	assert.Equal(t, defaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
}
