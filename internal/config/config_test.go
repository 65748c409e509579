package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VANTAGE_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Collecting)
	assert.True(t, cfg.ExperimentsStartEnabled)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("VANTAGE_DATA_DIR", t.TempDir())
	t.Setenv("VANTAGE_STORE", StoreBadger)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("VANTAGE_COLLECTING", "false")
	t.Setenv("VANTAGE_EXPERIMENTS_START_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreBadger, cfg.Store)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Collecting)
	assert.False(t, cfg.ExperimentsStartEnabled)
}

func TestLoad_RejectsUnknownStore(t *testing.T) {
	t.Setenv("VANTAGE_DATA_DIR", t.TempDir())
	t.Setenv("VANTAGE_STORE", "redis")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, store := range []string{StoreMemory, StoreSQLite, StoreBadger} {
		cfg := &Config{Store: store}
		assert.NoError(t, cfg.Validate(), "store %s should validate", store)
	}

	cfg := &Config{Store: "etcd"}
	assert.Error(t, cfg.Validate())
}
