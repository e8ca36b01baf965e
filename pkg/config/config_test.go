package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5057, cfg.Port)
	assert.Equal(t, "postgres", cfg.PostgresUser)
	assert.Equal(t, 5434, cfg.PostgresPort)
	assert.Equal(t, int32(5), cfg.PostgresMinPoolSize)
	assert.Equal(t, int32(20), cfg.PostgresMaxPoolSize)
	assert.Equal(t, 60*time.Second, cfg.PostgresCommandTimeout)
	assert.Equal(t, 60*time.Second, cfg.WorkspaceCacheWarmUpInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("POSTGRES_TIMEOUT", "5")
	t.Setenv("WORKSPACE_BACKGROUND_CACHE_WARM_UP_INTERVAL", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.PostgresTimeout)
	assert.Equal(t, 10*time.Second, cfg.WorkspaceCacheWarmUpInterval)
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "70000")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvertedPoolSizes(t *testing.T) {
	t.Setenv("POSTGRES_MIN_POOL_SIZE", "30")
	t.Setenv("POSTGRES_MAX_POOL_SIZE", "10")
	_, err := Load()
	assert.Error(t, err)
}

func TestDataDir(t *testing.T) {
	t.Setenv("DATA_PATH", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	dir := cfg.DataDir("backups")
	assert.Equal(t, filepath.Join(cfg.DataPath, "backups"), dir)
	assert.DirExists(t, dir)
}
