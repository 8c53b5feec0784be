package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "WOC_STORE", "WOC_ACCESS_TTL_SECONDS", "WOC_TX_RETRIES", "REDIS_URL", "WOC_LOG_PRETTY"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, StoreBolt, cfg.Store)
	assert.Equal(t, 24*time.Hour, cfg.AccessTTL)
	assert.Equal(t, 3, cfg.TxRetries)
	assert.Equal(t, 256, cfg.MaxTreeDepth)
	assert.Empty(t, cfg.RedisURL)
	assert.False(t, cfg.LogPretty)
}

func TestLoadOverridesAndBadValues(t *testing.T) {
	t.Setenv("WOC_STORE", "Postgres")
	t.Setenv("WOC_TX_RETRIES", "not-a-number")
	t.Setenv("WOC_LOG_PRETTY", "true")
	t.Setenv("WOC_INBOX_LIMIT", "10")

	cfg := Load()
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 3, cfg.TxRetries)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, 10, cfg.InboxLimit)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WOC_TEST_ONLY_KEY=from-file\nAPI_ADDR=:9999\n"), 0o600))
	t.Setenv("API_ADDR", ":7000")
	t.Setenv("WOC_TEST_ONLY_KEY", "")
	require.NoError(t, os.Unsetenv("WOC_TEST_ONLY_KEY"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("WOC_TEST_ONLY_KEY"))
	assert.Equal(t, ":7000", os.Getenv("API_ADDR"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(t, LoadEnvFile(""))
}
