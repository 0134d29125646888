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
	t.Setenv("DATABASE_URI", "postgres://localhost/habitline")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/habitline", cfg.Database.URI)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 5*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Sync.Horizon)
	assert.Equal(t, 10*time.Second, cfg.Sync.HeartbeatTimeout)
	assert.Equal(t, []int{5, 15, 60}, cfg.Sync.SnoozeMinutes)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoadFileAndEnvPriority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "habitline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  uri: postgres://file/habitline
redis:
  url: redis://file:6379/0
sync:
  poll_interval: 10s
log:
  level: debug
`), 0o600))

	t.Setenv("REDIS_URL", "redis://legacy:6379/0")
	t.Setenv("HABITLINE_SYNC__POLL_INTERVAL", "1s")
	t.Setenv("HABITLINE_SESSION__USER_ID", "user-1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/habitline", cfg.Database.URI)
	assert.Equal(t, "redis://legacy:6379/0", cfg.Redis.URL)
	assert.Equal(t, time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "user-1", cfg.Session.UserID)
}

func TestLoadValidates(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("DATABASE_URI", "postgres://localhost/habitline")
	t.Setenv("HABITLINE_LOG__LEVEL", "verbose")
	_, err = Load("")
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "sync.poll_interval", envKey("HABITLINE_SYNC__POLL_INTERVAL"))
	assert.Equal(t, "database.uri", envKey("HABITLINE_DATABASE__URI"))
}
