package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://coop-app-backend.fly.dev", cfg.Backend.URL)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "tmp/snapshot.jpg", cfg.Capture.SnapshotPath)
	assert.Equal(t, 30*time.Second, cfg.Capture.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Uploader.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Schedule.PairingPoll)
	assert.Equal(t, 30*time.Second, cfg.Schedule.ConfigPoll)
	assert.Equal(t, 2*time.Minute, cfg.Schedule.Health)
	assert.Equal(t, "127.0.0.1:8787", cfg.HTTP.Addr)
	assert.False(t, cfg.IsDev())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coop-relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: dev
backend:
  url: http://localhost:3000
store:
  driver: redis
  redis_address: 10.0.0.2:6379
capture:
  timeout: 10s
schedule:
  config_poll: 1m
`), 0o600))

	t.Setenv("SUPABASE_URL", "https://x.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "secret")
	t.Setenv("COOP_RELAY_HTTP_ADDR", "127.0.0.1:9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, "http://localhost:3000", cfg.Backend.URL)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "10.0.0.2:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 10*time.Second, cfg.Capture.Timeout)
	assert.Equal(t, time.Minute, cfg.Schedule.ConfigPoll)
	assert.Equal(t, "https://x.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, "secret", cfg.Supabase.ServiceKey)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)

	t.Setenv("COOP_BACKEND_URL", "https://override.example")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example", cfg.Backend.URL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("COOP_RELAY_STORE_DRIVER", "sqlite")
	t.Setenv("COOP_BACKEND_URL", "ftp://nope")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "backend.url")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
