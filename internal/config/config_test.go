package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvPrefix + "_CONFIG", "LOG_LEVEL", "REDIS_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 15, cfg.Pool.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.Pool.ConnectTimeout)
	assert.NotNil(t, cfg.Pool.URLCheck)
	assert.Equal(t, 75, cfg.Tracker.MaxSubscriptions)
	assert.Equal(t, 15, cfg.Tracker.MaxPerConsumer)
	assert.Equal(t, 5*time.Minute, cfg.Subscription.DefaultTTL)
	assert.Equal(t, 30*time.Minute, cfg.Cache.EventTTL)
	assert.Empty(t, cfg.Cache.RedisURL)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.NotEmpty(t, cfg.Relays)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "relaypool.json", `{
		"relays": ["wss://one.example", "wss://two.example"],
		"pool": {"max_connections": 4, "connect_timeout": "3s"},
		"tracker": {"max_per_consumer": 6, "relay_stale_after": "45s"},
		"subscription": {"default_ttl": "90s"},
		"cache": {"feed_ttl": "1m", "redis_prefix": "test:"},
		"log": {"format": "text"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"wss://one.example", "wss://two.example"}, cfg.Relays)
	assert.Equal(t, 4, cfg.Pool.MaxConnections)
	assert.Equal(t, 3*time.Second, cfg.Pool.ConnectTimeout)
	assert.Equal(t, 6, cfg.Tracker.MaxPerConsumer)
	assert.Equal(t, 45*time.Second, cfg.Tracker.RelayStaleAfter)
	assert.Equal(t, 90*time.Second, cfg.Subscription.DefaultTTL)
	assert.Equal(t, time.Minute, cfg.Cache.FeedTTL)
	assert.Equal(t, "test:", cfg.Cache.RedisPrefix)
	assert.Equal(t, "text", cfg.Log.Format)

	// untouched keys keep their defaults
	assert.Equal(t, 75, cfg.Tracker.MaxSubscriptions)
	assert.Equal(t, 10*time.Second, cfg.Pool.WriteTimeout)
}

func TestLoadFileFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "relaypool.yaml", "pool:\n  max_idle: 2\n")
	t.Setenv(EnvPrefix+"_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Pool.MaxIdle)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "relaypool.json", `{"pool": {"max_connections": 4}}`)
	t.Setenv(EnvPrefix+"_POOL_MAX_CONNECTIONS", "9")
	t.Setenv(EnvPrefix+"_TRACKER_RATE_WINDOW", "2m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Pool.MaxConnections)
	assert.Equal(t, 2*time.Minute, cfg.Tracker.RateWindow)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis://cache:6379/1", cfg.Cache.RedisURL)
}

func TestLoadPrefixedEnvWinsOverBareName(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv(EnvPrefix+"_LOG_LEVEL", "error")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := writeConfig(t, "bad.json", `{"pool": {"max_connections": 0}, "log": {"format": "xml"}}`)
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_connections")
	assert.Contains(t, err.Error(), "log.format")
}
