package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Empty(t, cfg.Store.KeyPrefix, "empty prefix selects the backend default")
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Lock.Lease)
	assert.Equal(t, 3, cfg.Lock.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Lock.MaxWait)
	assert.Equal(t, 100*time.Millisecond, cfg.Lock.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Lock.OpTimeout)
	assert.Equal(t, 30*24*time.Hour, cfg.Lock.StatsTTL)
	assert.Equal(t, "@every 30s", cfg.Monitor.Schedule)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ACADEMY_LOCK_STORE_DRIVER", "etcd")
	t.Setenv("ACADEMY_LOCK_STORE_ETCD_ENDPOINTS", "etcd-1:2379,etcd-2:2379")
	t.Setenv("ACADEMY_LOCK_LOCK_MAX_RETRIES", "5")
	t.Setenv("ACADEMY_LOCK_LOCK_MAX_WAIT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "etcd", cfg.Store.Driver)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.Store.Etcd.Endpoints)
	assert.Equal(t, 5, cfg.Lock.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.Lock.MaxWait)
}

func TestLoad_ConfigFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	yaml := []byte("store:\n  key_prefix: \"academy:\"\nmonitor:\n  schedule: \"*/10 * * * * *\"\n  watch_keys: [\"batch:create:CohortA\"]\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), yaml, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ACADEMY_LOCK_LOG_LEVEL=debug\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("ACADEMY_LOCK_LOG_LEVEL") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "academy:", cfg.Store.KeyPrefix)
	assert.Equal(t, "*/10 * * * * *", cfg.Monitor.Schedule)
	assert.Equal(t, []string{"batch:create:CohortA"}, cfg.Monitor.WatchKeys)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"unknown driver", "ACADEMY_LOCK_STORE_DRIVER", "zookeeper"},
		{"bad schedule", "ACADEMY_LOCK_MONITOR_SCHEDULE", "every now and then"},
		{"negative retries", "ACADEMY_LOCK_LOCK_MAX_RETRIES", "-1"},
		{"bad log level", "ACADEMY_LOCK_LOG_LEVEL", "verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.env, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_DriverRequirements(t *testing.T) {
	cfg := Config{
		Log:     LogConfig{Level: "info"},
		HTTP:    HTTPConfig{ListenAddr: ":8080"},
		Store:   StoreConfig{Driver: "etcd"},
		Lock:    LockConfig{Lease: time.Second, MaxWait: time.Second, BaseDelay: time.Millisecond, OpTimeout: time.Second, StatsTTL: time.Hour},
		Monitor: MonitorConfig{Schedule: "@every 1m"},
	}
	assert.Error(t, cfg.Validate())

	cfg.Store.Etcd.Endpoints = []string{"localhost:2379"}
	assert.NoError(t, cfg.Validate())
}

func TestLogConfig_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warn"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LogConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{}.SlogLevel())
}
