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

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PYQDECK_API_URL", "PYQDECK_API_TIMEOUT", "PYQDECK_LOG_LEVEL",
		"PYQDECK_SYNC_TIMEOUT", "PYQDECK_CLEAR_CONCURRENCY", "PYQDECK_EVENT_RETENTION",
		"PYQDECK_LLM_PROVIDER",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("PYQDECK_DB", filepath.Join(t.TempDir(), "test.db"))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, "http://localhost:5000/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Progress.SyncTimeout)
	assert.Equal(t, 4, cfg.Progress.ClearConcurrency)
	assert.Equal(t, 5000, cfg.EventRetention)
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PYQDECK_API_URL", "https://api.example.com/api/v1")
	t.Setenv("PYQDECK_LOG_LEVEL", "debug")
	t.Setenv("PYQDECK_SYNC_TIMEOUT", "3s")
	t.Setenv("PYQDECK_CLEAR_CONCURRENCY", "8")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/api/v1", cfg.API.BaseURL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.Progress.SyncTimeout)
	assert.Equal(t, 8, cfg.Progress.ClearConcurrency)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PYQDECK_LOG_LEVEL", "error")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PYQDECK_LOG_LEVEL=debug\nPYQDECK_API_URL=http://10.0.0.2:5000/api/v1\n"), 0o600))

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, cfg.LogLevel)
	assert.Equal(t, "http://10.0.0.2:5000/api/v1", cfg.API.BaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"log level", "PYQDECK_LOG_LEVEL", "loud"},
		{"api url", "PYQDECK_API_URL", "ftp://example.com"},
		{"concurrency", "PYQDECK_CLEAR_CONCURRENCY", "0"},
		{"retention", "PYQDECK_EVENT_RETENTION", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}
