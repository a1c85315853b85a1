// Package config assembles process configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/explain"
	"github.com/pyqdeck/pyqdeck/internal/llm"
	"github.com/pyqdeck/pyqdeck/internal/progress"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

// Config holds all process configuration.
type Config struct {
	// DBPath is the SQLite file backing the key-value store and event log.
	DBPath   string
	LogLevel slog.Level

	// EventRetention is how many events to keep; 0 keeps everything.
	EventRetention int

	API      api.Config
	Progress progress.Config
	LLM      llm.Config
	Explain  explain.Config
}

// Load reads envFiles (".env" when none are given; missing files are
// ignored) and then the PYQDECK_* environment variables. Variables already
// set in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	level, err := parseLevel(getEnv("PYQDECK_LOG_LEVEL", "warn"))
	if err != nil {
		return nil, err
	}

	dbPath := os.Getenv("PYQDECK_DB")
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
	}

	prog := progress.DefaultConfig()
	prog.SyncTimeout = getEnvDuration("PYQDECK_SYNC_TIMEOUT", prog.SyncTimeout)
	prog.ClearConcurrency = getEnvInt("PYQDECK_CLEAR_CONCURRENCY", prog.ClearConcurrency)

	cfg := &Config{
		DBPath:         dbPath,
		LogLevel:       level,
		EventRetention: getEnvInt("PYQDECK_EVENT_RETENTION", 5000),
		API:            api.ConfigFromEnv(),
		Progress:       prog,
		LLM:            llm.ConfigFromEnv(),
		Explain:        explain.DefaultConfig(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the core services require. The LLM
// settings are optional and validated when a provider is built.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("PYQDECK_DB cannot be empty")
	}
	if c.EventRetention < 0 {
		return fmt.Errorf("PYQDECK_EVENT_RETENTION must be >= 0")
	}
	if c.Progress.SyncTimeout <= 0 {
		return fmt.Errorf("PYQDECK_SYNC_TIMEOUT must be positive")
	}
	if c.Progress.ClearConcurrency <= 0 {
		return fmt.Errorf("PYQDECK_CLEAR_CONCURRENCY must be > 0")
	}
	return c.API.Validate()
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid PYQDECK_LOG_LEVEL %q: %w", s, err)
	}
	return l, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}
