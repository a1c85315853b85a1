package api

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

// Config holds backend client configuration.
type Config struct {
	// BaseURL is the API origin including its version prefix,
	// e.g. "https://api.example.com/api/v1".
	BaseURL string

	// Timeout bounds a single HTTP round trip. Default: 15s.
	Timeout time.Duration

	UserAgent string
}

// DefaultConfig returns a Config pointing at a local development backend.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:5000/api/v1",
		Timeout:   15 * time.Second,
		UserAgent: "pyqdeck-cli",
	}
}

// ConfigFromEnv builds a Config from environment variables, falling back
// to defaults for unset or unparsable values.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if u := os.Getenv("PYQDECK_API_URL"); u != "" {
		cfg.BaseURL = u
	}
	if t := os.Getenv("PYQDECK_API_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			cfg.Timeout = d
		}
	}
	return cfg
}

// Validate checks that the base URL is an absolute http(s) URL.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid PYQDECK_API_URL %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("PYQDECK_API_URL must be http or https, got %q", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("PYQDECK_API_URL has no host: %q", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}
	return nil
}
