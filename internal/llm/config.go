package llm

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider names accepted in Config.Provider.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderMock       = "mock"
)

// DefaultOpenRouterURL is the OpenAI-compatible endpoint of OpenRouter.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// Config selects and configures a provider.
type Config struct {
	// Provider is one of the Provider* names. Empty disables generation.
	Provider string

	Anthropic  KeyModel
	OpenAI     OpenAIConfig
	OpenRouter OpenAIConfig
	Gemini     KeyModel
	Retry      RetryConfig

	// Timeout bounds one Generate call including retries.
	Timeout time.Duration
}

// KeyModel is the configuration shared by all hosted providers.
type KeyModel struct {
	APIKey string
	Model  string
}

// OpenAIConfig configures an OpenAI-compatible API.
type OpenAIConfig struct {
	KeyModel
	BaseURL string
}

// RetryConfig configures backoff for transient failures.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultConfig returns a Config with no provider selected.
func DefaultConfig() Config {
	return Config{
		Anthropic:  KeyModel{Model: "claude-haiku"},
		OpenAI:     OpenAIConfig{KeyModel: KeyModel{Model: "gpt-4o-mini"}},
		OpenRouter: OpenAIConfig{KeyModel: KeyModel{Model: "google/gemini-2.0-flash-001"}, BaseURL: DefaultOpenRouterURL},
		Gemini:     KeyModel{Model: "gemini-flash"},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialWait: time.Second,
			MaxWait:     10 * time.Second,
			Multiplier:  2,
		},
		Timeout: 60 * time.Second,
	}
}

// ConfigFromEnv reads PYQDECK_LLM_PROVIDER and the PYQDECK_<PROVIDER>_API_KEY
// and PYQDECK_<PROVIDER>_MODEL variables. Without an explicit provider the
// first vendor key found in the environment picks one.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Provider = os.Getenv("PYQDECK_LLM_PROVIDER")

	envInto(&cfg.Anthropic.APIKey, "PYQDECK_ANTHROPIC_API_KEY")
	envInto(&cfg.Anthropic.Model, "PYQDECK_ANTHROPIC_MODEL")
	envInto(&cfg.OpenAI.APIKey, "PYQDECK_OPENAI_API_KEY")
	envInto(&cfg.OpenAI.Model, "PYQDECK_OPENAI_MODEL")
	envInto(&cfg.OpenAI.BaseURL, "PYQDECK_OPENAI_BASE_URL")
	envInto(&cfg.OpenRouter.APIKey, "PYQDECK_OPENROUTER_API_KEY")
	envInto(&cfg.OpenRouter.Model, "PYQDECK_OPENROUTER_MODEL")
	envInto(&cfg.Gemini.APIKey, "PYQDECK_GEMINI_API_KEY")
	envInto(&cfg.Gemini.Model, "PYQDECK_GEMINI_MODEL")

	if v := os.Getenv("PYQDECK_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}

	if cfg.Provider == "" {
		cfg.discover()
	}
	return cfg
}

// discover picks a provider from the vendors' standard key variables.
func (c *Config) discover() {
	candidates := []struct {
		env      string
		provider string
		key      *string
	}{
		{"ANTHROPIC_API_KEY", ProviderAnthropic, &c.Anthropic.APIKey},
		{"OPENAI_API_KEY", ProviderOpenAI, &c.OpenAI.APIKey},
		{"GEMINI_API_KEY", ProviderGemini, &c.Gemini.APIKey},
		{"OPENROUTER_API_KEY", ProviderOpenRouter, &c.OpenRouter.APIKey},
	}
	for _, cand := range candidates {
		if *cand.key != "" {
			c.Provider = cand.provider
			return
		}
	}
	for _, cand := range candidates {
		if k := os.Getenv(cand.env); k != "" {
			c.Provider = cand.provider
			*cand.key = k
			return
		}
	}
}

// Enabled reports whether a provider is selected.
func (c Config) Enabled() bool { return c.Provider != "" }

// Validate checks that the selected provider has its API key.
func (c Config) Validate() error {
	var key string
	switch c.Provider {
	case ProviderAnthropic:
		key = c.Anthropic.APIKey
	case ProviderOpenAI:
		key = c.OpenAI.APIKey
	case ProviderOpenRouter:
		key = c.OpenRouter.APIKey
	case ProviderGemini:
		key = c.Gemini.APIKey
	case ProviderMock:
		return nil
	case "":
		return fmt.Errorf("no LLM provider configured; set PYQDECK_LLM_PROVIDER")
	default:
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	if key == "" {
		return fmt.Errorf("PYQDECK_%s_API_KEY is required for the %s provider", envName(c.Provider), c.Provider)
	}
	return nil
}

func envInto(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envName(provider string) string {
	return strings.ToUpper(provider)
}
