package llm

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyqdeck/pyqdeck/internal/store"
)

func TestMockProvider(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"summary":"a","steps":[]}`), Usage: Usage{InputTokens: 10, OutputTokens: 5}},
		MockResponse{Err: &RateLimitError{}},
	)
	ctx := context.Background()

	resp, err := mock.Generate(ctx, Request{System: "sys", Prompt: "first", Schema: explanationSchema()})
	require.NoError(t, err)
	assert.Equal(t, 15, resp.Usage.Total())
	assert.Equal(t, stopEnd, resp.StopReason)

	_, err = mock.Generate(ctx, Request{Prompt: "second"})
	var rl *RateLimitError
	assert.ErrorAs(t, err, &rl)

	_, err = mock.Generate(ctx, Request{})
	var un *UnavailableError
	assert.ErrorAs(t, err, &un)

	calls := mock.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "sys", calls[0].System)
	assert.Equal(t, "second", calls[1].Prompt)
}

func TestMockProvider_FallbackIsValidated(t *testing.T) {
	mock := NewMockProvider()
	mock.Fallback = json.RawMessage(`{"summary":"only"}`)

	_, err := mock.Generate(context.Background(), Request{Schema: explanationSchema()})
	var inv *InvalidResponseError
	assert.ErrorAs(t, err, &inv)

	resp, err := mock.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"only"}`, string(resp.Content))
}

func TestWithLogging_RecordsEvents(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "llm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	events := db.EventRepo()

	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{}`), Usage: Usage{InputTokens: 7, OutputTokens: 3}},
		MockResponse{Err: errors.New("boom")},
	)
	p := WithLogging(mock, events, nil)
	ctx := context.Background()

	_, err = p.Generate(ctx, Request{Purpose: "explain"})
	require.NoError(t, err)
	_, err = p.Generate(ctx, Request{Purpose: "explain"})
	require.Error(t, err)

	got, err := events.Query(ctx, store.QueryOpts{Kind: store.KindLLM})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.False(t, got[0].Success)
	assert.Equal(t, "boom", got[0].ErrorMessage)
	assert.True(t, got[1].Success)
	assert.Equal(t, ProviderMock, got[1].Method)
	assert.Equal(t, "explain", got[1].Purpose)
	assert.Equal(t, 7, got[1].InputTokens)
	assert.NotEmpty(t, got[1].RequestID)
}

func TestWithTimeout(t *testing.T) {
	slow := &blockingProvider{}
	p := WithTimeout(slow, 10*time.Millisecond)

	_, err := p.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Same(t, Provider(slow), WithTimeout(slow, 0))
}

type blockingProvider struct{}

func (blockingProvider) Generate(ctx context.Context, _ Request) (*Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingProvider) Name() string    { return "blocking" }
func (blockingProvider) ModelID() string { return "blocking" }

func TestNew(t *testing.T) {
	p, err := New(context.Background(), Config{Provider: ProviderMock}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderMock, p.Name())
	assert.Equal(t, "mock", p.ModelID())

	_, err = New(context.Background(), Config{}, nil, nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"none", Config{}, true},
		{"anthropic without key", Config{Provider: ProviderAnthropic}, true},
		{"anthropic with key", Config{Provider: ProviderAnthropic, Anthropic: KeyModel{APIKey: "sk"}}, false},
		{"openrouter with key", Config{Provider: ProviderOpenRouter, OpenRouter: OpenAIConfig{KeyModel: KeyModel{APIKey: "sk"}}}, false},
		{"gemini without key", Config{Provider: ProviderGemini}, true},
		{"mock", Config{Provider: ProviderMock}, false},
		{"unknown", Config{Provider: "llama"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "Validate() = %v", err)
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		t.Setenv("PYQDECK_LLM_PROVIDER", "openai")
		t.Setenv("PYQDECK_OPENAI_API_KEY", "sk-1")
		t.Setenv("PYQDECK_OPENAI_MODEL", "gpt-4o")
		t.Setenv("PYQDECK_LLM_TIMEOUT", "5s")

		cfg := ConfigFromEnv()
		assert.Equal(t, ProviderOpenAI, cfg.Provider)
		assert.Equal(t, "sk-1", cfg.OpenAI.APIKey)
		assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("discovered from vendor key", func(t *testing.T) {
		t.Setenv("PYQDECK_LLM_PROVIDER", "")
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "g-1")

		cfg := ConfigFromEnv()
		assert.Equal(t, ProviderGemini, cfg.Provider)
		assert.Equal(t, "g-1", cfg.Gemini.APIKey)
	})
}
