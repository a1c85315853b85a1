package explain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/llm"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

const cannedExplanation = `{"summary":"Apply KVL to each loop.","steps":["Label currents","Write loop equations","Solve"],"key_concepts":["KVL","Mesh analysis"]}`

var question = api.Question{ID: "q1", Text: "Find the mesh currents.", Marks: 10, Year: 2022, Module: "2"}

func TestExplain_GeneratesAndCaches(t *testing.T) {
	kv := store.NewMemoryKV()
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(cannedExplanation)})
	svc := NewService(mock, kv, DefaultConfig(), nil)
	ctx := context.Background()

	exp, cached, err := svc.Explain(ctx, question)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "q1", exp.QuestionID)
	assert.Equal(t, []string{"Label currents", "Write loop equations", "Solve"}, exp.Steps)
	assert.Equal(t, []string{"KVL", "Mesh analysis"}, exp.KeyConcepts)
	assert.Equal(t, "mock", exp.Model)

	again, cached, err := svc.Explain(ctx, question)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, exp.Summary, again.Summary)
	assert.Len(t, mock.Calls(), 1, "second call must be served from the cache")

	raw, ok, err := kv.Get(ctx, KeyPrefix+"q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, "Mesh analysis")
}

func TestExplain_Request(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(cannedExplanation)})
	svc := NewService(mock, store.NewMemoryKV(), Config{MaxTokens: 300, Temperature: 0.1}, nil)

	_, _, err := svc.Explain(context.Background(), question)
	require.NoError(t, err)

	req := mock.Calls()[0]
	assert.Equal(t, "explain", req.Purpose)
	assert.Same(t, Schema, req.Schema)
	assert.Equal(t, 300, req.MaxTokens)
	assert.Contains(t, req.Prompt, "Find the mesh currents.")
	assert.Contains(t, req.Prompt, "marks: 10")
	assert.Contains(t, req.Prompt, "long-answer")
}

func TestExplain_Validation(t *testing.T) {
	svc := NewService(llm.NewMockProvider(), store.NewMemoryKV(), DefaultConfig(), nil)

	_, _, err := svc.Explain(context.Background(), api.Question{Text: "x"})
	assert.True(t, apperr.IsValidation(err))
	_, _, err = svc.Explain(context.Background(), api.Question{ID: "q"})
	assert.True(t, apperr.IsValidation(err))
}

func TestExplain_Disabled(t *testing.T) {
	kv := store.NewMemoryKV()
	svc := NewService(nil, kv, DefaultConfig(), nil)
	assert.False(t, svc.Enabled())

	_, _, err := svc.Explain(context.Background(), question)
	assert.ErrorIs(t, err, ErrDisabled)

	// Cached entries are still served.
	require.NoError(t, kv.Set(context.Background(), KeyPrefix+"q1", `{"questionId":"q1","summary":"cached"}`))
	exp, cached, err := svc.Explain(context.Background(), question)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "cached", exp.Summary)
}

func TestExplain_ProviderFailureIsNotCached(t *testing.T) {
	kv := store.NewMemoryKV()
	mock := llm.NewMockProvider(
		llm.MockResponse{Err: &llm.UnavailableError{Err: errors.New("down")}},
		llm.MockResponse{Content: json.RawMessage(cannedExplanation)},
	)
	svc := NewService(mock, kv, DefaultConfig(), nil)

	_, _, err := svc.Explain(context.Background(), question)
	var un *llm.UnavailableError
	require.ErrorAs(t, err, &un)
	assert.Equal(t, 0, kv.Len())

	_, cached, err := svc.Explain(context.Background(), question)
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestExplain_CacheWriteFailureStillReturns(t *testing.T) {
	kv := store.NewMemoryKV()
	kv.FailSet = errors.New("disk full")
	svc := NewService(llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(cannedExplanation)}), kv, DefaultConfig(), nil)

	exp, _, err := svc.Explain(context.Background(), question)
	require.NoError(t, err)
	assert.NotEmpty(t, exp.Summary)
}

func TestCached_CorruptEntryIsMissing(t *testing.T) {
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(context.Background(), KeyPrefix+"q1", "{"))
	svc := NewService(nil, kv, DefaultConfig(), nil)

	_, ok := svc.Cached(context.Background(), "q1")
	assert.False(t, ok)
}

func TestForgetAll(t *testing.T) {
	kv := store.NewMemoryKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, KeyPrefix+"a", "{}"))
	require.NoError(t, kv.Set(ctx, KeyPrefix+"b", "{}"))
	require.NoError(t, kv.Set(ctx, "pyqdeck.preferences", "{}"))
	svc := NewService(nil, kv, DefaultConfig(), nil)

	n, err := svc.ForgetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, kv.Len())

	require.NoError(t, kv.Set(ctx, KeyPrefix+"c", "{}"))
	require.NoError(t, svc.Forget(ctx, "c"))
	assert.Equal(t, 1, kv.Len())
}

func TestBuildPrompt_OmitsEmptyMetadata(t *testing.T) {
	p := buildPrompt(api.Question{Text: "  Define entropy. "})
	assert.True(t, strings.HasPrefix(p, "Question:\nDefine entropy.\n"))
	assert.NotContains(t, p, "marks")
	assert.NotContains(t, p, "Reference answer")
}
