// Package explain produces model-written explanations of exam questions
// and caches them in the key-value store.
package explain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pyqdeck/pyqdeck/internal/api"
	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/llm"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

// KeyPrefix prefixes the cache key of every explanation.
const KeyPrefix = "pyqdeck.explain."

// ErrDisabled is returned when no model provider is configured.
var ErrDisabled = errors.New("explanations are disabled: no LLM provider configured")

// Explanation is a generated walkthrough of one question.
type Explanation struct {
	QuestionID  string    `json:"questionId"`
	Summary     string    `json:"summary"`
	Steps       []string  `json:"steps"`
	KeyConcepts []string  `json:"key_concepts"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type output struct {
	Summary     string   `json:"summary"`
	Steps       []string `json:"steps"`
	KeyConcepts []string `json:"key_concepts"`
}

// Service generates and caches explanations. A nil provider disables
// generation but still serves cached entries.
type Service struct {
	provider llm.Provider
	kv       store.KeyValue
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	inflight singleflight.Group
}

// NewService creates a Service.
func NewService(provider llm.Provider, kv store.KeyValue, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{provider: provider, kv: kv, cfg: cfg, logger: logger, now: time.Now}
}

// Enabled reports whether new explanations can be generated.
func (s *Service) Enabled() bool { return s.provider != nil }

// Explain returns the cached explanation of q or generates and caches one.
// cached reports whether the result came from the cache. Concurrent calls
// for the same question share one generation.
func (s *Service) Explain(ctx context.Context, q api.Question) (exp *Explanation, cached bool, err error) {
	if q.ID == "" {
		return nil, false, apperr.Required("question id")
	}
	if q.Text == "" {
		return nil, false, apperr.Required("question text")
	}

	if exp, ok := s.Cached(ctx, q.ID); ok {
		return exp, true, nil
	}
	if s.provider == nil {
		return nil, false, ErrDisabled
	}

	v, err, _ := s.inflight.Do(q.ID, func() (any, error) {
		return s.generate(ctx, q)
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Explanation), false, nil
}

// Cached returns the stored explanation of questionID, if any. Unreadable
// entries are treated as missing.
func (s *Service) Cached(ctx context.Context, questionID string) (*Explanation, bool) {
	raw, ok, err := s.kv.Get(ctx, KeyPrefix+questionID)
	if err != nil {
		s.logger.Warn("failed to read cached explanation", "question", questionID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var exp Explanation
	if err := json.Unmarshal([]byte(raw), &exp); err != nil {
		s.logger.Warn("discarding corrupt cached explanation", "question", questionID, "error", err)
		return nil, false
	}
	return &exp, true
}

// Forget removes the cached explanation of questionID.
func (s *Service) Forget(ctx context.Context, questionID string) error {
	return s.kv.Remove(ctx, KeyPrefix+questionID)
}

// ForgetAll removes every cached explanation.
func (s *Service) ForgetAll(ctx context.Context) (int, error) {
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return len(keys), s.kv.MultiRemove(ctx, keys...)
}

func (s *Service) generate(ctx context.Context, q api.Question) (*Explanation, error) {
	resp, err := s.provider.Generate(ctx, llm.Request{
		Purpose:     "explain",
		System:      systemPrompt,
		Prompt:      buildPrompt(q),
		Schema:      Schema,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("explain %s: %w", q.ID, err)
	}

	var out output
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("parse explanation: %w", err)
	}
	exp := &Explanation{
		QuestionID:  q.ID,
		Summary:     out.Summary,
		Steps:       out.Steps,
		KeyConcepts: out.KeyConcepts,
		Model:       resp.Model,
		CreatedAt:   s.now().UTC(),
	}

	raw, err := json.Marshal(exp)
	if err != nil {
		return nil, fmt.Errorf("encode explanation: %w", err)
	}
	if err := s.kv.Set(ctx, KeyPrefix+q.ID, string(raw)); err != nil {
		// The explanation is still usable; it will be regenerated next time.
		s.logger.Warn("failed to cache explanation", "question", q.ID, "error", err)
	}
	return exp, nil
}
