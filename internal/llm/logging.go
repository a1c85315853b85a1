package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pyqdeck/pyqdeck/internal/store"
)

// loggingProvider records every generation as an llm event.
type loggingProvider struct {
	inner  Provider
	events store.EventRepo
	logger *slog.Logger
}

// WithLogging wraps p with event logging. events may be nil.
func WithLogging(p Provider, events store.EventRepo, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingProvider{inner: p, events: events, logger: logger}
}

func (l *loggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := l.inner.Generate(ctx, req)

	data := store.EventData{
		Kind:      store.KindLLM,
		RequestID: ulid.Make().String(),
		Method:    l.inner.Name(),
		Target:    l.inner.ModelID(),
		Purpose:   req.Purpose,
		LatencyMs: time.Since(start).Milliseconds(),
		Success:   err == nil,
	}
	if resp != nil {
		data.InputTokens = resp.Usage.InputTokens
		data.OutputTokens = resp.Usage.OutputTokens
		if resp.Model != "" {
			data.Target = resp.Model
		}
	}
	if err != nil {
		data.ErrorMessage = err.Error()
	}

	l.logger.Debug("llm request",
		"provider", data.Method,
		"model", data.Target,
		"purpose", data.Purpose,
		"latency_ms", data.LatencyMs,
		"tokens", data.InputTokens+data.OutputTokens,
		"ok", data.Success,
	)

	if l.events != nil {
		if logErr := l.events.Append(ctx, data); logErr != nil {
			l.logger.Warn("failed to record llm event", "error", logErr)
		}
	}
	return resp, err
}

func (l *loggingProvider) Name() string    { return l.inner.Name() }
func (l *loggingProvider) ModelID() string { return l.inner.ModelID() }
