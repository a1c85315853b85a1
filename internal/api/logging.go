package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pyqdeck/pyqdeck/internal/apperr"
	"github.com/pyqdeck/pyqdeck/internal/store"
)

// loggingCaller is a decorator that records every backend request as an
// event and a debug log line.
type loggingCaller struct {
	inner  Caller
	events store.EventRepo
	logger *slog.Logger
}

// WithLogging wraps a Caller with event logging. events may be nil.
func WithLogging(c Caller, events store.EventRepo, logger *slog.Logger) Caller {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingCaller{inner: c, events: events, logger: logger}
}

func (l *loggingCaller) Call(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	resp, err := l.inner.Call(ctx, req)

	data := store.EventData{
		Kind:      store.KindAPI,
		RequestID: req.RequestID,
		Method:    req.Method,
		Target:    req.route(),
		Purpose:   req.Purpose,
		LatencyMs: time.Since(start).Milliseconds(),
		Success:   err == nil,
	}
	if resp != nil {
		data.Status = resp.Status
	} else {
		var ne *apperr.NetworkError
		if errors.As(err, &ne) {
			data.Status = ne.Status
		}
	}
	if err != nil {
		data.ErrorMessage = err.Error()
	}

	l.logger.Debug("api request",
		"method", data.Method,
		"route", data.Target,
		"status", data.Status,
		"latency_ms", data.LatencyMs,
		"request_id", data.RequestID,
		"ok", data.Success,
	)

	// Record the event but don't fail the request if recording fails.
	if l.events != nil {
		if logErr := l.events.Append(ctx, data); logErr != nil {
			l.logger.Warn("failed to record request event", "error", logErr)
		}
	}

	return resp, err
}
