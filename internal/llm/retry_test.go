package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(inner Provider) (*retryProvider, *[]time.Duration) {
	var waits []time.Duration
	r := WithRetry(inner, RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     10 * time.Millisecond,
		Multiplier:  2,
	}).(*retryProvider)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return r, &waits
}

var okContent = MockResponse{Content: json.RawMessage(`{"ok":true}`)}

func TestRetry(t *testing.T) {
	down := MockResponse{Err: &UnavailableError{Err: errors.New("down")}}
	invalid := MockResponse{Err: &InvalidResponseError{Err: errors.New("bad")}}

	tests := []struct {
		name      string
		responses []MockResponse
		wantErr   bool
		wantCalls int
	}{
		{"first attempt", []MockResponse{okContent}, false, 1},
		{"transient then success", []MockResponse{down, okContent}, false, 2},
		{"all attempts fail", []MockResponse{down, down, down, okContent}, true, 3},
		{"truncation is final", []MockResponse{{Err: &TruncatedError{}}, okContent}, true, 1},
		{"invalid retried once", []MockResponse{invalid, invalid, okContent}, true, 2},
		{"invalid then success", []MockResponse{invalid, okContent}, false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockProvider(tt.responses...)
			r, _ := fastRetry(mock)

			_, err := r.Generate(context.Background(), Request{})
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
			assert.Len(t, mock.Calls(), tt.wantCalls)
		})
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	mock := NewMockProvider(MockResponse{Err: &UnavailableError{}}, okContent)
	r, _ := fastRetry(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, mock.Calls(), 1)
}

func TestRetry_HonorsRetryAfter(t *testing.T) {
	mock := NewMockProvider(MockResponse{Err: &RateLimitError{RetryAfter: 42 * time.Millisecond}}, okContent)
	r, waits := fastRetry(mock)

	_, err := r.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{42 * time.Millisecond}, *waits)
}

func TestRetry_BackoffIsCapped(t *testing.T) {
	r, _ := fastRetry(NewMockProvider())
	for attempt := range 10 {
		d := r.backoff(attempt, errors.New("x"))
		assert.LessOrEqual(t, d, 12*time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestRetry_Delegates(t *testing.T) {
	r, _ := fastRetry(NewMockProvider())
	assert.Equal(t, "mock", r.ModelID())
	assert.Equal(t, ProviderMock, r.Name())
}
