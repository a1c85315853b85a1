package store

import (
	"context"
	"time"
)

// KeyValue is the persisted string key-value store the client services
// write their state to. Missing keys are reported with ok == false, not an
// error.
type KeyValue interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// MultiRemove deletes all given keys in one operation.
	MultiRemove(ctx context.Context, keys ...string) error

	// Keys lists stored keys with the given prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Clear deletes every key.
	Clear(ctx context.Context) error
}

// Event kinds.
const (
	KindAPI = "api"
	KindLLM = "llm"
)

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit int    // max results (0 = unlimited)
	Kind  string // "" = all kinds
	After int64  // id > After
}

// EventData captures one outbound request: a backend API call or an LLM
// generation.
type EventData struct {
	Kind         string
	RequestID    string
	Method       string // HTTP method, or provider for LLM events
	Target       string // request path, or model for LLM events
	Purpose      string
	Status       int
	LatencyMs    int64
	InputTokens  int
	OutputTokens int
	Success      bool
	ErrorMessage string
}

// Event is a stored EventData with its identity and timestamp.
type Event struct {
	ID        int64
	Timestamp time.Time
	EventData
}

// EventStat aggregates events sharing a kind and target.
type EventStat struct {
	Kind         string
	Target       string
	Calls        int
	Failures     int
	AvgLatencyMs int64
	InputTokens  int
	OutputTokens int
}

// EventRepo provides append and query access to request events.
type EventRepo interface {
	// Append records a single event.
	Append(ctx context.Context, data EventData) error

	// Query returns events newest first.
	Query(ctx context.Context, opts QueryOpts) ([]Event, error)

	// Stats aggregates events of the given kind ("" = all) by target.
	Stats(ctx context.Context, kind string) ([]EventStat, error)

	// Prune deletes all but the N most recent events.
	Prune(ctx context.Context, keep int) error
}
