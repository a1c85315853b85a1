package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

var eventColumns = []string{
	"id", "kind", "request_id", "method", "target", "purpose", "status",
	"latency_ms", "input_tokens", "output_tokens", "success", "error_message", "timestamp",
}

// eventRepo implements EventRepo on the request_events table. Row ids are
// monotonic, so they double as the global ordering of events.
type eventRepo struct {
	db      *sql.DB
	dialect *entsql.DialectBuilder
}

func (r *eventRepo) Append(ctx context.Context, data EventData) error {
	success := 0
	if data.Success {
		success = 1
	}
	query, args := r.dialect.Insert(eventTable).
		Columns(eventColumns[1:]...).
		Values(
			data.Kind, data.RequestID, data.Method, data.Target, data.Purpose,
			data.Status, data.LatencyMs, data.InputTokens, data.OutputTokens,
			success, data.ErrorMessage, time.Now().UnixMilli(),
		).
		Query()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save %s event: %w", data.Kind, err)
	}
	return nil
}

func (r *eventRepo) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	sel := r.dialect.Select(eventColumns...).From(r.dialect.Table(eventTable))
	if opts.Kind != "" {
		sel = sel.Where(entsql.EQ("kind", opts.Kind))
	}
	if opts.After > 0 {
		sel = sel.Where(entsql.GT("id", opts.After))
	}
	sel = sel.OrderBy(entsql.Desc("id"))
	if opts.Limit > 0 {
		sel = sel.Limit(opts.Limit)
	}
	query, args := sel.Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			success int
			ts      int64
		)
		err := rows.Scan(
			&e.ID, &e.Kind, &e.RequestID, &e.Method, &e.Target, &e.Purpose, &e.Status,
			&e.LatencyMs, &e.InputTokens, &e.OutputTokens, &success, &e.ErrorMessage, &ts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Success = success == 1
		e.Timestamp = time.UnixMilli(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *eventRepo) Stats(ctx context.Context, kind string) ([]EventStat, error) {
	events, err := r.Query(ctx, QueryOpts{Kind: kind})
	if err != nil {
		return nil, err
	}

	type key struct{ kind, target string }
	acc := make(map[key]*EventStat)
	latency := make(map[key]int64)
	for _, e := range events {
		k := key{e.Kind, e.Target}
		st, ok := acc[k]
		if !ok {
			st = &EventStat{Kind: e.Kind, Target: e.Target}
			acc[k] = st
		}
		st.Calls++
		if !e.Success {
			st.Failures++
		}
		st.InputTokens += e.InputTokens
		st.OutputTokens += e.OutputTokens
		latency[k] += e.LatencyMs
	}

	stats := make([]EventStat, 0, len(acc))
	for k, st := range acc {
		st.AvgLatencyMs = latency[k] / int64(st.Calls)
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Calls != stats[j].Calls {
			return stats[i].Calls > stats[j].Calls
		}
		return stats[i].Target < stats[j].Target
	})
	return stats, nil
}

func (r *eventRepo) Prune(ctx context.Context, keep int) error {
	// Find the id threshold: the Nth most recent event.
	query, args := r.dialect.Select("id").
		From(r.dialect.Table(eventTable)).
		OrderBy(entsql.Desc("id")).
		Offset(keep).
		Limit(1).
		Query()

	var threshold int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // fewer than keep events exist
	}
	if err != nil {
		return fmt.Errorf("query events for prune: %w", err)
	}

	query, args = r.dialect.Delete(eventTable).
		Where(entsql.LTE("id", threshold)).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	return nil
}
