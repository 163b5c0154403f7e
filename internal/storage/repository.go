package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// slowQuery is the duration above which a query is logged as slow.
const slowQuery = 100 * time.Millisecond

// RecordRequest appends one request to the history. ID is filled in.
func (db *DB) RecordRequest(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO requests (request_id, transport, user_key, event, kind, identifier, variant, outcome, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, query,
		req.RequestID, req.Transport, req.UserKey, req.Event,
		req.Kind, req.Identifier, req.Variant, req.Outcome,
		req.Duration.Milliseconds(), req.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		req.ID = id
	}

	if d := time.Since(start); d > slowQuery {
		slog.WarnContext(ctx, "slow database operation",
			"operation", "RecordRequest",
			"duration_ms", d.Milliseconds())
	}
	return nil
}

// RecentRequests returns up to limit requests of userKey, newest first.
func (db *DB) RecentRequests(ctx context.Context, userKey string, limit int) ([]Request, error) {
	query := `
		SELECT id, request_id, transport, user_key, event, kind, identifier, variant, outcome, duration_ms, created_at
		FROM requests
		WHERE user_key = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := db.conn.QueryContext(ctx, query, userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Request
	for rows.Next() {
		var (
			r          Request
			durationMs int64
			createdAt  int64
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Transport, &r.UserKey, &r.Event,
			&r.Kind, &r.Identifier, &r.Variant, &r.Outcome, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}
	return out, nil
}

// StatsSince counts requests created at or after since, grouped by outcome
// (most frequent first).
func (db *DB) StatsSince(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{Since: since, Outcomes: []OutcomeCount{}}

	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT user_key) FROM requests WHERE created_at >= ?`,
		since.Unix()).Scan(&stats.Total, &stats.Users)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT outcome, COUNT(*) AS n
		FROM requests
		WHERE created_at >= ?
		GROUP BY outcome
		ORDER BY n DESC, outcome ASC
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to group requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var oc OutcomeCount
		if err := rows.Scan(&oc.Outcome, &oc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		stats.Outcomes = append(stats.Outcomes, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
	}
	return stats, nil
}

// DeleteRequestsBefore removes requests created before cutoff and returns how many were deleted.
func (db *DB) DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM requests WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted requests: %w", err)
	}
	return n, nil
}
