package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// InitSchema creates all necessary tables and indexes.
func InitSchema(ctx context.Context, db *sql.DB) error {
	return createRequestsTable(ctx, db)
}

func createRequestsTable(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		transport TEXT NOT NULL,
		user_key TEXT NOT NULL,
		event TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		identifier TEXT NOT NULL DEFAULT '',
		variant TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_user_key ON requests(user_key, created_at);
	`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create requests table: %w", err)
	}
	return nil
}
