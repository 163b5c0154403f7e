package storage

import (
	"context"
	"time"
)

// HistoryRepository defines the request history operations.
type HistoryRepository interface {
	RecordRequest(ctx context.Context, req *Request) error
	RecentRequests(ctx context.Context, userKey string, limit int) ([]Request, error)
	StatsSince(ctx context.Context, since time.Time) (*Stats, error)
	DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ HistoryRepository = (*DB)(nil)
