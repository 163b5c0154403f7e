package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/garyellow/igrelay/internal/config"
	"github.com/garyellow/igrelay/internal/dispatcher"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/snapshot"
	"github.com/garyellow/igrelay/internal/transport/line"
)

// Task names, also used as the job metric label.
const (
	JobSweep        = "sweep"
	JobKeepAlive    = "keepalive"
	JobRetention    = "history_retention"
	JobSnapshot     = "snapshot"
	JobMediaCleanup = "line_media_cleanup"
)

// Sweeper prunes limiter and session state. *dispatcher.Dispatcher implements it.
type Sweeper interface {
	Sweep(now time.Time) dispatcher.SweepResult
}

// SweepTask prunes idle rate limiter users and expired sessions.
func SweepTask(s Sweeper, interval time.Duration, log *logger.Logger) Task {
	return Task{
		Name:     JobSweep,
		Interval: interval,
		Run: func(_ context.Context, now time.Time) error {
			res := s.Sweep(now)
			if res.Ran && (res.Users > 0 || res.Sessions > 0) {
				log.WithField("users", res.Users).WithField("sessions", res.Sessions).Debug("Swept idle state")
			}
			return nil
		},
	}
}

// KeepAliveTask pings baseURL/health so hosts that idle unused instances keep
// the service awake.
func KeepAliveTask(client *http.Client, baseURL string, interval time.Duration) Task {
	if client == nil {
		client = &http.Client{Timeout: config.KeepAliveRequest}
	}
	target := baseURL + "/health"
	return Task{
		Name:     JobKeepAlive,
		Interval: interval,
		Timeout:  config.KeepAliveRequest,
		Run: func(ctx context.Context, _ time.Time) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return fmt.Errorf("keep-alive request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("keep-alive ping: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			_, _ = io.Copy(io.Discard, resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("keep-alive ping: status %d", resp.StatusCode)
			}
			return nil
		},
	}
}

// HistoryPruner deletes old request history. *storage.DB implements it.
type HistoryPruner interface {
	DeleteRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionTask deletes request history older than retention.
func RetentionTask(db HistoryPruner, retention time.Duration, log *logger.Logger) Task {
	return Task{
		Name:       JobRetention,
		Interval:   config.HistoryCleanupInterval,
		RunAtStart: true,
		Run: func(ctx context.Context, now time.Time) error {
			n, err := db.DeleteRequestsBefore(ctx, now.Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				log.WithField("deleted", n).Info("Request history pruned")
			}
			return nil
		},
	}
}

// Uploader backs up a database. *snapshot.Manager implements it.
type Uploader interface {
	Upload(ctx context.Context, src snapshot.Source) (string, error)
}

// SnapshotTask uploads a compressed copy of the history database.
func SnapshotTask(up Uploader, src snapshot.Source, interval time.Duration, log *logger.Logger) Task {
	return Task{
		Name:     JobSnapshot,
		Interval: interval,
		Timeout:  config.SnapshotUpload,
		Run: func(ctx context.Context, _ time.Time) error {
			etag, err := up.Upload(ctx, src)
			if err != nil {
				return err
			}
			log.WithField("etag", etag).Info("History snapshot uploaded")
			return nil
		},
	}
}

// MediaCleanupTask deletes media hosted for LINE once its links expired.
func MediaCleanupTask(store line.MediaStore, prefix string, ttl time.Duration, log *logger.Logger) Task {
	return Task{
		Name:     JobMediaCleanup,
		Interval: config.LineMediaCleanupInterval,
		Run: func(ctx context.Context, now time.Time) error {
			n, err := line.CleanupMedia(ctx, store, prefix, now.Add(-ttl))
			if n > 0 {
				log.WithField("deleted", n).Info("Expired LINE media deleted")
			}
			return err
		},
	}
}
