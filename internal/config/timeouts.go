// Package config provides centralized timeout constants for the application.
//
// These values are tuned around three external constraints:
//   - Telegram long polling (60s server-side hold per getUpdates call)
//   - LINE webhook delivery (LINE expects a quick 200 OK, work continues async)
//   - yt-dlp run time (Instagram media can take tens of seconds to resolve and download)
//
// # Request lifecycle
//
// The session TTL is the only timeout the request core knows about. Everything
// below bounds the collaborators around it: the fetcher, the transports and the
// HTTP server.
package config

import "time"

// Request lifecycle defaults
const (
	// SessionTimeout is how long a pending Video/Audio choice stays actionable.
	// A session created at t0 is valid at t0+299s and invalid at t0+300s.
	SessionTimeout = 300 * time.Second

	// RateWindow is the trailing window the per-user request counter looks at.
	RateWindow = time.Hour

	// SweepInterval is the minimum spacing between two limiter/session sweeps.
	SweepInterval = 300 * time.Second

	// EventProcessing bounds the handling of one inbound event, fetch and delivery included.
	// Must be longer than FetchDefault plus the largest upload we expect.
	EventProcessing = 5 * time.Minute
)

// Fetcher timeouts
const (
	// FetchDefault bounds a single yt-dlp invocation (metadata + download).
	FetchDefault = 3 * time.Minute

	// ProfileRequest is the timeout for a single HTTP request to the profile page or image CDN.
	ProfileRequest = 20 * time.Second

	// ProfileRetryInitial is the initial delay before retrying a failed profile request.
	// Uses exponential backoff: 1s -> 2s -> 4s
	ProfileRetryInitial = 1 * time.Second
)

// Telegram timeouts
const (
	// TelegramPollTimeout is the long-poll hold time in seconds passed to getUpdates.
	TelegramPollTimeout = 60

	// TelegramRequestTimeout is the HTTP client timeout for Bot API calls.
	// Must exceed the poll hold time so idle polls do not fail.
	TelegramRequestTimeout = 90 * time.Second
)

// Webhook timeouts
const (
	// WebhookHTTPRead is the HTTP server read timeout for webhook requests.
	// Should be short since LINE sends small JSON payloads.
	WebhookHTTPRead = 10 * time.Second

	// WebhookHTTPWrite is the HTTP server write timeout.
	// The webhook acknowledges immediately, so this only covers /metrics and /stats.
	WebhookHTTPWrite = 30 * time.Second

	// WebhookHTTPIdle is the HTTP server idle timeout for keep-alive connections.
	WebhookHTTPIdle = 120 * time.Second

	// ReadinessCheckTimeout bounds the database ping behind /readyz.
	ReadinessCheckTimeout = 3 * time.Second
)

// Database timeouts
const (
	// DatabaseBusyTimeout is SQLite busy_timeout pragma value.
	DatabaseBusyTimeout = 30 * time.Second

	// DatabaseConnMaxLifetime is the maximum lifetime of database connections.
	DatabaseConnMaxLifetime = time.Hour
)

// Background job intervals
const (
	// SchedulerResolution is how often the scheduler checks for due tasks.
	SchedulerResolution = 10 * time.Second

	// KeepAliveDefault is how often the keep-alive ping fires.
	KeepAliveDefault = 300 * time.Second

	// KeepAliveRequest bounds one keep-alive ping.
	KeepAliveRequest = 10 * time.Second

	// HistoryCleanupInterval is how often expired request history rows are deleted.
	HistoryCleanupInterval = 12 * time.Hour

	// SnapshotDefault is how often the history database is backed up to R2.
	SnapshotDefault = 6 * time.Hour

	// SnapshotUpload bounds one snapshot upload.
	SnapshotUpload = 2 * time.Minute

	// LineMediaDefault is how long media uploaded for LINE stays in the bucket.
	LineMediaDefault = time.Hour

	// LineMediaCleanupInterval is how often expired LINE media objects are deleted.
	LineMediaCleanupInterval = 10 * time.Minute
)

// Graceful shutdown
const (
	// GracefulShutdown is the timeout for graceful server shutdown.
	// Allows in-flight downloads to finish their cleanup before forceful termination.
	GracefulShutdown = 30 * time.Second

	// SentryFlush is how long shutdown waits for buffered error events.
	SentryFlush = 2 * time.Second
)
