// Package config defines environment variable keys for configuration.
package config

//nolint:gosec,revive // Environment variable keys are not credentials and do not need per-const comments.
const (
	// Transports (at least one required)
	EnvTelegramBotToken       = "IGRELAY_TELEGRAM_BOT_TOKEN"
	EnvTelegramDebug          = "IGRELAY_TELEGRAM_DEBUG"
	EnvLineChannelAccessToken = "IGRELAY_LINE_CHANNEL_ACCESS_TOKEN"
	EnvLineChannelSecret      = "IGRELAY_LINE_CHANNEL_SECRET"

	// Server
	EnvPort            = "IGRELAY_PORT"
	EnvLogLevel        = "IGRELAY_LOG_LEVEL"
	EnvShutdownTimeout = "IGRELAY_SHUTDOWN_TIMEOUT"

	// Data
	EnvDataDir          = "IGRELAY_DATA_DIR"
	EnvDownloadsDir     = "IGRELAY_DOWNLOADS_DIR"
	EnvHistoryRetention = "IGRELAY_HISTORY_RETENTION"

	// Fetcher
	EnvYTDLPPath      = "IGRELAY_YTDLP_PATH"
	EnvFetchTimeout   = "IGRELAY_FETCH_TIMEOUT"
	EnvProfileRetries = "IGRELAY_PROFILE_MAX_RETRIES"

	// Request lifecycle
	EnvMaxRequestsPerHour      = "IGRELAY_MAX_REQUESTS_PER_HOUR"
	EnvRateWindow              = "IGRELAY_RATE_WINDOW"
	EnvSessionTimeout          = "IGRELAY_SESSION_TIMEOUT"
	EnvSweepInterval           = "IGRELAY_SWEEP_INTERVAL"
	EnvCaptionDescriptionLimit = "IGRELAY_CAPTION_DESCRIPTION_LIMIT"
	EnvTransportCaptionLimit   = "IGRELAY_TRANSPORT_CAPTION_LIMIT"
	EnvEventTimeout            = "IGRELAY_EVENT_TIMEOUT"
	EnvTelegramSendRPS         = "IGRELAY_TELEGRAM_SEND_RPS"
	EnvLineSendRPS             = "IGRELAY_LINE_SEND_RPS"

	// Keep-alive
	EnvKeepAliveURL      = "IGRELAY_KEEPALIVE_URL"
	EnvKeepAliveInterval = "IGRELAY_KEEPALIVE_INTERVAL"

	// R2 Feature (LINE media hosting + history snapshots)
	EnvR2Enabled          = "IGRELAY_R2_ENABLED"
	EnvR2AccountID        = "IGRELAY_R2_ACCOUNT_ID"
	EnvR2AccessKeyID      = "IGRELAY_R2_ACCESS_KEY_ID"
	EnvR2SecretAccessKey  = "IGRELAY_R2_SECRET_ACCESS_KEY"
	EnvR2BucketName       = "IGRELAY_R2_BUCKET_NAME"
	EnvR2SnapshotKey      = "IGRELAY_R2_SNAPSHOT_KEY"
	EnvR2MediaPrefix      = "IGRELAY_R2_MEDIA_PREFIX"
	EnvR2SnapshotInterval = "IGRELAY_R2_SNAPSHOT_INTERVAL"
	EnvLineMediaTTL       = "IGRELAY_LINE_MEDIA_TTL"

	// Sentry Feature
	EnvSentryEnabled     = "IGRELAY_SENTRY_ENABLED"
	EnvSentryToken       = "IGRELAY_SENTRY_TOKEN"
	EnvSentryHost        = "IGRELAY_SENTRY_HOST"
	EnvSentryEnvironment = "IGRELAY_SENTRY_ENVIRONMENT"
	EnvSentryRelease     = "IGRELAY_SENTRY_RELEASE"
	EnvSentrySampleRate  = "IGRELAY_SENTRY_SAMPLE_RATE"

	// Better Stack Feature
	EnvBetterStackEnabled  = "IGRELAY_BETTERSTACK_ENABLED"
	EnvBetterStackToken    = "IGRELAY_BETTERSTACK_TOKEN"
	EnvBetterStackEndpoint = "IGRELAY_BETTERSTACK_ENDPOINT"

	// Metrics Auth Feature
	EnvMetricsAuthEnabled = "IGRELAY_METRICS_AUTH_ENABLED"
	EnvMetricsUsername    = "IGRELAY_METRICS_USERNAME"
	EnvMetricsPassword    = "IGRELAY_METRICS_PASSWORD"
)
