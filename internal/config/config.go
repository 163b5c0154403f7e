// Package config provides application configuration management.
// It loads settings from environment variables (optionally seeded from a .env
// file) and provides defaults for the transports, the fetcher, the request
// lifecycle and the optional R2, Sentry and Better Stack features.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Telegram Bot Configuration
	TelegramToken string
	TelegramDebug bool

	// LINE Bot Configuration
	LineChannelToken  string
	LineChannelSecret string

	// Server Configuration
	Port            string
	LogLevel        string
	ShutdownTimeout time.Duration

	// Data Configuration
	DataDir          string        // Data directory for the request history database
	DownloadsDir     string        // Scratch directory for fetched media (files never outlive a request)
	HistoryRetention time.Duration // How long request history rows are kept (default: 30 days)

	// Fetcher Configuration
	YTDLPPath         string
	FetchTimeout      time.Duration
	ProfileMaxRetries int

	// Keep-alive Configuration
	KeepAliveURL      string // Base URL pinged at KeepAliveInterval (empty = disabled)
	KeepAliveInterval time.Duration

	// R2 Configuration (LINE media hosting + history snapshots)
	R2Enabled          bool
	R2AccountID        string
	R2AccessKeyID      string
	R2SecretAccessKey  string
	R2BucketName       string
	R2SnapshotKey      string
	R2MediaPrefix      string
	R2SnapshotInterval time.Duration
	LineMediaTTL       time.Duration

	// Sentry Configuration
	SentryEnabled     bool
	SentryToken       string
	SentryHost        string
	SentryEnvironment string
	SentryRelease     string
	SentrySampleRate  float64

	// Better Stack Configuration
	BetterStackEnabled  bool
	BetterStackToken    string
	BetterStackEndpoint string

	// Metrics Authentication
	MetricsAuthEnabled bool
	MetricsUsername    string // Username for /metrics and /stats Basic Auth (default: "prometheus")
	MetricsPassword    string

	// Bot Configuration (embedded)
	Bot BotConfig
}

// Load reads configuration from environment variables
// It attempts to load .env file first, then reads from env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	dataDir := getEnv(EnvDataDir, getDefaultDataDir())

	cfg := &Config{
		TelegramToken: getEnv(EnvTelegramBotToken, ""),
		TelegramDebug: getBoolEnv(EnvTelegramDebug, false),

		LineChannelToken:  getEnv(EnvLineChannelAccessToken, ""),
		LineChannelSecret: getEnv(EnvLineChannelSecret, ""),

		Port:            getEnv(EnvPort, "8080"),
		LogLevel:        getEnv(EnvLogLevel, "info"),
		ShutdownTimeout: getDurationEnv(EnvShutdownTimeout, GracefulShutdown),

		DataDir:          dataDir,
		DownloadsDir:     getEnv(EnvDownloadsDir, filepath.Join(dataDir, "downloads")),
		HistoryRetention: getDurationEnv(EnvHistoryRetention, 30*24*time.Hour),

		YTDLPPath:         getEnv(EnvYTDLPPath, "yt-dlp"),
		FetchTimeout:      getDurationEnv(EnvFetchTimeout, FetchDefault),
		ProfileMaxRetries: getIntEnv(EnvProfileRetries, 3),

		KeepAliveURL:      strings.TrimRight(getEnv(EnvKeepAliveURL, ""), "/"),
		KeepAliveInterval: getDurationEnv(EnvKeepAliveInterval, KeepAliveDefault),

		R2Enabled:          getBoolEnv(EnvR2Enabled, false),
		R2AccountID:        getEnv(EnvR2AccountID, ""),
		R2AccessKeyID:      getEnv(EnvR2AccessKeyID, ""),
		R2SecretAccessKey:  getEnv(EnvR2SecretAccessKey, ""),
		R2BucketName:       getEnv(EnvR2BucketName, ""),
		R2SnapshotKey:      getEnv(EnvR2SnapshotKey, "snapshots/history.db.zst"),
		R2MediaPrefix:      getEnv(EnvR2MediaPrefix, "media/"),
		R2SnapshotInterval: getDurationEnv(EnvR2SnapshotInterval, SnapshotDefault),
		LineMediaTTL:       getDurationEnv(EnvLineMediaTTL, LineMediaDefault),

		SentryEnabled:     getBoolEnv(EnvSentryEnabled, false),
		SentryToken:       getEnv(EnvSentryToken, ""),
		SentryHost:        getEnv(EnvSentryHost, ""),
		SentryEnvironment: getEnv(EnvSentryEnvironment, "production"),
		SentryRelease:     getEnv(EnvSentryRelease, ""),
		SentrySampleRate:  getFloatEnv(EnvSentrySampleRate, 1.0),

		BetterStackEnabled:  getBoolEnv(EnvBetterStackEnabled, false),
		BetterStackToken:    getEnv(EnvBetterStackToken, ""),
		BetterStackEndpoint: getEnv(EnvBetterStackEndpoint, ""),

		MetricsAuthEnabled: getBoolEnv(EnvMetricsAuthEnabled, false),
		MetricsUsername:    getEnv(EnvMetricsUsername, "prometheus"),
		MetricsPassword:    getEnv(EnvMetricsPassword, ""),

		Bot: loadBotConfig(),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadBotConfig() BotConfig {
	def := DefaultBotConfig()
	return BotConfig{
		MaxRequestsPerHour:      getIntEnv(EnvMaxRequestsPerHour, def.MaxRequestsPerHour),
		RateWindow:              getDurationEnv(EnvRateWindow, def.RateWindow),
		SessionTimeout:          getDurationEnv(EnvSessionTimeout, def.SessionTimeout),
		SweepInterval:           getDurationEnv(EnvSweepInterval, def.SweepInterval),
		EventTimeout:            getDurationEnv(EnvEventTimeout, def.EventTimeout),
		CaptionDescriptionLimit: getIntEnv(EnvCaptionDescriptionLimit, def.CaptionDescriptionLimit),
		TransportCaptionLimit:   getIntEnv(EnvTransportCaptionLimit, def.TransportCaptionLimit),
		TelegramSendRPS:         getFloatEnv(EnvTelegramSendRPS, def.TelegramSendRPS),
		LineSendRPS:             getFloatEnv(EnvLineSendRPS, def.LineSendRPS),
	}
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	var errs []error

	if !c.HasTelegram() && !c.HasLine() {
		errs = append(errs, fmt.Errorf("at least one transport is required: set %s or %s + %s",
			EnvTelegramBotToken, EnvLineChannelAccessToken, EnvLineChannelSecret))
	}
	if (c.LineChannelToken == "") != (c.LineChannelSecret == "") {
		errs = append(errs, fmt.Errorf("%s and %s must be set together", EnvLineChannelAccessToken, EnvLineChannelSecret))
	}
	if c.HasLine() && !c.R2Enabled {
		errs = append(errs, fmt.Errorf("LINE transport needs R2 for media hosting: set %s=true", EnvR2Enabled))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if err := c.Bot.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bot config: %w", err))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}
	if c.DownloadsDir == "" {
		errs = append(errs, errors.New("DOWNLOADS_DIR is required"))
	}
	if c.HistoryRetention <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_RETENTION must be positive, got %v", c.HistoryRetention))
	}
	if c.YTDLPPath == "" {
		errs = append(errs, errors.New("YTDLP_PATH is required"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive, got %v", c.FetchTimeout))
	}
	if c.FetchTimeout >= c.Bot.EventTimeout {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT (%v) must be shorter than EVENT_TIMEOUT (%v)", c.FetchTimeout, c.Bot.EventTimeout))
	}
	if c.ProfileMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("PROFILE_MAX_RETRIES cannot be negative, got %d", c.ProfileMaxRetries))
	}
	if c.KeepAliveURL != "" && c.KeepAliveInterval <= 0 {
		errs = append(errs, fmt.Errorf("KEEPALIVE_INTERVAL must be positive, got %v", c.KeepAliveInterval))
	}
	if c.R2Enabled {
		if c.R2AccountID == "" || c.R2AccessKeyID == "" || c.R2SecretAccessKey == "" || c.R2BucketName == "" {
			errs = append(errs, errors.New("R2 is enabled but account id, access key, secret key or bucket name is missing"))
		}
		if c.R2SnapshotInterval <= 0 {
			errs = append(errs, fmt.Errorf("R2_SNAPSHOT_INTERVAL must be positive, got %v", c.R2SnapshotInterval))
		}
		if c.LineMediaTTL <= 0 {
			errs = append(errs, fmt.Errorf("LINE_MEDIA_TTL must be positive, got %v", c.LineMediaTTL))
		}
	}
	if c.SentryEnabled && (c.SentryToken == "" || c.SentryHost == "") {
		errs = append(errs, errors.New("sentry is enabled but token or host is missing"))
	}
	if c.SentrySampleRate < 0 || c.SentrySampleRate > 1 {
		errs = append(errs, fmt.Errorf("SENTRY_SAMPLE_RATE must be within [0, 1], got %f", c.SentrySampleRate))
	}
	if c.BetterStackEnabled && (c.BetterStackToken == "" || c.BetterStackEndpoint == "") {
		errs = append(errs, errors.New("better stack is enabled but token or endpoint is missing"))
	}
	if c.MetricsAuthEnabled && c.MetricsPassword == "" {
		errs = append(errs, errors.New("metrics auth is enabled but METRICS_PASSWORD is empty"))
	}

	return errors.Join(errs...)
}

// HasTelegram returns true if the Telegram transport is configured.
func (c *Config) HasTelegram() bool {
	return c.TelegramToken != ""
}

// HasLine returns true if the LINE transport is configured.
func (c *Config) HasLine() bool {
	return c.LineChannelToken != "" && c.LineChannelSecret != ""
}

// R2Endpoint returns the S3-compatible endpoint for the configured R2 account.
func (c *Config) R2Endpoint() string {
	if c.R2AccountID == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2AccountID)
}

// SQLitePath returns the full path to the SQLite database file
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves integer environment variable with fallback to default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getBoolEnv retrieves boolean environment variable with fallback to default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationEnv retrieves duration environment variable with fallback to default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getFloatEnv retrieves float64 environment variable with fallback to default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getDefaultDataDir returns platform-specific default data directory
func getDefaultDataDir() string {
	if runtime.GOOS == "windows" {
		return "./data"
	}
	return "/data"
}
