// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/garyellow/igrelay/internal/buildinfo"
	"github.com/garyellow/igrelay/internal/clock"
	"github.com/garyellow/igrelay/internal/config"
	"github.com/garyellow/igrelay/internal/ctxutil"
	"github.com/garyellow/igrelay/internal/dispatcher"
	"github.com/garyellow/igrelay/internal/fetcher"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/r2client"
	"github.com/garyellow/igrelay/internal/ratelimit"
	"github.com/garyellow/igrelay/internal/scheduler"
	"github.com/garyellow/igrelay/internal/sentry"
	"github.com/garyellow/igrelay/internal/session"
	"github.com/garyellow/igrelay/internal/snapshot"
	"github.com/garyellow/igrelay/internal/storage"
	"github.com/garyellow/igrelay/internal/transport"
	"github.com/garyellow/igrelay/internal/transport/line"
	"github.com/garyellow/igrelay/internal/transport/telegram"
)

// statsWindow is how far back GET /stats looks.
const statsWindow = 24 * time.Hour

// Application manages the application lifecycle and dependencies.
type Application struct {
	cfg         *config.Config
	logger      *logger.Logger
	db          *storage.DB
	metrics     *metrics.Metrics
	registry    *prometheus.Registry
	clock       clock.Clock
	limiter     *ratelimit.WindowLimiter
	sessions    *session.Store
	dispatchers []*dispatcher.Dispatcher
	poller      *telegram.Poller // nil without Telegram
	lineWebhook *line.Webhook    // nil without LINE
	scheduler   *scheduler.Scheduler
	server      *http.Server
	wg          sync.WaitGroup // background goroutines
}

// Initialize creates and initializes a new application with all dependencies.
func Initialize(ctx context.Context, cfg *config.Config) (*Application, error) {
	opts := logger.Options{}
	if cfg.BetterStackEnabled {
		opts.BetterStackToken = cfg.BetterStackToken
		opts.BetterStackEndpoint = cfg.BetterStackEndpoint
	}
	log := logger.NewWithOptions(cfg.LogLevel, os.Stdout, opts).WithField("service", "igrelay")
	if host, err := os.Hostname(); err == nil && host != "" {
		log = log.WithField("instance_id", host)
	}

	// Package-level slog.*Context calls pick up user/chat/request ids through ContextHandler.
	slog.SetDefault(log.Logger)

	log.WithFields(buildinfo.Fields()).Info("Initializing application...")

	if cfg.SentryEnabled {
		release := cfg.SentryRelease
		if release == "" {
			release = buildinfo.Release()
		}
		if err := sentry.Initialize(sentry.Config{
			Token:       cfg.SentryToken,
			Host:        cfg.SentryHost,
			Environment: cfg.SentryEnvironment,
			Release:     release,
			SampleRate:  cfg.SentrySampleRate,
		}); err != nil {
			log.WithError(err).Warn("Sentry initialization failed")
		} else {
			log.WithField("environment", cfg.SentryEnvironment).Info("Sentry error reporting enabled")
		}
	}

	var (
		r2    *r2client.Client
		snaps *snapshot.Manager
	)
	if cfg.R2Enabled {
		var err error
		r2, err = r2client.New(ctx, r2client.Config{
			Endpoint:    cfg.R2Endpoint(),
			AccessKeyID: cfg.R2AccessKeyID,
			SecretKey:   cfg.R2SecretAccessKey,
			BucketName:  cfg.R2BucketName,
		})
		if err != nil {
			return nil, fmt.Errorf("r2: %w", err)
		}
		snaps = snapshot.New(r2, snapshot.Config{Key: cfg.R2SnapshotKey, TempDir: cfg.DataDir})

		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath()), 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		restored, err := snaps.RestoreIfMissing(ctx, cfg.SQLitePath())
		if err != nil {
			log.WithError(err).Warn("Snapshot restore failed, starting with an empty history")
		} else if restored {
			log.WithField("key", cfg.R2SnapshotKey).Info("History restored from snapshot")
		}
	}

	db, err := storage.New(ctx, cfg.SQLitePath())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	log.WithField("path", cfg.SQLitePath()).Info("Database connected")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)
	m := metrics.New(registry)

	limiter := ratelimit.NewWindowLimiter(ratelimit.WindowConfig{
		Name:          "user",
		Limit:         cfg.Bot.MaxRequestsPerHour,
		Window:        cfg.Bot.RateWindow,
		SweepInterval: cfg.Bot.SweepInterval,
		Metrics:       m,
	})
	sessions := session.NewStore(cfg.Bot.SessionTimeout)
	sessions.OnUpdate(m.SetSessionsActive)

	fetch, err := newFetcher(cfg, log, m)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app := &Application{
		cfg:      cfg,
		logger:   log,
		db:       db,
		metrics:  m,
		registry: registry,
		clock:    clock.Real{},
		limiter:  limiter,
		sessions: sessions,
	}

	newDispatcher := func(t transport.Transport) *dispatcher.Dispatcher {
		d := dispatcher.New(dispatcher.Config{
			Transport: t,
			Fetcher:   fetch,
			Limiter:   limiter,
			Sessions:  sessions,
			Clock:     app.clock,
			History:   db,
			Logger:    log,
			Metrics:   m,
			Bot:       cfg.Bot,
		})
		app.dispatchers = append(app.dispatchers, d)
		return d
	}

	if cfg.HasTelegram() {
		tcfg := telegram.Config{
			Token:   cfg.TelegramToken,
			Debug:   cfg.TelegramDebug,
			SendRPS: cfg.Bot.TelegramSendRPS,
			Logger:  log,
			Metrics: m,
		}
		api, err := telegram.Connect(tcfg)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		d := newDispatcher(telegram.NewTransport(api, tcfg))
		app.poller = telegram.NewPoller(api, d, log, m)
	}

	if cfg.HasLine() {
		var host line.MediaHost
		if r2 != nil {
			host = r2
		}
		lt, err := line.NewTransport(line.Config{
			ChannelToken: cfg.LineChannelToken,
			SendRPS:      cfg.Bot.LineSendRPS,
			MediaHost:    host,
			MediaPrefix:  cfg.R2MediaPrefix,
			MediaTTL:     cfg.LineMediaTTL,
			Logger:       log,
			Metrics:      m,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("line: %w", err)
		}
		app.lineWebhook = line.NewWebhook(line.WebhookConfig{
			ChannelSecret: cfg.LineChannelSecret,
			Handler:       newDispatcher(lt),
			Loader:        lt,
			Logger:        log,
			Metrics:       m,
		})
	}

	app.scheduler = app.newScheduler(r2, snaps)

	app.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.routes(),
		ReadHeaderTimeout: config.WebhookHTTPRead,
		ReadTimeout:       config.WebhookHTTPRead,
		WriteTimeout:      config.WebhookHTTPWrite,
		IdleTimeout:       config.WebhookHTTPIdle,
	}

	transports := make([]string, 0, len(app.dispatchers))
	for _, d := range app.dispatchers {
		transports = append(transports, d.Transport().Name())
	}
	log.WithField("transports", transports).
		WithField("r2", r2 != nil).
		Info("Initialization complete")
	return app, nil
}

func newFetcher(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*fetcher.Router, error) {
	ytdlp, err := fetcher.NewYTDLP(fetcher.YTDLPConfig{
		Path:         cfg.YTDLPPath,
		DownloadsDir: cfg.DownloadsDir,
		Timeout:      cfg.FetchTimeout,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("yt-dlp fetcher: %w", err)
	}
	profile, err := fetcher.NewProfilePicture(fetcher.ProfileConfig{
		DownloadsDir:   cfg.DownloadsDir,
		RequestTimeout: config.ProfileRequest,
		MaxRetries:     cfg.ProfileMaxRetries,
		RetryDelay:     config.ProfileRetryInitial,
		Logger:         log,
		Metrics:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("profile fetcher: %w", err)
	}
	return &fetcher.Router{Image: profile, Media: ytdlp}, nil
}

// newScheduler registers the periodic jobs. Optional jobs are skipped when
// their backing service is not configured.
func (a *Application) newScheduler(r2 *r2client.Client, snaps *snapshot.Manager) *scheduler.Scheduler {
	s := scheduler.New(scheduler.Config{
		Clock:      a.clock,
		Resolution: config.SchedulerResolution,
		Logger:     a.logger,
		Metrics:    a.metrics,
	})

	// Limiter and session store are shared by every dispatcher, one sweep covers all.
	if len(a.dispatchers) > 0 {
		s.Add(scheduler.SweepTask(a.dispatchers[0], a.cfg.Bot.SweepInterval, a.logger))
	}
	s.Add(scheduler.RetentionTask(a.db, a.cfg.HistoryRetention, a.logger))
	if a.cfg.KeepAliveURL != "" {
		s.Add(scheduler.KeepAliveTask(nil, a.cfg.KeepAliveURL, a.cfg.KeepAliveInterval))
	}
	if snaps != nil {
		s.Add(scheduler.SnapshotTask(snaps, a.db, a.cfg.R2SnapshotInterval, a.logger))
	}
	if r2 != nil && a.lineWebhook != nil {
		s.Add(scheduler.MediaCleanupTask(r2, a.cfg.R2MediaPrefix, a.cfg.LineMediaTTL, a.logger))
	}
	return s
}

// routes builds the HTTP router: probes, metrics, stats and the LINE webhook.
func (a *Application) routes() *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	router.Use(securityHeadersMiddleware())
	router.Use(loggingMiddleware(a.logger))

	router.GET("/livez", a.livenessCheck)
	router.HEAD("/livez", a.livenessCheck)
	router.GET("/health", a.livenessCheck)
	router.HEAD("/health", a.livenessCheck)
	router.GET("/readyz", a.readinessCheck)
	router.HEAD("/readyz", a.readinessCheck)

	auth := metricsAuthMiddleware(a.cfg.MetricsAuthEnabled, a.cfg.MetricsUsername, a.cfg.MetricsPassword)
	router.GET("/metrics", auth, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	router.GET("/stats", auth, a.stats)

	if a.lineWebhook != nil {
		router.POST("/webhook/line", a.lineWebhook.Handle)
	}
	return router
}

func (a *Application) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

func (a *Application) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), config.ReadinessCheckTimeout)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		a.logger.WithError(err).Warn("Readiness check failed: database unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "database unavailable",
		})
		return
	}

	transports := make([]string, 0, len(a.dispatchers))
	for _, d := range a.dispatchers {
		transports = append(transports, d.Transport().Name())
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"database":   "connected",
		"transports": transports,
		"sessions":   a.sessions.Len(),
		"users":      a.limiter.ActiveCount(),
	})
}

func (a *Application) stats(c *gin.Context) {
	stats, err := a.db.StatsSince(c.Request.Context(), a.clock.Now().Add(-statsWindow))
	if err != nil {
		a.logger.WithError(err).Error("Failed to read request stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Run starts the server, the poller and the scheduler, then blocks until
// SIGINT/SIGTERM and shuts everything down.
//
// Background jobs stop before resources close so no job runs against a
// closed database.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := a.startHTTPServer()
	a.startBackgroundJobs(ctx)

	select {
	case sig := <-a.waitForShutdownSignal():
		a.logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-serverErr:
		a.logger.WithError(err).Error("HTTP server failed")
	}

	cancel()

	a.logger.Info("Waiting for background jobs to finish...")
	start := time.Now()
	a.wg.Wait()
	a.logger.WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("All background jobs completed")

	return a.shutdown()
}

// startBackgroundJobs starts the scheduler and the Telegram poller.
func (a *Application) startBackgroundJobs(ctx context.Context) {
	a.wg.Go(func() {
		a.scheduler.Start(ctx)
	})
	if a.poller != nil {
		a.wg.Go(func() {
			if err := a.poller.Run(ctx); err != nil {
				a.logger.WithError(err).Error("Telegram polling stopped")
			}
		})
	}
}

// startHTTPServer serves in a goroutine; the channel receives a listen error.
func (a *Application) startHTTPServer() <-chan error {
	errc := make(chan error, 1)
	go func() {
		a.logger.WithField("port", a.cfg.Port).Info("Starting HTTP server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	return errc
}

func (a *Application) waitForShutdownSignal() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return quit
}

// shutdown stops accepting requests, drains in-flight events of both
// transports in parallel, then closes resources.
func (a *Application) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	a.logger.Info("Stopping HTTP server...")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("HTTP server shutdown error")
	}

	a.logger.Info("Waiting for in-flight events to complete...")
	if err := a.drain(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("In-flight events did not finish in time")
	}

	a.logger.Info("Closing resources...")
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).WithField("component", "database").Error("Component close error")
	}

	if sentry.IsEnabled() && !sentry.Flush(config.SentryFlush) {
		a.logger.Warn("Sentry flush timed out")
	}

	a.logger.Info("Shutdown complete")
	if err := a.logger.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("Logger shutdown timed out")
	}
	return nil
}

// drain waits for event handlers of every transport.
func (a *Application) drain(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.poller != nil {
		g.Go(func() error { return a.poller.Shutdown(ctx) })
	}
	if a.lineWebhook != nil {
		g.Go(func() error { return a.lineWebhook.Shutdown(ctx) })
	}
	return g.Wait()
}

// securityHeadersMiddleware adds security headers to responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'")
		c.Next()
	}
}

// loggingMiddleware logs HTTP requests with status-based log levels:
// 5xx=Error, 4xx=Warn, 404 and success=Debug.
func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = c.GetHeader("X-Correlation-Id")
		}
		if requestID != "" {
			c.Request = c.Request.WithContext(ctxutil.WithRequestID(c.Request.Context(), requestID))
		}

		c.Next()

		status := c.Writer.Status()
		entry := log.WithField("http_method", method).
			WithField("http_path", path).
			WithField("http_status", status).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			WithField("client_ip", c.ClientIP())
		if requestID != "" {
			entry = entry.WithRequestID(requestID)
		}

		switch {
		case status >= 500:
			entry.Error("HTTP request failed")
		case status >= 400 && status != http.StatusNotFound:
			entry.Warn("HTTP request rejected")
		default:
			entry.Debug("HTTP request completed")
		}
	}
}
