// Package sentry reports unexpected failures (pipeline panics, transport
// crashes) to a Sentry-compatible backend such as Better Stack Errors.
package sentry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds Sentry client settings.
type Config struct {
	Token       string  // Better Stack Errors application token
	Host        string  // ingesting host, e.g. "errors.betterstack.com"
	Environment string  // deployment environment
	Release     string  // build version
	SampleRate  float64 // 0.0-1.0, 0 means 1.0
	Debug       bool
}

// Initialize sets up the global Sentry client. An empty Token disables
// reporting and returns nil.
//
// The DSN is https://$TOKEN@$HOST/1; Better Stack ignores the project id.
func Initialize(cfg Config) error {
	if cfg.Token == "" {
		return nil
	}
	if cfg.Host == "" {
		return fmt.Errorf("sentry host is required when token is provided")
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              fmt.Sprintf("https://%s@%s/1", cfg.Token, cfg.Host),
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       sampleRate,
		Debug:            cfg.Debug,
		AttachStacktrace: true,
	})
}

// Flush waits up to timeout for buffered events to be sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// IsEnabled reports whether a client is bound to the current hub.
func IsEnabled() bool {
	return sentry.CurrentHub().Client() != nil
}

// CaptureException reports err on the hub bound to ctx (set by the gin
// middleware), falling back to the global hub. Tags are attached to this
// event only.
func CaptureException(ctx context.Context, err error, tags map[string]string) {
	if err == nil || !IsEnabled() {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

// CapturePanic reports a recovered panic value with its tags.
func CapturePanic(ctx context.Context, recovered any, tags map[string]string) {
	CaptureException(ctx, fmt.Errorf("panic: %v", recovered), tags)
}
