// Package ratelimit provides the per-user sliding-window request limiter and
// the outbound send throttle used by the transports.
package ratelimit

import (
	"sync"
	"time"

	"github.com/garyellow/igrelay/internal/metrics"
)

// WindowConfig configures a WindowLimiter instance.
type WindowConfig struct {
	// Name identifies this limiter for metrics (e.g., "user")
	Name string

	// Limit is the number of requests admitted per key inside Window.
	Limit int

	// Window is the trailing period requests are counted over.
	Window time.Duration

	// SweepInterval is the minimum spacing between two effective sweeps.
	SweepInterval time.Duration

	// Optional metrics reporter
	Metrics *metrics.Metrics
}

// WindowLimiter admits at most Limit requests per key inside any trailing
// Window. Each key keeps the timestamps of its admitted requests; a denied
// request is not recorded, so hammering while limited does not extend the wait.
//
// A timestamp t counts against the key while now-t < Window. Time is supplied
// by the caller so the limiter never reads the wall clock itself.
//
// All operations for a key run under one mutex.
type WindowLimiter struct {
	mu        sync.Mutex
	records   map[string][]time.Time
	lastSweep time.Time
	config    WindowConfig
	onDrop    func()          // Optional callback when request is dropped
	onUpdate  func(count int) // Optional callback when tracked key count changes
}

// NewWindowLimiter creates a new sliding-window limiter.
//
// Example:
//
//	limiter := NewWindowLimiter(WindowConfig{
//	    Name:          "user",
//	    Limit:         30,
//	    Window:        time.Hour,
//	    SweepInterval: 5 * time.Minute,
//	})
//
//	if limiter.Admit("telegram:42", clock.Now()) {
//	    // Process request
//	}
func NewWindowLimiter(cfg WindowConfig) *WindowLimiter {
	wl := &WindowLimiter{
		records: make(map[string][]time.Time),
		config:  cfg,
	}

	if cfg.Metrics != nil {
		wl.onDrop = func() {
			cfg.Metrics.RecordRateLimiterDrop(cfg.Name)
		}
		wl.onUpdate = func(count int) {
			cfg.Metrics.SetRateLimiterUsers(cfg.Name, count)
		}
	}

	return wl
}

// Admit reports whether a request for key at now is within budget and, if so,
// records it. An empty key is always admitted.
func (wl *WindowLimiter) Admit(key string, now time.Time) bool {
	if key == "" {
		return true
	}

	wl.mu.Lock()
	kept := wl.prune(wl.records[key], now)
	if len(kept) >= wl.config.Limit {
		wl.records[key] = kept
		wl.mu.Unlock()
		if wl.onDrop != nil {
			wl.onDrop()
		}
		return false
	}
	_, tracked := wl.records[key]
	wl.records[key] = append(kept, now)
	count := len(wl.records)
	wl.mu.Unlock()

	if !tracked && wl.onUpdate != nil {
		wl.onUpdate(count)
	}
	return true
}

// Remaining returns how many requests key may still make at now.
func (wl *WindowLimiter) Remaining(key string, now time.Time) int {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	used := 0
	cutoff := now.Add(-wl.config.Window)
	for _, ts := range wl.records[key] {
		if ts.After(cutoff) {
			used++
		}
	}
	return max(wl.config.Limit-used, 0)
}

// RetryAfter returns how long key has to wait at now before a slot frees up.
// Zero means a request would be admitted.
func (wl *WindowLimiter) RetryAfter(key string, now time.Time) time.Duration {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	cutoff := now.Add(-wl.config.Window)
	used := 0
	var oldest time.Time
	for _, ts := range wl.records[key] {
		if !ts.After(cutoff) {
			continue
		}
		if used == 0 || ts.Before(oldest) {
			oldest = ts
		}
		used++
	}
	if used < wl.config.Limit {
		return 0
	}
	return oldest.Add(wl.config.Window).Sub(now)
}

// Sweep prunes every key and forgets keys left empty. It runs at most once per
// SweepInterval; calls inside the interval return ran=false and do nothing.
func (wl *WindowLimiter) Sweep(now time.Time) (removed int, ran bool) {
	wl.mu.Lock()
	if !wl.lastSweep.IsZero() && now.Sub(wl.lastSweep) < wl.config.SweepInterval {
		wl.mu.Unlock()
		return 0, false
	}
	wl.lastSweep = now

	for key, stamps := range wl.records {
		kept := wl.prune(stamps, now)
		if len(kept) == 0 {
			delete(wl.records, key)
			removed++
			continue
		}
		wl.records[key] = kept
	}
	count := len(wl.records)
	wl.mu.Unlock()

	if wl.onUpdate != nil {
		wl.onUpdate(count)
	}
	return removed, true
}

// ActiveCount returns the number of keys currently tracked.
func (wl *WindowLimiter) ActiveCount() int {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	return len(wl.records)
}

// prune drops timestamps that have left the window, reusing the backing array.
// Caller must hold wl.mu.
func (wl *WindowLimiter) prune(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-wl.config.Window)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
