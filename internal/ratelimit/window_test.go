package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/garyellow/igrelay/internal/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// mockMetrics creates a test Metrics instance
func mockMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func newUserLimiter(m *metrics.Metrics) *WindowLimiter {
	return NewWindowLimiter(WindowConfig{
		Name:          "user",
		Limit:         30,
		Window:        time.Hour,
		SweepInterval: 5 * time.Minute,
		Metrics:       m,
	})
}

func TestWindowLimiter_DeniesAfterLimit(t *testing.T) {
	t.Parallel()
	wl := newUserLimiter(nil)

	for i := range 30 {
		if !wl.Admit("u1", t0.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("request %d denied, want admitted", i+1)
		}
	}
	if wl.Admit("u1", t0.Add(30*time.Second)) {
		t.Error("31st request admitted, want denied")
	}
	// Other users are independent.
	if !wl.Admit("u2", t0.Add(30*time.Second)) {
		t.Error("u2 denied, want admitted")
	}
}

func TestWindowLimiter_ReleasesOneSlotPerAgedRequest(t *testing.T) {
	t.Parallel()
	wl := newUserLimiter(nil)

	// 30 requests one minute apart: t0, t0+1m, ..., t0+29m.
	for i := range 30 {
		if !wl.Admit("u1", t0.Add(time.Duration(i)*time.Minute)) {
			t.Fatalf("request %d denied", i+1)
		}
	}

	// Just before the oldest ages out: still full.
	if wl.Admit("u1", t0.Add(time.Hour-time.Second)) {
		t.Fatal("admitted before the oldest request left the window")
	}

	// At t0+1h the first request has left the window: exactly one slot.
	at := t0.Add(time.Hour)
	if !wl.Admit("u1", at) {
		t.Fatal("denied after the oldest request left the window")
	}
	if wl.Admit("u1", at) {
		t.Fatal("second request admitted, only one slot should have been released")
	}

	// One minute later the second one has aged out too.
	if !wl.Admit("u1", at.Add(time.Minute)) {
		t.Fatal("denied after the second request left the window")
	}
}

func TestWindowLimiter_DeniedRequestsAreNotRecorded(t *testing.T) {
	t.Parallel()
	wl := NewWindowLimiter(WindowConfig{Name: "user", Limit: 1, Window: time.Hour, SweepInterval: time.Minute})

	if !wl.Admit("u1", t0) {
		t.Fatal("first request denied")
	}
	// Hammering while limited must not push the release time further out.
	for i := 1; i <= 10; i++ {
		if wl.Admit("u1", t0.Add(time.Duration(i)*time.Minute)) {
			t.Fatalf("request at +%dm admitted", i)
		}
	}
	if !wl.Admit("u1", t0.Add(time.Hour)) {
		t.Error("denied at t0+1h, denials should not have been recorded")
	}
}

func TestWindowLimiter_EmptyKeyAlwaysAdmitted(t *testing.T) {
	t.Parallel()
	wl := NewWindowLimiter(WindowConfig{Name: "user", Limit: 1, Window: time.Hour})

	for range 5 {
		if !wl.Admit("", t0) {
			t.Fatal("empty key denied")
		}
	}
	if wl.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", wl.ActiveCount())
	}
}

func TestWindowLimiter_RemainingAndRetryAfter(t *testing.T) {
	t.Parallel()
	wl := NewWindowLimiter(WindowConfig{Name: "user", Limit: 2, Window: time.Hour})

	if got := wl.Remaining("u1", t0); got != 2 {
		t.Errorf("Remaining() = %d, want 2", got)
	}
	wl.Admit("u1", t0)
	wl.Admit("u1", t0.Add(10*time.Minute))

	if got := wl.Remaining("u1", t0.Add(20*time.Minute)); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
	if got := wl.RetryAfter("u1", t0.Add(20*time.Minute)); got != 40*time.Minute {
		t.Errorf("RetryAfter() = %v, want 40m", got)
	}
	if got := wl.RetryAfter("u1", t0.Add(time.Hour)); got != 0 {
		t.Errorf("RetryAfter() = %v, want 0 once a slot is free", got)
	}
}

func TestWindowLimiter_RetryAfterLeavesRecordIntact(t *testing.T) {
	t.Parallel()
	wl := newUserLimiter(nil)

	wl.Admit("u1", t0)
	for i := range 29 {
		wl.Admit("u1", t0.Add(30*time.Minute+time.Duration(i)*time.Second))
	}

	now := t0.Add(61 * time.Minute)
	if got := wl.Remaining("u1", now); got != 1 {
		t.Fatalf("Remaining() = %d, want 1", got)
	}
	if got := wl.RetryAfter("u1", now); got != 0 {
		t.Errorf("RetryAfter() = %v, want 0", got)
	}
	if got := wl.Remaining("u1", now); got != 1 {
		t.Errorf("Remaining() after RetryAfter = %d, want 1", got)
	}
	if !wl.Admit("u1", now) {
		t.Error("Admit() denied with 29 live requests, want admitted")
	}
}

func TestWindowLimiter_Sweep(t *testing.T) {
	t.Parallel()
	m := mockMetrics()
	wl := newUserLimiter(m)

	wl.Admit("old", t0)
	wl.Admit("fresh", t0.Add(50*time.Minute))
	if got := testutil.ToFloat64(m.RateLimiterUsers.WithLabelValues("user")); got != 2 {
		t.Errorf("users gauge = %v, want 2", got)
	}

	removed, ran := wl.Sweep(t0.Add(time.Hour))
	if !ran || removed != 1 {
		t.Fatalf("Sweep() = (%d, %v), want (1, true)", removed, ran)
	}
	if wl.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", wl.ActiveCount())
	}
	if got := testutil.ToFloat64(m.RateLimiterUsers.WithLabelValues("user")); got != 1 {
		t.Errorf("users gauge = %v, want 1", got)
	}

	// Inside the sweep interval nothing happens.
	if _, ran := wl.Sweep(t0.Add(time.Hour + 4*time.Minute)); ran {
		t.Error("second sweep inside the interval should not run")
	}
	// After the interval it runs again and removes the remaining stale key.
	removed, ran = wl.Sweep(t0.Add(2 * time.Hour))
	if !ran || removed != 1 {
		t.Errorf("Sweep() = (%d, %v), want (1, true)", removed, ran)
	}
}

func TestWindowLimiter_DropMetrics(t *testing.T) {
	t.Parallel()
	m := mockMetrics()
	wl := NewWindowLimiter(WindowConfig{Name: "user", Limit: 1, Window: time.Hour, Metrics: m})

	wl.Admit("u1", t0)
	wl.Admit("u1", t0)
	wl.Admit("u1", t0)

	if got := testutil.ToFloat64(m.RateLimiterDropped.WithLabelValues("user")); got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
}

func TestWindowLimiter_Concurrent(t *testing.T) {
	t.Parallel()
	wl := newUserLimiter(nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted = make(map[string]int)
	)
	for u := range 5 {
		key := fmt.Sprintf("user%d", u)
		for range 50 {
			wg.Go(func() {
				if wl.Admit(key, t0) {
					mu.Lock()
					admitted[key]++
					mu.Unlock()
				}
			})
		}
	}
	wg.Wait()

	for key, n := range admitted {
		if n != 30 {
			t.Errorf("%s admitted %d, want exactly 30", key, n)
		}
	}
}
