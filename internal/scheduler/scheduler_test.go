package scheduler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyellow/igrelay/internal/clock"
	"github.com/garyellow/igrelay/internal/dispatcher"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/r2client"
	"github.com/garyellow/igrelay/internal/snapshot"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T) (*Scheduler, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return New(Config{
		Clock:   clock.NewManual(t0),
		Logger:  logger.NewWithWriter("debug", io.Discard),
		Metrics: m,
	}), m
}

func counter(fn func(context.Context, time.Time) error) (*atomic.Int32, func(context.Context, time.Time) error) {
	var n atomic.Int32
	return &n, func(ctx context.Context, now time.Time) error {
		n.Add(1)
		return fn(ctx, now)
	}
}

func ok(context.Context, time.Time) error { return nil }

func TestTick_FirstRunAfterInterval(t *testing.T) {
	s, m := newScheduler(t)
	n, run := counter(ok)
	s.Add(Task{Name: "a", Interval: time.Minute, Run: run})

	assert.Empty(t, s.Tick(context.Background(), t0))
	assert.Empty(t, s.Tick(context.Background(), t0.Add(59*time.Second)))
	assert.Equal(t, []string{"a"}, s.Tick(context.Background(), t0.Add(time.Minute)))
	assert.Empty(t, s.Tick(context.Background(), t0.Add(90*time.Second)))
	assert.Equal(t, []string{"a"}, s.Tick(context.Background(), t0.Add(2*time.Minute)))

	assert.Equal(t, int32(2), n.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("a", "success")))
}

func TestTick_RunAtStart(t *testing.T) {
	s, _ := newScheduler(t)
	n, run := counter(ok)
	s.Add(Task{Name: "boot", Interval: time.Hour, RunAtStart: true, Run: run})

	assert.Equal(t, []string{"boot"}, s.Tick(context.Background(), t0))
	assert.Empty(t, s.Tick(context.Background(), t0.Add(30*time.Minute)))
	assert.Equal(t, int32(1), n.Load())
}

func TestTick_ErrorRecorded(t *testing.T) {
	s, m := newScheduler(t)
	s.Add(Task{Name: "bad", Interval: time.Second, RunAtStart: true, Run: func(context.Context, time.Time) error {
		return errors.New("boom")
	}})

	s.Tick(context.Background(), t0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("bad", "error")))
}

func TestTick_PanicRecovered(t *testing.T) {
	s, m := newScheduler(t)
	n, run := counter(ok)
	s.Add(Task{Name: "panics", Interval: time.Second, RunAtStart: true, Run: func(context.Context, time.Time) error {
		panic("kaboom")
	}})
	s.Add(Task{Name: "next", Interval: time.Second, RunAtStart: true, Run: run})

	var ran []string
	require.NotPanics(t, func() { ran = s.Tick(context.Background(), t0) })
	assert.Equal(t, []string{"panics", "next"}, ran)
	assert.Equal(t, int32(1), n.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("panics", "error")))
}

func TestTick_Timeout(t *testing.T) {
	s, m := newScheduler(t)
	s.Add(Task{Name: "slow", Interval: time.Minute, Timeout: 10 * time.Millisecond, RunAtStart: true,
		Run: func(ctx context.Context, _ time.Time) error {
			<-ctx.Done()
			return ctx.Err()
		}})

	s.Tick(context.Background(), t0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("slow", "error")))
}

func TestTick_CanceledContext(t *testing.T) {
	s, _ := newScheduler(t)
	n, run := counter(ok)
	s.Add(Task{Name: "a", Interval: time.Second, RunAtStart: true, Run: run})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, s.Tick(ctx, t0))
	assert.Zero(t, n.Load())
}

func TestAdd_InvalidTaskPanics(t *testing.T) {
	s, _ := newScheduler(t)
	assert.Panics(t, func() { s.Add(Task{Name: "x", Run: ok}) })
	assert.Panics(t, func() { s.Add(Task{Interval: time.Second, Run: ok}) })
	assert.Panics(t, func() { s.Add(Task{Name: "x", Interval: time.Second}) })
}

func TestNames(t *testing.T) {
	s, _ := newScheduler(t)
	s.Add(Task{Name: "a", Interval: time.Second, Run: ok})
	s.Add(Task{Name: "b", Interval: time.Second, Run: ok})
	assert.Equal(t, []string{"a", "b"}, s.Names())
}

func TestStart_StopsOnCancel(t *testing.T) {
	s, _ := newScheduler(t)
	n, run := counter(ok)
	s.Add(Task{Name: "a", Interval: time.Hour, RunAtStart: true, Run: run})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

type fakeSweeper struct{ calls int }

func (f *fakeSweeper) Sweep(time.Time) dispatcher.SweepResult {
	f.calls++
	return dispatcher.SweepResult{Ran: true, Users: 2, Sessions: 1}
}

func TestSweepTask(t *testing.T) {
	sw := &fakeSweeper{}
	task := SweepTask(sw, time.Minute, logger.NewWithWriter("debug", io.Discard))
	require.NoError(t, task.Run(context.Background(), t0))
	assert.Equal(t, 1, sw.calls)
	assert.Equal(t, JobSweep, task.Name)
}

func TestKeepAliveTask(t *testing.T) {
	var hits atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	task := KeepAliveTask(srv.Client(), srv.URL, time.Minute)
	require.NoError(t, task.Run(context.Background(), t0))

	status.Store(http.StatusServiceUnavailable)
	assert.ErrorContains(t, task.Run(context.Background(), t0), "status 503")
	assert.Equal(t, int32(2), hits.Load())
}

type fakePruner struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakePruner) DeleteRequestsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestRetentionTask(t *testing.T) {
	p := &fakePruner{n: 3}
	task := RetentionTask(p, 30*24*time.Hour, logger.NewWithWriter("debug", io.Discard))
	require.NoError(t, task.Run(context.Background(), t0))
	assert.Equal(t, t0.Add(-30*24*time.Hour), p.cutoff)
	assert.True(t, task.RunAtStart)

	p.err = errors.New("locked")
	assert.Error(t, task.Run(context.Background(), t0))
}

type fakeUploader struct{ err error }

func (f fakeUploader) Upload(context.Context, snapshot.Source) (string, error) {
	return "etag-1", f.err
}

func TestSnapshotTask(t *testing.T) {
	log := logger.NewWithWriter("debug", io.Discard)
	require.NoError(t, SnapshotTask(fakeUploader{}, nil, time.Hour, log).Run(context.Background(), t0))
	assert.Error(t, SnapshotTask(fakeUploader{err: errors.New("r2 down")}, nil, time.Hour, log).Run(context.Background(), t0))
}

type fakeMedia struct {
	objects []r2client.Object
	deleted []string
}

func (f *fakeMedia) ListOlderThan(_ context.Context, _ string, cutoff time.Time) ([]r2client.Object, error) {
	var out []r2client.Object
	for _, o := range f.objects {
		if o.LastModified.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeMedia) DeleteObject(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func TestMediaCleanupTask(t *testing.T) {
	store := &fakeMedia{objects: []r2client.Object{
		{Key: "line/old.mp4", LastModified: t0.Add(-2 * time.Hour)},
		{Key: "line/new.mp4", LastModified: t0.Add(-10 * time.Minute)},
	}}
	task := MediaCleanupTask(store, "line/", time.Hour, logger.NewWithWriter("debug", io.Discard))
	require.NoError(t, task.Run(context.Background(), t0))
	assert.Equal(t, []string{"line/old.mp4"}, store.deleted)
}
