// Package scheduler runs the periodic maintenance tasks of the service:
// limiter/session sweeps, keep-alive pings, history retention, snapshots and
// hosted media expiry.
//
// Tasks are driven by Tick, which takes the current time explicitly. Start
// calls Tick from a ticker in production; tests call Tick with a manual clock.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/garyellow/igrelay/internal/clock"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/metrics"
)

// Task is one periodic job.
type Task struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration // per run; 0 means no extra bound
	RunAtStart bool          // first run on the first tick instead of one interval later
	Run        func(ctx context.Context, now time.Time) error
}

type entry struct {
	Task
	next time.Time
}

// Config configures a Scheduler.
type Config struct {
	Clock      clock.Clock
	Resolution time.Duration // how often Start ticks
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

// Scheduler runs registered tasks when they are due. Tasks run one at a time
// in registration order.
type Scheduler struct {
	mu         sync.Mutex
	tasks      []*entry
	clock      clock.Clock
	resolution time.Duration
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

// New creates a scheduler with no tasks.
func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = 10 * time.Second
	}
	return &Scheduler{
		clock:      cfg.Clock,
		resolution: cfg.Resolution,
		logger:     cfg.Logger.WithModule("scheduler"),
		metrics:    cfg.Metrics,
	}
}

// Add registers a task. It panics on a task without a name, run function or
// positive interval.
func (s *Scheduler) Add(t Task) {
	if t.Name == "" || t.Run == nil || t.Interval <= 0 {
		panic(fmt.Sprintf("scheduler: invalid task %q", t.Name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &entry{Task: t})
}

// Names lists the registered tasks.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for _, e := range s.tasks {
		names = append(names, e.Name)
	}
	return names
}

// Tick runs every task due at now and returns their names.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ran []string
	for _, e := range s.tasks {
		if ctx.Err() != nil {
			break
		}
		if e.next.IsZero() && !e.RunAtStart {
			e.next = now.Add(e.Interval)
			continue
		}
		if now.Before(e.next) {
			continue
		}
		s.run(ctx, e, now)
		e.next = now.Add(e.Interval)
		ran = append(ran, e.Name)
	}
	return ran
}

func (s *Scheduler) run(ctx context.Context, e *entry, now time.Time) {
	log := s.logger.WithField("job", e.Name)
	start := time.Now()

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("Job panicked")
				err = fmt.Errorf("job %s panicked: %v", e.Name, r)
			}
		}()
		return e.Run(ctx, now)
	}()

	status := "success"
	if err != nil {
		status = "error"
		log.WithError(err).Warn("Job failed")
	} else {
		log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("Job completed")
	}
	s.metrics.RecordJob(e.Name, status, time.Since(start).Seconds())
}

// Start ticks until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.WithField("tasks", s.Names()).Info("Scheduler started")
	defer s.logger.Debug("Scheduler stopped")

	s.Tick(ctx, s.clock.Now())

	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.clock.Now())
		}
	}
}
