package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/garyellow/igrelay/internal/metrics"
)

// Outbound throttles calls to a chat platform API so a burst of deliveries
// stays under the platform's global send limit.
type Outbound struct {
	name    string
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewOutbound creates a throttle allowing rps calls per second with a burst of
// max(1, rps). Metrics may be nil.
func NewOutbound(name string, rps float64, m *metrics.Metrics) *Outbound {
	burst := max(int(rps), 1)
	return &Outbound{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		metrics: m,
	}
}

// Wait blocks until a send token is available or ctx is done.
func (o *Outbound) Wait(ctx context.Context) error {
	start := time.Now()
	err := o.limiter.Wait(ctx)
	if o.metrics != nil {
		o.metrics.RecordRateLimiterWait(o.name, time.Since(start).Seconds())
	}
	return err
}
