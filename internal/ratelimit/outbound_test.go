package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitBriefly reports whether a token is available within a few milliseconds.
func waitBriefly(o *Outbound) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	return o.Wait(ctx) == nil
}

func TestOutbound_Burst(t *testing.T) {
	t.Parallel()

	o := NewOutbound("telegram", 3, nil)
	assert.True(t, waitBriefly(o))
	assert.True(t, waitBriefly(o))
	assert.True(t, waitBriefly(o))
	assert.False(t, waitBriefly(o), "burst should be exhausted")
}

func TestOutbound_FractionalRateKeepsBurstOfOne(t *testing.T) {
	t.Parallel()

	o := NewOutbound("line", 0.5, nil)
	assert.True(t, waitBriefly(o))
	assert.False(t, waitBriefly(o))
}

func TestOutbound_WaitRespectsContext(t *testing.T) {
	t.Parallel()

	m := mockMetrics()
	o := NewOutbound("telegram", 1, m)
	require.NoError(t, o.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, o.Wait(ctx), "next token is a second away")

	assert.Equal(t, 1, testutil.CollectAndCount(m.RateLimiterWaitDuration), "one series for the telegram limiter")
}
