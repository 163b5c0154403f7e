package sentry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_EmptyTokenDisables(t *testing.T) {
	t.Parallel()

	require.NoError(t, Initialize(Config{}))
}

func TestInitialize_MissingHost(t *testing.T) {
	t.Parallel()

	err := Initialize(Config{Token: "test-token"})
	assert.Error(t, err)
}

// Sentry keeps global state; the tests below run sequentially.

func TestInitialize_ValidConfig(t *testing.T) {
	err := Initialize(Config{
		Token:       "test-token",
		Host:        "errors.betterstack.com",
		Environment: "test",
	})
	require.NoError(t, err)
	assert.True(t, IsEnabled())

	// No network in tests: capture must not block or panic.
	CaptureException(context.Background(), errors.New("boom"), map[string]string{"component": "test"})
	CapturePanic(context.Background(), "kaboom", nil)
	CaptureException(context.Background(), nil, nil)

	Flush(100 * time.Millisecond)
}
