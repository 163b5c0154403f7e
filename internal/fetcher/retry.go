package fetcher

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// permanentError marks a failure that retrying cannot fix (404, 403, 401).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// permanent wraps err so RetryWithBackoff returns it immediately.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoff calls fn until it succeeds, returns a permanent error, or
// maxRetries retries have been spent (0 = a single attempt).
//
// Backoff: initialDelay * 2^attempt, ±25% jitter.
//
//	attempt 1: ~1s (0.75s - 1.25s)
//	attempt 2: ~2s
//	attempt 3: ~4s
func RetryWithBackoff(ctx context.Context, maxRetries int, initialDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var permErr *permanentError
		if errors.As(err, &permErr) {
			return permErr.Unwrap()
		}

		if attempt == maxRetries {
			break
		}

		select {
		case <-time.After(backoff(initialDelay, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

func backoff(initial time.Duration, attempt int) time.Duration {
	delay := initial << attempt
	half := int64(delay) / 2
	if half <= 0 {
		half = 1
	}
	jitter, err := rand.Int(rand.Reader, big.NewInt(half))
	if err != nil {
		jitter = big.NewInt(0)
	}
	return delay - delay/4 + time.Duration(jitter.Int64())
}
