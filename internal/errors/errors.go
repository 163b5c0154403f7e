// Package errors provides the domain error taxonomy of the request lifecycle.
// Every terminal outcome of an inbound event maps onto one of these values;
// callers match them with errors.Is / errors.As.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the request lifecycle.
var (
	// ErrRateLimited indicates the user exceeded the per-window request budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidLink indicates the message contained no recognizable Instagram link.
	ErrInvalidLink = errors.New("invalid link")

	// ErrUnsupportedKind indicates a recognized link kind the bot cannot deliver (stories),
	// or a variant that does not fit the link kind.
	ErrUnsupportedKind = errors.New("unsupported link kind")

	// ErrSessionExpired indicates the pending choice is absent or older than the session timeout.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionOwnerMismatch indicates a button was pressed by someone other than the session owner.
	ErrSessionOwnerMismatch = errors.New("session owner mismatch")

	// ErrChoiceInProgress indicates a second button press on a session whose
	// variant was already chosen.
	ErrChoiceInProgress = errors.New("choice already in progress")

	// ErrFetchFailed is the parent of every FetchError.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrDeliveryFailed indicates the transport could not upload the fetched media.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrCleanupFailed indicates a temporary artifact could not be removed.
	// Logged only; it never replaces the outcome of a request.
	ErrCleanupFailed = errors.New("cleanup failed")

	// ErrNotFound indicates a stored resource (object, snapshot, row) does not exist.
	ErrNotFound = errors.New("resource not found")
)

// FetchReason classifies why the content fetcher failed.
type FetchReason string

// Fetch failure reasons.
const (
	ReasonPrivate  FetchReason = "private"
	ReasonNotFound FetchReason = "not_found"
	ReasonNetwork  FetchReason = "network"
	ReasonUnknown  FetchReason = "unknown"
)

// FetchError is a fetcher failure with its reason.
type FetchError struct {
	Reason FetchReason
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch failed (reason=%s, url=%s)", e.Reason, e.URL)
	}
	return fmt.Sprintf("fetch failed (reason=%s, url=%s): %v", e.Reason, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes every FetchError match ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// NewFetchError creates a new fetch error.
func NewFetchError(reason FetchReason, url string, err error) *FetchError {
	if reason == "" {
		reason = ReasonUnknown
	}
	return &FetchError{Reason: reason, URL: url, Err: err}
}

// FetchReasonOf returns the reason carried by err, or ReasonUnknown when err
// is not a FetchError.
func FetchReasonOf(err error) FetchReason {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ReasonUnknown
}

// Code returns a stable, low-cardinality label for err, used in metrics and
// the request history. nil maps to "ok".
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidLink):
		return "invalid_link"
	case errors.Is(err, ErrUnsupportedKind):
		return "unsupported_kind"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrSessionOwnerMismatch):
		return "owner_mismatch"
	case errors.Is(err, ErrChoiceInProgress):
		return "in_progress"
	case errors.Is(err, ErrFetchFailed):
		return "fetch_" + string(FetchReasonOf(err))
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	case errors.Is(err, ErrCleanupFailed):
		return "cleanup_failed"
	default:
		return "internal"
	}
}
