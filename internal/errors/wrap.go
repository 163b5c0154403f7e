package errors

import (
	"errors"
	"fmt"
)

// WrappedError pairs a transport failure with the text the user should read
// instead of the generic delivery failure message.
type WrappedError struct {
	Module      string // transport name, e.g. "telegram"
	Operation   string // e.g. "send_video"
	Cause       error
	UserMessage string
}

// Wrap annotates err with where it happened and what to tell the user.
// It returns nil for a nil err.
func Wrap(module, operation string, err error, userMessage string) error {
	if err == nil {
		return nil
	}
	return &WrappedError{Module: module, Operation: operation, Cause: err, UserMessage: userMessage}
}

func (e *WrappedError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Module, e.Operation, e.Cause)
}

func (e *WrappedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the user-facing text of the first WrappedError in the
// chain of err.
func UserMessage(err error) (string, bool) {
	var wrapped *WrappedError
	if errors.As(err, &wrapped) && wrapped.UserMessage != "" {
		return wrapped.UserMessage, true
	}
	return "", false
}
