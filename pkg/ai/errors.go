package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrEmbeddingMismatch is returned when an embedding response does not
// contain exactly one vector per input.
var ErrEmbeddingMismatch = errors.New("embedding response length mismatch")

// RetriableError marks a failure that may succeed when repeated.
type RetriableError struct {
	Reason string
	Err    error
}

func (e *RetriableError) Error() string {
	if e.Err == nil {
		return "retriable: " + e.Reason
	}
	return fmt.Sprintf("retriable: %s: %v", e.Reason, e.Err)
}

func (e *RetriableError) Unwrap() error {
	return e.Err
}

// FatalError marks a failure that will not succeed when repeated.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return "fatal: " + e.Reason
	}
	return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func Retriable(reason string, err error) error {
	return &RetriableError{Reason: reason, Err: err}
}

func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

// IsRetriable reports whether err should be retried. Deadline overruns of a
// single call count as retriable; explicit fatal errors and cancellation do
// not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}
	var retriable *RetriableError
	if errors.As(err, &retriable) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// FromStatus classifies an HTTP error status.
func FromStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return Retriable("rate limited", err)
	case status == http.StatusRequestTimeout, status == http.StatusConflict:
		return Retriable(http.StatusText(status), err)
	case status >= 500:
		return Retriable("server error", err)
	default:
		return Fatal(fmt.Sprintf("request rejected with status %d", status), err)
	}
}

// FromTransport classifies errors that carry no HTTP status. Cancellation is
// passed through untouched.
func FromTransport(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retriable("timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retriable("network", err)
	}
	return Fatal("unexpected response", err)
}
