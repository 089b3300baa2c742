package retry

import (
	"context"
	"errors"
	"strings"
)

// Class partitions errors into retryable and permanent failures.
type Class int

const (
	// ClassRetryable errors are transient: timeouts, rate limits,
	// service unavailability. Retrying may succeed.
	ClassRetryable Class = iota

	// ClassPermanent errors will not be fixed by retrying: bad credentials,
	// unknown models, exhausted quotas, cancelled contexts.
	ClassPermanent
)

// Permanent wraps an error so Classify reports it as ClassPermanent
// regardless of its message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Classify inspects an error and decides whether retrying can help.
// Errors explicitly marked via Permanent, and context cancellation, are
// permanent. Otherwise the message is matched against known transient and
// permanent patterns; unknown errors default to retryable since they could
// be transient.
func Classify(err error) Class {
	if err == nil {
		return ClassRetryable
	}

	var pe permanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "model not found"),
		strings.Contains(msg, "invalid model"),
		strings.Contains(msg, "quota exceeded"),
		strings.Contains(msg, "insufficient quota"):
		return ClassPermanent

	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return ClassRetryable
	}

	return ClassRetryable
}
