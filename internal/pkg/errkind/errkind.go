// Package errkind classifies errors crossing the pipeline's component
// boundaries. Retry policies and the HTTP layer branch on the Kind of an
// error, never on its message.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

type Kind uint8

const (
	// Transient errors may succeed on retry (network, 5xx, timeouts).
	Transient Kind = iota
	// RateLimited errors retry with extra jitter (HTTP 429 or equivalent).
	RateLimited
	// NotFound marks an absent resource. Resume logic treats it as "no
	// artifact", never as a failure.
	NotFound
	// NonRetryable errors short-circuit retry loops (config, auth).
	NonRetryable
	// InvalidInput surfaces to the caller as a 4xx; the run never starts.
	InvalidInput
	// Cancelled terminates the run as CANCELLED.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case NonRetryable:
		return "non_retryable"
	case InvalidInput:
		return "invalid_input"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error tags an underlying error with a Kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a formatted message.
func New(k Kind, op string, format string, args ...any) error {
	return &Error{Kind: k, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with a kind. A nil err returns nil.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// KindOf extracts the kind of err. Untagged errors default to Transient;
// context cancellation maps to Cancelled and deadline expiry to Transient
// so per-call timeouts stay retryable.
func KindOf(err error) Kind {
	if err == nil {
		return Transient
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Transient
}

func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

func IsNotFound(err error) bool { return Is(err, NotFound) }

// Retryable reports whether an error of this kind may be retried under a
// policy. NotFound is not retryable: absence is an answer, not a failure.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, RateLimited:
		return true
	default:
		return false
	}
}
