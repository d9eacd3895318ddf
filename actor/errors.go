package actor

import (
	"errors"
	"fmt"
)

// ErrActorTerminated indicates that an operation failed because the target
// actor was terminated or in the process of shutting down.
var ErrActorTerminated = errors.New("actor terminated")

// ErrServiceKeyTypeMismatch indicates that a registration attempt failed
// because the service key name is already registered with a different
// message or response type.
var ErrServiceKeyTypeMismatch = errors.New("service key type mismatch")

// ErrRequestTimeout indicates that a request's deadline elapsed before a
// response arrived.
var ErrRequestTimeout = errors.New("request timeout")

// ErrBrokenPromise indicates that the last strong reference to a pending
// promise was dropped before it was fulfilled.
var ErrBrokenPromise = errors.New("broken promise")

// ErrNoMatchingHandler indicates that no handler in the active behavior
// matched an envelope's payload and the default handler strategy dropped it.
var ErrNoMatchingHandler = errors.New("no matching handler")

// ErrIdleTimeoutInfinite indicates an attempt to arm an idle timeout with an
// infinite duration, which is rejected.
var ErrIdleTimeoutInfinite = errors.New("idle timeout duration must be finite")

// ErrCircuitOpen indicates that a request was short-circuited locally
// because its target has accumulated enough consecutive request timeouts to
// trip that target's breaker, without the request ever being sent.
var ErrCircuitOpen = errors.New("request circuit open")

// Category classifies a CoreError.
type Category int

const (
	// CategorySystem covers scheduler and registry errors.
	CategorySystem Category = iota

	// CategoryRequest covers request timeouts and missing handlers.
	CategoryRequest

	// CategorySerialization covers type-id registry and wire round-trip
	// failures.
	CategorySerialization

	// CategoryRuntime covers handler panics and uncaught exceptions.
	CategoryRuntime

	// CategoryStream covers flow-ingress mismatches at the boundary with
	// the (out-of-scope) reactive-stream layer.
	CategoryStream
)

// String implements fmt.Stringer for Category.
func (c Category) String() string {
	switch c {
	case CategorySystem:
		return "system"
	case CategoryRequest:
		return "request"
	case CategorySerialization:
		return "serialization"
	case CategoryRuntime:
		return "runtime"
	case CategoryStream:
		return "stream"
	default:
		return "unknown"
	}
}

// CoreError is a first-class error value carrying a category, a stable code,
// and an optional wrapped cause.
type CoreError struct {
	// Category classifies the error for programmatic handling.
	Category Category

	// Code is a short, stable identifier for the specific failure (e.g.
	// "request_timeout").
	Code string

	// Cause is the underlying error, if any.
	Cause error
}

// NewCoreError constructs a CoreError with the given category and code.
func NewCoreError(cat Category, code string, cause error) *CoreError {
	return &CoreError{Category: cat, Code: code, Cause: cause}
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %v", e.Category, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s/%s", e.Category, e.Code)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// RequestTimeoutError builds the CoreError delivered to a request's fail
// continuation when no response arrives before the deadline.
func RequestTimeoutError(correlationID CorrelationID) *CoreError {
	return NewCoreError(
		CategoryRequest, "request_timeout",
		fmt.Errorf("%w: correlation id %d", ErrRequestTimeout, correlationID),
	)
}

// BrokenPromiseError builds the CoreError delivered to a requester when the
// last strong reference to a pending promise drops without delivering a
// value.
func BrokenPromiseError() *CoreError {
	return NewCoreError(CategoryRequest, "broken_promise", ErrBrokenPromise)
}

// RuntimeErrorFrom wraps a handler panic or propagated error as a runtime
// category CoreError.
func RuntimeErrorFrom(cause error) *CoreError {
	return NewCoreError(CategoryRuntime, "runtime_error", cause)
}

// ActorTerminatedError builds the CoreError delivered to a requester whose
// correlated request could not even be enqueued because the target actor's
// mailbox was already closed, or whose request was still buffered when the
// target terminated.
func ActorTerminatedError() *CoreError {
	return NewCoreError(CategoryRequest, "actor_terminated", ErrActorTerminated)
}
