package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies orchestration failures into a closed taxonomy. Callers
// branch on the kind (via KindOf or errors.As) instead of parsing messages.
type ErrorKind string

const (
	// KindValidation marks malformed registrations, messages or workflow
	// definitions rejected synchronously at submission time.
	KindValidation ErrorKind = "validation"
	// KindNotFound marks routing to an agent that is not registered.
	KindNotFound ErrorKind = "not_found"
	// KindUnavailable marks routing to an agent that exists but is not active.
	KindUnavailable ErrorKind = "unavailable"
	// KindUnsupportedMethod marks dispatch of a method the target agent never
	// declared. Detected at dispatch validation, not via a runtime default case.
	KindUnsupportedMethod ErrorKind = "unsupported_method"
	// KindTimeout marks an operation that did not settle within its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindExecution wraps an error raised by an agent handler.
	KindExecution ErrorKind = "execution"
	// KindCircuitOpen marks a call rejected by an open circuit breaker.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindRateLimited marks a call rejected by the rate limiter.
	KindRateLimited ErrorKind = "rate_limited"
	// KindQueueFull marks a message rejected because the routing queue is at
	// capacity.
	KindQueueFull ErrorKind = "queue_full"
	// KindCancelled marks an operation abandoned due to context cancellation.
	KindCancelled ErrorKind = "cancelled"
)

// Error is the structured error type shared by all orchestration components.
// Retryable drives the resilience primitives: only errors flagged retryable
// are ever retried automatically.
type Error struct {
	Kind      ErrorKind      `json:"kind"`
	Message   string         `json:"message"`
	AgentID   string         `json:"agent_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
	cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("%s: %s (agent %s)", e.Kind, e.Message, e.AgentID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches a contextual detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// NewError constructs a structured error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError rejects malformed input at submission time.
func NewValidationError(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

// NewAgentNotFoundError reports routing to an unregistered agent id.
func NewAgentNotFoundError(agentID string) *Error {
	e := NewError(KindNotFound, "agent not found")
	e.AgentID = agentID
	return e
}

// NewAgentUnavailableError reports routing to an agent that is registered but
// not in the active state.
func NewAgentUnavailableError(agentID string, status AgentStatus) *Error {
	e := NewError(KindUnavailable, "agent unavailable (status %s)", status)
	e.AgentID = agentID
	return e
}

// NewUnsupportedMethodError reports dispatch of an undeclared method.
func NewUnsupportedMethodError(agentID, method string) *Error {
	e := NewError(KindUnsupportedMethod, "method %q not declared by agent", method)
	e.AgentID = agentID
	return e
}

// NewTimeoutError reports an operation that exceeded its deadline. Timeouts
// are retryable by the caller, though the router never retries them itself.
func NewTimeoutError(op string, timeout time.Duration) *Error {
	e := NewError(KindTimeout, "%s timed out after %s", op, timeout)
	e.Retryable = true
	return e
}

// NewExecutionError wraps a handler failure with the originating agent id.
func NewExecutionError(agentID string, cause error) *Error {
	e := NewError(KindExecution, "handler failed: %v", cause)
	e.AgentID = agentID
	e.cause = cause
	return e
}

// NewCircuitOpenError reports a call rejected while a breaker is open.
func NewCircuitOpenError(name string, retryAt time.Time) *Error {
	e := NewError(KindCircuitOpen, "circuit %q open", name)
	return e.WithDetail("next_attempt_at", retryAt)
}

// NewRateLimitError reports a call rejected by the rate limiter.
func NewRateLimitError(identifier, class string) *Error {
	e := NewError(KindRateLimited, "rate limit exceeded for %q", identifier)
	return e.WithDetail("class", class)
}

// NewQueueFullError reports a message rejected because the routing queue is
// at capacity. The condition is transient, so the error is retryable.
func NewQueueFullError(capacity int) *Error {
	e := NewError(KindQueueFull, "message queue full (capacity %d)", capacity)
	e.Retryable = true
	return e
}

// NewCancelledError wraps a context cancellation.
func NewCancelledError(cause error) *Error {
	e := NewError(KindCancelled, "operation cancelled")
	e.cause = cause
	return e
}

// KindOf extracts the error kind, or the empty string for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether the error carries the retryable flag. Foreign
// errors are conservatively treated as non-retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
