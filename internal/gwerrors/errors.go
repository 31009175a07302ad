// Package gwerrors defines the error taxonomy surfaced across the query
// gateway pipeline (spec §7). Every kind is a distinct type so callers can
// use errors.As instead of matching on strings.
package gwerrors

import (
	"fmt"
	"time"
)

// Kind identifies one of the taxonomy entries from spec §7.
type Kind string

const (
	KindAnalyzerMalformed  Kind = "analyzer_malformed"
	KindValidationRejected Kind = "validation_rejected"
	KindAdmissionConcurrency Kind = "admission_concurrency"
	KindAdmissionRate      Kind = "admission_rate"
	KindQueueFull          Kind = "queue_full"
	KindCircuitOpen        Kind = "circuit_open"
	KindTimeout            Kind = "timeout"
	KindExecutionFailed    Kind = "execution_failed"
	KindCancelled          Kind = "cancelled"
)

// AnalyzerMalformedError is returned when the shape analyzer cannot
// classify a statement (empty after comment stripping, unbalanced parens).
type AnalyzerMalformedError struct {
	Reason string
}

func (e *AnalyzerMalformedError) Error() string {
	return fmt.Sprintf("analyzer: malformed statement: %s", e.Reason)
}

func (e *AnalyzerMalformedError) Kind() Kind { return KindAnalyzerMalformed }

// AdmissionConcurrencyError is returned when the concurrency gate rejects.
type AdmissionConcurrencyError struct {
	RetryAfter time.Duration
}

func (e *AdmissionConcurrencyError) Error() string {
	return fmt.Sprintf("admission: concurrency saturated, retry after %s", e.RetryAfter)
}

func (e *AdmissionConcurrencyError) Kind() Kind { return KindAdmissionConcurrency }

// AdmissionRateError is returned when the rate gate rejects.
type AdmissionRateError struct {
	RetryAfter time.Duration
}

func (e *AdmissionRateError) Error() string {
	return fmt.Sprintf("admission: rate limited, retry after %s", e.RetryAfter)
}

func (e *AdmissionRateError) Kind() Kind { return KindAdmissionRate }

// QueueFullError is returned when the priority queue is at capacity.
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue: full at capacity %d", e.Capacity)
}

func (e *QueueFullError) Kind() Kind { return KindQueueFull }

// CircuitOpenError is returned when a scope's breaker rejects a call.
type CircuitOpenError struct {
	Scope     string
	OpenUntil time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open until %s", e.Scope, e.OpenUntil.Format(time.RFC3339))
}

func (e *CircuitOpenError) Kind() Kind { return KindCircuitOpen }

// TimeoutError is returned when an execution's deadline fires first.
type TimeoutError struct {
	TimeoutMs int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %dms", e.TimeoutMs)
}

func (e *TimeoutError) Kind() Kind { return KindTimeout }

// ExecutionFailedError wraps an unexpected error from the database
// capability. The underlying message is preserved but never includes SQL
// literals or tenant-sensitive values — callers are responsible for
// scrubbing before wrapping.
type ExecutionFailedError struct {
	Underlying error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("execution failed: %v", e.Underlying)
}

func (e *ExecutionFailedError) Unwrap() error { return e.Underlying }

func (e *ExecutionFailedError) Kind() Kind { return KindExecutionFailed }

// CancelledError is returned when an execution was explicitly cancelled,
// as opposed to having its deadline fire.
type CancelledError struct {
	QueryID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("query %s cancelled", e.QueryID)
}

func (e *CancelledError) Kind() Kind { return KindCancelled }
