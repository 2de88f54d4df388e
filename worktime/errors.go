/*
errors.go - Centralized error types for the worktime engine

ERROR CATEGORIES:
  1. RangeError            - duration or hour value out of bounds (not retried)
  2. NotFoundError         - referenced interval/override missing
  3. RecalculationFailure  - segment computation failed after retries
  4. ValidationWarning     - override total exceeds the clocked span

  RangeError is returned synchronously and must not be retried.
  RecalculationFailure is surfaced only after the orchestrator's retry
  budget is spent. Batch operations turn every per-item error into a
  BatchItemError instead of returning it.

SEE ALSO:
  - recalc.go: Retry policy uses IsRetryable
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package worktime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOutOfRange is returned for durations or hour values outside bounds.
	ErrOutOfRange = errors.New("value out of range")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrRecalculationFailed is returned when segment computation did not
	// succeed within the retry budget.
	ErrRecalculationFailed = errors.New("recalculation failed")

	// ErrComputationUnavailable marks transient failures of the segment
	// computation service. These are retried.
	ErrComputationUnavailable = errors.New("segment computation unavailable")

	// ErrExceedsSpan is returned when override hours exceed the clocked span.
	ErrExceedsSpan = errors.New("override exceeds clocked span")

	// ErrIntervalOpen is returned when an operation needs a closed interval.
	ErrIntervalOpen = errors.New("interval is still open")

	// ErrSegmentsStale is returned when approving an interval whose segments
	// no longer match its boundaries.
	ErrSegmentsStale = errors.New("interval segments are stale")

	// ErrIntervalClosed is returned when clocking out an interval twice.
	ErrIntervalClosed = errors.New("interval is already closed")

	// ErrAlreadyClockedIn is returned when an employee already has an open interval.
	ErrAlreadyClockedIn = errors.New("employee already has an open interval")

	// ErrUnknownCategory is returned for tags outside the category enumeration.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUnknownMode is returned for unsupported bulk reprocessing modes.
	ErrUnknownMode = errors.New("unknown reprocess mode")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RangeError reports a value outside its permitted bounds.
type RangeError struct {
	Field string
	Value string
	Min   string
	Max   string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s out of range: %s not in [%s, %s]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// NotFoundError reports a missing record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// RecalculationFailure reports a segment computation that failed after the
// orchestrator exhausted its attempts. The caller may retry later.
type RecalculationFailure struct {
	IntervalID IntervalID
	Attempts   int
	Err        error
}

func (e *RecalculationFailure) Error() string {
	return fmt.Sprintf("recalculation of interval %s failed after %d attempt(s): %v",
		e.IntervalID, e.Attempts, e.Err)
}

func (e *RecalculationFailure) Unwrap() []error {
	return []error{ErrRecalculationFailed, e.Err}
}

// ValidationWarning reports override hours beyond the clocked span. It is
// non-fatal for privileged actors and fatal for everyone else.
type ValidationWarning struct {
	EmployeeID EmployeeID
	Date       Date
	Total      decimal.Decimal
	Span       decimal.Decimal
	Tolerance  time.Duration
}

func (e *ValidationWarning) Error() string {
	return fmt.Sprintf("override total %s h exceeds clocked span %s h (+%s tolerance) for %s on %s",
		e.Total.StringFixed(HoursPrecision), e.Span.StringFixed(HoursPrecision),
		e.Tolerance, e.EmployeeID, e.Date)
}

func (e *ValidationWarning) Unwrap() error { return ErrExceedsSpan }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsClientError(err) || IsNotFound(err) {
		return false
	}
	return true
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrUnknownCategory) ||
		errors.Is(err, ErrExceedsSpan) ||
		errors.Is(err, ErrIntervalOpen) ||
		errors.Is(err, ErrIntervalClosed) ||
		errors.Is(err, ErrSegmentsStale) ||
		errors.Is(err, ErrAlreadyClockedIn) ||
		errors.Is(err, ErrUnknownMode) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func intervalNotFound(id IntervalID) error {
	return &NotFoundError{Resource: "work interval", ID: string(id)}
}
