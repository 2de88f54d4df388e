/*
store.go - Persistence interfaces for intervals, segments, overrides and audit

KEY INTERFACES:
  IntervalStore: Work intervals (clock-in/clock-out pairs)
  SegmentStore:  Computed segments, replaced atomically per interval
  OverrideStore: Daily overrides keyed by (employee, date)
  AuditLog:      Append-only record of who changed what
  TeamDirectory: Team membership used by batch operations
  TxStore:       All of the above plus WithTx for multi-table atomicity

ATOMIC SEGMENT REPLACEMENT:
  ReplaceSegments deletes every segment of an interval and inserts the new
  set in one transaction, so readers never observe an interval with zero
  segments between the delete and the insert.

NOT FOUND:
  Single-record getters return a *NotFoundError (errors.Is ErrNotFound).
  GetOverride returns (nil, nil) when no override exists, since absence is
  the common case.

IMPLEMENTATIONS:
  - worktime/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go:   SQLite
  - store/postgres/postgres.go: PostgreSQL (pgx)
*/
package worktime

import (
	"context"
	"time"
)

// IntervalFilter selects intervals by employee and clock-in instant.
type IntervalFilter struct {
	EmployeeIDs []EmployeeID
	// StartFrom/StartTo bound the clock-in instant, half-open [from, to).
	StartFrom *time.Time
	StartTo   *time.Time
	Status    *ApprovalStatus
	// OnlyClosed excludes intervals without a clock-out.
	OnlyClosed bool
	// OnlyOpen excludes intervals with a clock-out.
	OnlyOpen bool
	Limit    int
}

// Matches applies the filter to one interval. Stores that cannot push a
// predicate down may use it.
func (f IntervalFilter) Matches(iv WorkInterval) bool {
	if len(f.EmployeeIDs) > 0 {
		found := false
		for _, id := range f.EmployeeIDs {
			if id == iv.EmployeeID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartFrom != nil && iv.Start.Before(*f.StartFrom) {
		return false
	}
	if f.StartTo != nil && !iv.Start.Before(*f.StartTo) {
		return false
	}
	if f.Status != nil && iv.Status != *f.Status {
		return false
	}
	if f.OnlyClosed && iv.IsOpen() {
		return false
	}
	if f.OnlyOpen && !iv.IsOpen() {
		return false
	}
	return true
}

type IntervalStore interface {
	GetInterval(ctx context.Context, id IntervalID) (*WorkInterval, error)

	// SaveInterval inserts or updates an interval.
	SaveInterval(ctx context.Context, iv WorkInterval) error

	// DeleteInterval removes the interval and its segments.
	DeleteInterval(ctx context.Context, id IntervalID) error

	// ListIntervals returns matching intervals ordered by clock-in.
	ListIntervals(ctx context.Context, filter IntervalFilter) ([]WorkInterval, error)

	// ListUnsegmented returns closed intervals that have no segments or are
	// flagged stale, ordered by clock-in.
	ListUnsegmented(ctx context.Context, limit int) ([]WorkInterval, error)
}

type SegmentStore interface {
	// Segments returns the interval's segments ordered by start.
	Segments(ctx context.Context, intervalID IntervalID) ([]Segment, error)

	// SegmentsForIntervals returns segments grouped by interval.
	SegmentsForIntervals(ctx context.Context, ids []IntervalID) (map[IntervalID][]Segment, error)

	// ReplaceSegments atomically deletes and re-inserts an interval's segments.
	ReplaceSegments(ctx context.Context, intervalID IntervalID, segments []Segment) error
}

type OverrideStore interface {
	GetOverride(ctx context.Context, employeeID EmployeeID, date Date) (*DailyOverride, error)
	SaveOverride(ctx context.Context, o DailyOverride) error
	// DeleteOverride reports whether an override existed.
	DeleteOverride(ctx context.Context, employeeID EmployeeID, date Date) (bool, error)
	ListOverrides(ctx context.Context, employeeID EmployeeID, period Period) ([]DailyOverride, error)
}

type TeamDirectory interface {
	TeamMembers(ctx context.Context, teamID TeamID) ([]EmployeeID, error)
}

// Store combines every persistence concern the engine needs.
type Store interface {
	IntervalStore
	SegmentStore
	OverrideStore
	AuditLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Append-only, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditClockIn          AuditAction = "clock_in"
	AuditClockOut         AuditAction = "clock_out"
	AuditIntervalApproved AuditAction = "interval_approved"
	AuditIntervalEdited   AuditAction = "interval_edited"
	AuditIntervalDeleted  AuditAction = "interval_deleted"
	AuditRecalculated     AuditAction = "segments_recalculated"
	AuditOverrideSaved    AuditAction = "override_saved"
	AuditOverridePurged   AuditAction = "override_purged"
	AuditFallbackOverride AuditAction = "fallback_override_created"
)

type AuditScope string

const (
	ScopeSingle AuditScope = "single"
	ScopeTeam   AuditScope = "team"
)

// AuditEntry records one mutation.
type AuditEntry struct {
	ID           string
	Timestamp    time.Time
	ActorID      string
	Action       AuditAction
	ResourceType string
	ResourceID   string
	Details      AuditDetails
}

// AuditDetails is the action-specific payload.
type AuditDetails struct {
	Old               any          `json:"old,omitempty"`
	New               any          `json:"new,omitempty"`
	Scope             AuditScope   `json:"scope,omitempty"`
	AffectedEmployees []EmployeeID `json:"affected_employees,omitempty"`
	Reason            string       `json:"reason,omitempty"`
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	ResourceID *string
	ActorID    *string
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
}

// Matches applies the filter to one entry.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.ResourceID != nil && e.ResourceID != *f.ResourceID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
