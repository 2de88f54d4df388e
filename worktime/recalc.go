/*
recalc.go - Recalculation Orchestrator

PURPOSE:
  Keeps segments consistent with a work interval's boundaries after any
  edit (admin edit, clock-out, bulk reprocessing).

STEP ORDER (final mode):
  0. Validate the new range (pure, *RangeError, never retried)
  1. In one transaction: persist new start/end and mark the segments
     stale, purge the DailyOverride of the old work date if boundaries
     changed, append the audit record (old value, new value, actor, scope)
       failure -> fatal, nothing else happens
  2+3. Delete old segments and insert recomputed ones as one atomic replace
       through the SegmentComputer, retried with bounded backoff
       exhausted -> *RecalculationFailure, interval stays stale for the
       bulk reprocessor; the purge and audit of step 1 stand

INTERIM MODE:
  FinalMode=false computes a preview only: no interval, segment, override
  or audit writes.

CONCURRENCY:
  No in-process lock is held across the computation call. Edits to the same
  interval are last-writer-wins; callers serialize them.
*/
package worktime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SEGMENT COMPUTER - The (possibly remote) computation collaborator
// =============================================================================

// ComputeRequest is the payload sent to the segment computation service.
type ComputeRequest struct {
	IntervalID       IntervalID `json:"intervalId"`
	EmployeeID       EmployeeID `json:"userId"`
	ClockIn          time.Time  `json:"clockIn"`
	ClockOut         time.Time  `json:"clockOut"`
	ShiftHint        Category   `json:"shiftHint,omitempty"`
	ForceRecalculate bool       `json:"forceRecalculate,omitempty"`
	Intermediate     bool       `json:"isIntermediateCalculation,omitempty"`
}

// SegmentComputer computes and, unless the request is intermediate,
// persists an interval's segments. Implementations may return nil segments
// when the result was persisted remotely.
type SegmentComputer interface {
	ComputeSegments(ctx context.Context, req ComputeRequest) ([]Segment, error)
}

// LocalComputer runs the Calculator in-process and replaces the stored
// segments in one transaction.
type LocalComputer struct {
	Calculator *Calculator
	Store      TxStore
}

func NewLocalComputer(calc *Calculator, store TxStore) *LocalComputer {
	return &LocalComputer{Calculator: calc, Store: store}
}

func (c *LocalComputer) ComputeSegments(ctx context.Context, req ComputeRequest) ([]Segment, error) {
	hint := req.ShiftHint
	if hint == "" {
		hint = CategoryRegular
	}
	segments, err := c.Calculator.ComputeSegments(req.ClockIn, req.ClockOut, hint)
	if err != nil {
		return nil, err
	}
	for i := range segments {
		segments[i].ID = SegmentID(uuid.NewString())
		segments[i].IntervalID = req.IntervalID
	}
	if req.Intermediate {
		return segments, nil
	}

	err = c.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.ReplaceSegments(ctx, req.IntervalID, segments); err != nil {
			return fmt.Errorf("failed to replace segments: %w", err)
		}
		iv, err := tx.GetInterval(ctx, req.IntervalID)
		if err != nil {
			return err
		}
		iv.SegmentsStale = false
		return tx.SaveInterval(ctx, *iv)
	})
	if err != nil {
		return nil, err
	}
	return segments, nil
}

// =============================================================================
// RETRY POLICY
// =============================================================================

type RetryPolicy struct {
	MaxAttempts int
	// Backoff is the wait before the second attempt; it doubles afterwards.
	Backoff time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 200 * time.Millisecond, Timeout: 30 * time.Second}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// RecalcRequest describes one recalculation.
type RecalcRequest struct {
	IntervalID IntervalID
	Start      time.Time
	End        time.Time
	FinalMode  bool
	Actor      Actor
	Scope      AuditScope
	// Action is recorded in the audit log. Defaults to AuditRecalculated.
	Action AuditAction
	// ResetApproval returns the interval to pending_review even when its
	// boundaries are unchanged.
	ResetApproval bool
}

// RecalcResult is the read-after-write view of a recalculation.
type RecalcResult struct {
	Interval       WorkInterval
	Segments       []Segment
	OverridePurged bool
	Attempts       int
	Preview        bool
	Day            *DayTotals
}

type Orchestrator struct {
	Store      TxStore
	Computer   SegmentComputer
	Aggregator *Aggregator
	Retry      RetryPolicy
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewOrchestrator(store TxStore, computer SegmentComputer, aggregator *Aggregator) *Orchestrator {
	return &Orchestrator{
		Store:      store,
		Computer:   computer,
		Aggregator: aggregator,
		Retry:      DefaultRetryPolicy(),
	}
}

// Recalculate applies new boundaries to an interval and recomputes its segments.
func (o *Orchestrator) Recalculate(ctx context.Context, req RecalcRequest) (*RecalcResult, error) {
	iv, err := o.Store.GetInterval(ctx, req.IntervalID)
	if err != nil {
		return nil, err
	}
	if err := ValidateRange(req.Start, req.End); err != nil {
		return nil, err
	}
	if iv.ShiftHint == "" {
		iv.ShiftHint = CategoryRegular
	}
	if !iv.ShiftHint.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, iv.ShiftHint)
	}

	if !req.FinalMode {
		return o.preview(ctx, *iv, req)
	}

	old := *iv
	changed := !old.Start.Equal(req.Start) || old.End == nil || !old.End.Equal(req.End)
	now := o.now()
	loc := o.location()
	action := req.Action
	if action == "" {
		action = AuditRecalculated
	}
	scope := req.Scope
	if scope == "" {
		scope = ScopeSingle
	}

	end := req.End
	updated := old
	updated.Start = req.Start
	updated.End = &end
	updated.SegmentsStale = true
	updated.UpdatedAt = now
	if changed || req.ResetApproval {
		updated.Status = StatusPendingReview
		updated.ApprovedBy = nil
		updated.ApprovedAt = nil
		if req.Action == AuditIntervalEdited && req.Actor.IsPrivileged() {
			updated.EditedByAdmin = true
		}
	}

	// Step 1 with steps 4+5: boundaries, stale override purge and audit
	// commit together, before and regardless of the computation.
	result := &RecalcResult{Interval: updated}
	err = o.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveInterval(ctx, updated); err != nil {
			return fmt.Errorf("failed to persist interval boundaries: %w", err)
		}
		if changed {
			purged, err := tx.DeleteOverride(ctx, old.EmployeeID, old.WorkDate(loc))
			if err != nil {
				return fmt.Errorf("failed to purge override: %w", err)
			}
			if purged {
				result.OverridePurged = true
				if err := tx.AppendAudit(ctx, AuditEntry{
					ID:           uuid.NewString(),
					Timestamp:    now,
					ActorID:      req.Actor.ID,
					Action:       AuditOverridePurged,
					ResourceType: "daily_override",
					ResourceID:   fmt.Sprintf("%s/%s", old.EmployeeID, old.WorkDate(loc)),
					Details: AuditDetails{
						Scope:             scope,
						AffectedEmployees: []EmployeeID{old.EmployeeID},
						Reason:            fmt.Sprintf("boundaries of interval %s changed", old.ID),
					},
				}); err != nil {
					return err
				}
			}
		}

		return tx.AppendAudit(ctx, AuditEntry{
			ID:           uuid.NewString(),
			Timestamp:    now,
			ActorID:      req.Actor.ID,
			Action:       action,
			ResourceType: "work_interval",
			ResourceID:   string(old.ID),
			Details: AuditDetails{
				Old:               boundaries(old),
				New:               boundaries(updated),
				Scope:             scope,
				AffectedEmployees: []EmployeeID{old.EmployeeID},
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record recalculation of %s: %w", old.ID, err)
	}
	if result.OverridePurged {
		o.logger().Info("stale override purged",
			"interval_id", old.ID, "employee_id", old.EmployeeID, "date", old.WorkDate(loc).String())
	}

	// Steps 2+3: atomic segment replacement, retried.
	segments, attempts, err := o.compute(ctx, ComputeRequest{
		IntervalID:       updated.ID,
		EmployeeID:       updated.EmployeeID,
		ClockIn:          updated.Start,
		ClockOut:         end,
		ShiftHint:        updated.ShiftHint,
		ForceRecalculate: true,
	})
	if err != nil {
		return nil, err
	}
	updated.SegmentsStale = false
	if segments == nil {
		// Persisted by a remote computer.
		if segments, err = o.Store.Segments(ctx, updated.ID); err != nil {
			return nil, fmt.Errorf("failed to reload segments: %w", err)
		}
		if err := o.Store.SaveInterval(ctx, updated); err != nil {
			return nil, fmt.Errorf("failed to clear stale flag: %w", err)
		}
	}
	result.Interval = updated
	result.Segments = segments
	result.Attempts = attempts

	if o.Aggregator != nil {
		day, err := o.Aggregator.Day(ctx, updated.EmployeeID, updated.WorkDate(loc))
		if err != nil {
			return nil, err
		}
		result.Day = day
	}
	return result, nil
}

func (o *Orchestrator) preview(ctx context.Context, iv WorkInterval, req RecalcRequest) (*RecalcResult, error) {
	end := req.End
	iv.Start = req.Start
	iv.End = &end

	segments, attempts, err := o.compute(ctx, ComputeRequest{
		IntervalID:   iv.ID,
		EmployeeID:   iv.EmployeeID,
		ClockIn:      iv.Start,
		ClockOut:     end,
		ShiftHint:    iv.ShiftHint,
		Intermediate: true,
	})
	if err != nil {
		return nil, err
	}
	return &RecalcResult{Interval: iv, Segments: segments, Attempts: attempts, Preview: true}, nil
}

// compute calls the SegmentComputer under the retry policy.
func (o *Orchestrator) compute(ctx context.Context, req ComputeRequest) ([]Segment, int, error) {
	policy := o.Retry
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	backoff := policy.Backoff

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		segments, err := o.attempt(ctx, policy.Timeout, req)
		if err == nil {
			return segments, attempt, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil {
			if IsClientError(err) || IsNotFound(err) {
				return nil, attempt, err
			}
			return nil, attempt, &RecalculationFailure{IntervalID: req.IntervalID, Attempts: attempt, Err: err}
		}
		if attempt == policy.MaxAttempts {
			break
		}

		o.logger().Warn("segment computation failed, retrying",
			"interval_id", req.IntervalID, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, attempt, &RecalculationFailure{IntervalID: req.IntervalID, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	o.logger().Error("segment computation failed",
		"interval_id", req.IntervalID, "attempts", policy.MaxAttempts, "error", lastErr)
	return nil, policy.MaxAttempts, &RecalculationFailure{
		IntervalID: req.IntervalID,
		Attempts:   policy.MaxAttempts,
		Err:        lastErr,
	}
}

func (o *Orchestrator) attempt(ctx context.Context, timeout time.Duration, req ComputeRequest) ([]Segment, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	segments, err := o.Computer.ComputeSegments(ctx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		// A per-attempt timeout is a transient service failure.
		return nil, fmt.Errorf("%w: %v", ErrComputationUnavailable, err)
	}
	return segments, err
}

func (o *Orchestrator) location() *time.Location {
	if o.Aggregator != nil {
		return locOrUTC(o.Aggregator.Location)
	}
	return time.UTC
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

type intervalBoundaries struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

func boundaries(iv WorkInterval) intervalBoundaries {
	return intervalBoundaries{Start: iv.Start, End: iv.End}
}
