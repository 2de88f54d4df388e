package worktime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ClockInRequest opens a work interval.
type ClockInRequest struct {
	EmployeeID  EmployeeID
	At          time.Time
	ShiftHint   string
	Notes       string
	LocationRef string
	PhotoRef    string
}

// ClockOutResult describes a closed interval. Fallback is set instead of
// Recalc when the interval was too long to decompose into segments.
type ClockOutResult struct {
	Interval WorkInterval
	Recalc   *RecalcResult
	Fallback *DailyOverride
}

// Tracker records clock-in and clock-out events.
type Tracker struct {
	Store        TxStore
	Orchestrator *Orchestrator
	Location     *time.Location
	Logger       *slog.Logger
	Now          func() time.Time
}

func NewTracker(store TxStore, orchestrator *Orchestrator, rules RuleSet) *Tracker {
	return &Tracker{Store: store, Orchestrator: orchestrator, Location: rules.loc()}
}

// ClockIn opens a pending interval. An employee has at most one open interval.
func (t *Tracker) ClockIn(ctx context.Context, actor Actor, req ClockInRequest) (*WorkInterval, error) {
	hint, err := ParseShiftHint(req.ShiftHint)
	if err != nil {
		return nil, err
	}
	at := req.At
	if at.IsZero() {
		at = t.now()
	}

	var iv WorkInterval
	err = t.Store.WithTx(ctx, func(tx Store) error {
		open, err := tx.ListIntervals(ctx, IntervalFilter{
			EmployeeIDs: []EmployeeID{req.EmployeeID},
			OnlyOpen:    true,
			Limit:       1,
		})
		if err != nil {
			return fmt.Errorf("failed to check open intervals: %w", err)
		}
		if len(open) > 0 {
			return fmt.Errorf("%w: %s (interval %s)", ErrAlreadyClockedIn, req.EmployeeID, open[0].ID)
		}

		now := t.now()
		iv = WorkInterval{
			ID:          IntervalID(uuid.NewString()),
			EmployeeID:  req.EmployeeID,
			Start:       at,
			ShiftHint:   hint,
			Status:      StatusPendingReview,
			Notes:       req.Notes,
			LocationRef: req.LocationRef,
			PhotoRef:    req.PhotoRef,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.SaveInterval(ctx, iv); err != nil {
			return fmt.Errorf("failed to save interval: %w", err)
		}
		return tx.AppendAudit(ctx, AuditEntry{
			ID:           uuid.NewString(),
			Timestamp:    now,
			ActorID:      actor.ID,
			Action:       AuditClockIn,
			ResourceType: "work_interval",
			ResourceID:   string(iv.ID),
			Details: AuditDetails{
				New:               boundaries(iv),
				Scope:             ScopeSingle,
				AffectedEmployees: []EmployeeID{iv.EmployeeID},
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &iv, nil
}

// ClockOut closes an open interval and computes its segments. Intervals
// longer than MaxIntervalDuration are closed with an auto fallback override
// instead of segments.
func (t *Tracker) ClockOut(ctx context.Context, actor Actor, id IntervalID, at time.Time) (*ClockOutResult, error) {
	if at.IsZero() {
		at = t.now()
	}
	iv, err := t.Store.GetInterval(ctx, id)
	if err != nil {
		return nil, err
	}
	if !iv.IsOpen() {
		return nil, fmt.Errorf("cannot clock out %s: %w", id, ErrIntervalClosed)
	}

	if at.Sub(iv.Start) > MaxIntervalDuration {
		return t.closeWithFallback(ctx, actor, *iv, at)
	}

	recalc, err := t.Orchestrator.Recalculate(ctx, RecalcRequest{
		IntervalID: id,
		Start:      iv.Start,
		End:        at,
		FinalMode:  true,
		Actor:      actor,
		Scope:      ScopeSingle,
		Action:     AuditClockOut,
	})
	if err != nil {
		return nil, err
	}
	return &ClockOutResult{Interval: recalc.Interval, Recalc: recalc}, nil
}

func (t *Tracker) closeWithFallback(ctx context.Context, actor Actor, iv WorkInterval, at time.Time) (*ClockOutResult, error) {
	now := t.now()
	loc := locOrUTC(t.Location)
	end := at
	iv.End = &end
	iv.UpdatedAt = now

	var fallback *DailyOverride
	err := t.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveInterval(ctx, iv); err != nil {
			return fmt.Errorf("failed to save interval: %w", err)
		}
		if err := tx.AppendAudit(ctx, AuditEntry{
			ID:           uuid.NewString(),
			Timestamp:    now,
			ActorID:      actor.ID,
			Action:       AuditClockOut,
			ResourceType: "work_interval",
			ResourceID:   string(iv.ID),
			Details: AuditDetails{
				New:               boundaries(iv),
				Scope:             ScopeSingle,
				AffectedEmployees: []EmployeeID{iv.EmployeeID},
				Reason:            "interval exceeds " + MaxIntervalDuration.String(),
			},
		}); err != nil {
			return err
		}
		o, err := createFallbackOverride(ctx, tx, iv, loc, actor, now)
		fallback = o
		return err
	})
	if err != nil {
		return nil, err
	}

	t.logger().Warn("interval too long for segments, fallback override created",
		"interval_id", iv.ID, "employee_id", iv.EmployeeID, "duration", iv.Duration())
	return &ClockOutResult{Interval: iv, Fallback: fallback}, nil
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now().UTC()
}

func (t *Tracker) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
