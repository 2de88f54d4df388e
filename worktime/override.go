/*
override.go - Override Reconciliation

PURPOSE:
  Lets a supervisor replace the computed totals of one employee/day with
  manually entered per-category hours.

FLOW (ApplyOverride):
  1. Reject values outside [0, 24]                      -> *RangeError
  2. Load the day's closed intervals                    -> *NotFoundError if none
  3. Start from the existing override, or seed a new one from the day's
     computed totals, then set the requested category
  4. Compare the override total against the clocked span + tolerance
       exceeds and CanOverrideBeyondSpan(role)  -> save, return warning
       exceeds otherwise                        -> reject with the warning
  5. Upsert the override marked manual, audit, and return the day's
     aggregate as read back inside the same transaction

  Computed segments for the day are never deleted; they stay for audit and
  reappear if the override is purged.
*/
package worktime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultOverrideTolerance is the slack allowed between override totals and
// the clocked span.
const DefaultOverrideTolerance = 3 * time.Minute

var maxDayHours = decimal.NewFromInt(24)

// OverrideResult is returned by ApplyOverride.
type OverrideResult struct {
	Override DailyOverride
	// Warning is set when a privileged actor saved beyond the clocked span.
	Warning *ValidationWarning
	Day     DayTotals
}

// OverrideService applies manual overrides.
type OverrideService struct {
	Store      TxStore
	Aggregator *Aggregator
	Tolerance  time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewOverrideService(store TxStore, aggregator *Aggregator) *OverrideService {
	return &OverrideService{Store: store, Aggregator: aggregator, Tolerance: DefaultOverrideTolerance}
}

// ApplyOverride sets one category value of the employee's override for date.
func (s *OverrideService) ApplyOverride(
	ctx context.Context,
	actor Actor,
	employeeID EmployeeID,
	date Date,
	category Category,
	value decimal.Decimal,
	notes string,
) (*OverrideResult, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if value.IsNegative() || value.GreaterThan(maxDayHours) {
		return nil, &RangeError{Field: "override hours", Value: value.String(), Min: "0", Max: "24"}
	}

	var result *OverrideResult
	err := s.Store.WithTx(ctx, func(tx Store) error {
		agg := s.Aggregator.WithStore(tx)

		intervals, err := s.dayIntervals(ctx, tx, employeeID, date)
		if err != nil {
			return err
		}
		var span time.Duration
		ids := make([]IntervalID, 0, len(intervals))
		for _, iv := range intervals {
			span += iv.Duration()
			ids = append(ids, iv.ID)
		}

		existing, err := tx.GetOverride(ctx, employeeID, date)
		if err != nil {
			return fmt.Errorf("failed to load override: %w", err)
		}

		now := s.now()
		var o DailyOverride
		if existing != nil {
			o = *existing
		} else {
			// Seed from the day's own segments, before any weekend anchoring.
			segs, err := tx.SegmentsForIntervals(ctx, ids)
			if err != nil {
				return fmt.Errorf("failed to load segments: %w", err)
			}
			seed := NewCategoryTotals()
			for _, id := range ids {
				seed.Merge(SegmentTotals(segs[id]))
			}
			o = DailyOverride{
				ID:         OverrideID(uuid.NewString()),
				EmployeeID: employeeID,
				Date:       date,
				Values:     seed,
				CreatedAt:  now,
			}
		}
		var old CategoryTotals
		if existing != nil {
			old = existing.Values.Clone()
		}

		o.Values[category] = value.Round(HoursPrecision)
		o.Provenance = ProvenanceManual
		if notes != "" {
			o.Notes = notes
		}
		o.UpdatedBy = actor.ID
		o.UpdatedAt = now

		var warning *ValidationWarning
		limit := HoursOf(span + s.tolerance())
		if o.Total().GreaterThan(limit) {
			warning = &ValidationWarning{
				EmployeeID: employeeID,
				Date:       date,
				Total:      o.Total(),
				Span:       HoursOf(span),
				Tolerance:  s.tolerance(),
			}
			if !CanOverrideBeyondSpan(actor.Role) {
				return warning
			}
		}

		if err := tx.SaveOverride(ctx, o); err != nil {
			return fmt.Errorf("failed to save override: %w", err)
		}

		if err := tx.AppendAudit(ctx, AuditEntry{
			ID:           uuid.NewString(),
			Timestamp:    now,
			ActorID:      actor.ID,
			Action:       AuditOverrideSaved,
			ResourceType: "daily_override",
			ResourceID:   string(o.ID),
			Details: AuditDetails{
				Old:               old,
				New:               o.Values,
				Scope:             ScopeSingle,
				AffectedEmployees: []EmployeeID{employeeID},
				Reason:            fmt.Sprintf("%s set to %s", category, value.StringFixed(HoursPrecision)),
			},
		}); err != nil {
			return fmt.Errorf("failed to append audit: %w", err)
		}

		day, err := agg.Day(ctx, employeeID, date)
		if err != nil {
			return err
		}

		result = &OverrideResult{Override: o, Warning: warning, Day: *day}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Warning != nil {
		s.logger().Warn("override saved beyond clocked span",
			"employee_id", employeeID, "date", date.String(), "actor_id", actor.ID,
			"total", result.Warning.Total.String(), "span", result.Warning.Span.String())
	}
	return result, nil
}

// dayIntervals returns the closed intervals booked on the employee's date.
func (s *OverrideService) dayIntervals(ctx context.Context, st Store, employeeID EmployeeID, date Date) ([]WorkInterval, error) {
	loc := locOrUTC(s.Aggregator.Location)
	from, to := Period{Start: date, End: date}.Bounds(loc)
	intervals, err := st.ListIntervals(ctx, IntervalFilter{
		EmployeeIDs: []EmployeeID{employeeID},
		StartFrom:   &from,
		StartTo:     &to,
		OnlyClosed:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load intervals: %w", err)
	}
	if len(intervals) == 0 {
		return nil, &NotFoundError{Resource: "work interval", ID: fmt.Sprintf("%s/%s", employeeID, date)}
	}
	return intervals, nil
}

func (s *OverrideService) tolerance() time.Duration {
	if s.Tolerance < 0 {
		return 0
	}
	return s.Tolerance
}

func (s *OverrideService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *OverrideService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
