/*
bulk.go - Bulk Reprocessing

PURPOSE:
  Regenerates segments for many intervals at once, typically after an
  outage of the computation service or a rule change.

MODES:
  missing_segments  closed intervals with no segments or a stale flag
  date_range        every closed interval clocked in within [start, end]

  Candidates are processed in batches of BatchSize with BatchDelay between
  batches. Each interval is recalculated through the Orchestrator with its
  current boundaries, so approvals and overrides are kept.

FALLBACK OVERRIDES:
  An interval longer than MaxIntervalDuration cannot be decomposed. Instead
  of failing it forever, the reprocessor books its span as regular hours in
  an auto DailyOverride for the work date. Auto overrides never replace an
  existing override and lose to computed segments in aggregation.

CANCELLATION:
  Cancelling ctx stops before the next interval and returns the partial
  result. Already processed intervals stay recalculated.
*/
package worktime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type ReprocessMode string

const (
	ModeMissingSegments ReprocessMode = "missing_segments"
	ModeDateRange       ReprocessMode = "date_range"
)

// DefaultBatchSize is used when a request leaves BatchSize unset.
const DefaultBatchSize = 50

type ReprocessRequest struct {
	Mode      ReprocessMode `json:"mode"`
	StartDate *Date         `json:"startDate,omitempty"`
	EndDate   *Date         `json:"endDate,omitempty"`
	BatchSize int           `json:"batchSize"`
}

type ReprocessResult struct {
	Processed int              `json:"processed"`
	Generated int              `json:"generated"`
	Fallbacks int              `json:"fallbacks"`
	Failed    []BatchItemError `json:"failed,omitempty"`
	Success   bool             `json:"success"`
}

// Reprocessor is the bulk reprocessing service.
type Reprocessor struct {
	Store        TxStore
	Orchestrator *Orchestrator
	Location     *time.Location
	BatchDelay   time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

func NewReprocessor(store TxStore, orchestrator *Orchestrator, rules RuleSet) *Reprocessor {
	return &Reprocessor{Store: store, Orchestrator: orchestrator, Location: rules.loc()}
}

// Reprocess runs one bulk job. On cancellation the partial result is
// returned together with ctx.Err().
func (r *Reprocessor) Reprocess(ctx context.Context, req ReprocessRequest) (*ReprocessResult, error) {
	candidates, err := r.Candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	size := req.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	r.logger().Info("reprocessing started", "mode", req.Mode, "candidates", len(candidates), "batch_size", size)

	result := &ReprocessResult{}
	for i := 0; i < len(candidates); i += size {
		if i > 0 && r.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return r.finish(result), ctx.Err()
			case <-time.After(r.BatchDelay):
			}
		}
		end := i + size
		if end > len(candidates) {
			end = len(candidates)
		}
		for _, iv := range candidates[i:end] {
			if err := ctx.Err(); err != nil {
				return r.finish(result), err
			}
			r.reprocessOne(ctx, iv, result)
		}
	}
	return r.finish(result), nil
}

// Candidates lists the intervals a Reprocess call with req would visit.
func (r *Reprocessor) Candidates(ctx context.Context, req ReprocessRequest) ([]WorkInterval, error) {
	switch req.Mode {
	case ModeMissingSegments:
		intervals, err := r.Store.ListUnsegmented(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list unsegmented intervals: %w", err)
		}
		return intervals, nil

	case ModeDateRange:
		if req.StartDate == nil || req.EndDate == nil {
			return nil, fmt.Errorf("date_range requires start and end dates: %w", ErrInvalidPeriod)
		}
		period, err := NewPeriod(*req.StartDate, *req.EndDate)
		if err != nil {
			return nil, err
		}
		from, to := period.Bounds(locOrUTC(r.Location))
		intervals, err := r.Store.ListIntervals(ctx, IntervalFilter{
			StartFrom:  &from,
			StartTo:    &to,
			OnlyClosed: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list intervals: %w", err)
		}
		return intervals, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
}

func (r *Reprocessor) reprocessOne(ctx context.Context, iv WorkInterval, result *ReprocessResult) {
	result.Processed++

	if iv.Duration() > MaxIntervalDuration {
		var created *DailyOverride
		err := r.Store.WithTx(ctx, func(tx Store) error {
			o, err := createFallbackOverride(ctx, tx, iv, locOrUTC(r.Location), SystemActor, r.now())
			created = o
			return err
		})
		if err != nil {
			result.Failed = append(result.Failed, itemError(iv, err))
			return
		}
		if created != nil {
			result.Fallbacks++
			r.logger().Warn("fallback override created",
				"interval_id", iv.ID, "employee_id", iv.EmployeeID, "duration", iv.Duration())
		}
		return
	}

	recalc, err := r.Orchestrator.Recalculate(ctx, RecalcRequest{
		IntervalID: iv.ID,
		Start:      iv.Start,
		End:        *iv.End,
		FinalMode:  true,
		Actor:      SystemActor,
		Scope:      ScopeSingle,
		Action:     AuditRecalculated,
	})
	if err != nil {
		r.logger().Warn("reprocessing failed", "interval_id", iv.ID, "employee_id", iv.EmployeeID, "error", err)
		result.Failed = append(result.Failed, itemError(iv, err))
		return
	}
	result.Generated += len(recalc.Segments)
}

func (r *Reprocessor) finish(result *ReprocessResult) *ReprocessResult {
	result.Success = len(result.Failed) == 0
	r.logger().Info("reprocessing finished",
		"processed", result.Processed, "generated", result.Generated,
		"fallbacks", result.Fallbacks, "failed", len(result.Failed))
	return result
}

// createFallbackOverride books an undecomposable interval's span as regular
// hours on its work date. It returns nil if the date already has an override.
func createFallbackOverride(ctx context.Context, tx Store, iv WorkInterval, loc *time.Location, actor Actor, now time.Time) (*DailyOverride, error) {
	date := iv.WorkDate(loc)
	existing, err := tx.GetOverride(ctx, iv.EmployeeID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load override: %w", err)
	}
	if existing != nil {
		return nil, nil
	}

	values := NewCategoryTotals()
	values[CategoryRegular] = HoursOf(iv.Duration())
	o := DailyOverride{
		ID:         OverrideID(uuid.NewString()),
		EmployeeID: iv.EmployeeID,
		Date:       date,
		Values:     values,
		Provenance: ProvenanceAuto,
		Notes:      fmt.Sprintf("auto-generated: interval %s spans %s", iv.ID, iv.Duration()),
		UpdatedBy:  actor.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.SaveOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to save fallback override: %w", err)
	}
	if err := tx.AppendAudit(ctx, AuditEntry{
		ID:           uuid.NewString(),
		Timestamp:    now,
		ActorID:      actor.ID,
		Action:       AuditFallbackOverride,
		ResourceType: "daily_override",
		ResourceID:   string(o.ID),
		Details: AuditDetails{
			New:               values,
			Scope:             ScopeSingle,
			AffectedEmployees: []EmployeeID{iv.EmployeeID},
			Reason:            o.Notes,
		},
	}); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Reprocessor) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Reprocessor) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
