/*
approval.go - Approval State Machine

STATES:
  pending_review (initial) -> approved

  approved re-opens only through Edit, which resets the interval to
  pending_review before it can be approved again.

TRANSITIONS:
  Approve(id)      closed intervals only; idempotent, a repeat call writes no
                   audit entry
  Edit(id, s?, e?) any status; recalculates through the Orchestrator and
                   returns the interval to pending_review
  Delete(id)       removes the interval and its segments, overrides untouched

TEAM VARIANTS:
  ApproveAll and EditAll resolve a TeamFilter (team, ISO week, optional
  weekday) to intervals and process each one independently. Per-interval
  failures are collected into a BatchResult; the batch never aborts on the
  first failure.

  ApproveAll runs with bounded concurrency (errgroup). EditAll runs one
  interval at a time with a delay between calls so the segment computation
  service is not flooded; cancelling ctx leaves processed intervals edited
  and the rest untouched.
*/
package worktime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds parallel approvals in ApproveAll.
const DefaultBatchConcurrency = 4

// =============================================================================
// BATCH RESULT
// =============================================================================

// BatchItemError is one failed item of a batch.
type BatchItemError struct {
	IntervalID IntervalID `json:"interval_id"`
	EmployeeID EmployeeID `json:"employee_id,omitempty"`
	Reason     string     `json:"reason"`
	Err        error      `json:"-"`
}

// BatchResult reports which intervals succeeded and which failed.
type BatchResult struct {
	Succeeded []IntervalID     `json:"succeeded"`
	Failed    []BatchItemError `json:"failed"`
}

func (r *BatchResult) SucceededCount() int { return len(r.Succeeded) }
func (r *BatchResult) FailedCount() int    { return len(r.Failed) }

func (r *BatchResult) sort() {
	sort.Slice(r.Succeeded, func(i, j int) bool { return r.Succeeded[i] < r.Succeeded[j] })
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].IntervalID < r.Failed[j].IntervalID })
}

// TeamFilter selects a team's intervals for one ISO week, optionally
// narrowed to a single weekday.
type TeamFilter struct {
	TeamID    TeamID
	WeekID    string
	DayOfWeek *time.Weekday
}

// Period returns the dates covered by the filter.
func (f TeamFilter) Period() (Period, error) {
	week, err := ISOWeek(f.WeekID)
	if err != nil {
		return Period{}, err
	}
	if f.DayOfWeek == nil {
		return week, nil
	}
	day := week.Start.AddDays((int(*f.DayOfWeek) + 6) % 7)
	return Period{Start: day, End: day}, nil
}

// EditRequest carries new boundaries. Nil keeps the current value.
type EditRequest struct {
	Start *time.Time
	End   *time.Time
}

// TeamEdit sets the clock-in and/or clock-out time of day of every interval
// in a team filter. A clock-out at or before the clock-in lands on the next
// day.
type TeamEdit struct {
	ClockIn  *ClockTime
	ClockOut *ClockTime
}

// =============================================================================
// APPROVAL SERVICE
// =============================================================================

type ApprovalService struct {
	Store        TxStore
	Directory    TeamDirectory
	Orchestrator *Orchestrator
	Location     *time.Location
	Concurrency  int
	// EditDelay is the pause between intervals in EditAll.
	EditDelay time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

func NewApprovalService(store TxStore, directory TeamDirectory, orchestrator *Orchestrator, rules RuleSet) *ApprovalService {
	return &ApprovalService{
		Store:        store,
		Directory:    directory,
		Orchestrator: orchestrator,
		Location:     rules.loc(),
		Concurrency:  DefaultBatchConcurrency,
		EditDelay:    500 * time.Millisecond,
	}
}

// Approve marks a closed interval approved.
func (s *ApprovalService) Approve(ctx context.Context, actor Actor, id IntervalID) (*WorkInterval, error) {
	var result WorkInterval
	err := s.Store.WithTx(ctx, func(tx Store) error {
		iv, err := tx.GetInterval(ctx, id)
		if err != nil {
			return err
		}
		if iv.IsOpen() {
			return fmt.Errorf("cannot approve %s: %w", id, ErrIntervalOpen)
		}
		if iv.Status == StatusApproved {
			result = *iv
			return nil
		}
		if iv.SegmentsStale {
			return fmt.Errorf("cannot approve %s until it is recalculated: %w", id, ErrSegmentsStale)
		}

		now := s.now()
		old := iv.Status
		approver := actor.ID
		iv.Status = StatusApproved
		iv.ApprovedBy = &approver
		iv.ApprovedAt = &now
		iv.UpdatedAt = now
		if err := tx.SaveInterval(ctx, *iv); err != nil {
			return fmt.Errorf("failed to save interval: %w", err)
		}

		result = *iv
		return tx.AppendAudit(ctx, AuditEntry{
			ID:           uuid.NewString(),
			Timestamp:    now,
			ActorID:      actor.ID,
			Action:       AuditIntervalApproved,
			ResourceType: "work_interval",
			ResourceID:   string(id),
			Details: AuditDetails{
				Old:               old,
				New:               StatusApproved,
				Scope:             ScopeSingle,
				AffectedEmployees: []EmployeeID{iv.EmployeeID},
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Edit changes an interval's boundaries and recalculates its segments. The
// interval returns to pending_review.
func (s *ApprovalService) Edit(ctx context.Context, actor Actor, id IntervalID, req EditRequest) (*RecalcResult, error) {
	return s.edit(ctx, actor, id, req, ScopeSingle)
}

func (s *ApprovalService) edit(ctx context.Context, actor Actor, id IntervalID, req EditRequest, scope AuditScope) (*RecalcResult, error) {
	iv, err := s.Store.GetInterval(ctx, id)
	if err != nil {
		return nil, err
	}

	start := iv.Start
	if req.Start != nil {
		start = *req.Start
	}
	end := iv.End
	if req.End != nil {
		end = req.End
	}
	if end == nil {
		return nil, fmt.Errorf("cannot edit %s without a clock-out: %w", id, ErrIntervalOpen)
	}

	return s.Orchestrator.Recalculate(ctx, RecalcRequest{
		IntervalID:    id,
		Start:         start,
		End:           *end,
		FinalMode:     true,
		Actor:         actor,
		Scope:         scope,
		Action:        AuditIntervalEdited,
		ResetApproval: true,
	})
}

// Delete removes an interval and its segments. Overrides are not touched.
func (s *ApprovalService) Delete(ctx context.Context, actor Actor, id IntervalID) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		iv, err := tx.GetInterval(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteInterval(ctx, id); err != nil {
			return fmt.Errorf("failed to delete interval: %w", err)
		}
		return tx.AppendAudit(ctx, AuditEntry{
			ID:           uuid.NewString(),
			Timestamp:    s.now(),
			ActorID:      actor.ID,
			Action:       AuditIntervalDeleted,
			ResourceType: "work_interval",
			ResourceID:   string(id),
			Details: AuditDetails{
				Old:               boundaries(*iv),
				Scope:             ScopeSingle,
				AffectedEmployees: []EmployeeID{iv.EmployeeID},
			},
		})
	})
}

// =============================================================================
// TEAM OPERATIONS
// =============================================================================

// TeamIntervals resolves a filter to the team's intervals ordered by clock-in.
func (s *ApprovalService) TeamIntervals(ctx context.Context, filter TeamFilter) ([]WorkInterval, error) {
	period, err := filter.Period()
	if err != nil {
		return nil, err
	}
	members, err := s.Directory.TeamMembers(ctx, filter.TeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load team %s: %w", filter.TeamID, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	from, to := period.Bounds(locOrUTC(s.Location))
	intervals, err := s.Store.ListIntervals(ctx, IntervalFilter{
		EmployeeIDs: members,
		StartFrom:   &from,
		StartTo:     &to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load intervals: %w", err)
	}
	return intervals, nil
}

// ApproveAll approves every interval in the filter.
func (s *ApprovalService) ApproveAll(ctx context.Context, actor Actor, filter TeamFilter) (*BatchResult, error) {
	intervals, err := s.TeamIntervals(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for _, iv := range intervals {
		iv := iv
		g.Go(func() error {
			_, err := s.Approve(ctx, actor, iv.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, itemError(iv, err))
				return nil
			}
			result.Succeeded = append(result.Succeeded, iv.ID)
			return nil
		})
	}
	_ = g.Wait()

	result.sort()
	s.logBatch("team approval", filter, result)
	return result, nil
}

// EditAll applies a time-of-day edit to every interval in the filter, one at
// a time. On cancellation it returns the partial result and ctx.Err().
func (s *ApprovalService) EditAll(ctx context.Context, actor Actor, filter TeamFilter, edit TeamEdit) (*BatchResult, error) {
	if edit.ClockIn == nil && edit.ClockOut == nil {
		return nil, &RangeError{Field: "team edit", Value: "none", Min: "clock-in", Max: "clock-out"}
	}
	intervals, err := s.TeamIntervals(ctx, filter)
	if err != nil {
		return nil, err
	}

	loc := locOrUTC(s.Location)
	result := &BatchResult{}
	for i, iv := range intervals {
		if i > 0 && s.EditDelay > 0 {
			select {
			case <-ctx.Done():
				s.logBatch("team edit", filter, result)
				return result, ctx.Err()
			case <-time.After(s.EditDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			s.logBatch("team edit", filter, result)
			return result, err
		}

		req := teamEditRequest(iv, edit, loc)
		if _, err := s.edit(ctx, actor, iv.ID, req, ScopeTeam); err != nil {
			result.Failed = append(result.Failed, itemError(iv, err))
			continue
		}
		result.Succeeded = append(result.Succeeded, iv.ID)
	}

	s.logBatch("team edit", filter, result)
	return result, nil
}

// teamEditRequest maps clock times onto the interval's work date.
func teamEditRequest(iv WorkInterval, edit TeamEdit, loc *time.Location) EditRequest {
	date := iv.WorkDate(loc)
	var req EditRequest

	start := iv.Start
	if edit.ClockIn != nil {
		start = date.At(*edit.ClockIn, loc)
		req.Start = &start
	}
	if edit.ClockOut != nil {
		end := date.At(*edit.ClockOut, loc)
		if !end.After(start) {
			end = date.AddDays(1).At(*edit.ClockOut, loc)
		}
		req.End = &end
	}
	return req
}

func itemError(iv WorkInterval, err error) BatchItemError {
	return BatchItemError{IntervalID: iv.ID, EmployeeID: iv.EmployeeID, Reason: err.Error(), Err: err}
}

func (s *ApprovalService) logBatch(op string, filter TeamFilter, result *BatchResult) {
	attrs := []any{
		"team_id", filter.TeamID, "week", filter.WeekID,
		"succeeded", result.SucceededCount(), "failed", result.FailedCount(),
	}
	if result.FailedCount() > 0 {
		for _, f := range result.Failed {
			s.logger().Warn(op+" item failed", "interval_id", f.IntervalID, "employee_id", f.EmployeeID, "error", f.Reason)
		}
		s.logger().Warn(op+" finished with failures", attrs...)
		return
	}
	s.logger().Info(op+" finished", attrs...)
}

func (s *ApprovalService) concurrency() int {
	if s.Concurrency < 1 {
		return 1
	}
	return s.Concurrency
}

func (s *ApprovalService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *ApprovalService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
