package worktime_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/worktime"
)

var errServiceDown = fmt.Errorf("%w: connection refused", worktime.ErrComputationUnavailable)

// =============================================================================
// RETRY POLICY TESTS
// =============================================================================

func TestRecalculate_TransientFailure_RetriedThenSucceeds(t *testing.T) {
	// GIVEN: The computation service fails twice, then recovers
	// WHEN: Recalculating an interval
	// THEN: The third attempt succeeds and the stale flag is cleared

	env := newTestEnv(t)
	ctx := context.Background()
	iv := env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")
	env.computer.failNext(2, errServiceDown)

	result, err := env.orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: iv.ID, Start: at(3, 7, 0), End: at(3, 16, 0), FinalMode: true, Actor: admin,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, env.computer.calls)
	assert.False(t, result.Interval.SegmentsStale)
	assertHours(t, "9.00", worktime.SegmentTotals(result.Segments).Total())
}

func TestRecalculate_RetriesExhausted_RecalculationFailure(t *testing.T) {
	// GIVEN: The computation service is down
	// WHEN: Recalculating with new boundaries
	// THEN: A RecalculationFailure after 3 attempts; boundaries are persisted,
	//       the interval is left stale for the reprocessor

	env := newTestEnv(t)
	ctx := context.Background()
	iv := env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")
	env.computer.failNext(-1, errServiceDown)

	_, err := env.orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: iv.ID, Start: at(3, 7, 0), End: at(3, 16, 0), FinalMode: true, Actor: admin,
	})

	var failure *worktime.RecalculationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.Attempts)
	assert.True(t, errors.Is(err, worktime.ErrRecalculationFailed))
	assert.True(t, errors.Is(err, worktime.ErrComputationUnavailable))

	stored, err := env.store.GetInterval(ctx, iv.ID)
	require.NoError(t, err)
	assert.True(t, stored.End.Equal(at(3, 16, 0)))
	assert.True(t, stored.SegmentsStale)

	stale, err := env.store.ListUnsegmented(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, iv.ID, stale[0].ID)

	// Old segments are still there; the replace never happened.
	segs, err := env.store.Segments(ctx, iv.ID)
	require.NoError(t, err)
	assertHours(t, "8.00", worktime.SegmentTotals(segs).Total())
}

func TestRecalculate_AttemptTimeout_RetriedThenSucceeds(t *testing.T) {
	// GIVEN: The first computation call hangs past the per-attempt timeout
	// WHEN: Recalculating
	// THEN: The timeout counts as a transient failure and attempt 2 succeeds

	env := newTestEnv(t)
	ctx := context.Background()
	iv := env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")

	hanging := &hangingComputer{next: env.computer, hangs: 1}
	env.orch.Computer = hanging
	env.orch.Retry = worktime.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Timeout: 20 * time.Millisecond}

	result, err := env.orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: iv.ID, Start: at(3, 7, 0), End: at(3, 16, 0), FinalMode: true, Actor: admin,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, hanging.calls)
	assert.False(t, result.Interval.SegmentsStale)
	assertHours(t, "9.00", worktime.SegmentTotals(result.Segments).Total())
}

func TestRecalculate_AttemptTimeout_ExhaustedIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	iv := env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")

	hanging := &hangingComputer{next: env.computer, hangs: -1}
	env.orch.Computer = hanging
	env.orch.Retry = worktime.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond, Timeout: 10 * time.Millisecond}

	_, err := env.orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: iv.ID, Start: at(3, 7, 0), End: at(3, 16, 0), FinalMode: true, Actor: admin,
	})

	var failure *worktime.RecalculationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 2, failure.Attempts)
	assert.ErrorIs(t, err, worktime.ErrComputationUnavailable)
	assert.Equal(t, 2, hanging.calls)
}

func TestRecalculate_ClientError_NotRetried(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	iv := env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")
	env.computer.failNext(-1, fmt.Errorf("%w: rejected by service", worktime.ErrOutOfRange))

	_, err := env.orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: iv.ID, Start: at(3, 7, 0), End: at(3, 16, 0), FinalMode: true, Actor: admin,
	})

	assert.ErrorIs(t, err, worktime.ErrOutOfRange)
	assert.Equal(t, 1, env.computer.calls)
}

// =============================================================================
// STEP ORDER TESTS
// =============================================================================

func TestRecalculate_InvalidRange_NoStateChange(t *testing.T) {
	// GIVEN: A 30h range
	// WHEN: Recalculating
	// THEN: RangeError before step 1: no write, no computation call

	env := newTestEnv(t)
	ctx := context.Background()
	iv := env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")
	env.computer.calls = 0

	_, err := env.orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: iv.ID, Start: at(3, 7, 0), End: at(4, 13, 0), FinalMode: true, Actor: admin,
	})

	var rangeErr *worktime.RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, 0, env.computer.calls)

	stored, err := env.store.GetInterval(ctx, iv.ID)
	require.NoError(t, err)
	assert.Equal(t, iv, *stored)
}

func TestRecalculate_Missing_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.Recalculate(context.Background(), worktime.RecalcRequest{
		IntervalID: "ghost", Start: at(3, 7, 0), End: at(3, 8, 0), FinalMode: true,
	})
	assert.True(t, worktime.IsNotFound(err))
}

func TestRecalculate_Interim_PersistsNothing(t *testing.T) {
	// GIVEN: An interval with a manual override on its day
	// WHEN: Running an interim recalculation with new boundaries
	// THEN: Preview segments are returned; interval, segments, override and
	//       audit log are untouched

	env := newTestEnv(t)
	ctx := context.Background()
	iv := env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")
	_, err := env.overrides.ApplyOverride(ctx, admin, "emp-1", march(3), worktime.CategoryRegular, worktime.NewHours(7), "")
	require.NoError(t, err)
	auditBefore := env.auditActions(t)

	result, err := env.orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: iv.ID, Start: at(3, 7, 0), End: at(3, 23, 0), FinalMode: false, Actor: admin,
	})
	require.NoError(t, err)

	assert.True(t, result.Preview)
	assertHours(t, "1.00", worktime.SegmentTotals(result.Segments).Get(worktime.CategoryNight))

	stored, err := env.store.GetInterval(ctx, iv.ID)
	require.NoError(t, err)
	assert.True(t, stored.End.Equal(at(3, 15, 0)))

	segs, err := env.store.Segments(ctx, iv.ID)
	require.NoError(t, err)
	assertHours(t, "8.00", worktime.SegmentTotals(segs).Total())

	o, err := env.store.GetOverride(ctx, "emp-1", march(3))
	require.NoError(t, err)
	assert.NotNil(t, o)
	assert.Equal(t, auditBefore, env.auditActions(t))
}

func TestRecalculate_SameBoundaries_KeepsApprovalAndOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	iv := env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")
	_, err := env.approvals.Approve(ctx, admin, iv.ID)
	require.NoError(t, err)
	_, err = env.overrides.ApplyOverride(ctx, admin, "emp-1", march(3), worktime.CategoryRegular, worktime.NewHours(7), "")
	require.NoError(t, err)

	result, err := env.orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: iv.ID, Start: at(3, 7, 0), End: at(3, 15, 0), FinalMode: true, Actor: worktime.SystemActor,
	})
	require.NoError(t, err)

	assert.Equal(t, worktime.StatusApproved, result.Interval.Status)
	assert.False(t, result.OverridePurged)
	assert.Equal(t, worktime.SourceOverride, result.Day.Source)
}

func TestRecalculate_AuditRecordsOldAndNewBoundaries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	iv := env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")

	_, err := env.orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: iv.ID, Start: at(3, 8, 0), End: at(3, 15, 0), FinalMode: true, Actor: admin,
		Scope: worktime.ScopeTeam,
	})
	require.NoError(t, err)

	entries := env.auditActions(t, worktime.AuditRecalculated)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, admin.ID, e.ActorID)
	assert.Equal(t, string(iv.ID), e.ResourceID)
	assert.Equal(t, worktime.ScopeTeam, e.Details.Scope)
	assert.Equal(t, []worktime.EmployeeID{"emp-1"}, e.Details.AffectedEmployees)
	assert.NotNil(t, e.Details.Old)
	assert.NotNil(t, e.Details.New)
}

// hangingComputer blocks until the attempt's context ends for its first
// hangs calls; hangs < 0 blocks every call.
type hangingComputer struct {
	next  worktime.SegmentComputer
	calls int
	hangs int
}

func (c *hangingComputer) ComputeSegments(ctx context.Context, req worktime.ComputeRequest) ([]worktime.Segment, error) {
	c.calls++
	if c.hangs < 0 || c.calls <= c.hangs {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.next.ComputeSegments(ctx, req)
}
