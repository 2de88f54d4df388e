package worktime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/worktime"
)

func TestReprocess_MissingSegments_GeneratesAndConverges(t *testing.T) {
	// GIVEN: Two closed intervals stored without segments
	// WHEN: Reprocessing in missing_segments mode with batches of one
	// THEN: Both get segments; a second run finds nothing to do

	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "iv-1", "emp-1", at(3, 7, 0), at(3, 15, 0))
	env.seed(t, "iv-2", "emp-2", at(3, 20, 0), at(4, 2, 0))

	result, err := env.reproc.Reprocess(ctx, worktime.ReprocessRequest{Mode: worktime.ModeMissingSegments, BatchSize: 1})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 3, result.Generated, "1 regular + regular/night")

	segs, err := env.store.Segments(ctx, "iv-2")
	require.NoError(t, err)
	assert.Len(t, segs, 2)

	again, err := env.reproc.Reprocess(ctx, worktime.ReprocessRequest{Mode: worktime.ModeMissingSegments})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
}

func TestReprocessor_Candidates_MatchReprocessedIntervals(t *testing.T) {
	// GIVEN: One segmented interval and one stored without segments
	// WHEN: Listing candidates, then reprocessing
	// THEN: Only the unsegmented interval is listed, and exactly it is processed

	env := newTestEnv(t)
	ctx := context.Background()
	env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")
	env.seed(t, "iv-bare", "emp-2", at(3, 8, 0), at(3, 12, 0))
	req := worktime.ReprocessRequest{Mode: worktime.ModeMissingSegments}

	candidates, err := env.reproc.Candidates(ctx, req)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, worktime.IntervalID("iv-bare"), candidates[0].ID)

	result, err := env.reproc.Reprocess(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, len(candidates), result.Processed)

	_, err = env.reproc.Candidates(ctx, worktime.ReprocessRequest{Mode: worktime.ModeDateRange})
	assert.ErrorIs(t, err, worktime.ErrInvalidPeriod)
}

func TestReprocess_DateRange_RecomputesClosedIntervalsInRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.work(t, "emp-1", at(3, 7, 0), at(3, 15, 0), "")
	env.work(t, "emp-1", at(4, 7, 0), at(4, 15, 0), "")
	env.work(t, "emp-1", at(6, 7, 0), at(6, 15, 0), "")

	start, end := march(3), march(4)
	result, err := env.reproc.Reprocess(ctx, worktime.ReprocessRequest{
		Mode: worktime.ModeDateRange, StartDate: &start, EndDate: &end, BatchSize: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Generated)
	assert.True(t, result.Success)
}

func TestReprocess_DateRange_RequiresDates(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reproc.Reprocess(context.Background(), worktime.ReprocessRequest{Mode: worktime.ModeDateRange})
	assert.ErrorIs(t, err, worktime.ErrInvalidPeriod)
}

func TestReprocess_UnknownMode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reproc.Reprocess(context.Background(), worktime.ReprocessRequest{Mode: "everything"})
	assert.ErrorIs(t, err, worktime.ErrUnknownMode)
}

func TestReprocess_OverlongInterval_FallbackOverrideOnce(t *testing.T) {
	// GIVEN: A 30h interval without segments
	// WHEN: Reprocessing twice
	// THEN: One auto fallback override is created the first time only

	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "iv-long", "emp-1", at(3, 6, 0), at(4, 12, 0))

	result, err := env.reproc.Reprocess(ctx, worktime.ReprocessRequest{Mode: worktime.ModeMissingSegments})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fallbacks)
	assert.True(t, result.Success)

	o, err := env.store.GetOverride(ctx, "emp-1", march(3))
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, worktime.ProvenanceAuto, o.Provenance)
	assertHours(t, "30.00", o.Values.Get(worktime.CategoryRegular))

	again, err := env.reproc.Reprocess(ctx, worktime.ReprocessRequest{Mode: worktime.ModeMissingSegments})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Fallbacks)
	assert.Len(t, env.auditActions(t, worktime.AuditFallbackOverride), 1)
}

func TestReprocess_FailuresReported_BatchContinues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "iv-1", "emp-1", at(3, 7, 0), at(3, 15, 0))
	env.seed(t, "iv-2", "emp-1", at(4, 7, 0), at(4, 15, 0))
	env.computer.failNext(-1, errServiceDown)

	result, err := env.reproc.Reprocess(ctx, worktime.ReprocessRequest{Mode: worktime.ModeMissingSegments})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Processed)
	assert.Len(t, result.Failed, 2)
	assert.NotEmpty(t, result.Failed[0].Reason)
}

func TestReprocess_Cancelled_PartialResult(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "iv-1", "emp-1", at(3, 7, 0), at(3, 15, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.reproc.Reprocess(ctx, worktime.ReprocessRequest{Mode: worktime.ModeMissingSegments})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Processed)
}
