package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/worktime"
	"github.com/warp/worktime-engine/worktime/store"
)

func interval(id string, start time.Time, hours int) worktime.WorkInterval {
	end := start.Add(time.Duration(hours) * time.Hour)
	return worktime.WorkInterval{
		ID:         worktime.IntervalID(id),
		EmployeeID: "emp-1",
		Start:      start,
		End:        &end,
		Status:     worktime.StatusPendingReview,
	}
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A stored interval
	// WHEN: A transaction edits it, writes an override, then fails
	// THEN: Nothing from the transaction is visible

	m := store.NewMemory()
	ctx := context.Background()
	start := time.Date(2025, time.March, 3, 7, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveInterval(ctx, interval("iv-1", start, 8)))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx worktime.Store) error {
		iv, err := tx.GetInterval(ctx, "iv-1")
		require.NoError(t, err)
		iv.Notes = "changed"
		require.NoError(t, tx.SaveInterval(ctx, *iv))
		require.NoError(t, tx.SaveOverride(ctx, worktime.DailyOverride{
			EmployeeID: "emp-1",
			Date:       worktime.NewDate(2025, time.March, 3),
			Values:     worktime.NewCategoryTotals(),
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	iv, err := m.GetInterval(ctx, "iv-1")
	require.NoError(t, err)
	assert.Empty(t, iv.Notes)

	o, err := m.GetOverride(ctx, "emp-1", worktime.NewDate(2025, time.March, 3))
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestMemory_ReplaceSegments_SortedAndScoped(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	start := time.Date(2025, time.March, 3, 20, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveInterval(ctx, interval("iv-1", start, 3)))

	require.NoError(t, m.ReplaceSegments(ctx, "iv-1", []worktime.Segment{
		{ID: "s2", IntervalID: "iv-1", Category: worktime.CategoryNight, Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
		{ID: "s1", IntervalID: "iv-1", Category: worktime.CategoryRegular, Start: start, End: start.Add(2 * time.Hour)},
	}))

	segs, err := m.Segments(ctx, "iv-1")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, worktime.SegmentID("s1"), segs[0].ID)

	err = m.ReplaceSegments(ctx, "missing", nil)
	assert.True(t, worktime.IsNotFound(err))
}

func TestMemory_ListUnsegmented_StaleOrEmpty(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	start := time.Date(2025, time.March, 3, 7, 0, 0, 0, time.UTC)

	done := interval("done", start, 8)
	stale := interval("stale", start.Add(24*time.Hour), 8)
	stale.SegmentsStale = true
	empty := interval("empty", start.Add(48*time.Hour), 8)
	open := interval("open", start.Add(72*time.Hour), 0)
	open.End = nil

	for _, iv := range []worktime.WorkInterval{done, stale, empty, open} {
		require.NoError(t, m.SaveInterval(ctx, iv))
	}
	for _, id := range []worktime.IntervalID{"done", "stale"} {
		require.NoError(t, m.ReplaceSegments(ctx, id, []worktime.Segment{{ID: worktime.SegmentID(id), IntervalID: id}}))
	}

	got, err := m.ListUnsegmented(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, worktime.IntervalID("stale"), got[0].ID)
	assert.Equal(t, worktime.IntervalID("empty"), got[1].ID)

	limited, err := m.ListUnsegmented(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemory_DeleteOverride_ReportsExistence(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	date := worktime.NewDate(2025, time.March, 3)

	require.NoError(t, m.SaveOverride(ctx, worktime.DailyOverride{EmployeeID: "emp-1", Date: date, Values: worktime.NewCategoryTotals()}))

	existed, err := m.DeleteOverride(ctx, "emp-1", date)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = m.DeleteOverride(ctx, "emp-1", date)
	require.NoError(t, err)
	assert.False(t, existed)
}
