package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/store/sqlite"
	"github.com/warp/worktime-engine/worktime"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func closed(id string, emp worktime.EmployeeID, start, end time.Time) worktime.WorkInterval {
	return worktime.WorkInterval{
		ID:         worktime.IntervalID(id),
		EmployeeID: emp,
		Start:      start,
		End:        &end,
		ShiftHint:  worktime.CategoryRegular,
		Status:     worktime.StatusPendingReview,
	}
}

func TestSQLite_IntervalRoundTrip(t *testing.T) {
	// GIVEN: An approved interval with optional fields set
	// WHEN: It is saved and loaded back
	// THEN: Every field survives, including sub-second instants

	s := newStore(t)
	ctx := context.Background()

	iv := closed("iv-1", "emp-1", at(3, 7, 0).Add(500*time.Millisecond), at(3, 15, 30))
	approver := "lead-1"
	approvedAt := at(4, 9, 0)
	iv.Status = worktime.StatusApproved
	iv.ApprovedBy = &approver
	iv.ApprovedAt = &approvedAt
	iv.EditedByAdmin = true
	iv.Notes = "late bus"
	iv.LocationRef = "geo-1"
	require.NoError(t, s.SaveInterval(ctx, iv))

	got, err := s.GetInterval(ctx, "iv-1")
	require.NoError(t, err)
	assert.True(t, got.Start.Equal(iv.Start))
	require.NotNil(t, got.End)
	assert.True(t, got.End.Equal(*iv.End))
	assert.Equal(t, worktime.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedBy)
	assert.Equal(t, "lead-1", *got.ApprovedBy)
	assert.True(t, got.EditedByAdmin)
	assert.Equal(t, "late bus", got.Notes)
	assert.Equal(t, "geo-1", got.LocationRef)
	assert.Empty(t, got.PhotoRef)

	_, err = s.GetInterval(ctx, "missing")
	assert.True(t, worktime.IsNotFound(err))
}

func TestSQLite_ListIntervals_Filter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInterval(ctx, closed("a", "emp-1", at(3, 7, 0), at(3, 15, 0))))
	require.NoError(t, s.SaveInterval(ctx, closed("b", "emp-1", at(4, 7, 0), at(4, 15, 0))))
	require.NoError(t, s.SaveInterval(ctx, closed("c", "emp-2", at(3, 8, 0), at(3, 16, 0))))
	open := worktime.WorkInterval{ID: "d", EmployeeID: "emp-1", Start: at(5, 7, 0)}
	require.NoError(t, s.SaveInterval(ctx, open))

	from, to := at(3, 0, 0), at(5, 0, 0)
	got, err := s.ListIntervals(ctx, worktime.IntervalFilter{
		EmployeeIDs: []worktime.EmployeeID{"emp-1"},
		StartFrom:   &from,
		StartTo:     &to,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, worktime.IntervalID("a"), got[0].ID)
	assert.Equal(t, worktime.IntervalID("b"), got[1].ID)

	openOnly, err := s.ListIntervals(ctx, worktime.IntervalFilter{OnlyOpen: true})
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.True(t, openOnly[0].IsOpen())
	assert.Equal(t, worktime.CategoryRegular, openOnly[0].ShiftHint)
}

func TestSQLite_ReplaceSegments(t *testing.T) {
	// GIVEN: An interval with two segments
	// WHEN: The segments are replaced with one
	// THEN: Only the new segment remains, hours keep their precision

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveInterval(ctx, closed("iv-1", "emp-1", at(3, 20, 0), at(3, 23, 0))))

	require.NoError(t, s.ReplaceSegments(ctx, "iv-1", []worktime.Segment{
		{ID: "s2", IntervalID: "iv-1", Category: worktime.CategoryNight, Start: at(3, 22, 0), End: at(3, 23, 0), Hours: decimal.NewFromInt(1)},
		{ID: "s1", IntervalID: "iv-1", Category: worktime.CategoryRegular, Start: at(3, 20, 0), End: at(3, 22, 0), Hours: decimal.NewFromInt(2)},
	}))
	segs, err := s.Segments(ctx, "iv-1")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, worktime.SegmentID("s1"), segs[0].ID)

	require.NoError(t, s.ReplaceSegments(ctx, "iv-1", []worktime.Segment{
		{ID: "s3", IntervalID: "iv-1", Category: worktime.CategoryEquipment, Start: at(3, 20, 0), End: at(3, 23, 0), Hours: decimal.RequireFromString("3.00")},
	}))
	segs, err = s.Segments(ctx, "iv-1")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, worktime.CategoryEquipment, segs[0].Category)
	assert.Equal(t, "3.00", segs[0].Hours.StringFixed(2))

	err = s.ReplaceSegments(ctx, "missing", nil)
	assert.True(t, worktime.IsNotFound(err))
}

func TestSQLite_DeleteInterval_RemovesSegments(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveInterval(ctx, closed("iv-1", "emp-1", at(3, 7, 0), at(3, 15, 0))))
	require.NoError(t, s.ReplaceSegments(ctx, "iv-1", []worktime.Segment{
		{ID: "s1", IntervalID: "iv-1", Category: worktime.CategoryRegular, Start: at(3, 7, 0), End: at(3, 15, 0), Hours: decimal.NewFromInt(8)},
	}))

	require.NoError(t, s.DeleteInterval(ctx, "iv-1"))

	segs, err := s.SegmentsForIntervals(ctx, []worktime.IntervalID{"iv-1"})
	require.NoError(t, err)
	assert.Empty(t, segs["iv-1"])
	assert.True(t, worktime.IsNotFound(s.DeleteInterval(ctx, "iv-1")))
}

func TestSQLite_ListUnsegmented(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	done := closed("done", "emp-1", at(3, 7, 0), at(3, 15, 0))
	stale := closed("stale", "emp-1", at(4, 7, 0), at(4, 15, 0))
	stale.SegmentsStale = true
	empty := closed("empty", "emp-1", at(5, 7, 0), at(5, 15, 0))
	for _, iv := range []worktime.WorkInterval{done, stale, empty} {
		require.NoError(t, s.SaveInterval(ctx, iv))
	}
	require.NoError(t, s.SaveInterval(ctx, worktime.WorkInterval{ID: "open", EmployeeID: "emp-1", Start: at(6, 7, 0)}))
	for _, id := range []worktime.IntervalID{"done", "stale"} {
		require.NoError(t, s.ReplaceSegments(ctx, id, []worktime.Segment{
			{ID: worktime.SegmentID(id), IntervalID: id, Category: worktime.CategoryRegular, Start: at(3, 7, 0), End: at(3, 15, 0), Hours: decimal.NewFromInt(8)},
		}))
	}

	got, err := s.ListUnsegmented(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, worktime.IntervalID("stale"), got[0].ID)
	assert.Equal(t, worktime.IntervalID("empty"), got[1].ID)

	limited, err := s.ListUnsegmented(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_Overrides_UpsertByEmployeeAndDate(t *testing.T) {
	// GIVEN: An override for emp-1 on 2025-03-03
	// WHEN: A second override for the same key is saved
	// THEN: The row is updated in place and every category reads back

	s := newStore(t)
	ctx := context.Background()
	date := worktime.NewDate(2025, time.March, 3)

	first := worktime.NewCategoryTotals()
	first[worktime.CategoryRegular] = decimal.RequireFromString("7.50")
	require.NoError(t, s.SaveOverride(ctx, worktime.DailyOverride{
		ID: "o-1", EmployeeID: "emp-1", Date: date, Values: first, Provenance: worktime.ProvenanceAuto,
	}))

	second := worktime.NewCategoryTotals()
	second[worktime.CategoryRegular] = decimal.RequireFromString("6.00")
	second[worktime.CategoryDriving] = decimal.RequireFromString("2.25")
	require.NoError(t, s.SaveOverride(ctx, worktime.DailyOverride{
		ID: "o-2", EmployeeID: "emp-1", Date: date, Values: second, Provenance: worktime.ProvenanceManual, UpdatedBy: "admin",
	}))

	got, err := s.GetOverride(ctx, "emp-1", date)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, worktime.OverrideID("o-1"), got.ID)
	assert.True(t, got.IsManual())
	assert.Equal(t, "2.25", got.Values.Get(worktime.CategoryDriving).StringFixed(2))
	assert.Equal(t, "8.25", got.Total().StringFixed(2))
	assert.Equal(t, "admin", got.UpdatedBy)

	none, err := s.GetOverride(ctx, "emp-2", date)
	require.NoError(t, err)
	assert.Nil(t, none)

	period, err := worktime.NewPeriod(date.AddDays(-1), date.AddDays(1))
	require.NoError(t, err)
	list, err := s.ListOverrides(ctx, "emp-1", period)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	existed, err := s.DeleteOverride(ctx, "emp-1", date)
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.DeleteOverride(ctx, "emp-1", date)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestSQLite_WithTx_RollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveInterval(ctx, closed("iv-1", "emp-1", at(3, 7, 0), at(3, 15, 0))))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx worktime.Store) error {
		iv, err := tx.GetInterval(ctx, "iv-1")
		if err != nil {
			return err
		}
		iv.Notes = "changed"
		if err := tx.SaveInterval(ctx, *iv); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	iv, err := s.GetInterval(ctx, "iv-1")
	require.NoError(t, err)
	assert.Empty(t, iv.Notes)
}

func TestSQLite_Audit_DetailsAndFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, worktime.AuditEntry{
		ID: "a-1", Timestamp: at(3, 9, 0), ActorID: "lead-1", Action: worktime.AuditIntervalApproved,
		ResourceType: "work_interval", ResourceID: "iv-1",
		Details: worktime.AuditDetails{Scope: worktime.ScopeTeam, AffectedEmployees: []worktime.EmployeeID{"emp-1"}},
	}))
	require.NoError(t, s.AppendAudit(ctx, worktime.AuditEntry{
		ID: "a-2", Timestamp: at(3, 10, 0), ActorID: "admin", Action: worktime.AuditIntervalEdited,
		ResourceType: "work_interval", ResourceID: "iv-1",
		Details: worktime.AuditDetails{Reason: "typo"},
	}))

	resource := "iv-1"
	all, err := s.QueryAudit(ctx, worktime.AuditFilter{ResourceID: &resource})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, worktime.ScopeTeam, all[0].Details.Scope)
	assert.Equal(t, []worktime.EmployeeID{"emp-1"}, all[0].Details.AffectedEmployees)

	edits, err := s.QueryAudit(ctx, worktime.AuditFilter{Actions: []worktime.AuditAction{worktime.AuditIntervalEdited}})
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "typo", edits[0].Details.Reason)
}

func TestSQLite_TeamMembers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddTeamMember(ctx, "team-a", "emp-2"))
	require.NoError(t, s.AddTeamMember(ctx, "team-a", "emp-1"))
	require.NoError(t, s.AddTeamMember(ctx, "team-a", "emp-1"))
	require.NoError(t, s.AddTeamMember(ctx, "team-b", "emp-3"))

	members, err := s.TeamMembers(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, []worktime.EmployeeID{"emp-1", "emp-2"}, members)

	require.NoError(t, s.RemoveTeamMember(ctx, "team-a", "emp-2"))
	members, err = s.TeamMembers(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, []worktime.EmployeeID{"emp-1"}, members)
}

func TestSQLite_Holidays(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveHoliday(ctx, worktime.Holiday{ID: "h-1", Date: worktime.NewDate(2020, time.December, 25), Name: "Christmas", Recurring: true}))
	require.NoError(t, s.SaveHoliday(ctx, worktime.Holiday{ID: "h-2", Date: worktime.NewDate(2025, time.May, 1), Name: "Labour Day"}))

	cal, err := worktime.NewStoredHolidayCalendar(ctx, s)
	require.NoError(t, err)
	assert.True(t, cal.IsHoliday(worktime.NewDate(2025, time.December, 25)))
	assert.True(t, cal.IsHoliday(worktime.NewDate(2031, time.December, 25)))
	assert.True(t, cal.IsHoliday(worktime.NewDate(2025, time.May, 1)))
	assert.False(t, cal.IsHoliday(worktime.NewDate(2026, time.May, 1)))

	require.NoError(t, s.DeleteHoliday(ctx, "h-2"))
	assert.True(t, cal.IsHoliday(worktime.NewDate(2025, time.May, 1)), "snapshot until reload")
	require.NoError(t, cal.Reload(ctx))
	assert.False(t, cal.IsHoliday(worktime.NewDate(2025, time.May, 1)))
}

func TestSQLite_DrivesOrchestrator(t *testing.T) {
	// GIVEN: The engine wired to a SQLite store
	// WHEN: An evening interval is recalculated in final mode
	// THEN: Segments are persisted and the stale flag is cleared

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveInterval(ctx, closed("iv-1", "emp-1", at(3, 20, 0), at(3, 23, 0))))

	rules := worktime.DefaultRuleSet()
	calc := worktime.NewCalculator(rules)
	orch := worktime.NewOrchestrator(s, worktime.NewLocalComputer(calc, s), worktime.NewAggregator(s, rules))

	res, err := orch.Recalculate(ctx, worktime.RecalcRequest{
		IntervalID: "iv-1",
		Start:      at(3, 20, 0),
		End:        at(3, 23, 0),
		FinalMode:  true,
		Actor:      worktime.SystemActor,
	})
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)

	iv, err := s.GetInterval(ctx, "iv-1")
	require.NoError(t, err)
	assert.False(t, iv.SegmentsStale)

	segs, err := s.Segments(ctx, "iv-1")
	require.NoError(t, err)
	assert.Len(t, segs, 2)
}
