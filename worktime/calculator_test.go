package worktime_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/worktime"
)

func newTestCalculator() *worktime.Calculator {
	return worktime.NewCalculator(worktime.DefaultRuleSet())
}

type wantSegment struct {
	category worktime.Category
	start    time.Time
	end      time.Time
	hours    string
}

func assertSegments(t *testing.T, want []wantSegment, got []worktime.Segment) {
	t.Helper()
	require.Len(t, got, len(want))
	for i, w := range want {
		assert.Equal(t, w.category, got[i].Category, "segment %d category", i)
		assert.True(t, w.start.Equal(got[i].Start), "segment %d start: %s", i, got[i].Start)
		assert.True(t, w.end.Equal(got[i].End), "segment %d end: %s", i, got[i].End)
		assertHours(t, w.hours, got[i].Hours, "segment %d hours", i)
	}
}

// =============================================================================
// CALENDAR SPLIT TESTS
// =============================================================================

func TestCalculator_WeekdayDayShift_SingleRegularSegment(t *testing.T) {
	// GIVEN: Monday 07:00-18:00, night window 22:00-06:00
	// WHEN: Computing segments
	// THEN: One regular segment of 11h, no night hours

	segs, err := newTestCalculator().ComputeSegments(at(3, 7, 0), at(3, 18, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	assertSegments(t, []wantSegment{
		{worktime.CategoryRegular, at(3, 7, 0), at(3, 18, 0), "11.00"},
	}, segs)
	assertHours(t, "0.00", worktime.SegmentTotals(segs).Get(worktime.CategoryNight))
}

func TestCalculator_OvernightShift_SplitsAtNightWindow(t *testing.T) {
	// GIVEN: Monday 20:00 to Tuesday 08:00
	// WHEN: Computing segments
	// THEN: regular until 22:00, night until 06:00 (across midnight), regular after

	segs, err := newTestCalculator().ComputeSegments(at(3, 20, 0), at(4, 8, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	assertSegments(t, []wantSegment{
		{worktime.CategoryRegular, at(3, 20, 0), at(3, 22, 0), "2.00"},
		{worktime.CategoryNight, at(3, 22, 0), at(4, 6, 0), "8.00"},
		{worktime.CategoryRegular, at(4, 6, 0), at(4, 8, 0), "2.00"},
	}, segs)
}

func TestCalculator_SaturdayDayShift_TaggedSaturday(t *testing.T) {
	segs, err := newTestCalculator().ComputeSegments(at(1, 7, 0), at(1, 18, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	assertSegments(t, []wantSegment{
		{worktime.CategorySaturday, at(1, 7, 0), at(1, 18, 0), "11.00"},
	}, segs)
}

func TestCalculator_FridayNightIntoSaturday_WeekendStartsAtAnchor(t *testing.T) {
	// GIVEN: Friday Feb 28 20:00 to Saturday Mar 1 10:00
	// WHEN: Computing segments
	// THEN: Saturday 00:00-06:00 is still night; Saturday starts at 06:00

	start := time.Date(2025, time.February, 28, 20, 0, 0, 0, time.UTC)
	segs, err := newTestCalculator().ComputeSegments(start, at(1, 10, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	assertSegments(t, []wantSegment{
		{worktime.CategoryRegular, start, time.Date(2025, time.February, 28, 22, 0, 0, 0, time.UTC), "2.00"},
		{worktime.CategoryNight, time.Date(2025, time.February, 28, 22, 0, 0, 0, time.UTC), at(1, 6, 0), "8.00"},
		{worktime.CategorySaturday, at(1, 6, 0), at(1, 10, 0), "4.00"},
	}, segs)
}

func TestCalculator_SundayBeforeAnchor_BelongsToSaturdayWindow(t *testing.T) {
	// GIVEN: Sunday 05:00-08:00 with the weekend anchor at 06:00
	// WHEN: Computing segments
	// THEN: 05:00-06:00 is saturday, 06:00-08:00 is sunday

	segs, err := newTestCalculator().ComputeSegments(at(2, 5, 0), at(2, 8, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	assertSegments(t, []wantSegment{
		{worktime.CategorySaturday, at(2, 5, 0), at(2, 6, 0), "1.00"},
		{worktime.CategorySunday, at(2, 6, 0), at(2, 8, 0), "2.00"},
	}, segs)
}

func TestCalculator_SundayNightIntoMonday_FallsBackToNight(t *testing.T) {
	// GIVEN: Sunday 20:00 to Monday 04:00
	// THEN: sunday ends at Monday 00:00, the rest is night

	segs, err := newTestCalculator().ComputeSegments(at(2, 20, 0), at(3, 4, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	assertSegments(t, []wantSegment{
		{worktime.CategorySunday, at(2, 20, 0), at(3, 0, 0), "4.00"},
		{worktime.CategoryNight, at(3, 0, 0), at(3, 4, 0), "4.00"},
	}, segs)
}

func TestCalculator_HolidayOnWeekend_HolidayWins(t *testing.T) {
	// GIVEN: Saturday March 1 is a holiday
	// WHEN: Working 07:00-18:00 that day
	// THEN: The whole interval is holiday, never saturday

	rules := worktime.DefaultRuleSet()
	rules.Holidays = &worktime.StaticHolidayCalendar{Holidays: []worktime.Holiday{
		{ID: "h1", Date: march(1), Name: "Founders Day"},
	}}

	segs, err := worktime.NewCalculator(rules).ComputeSegments(at(1, 7, 0), at(1, 18, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	assertSegments(t, []wantSegment{
		{worktime.CategoryHoliday, at(1, 7, 0), at(1, 18, 0), "11.00"},
	}, segs)
}

func TestCalculator_HolidayNight_HolidayWinsOverNight(t *testing.T) {
	rules := worktime.DefaultRuleSet()
	rules.Holidays = &worktime.StaticHolidayCalendar{Holidays: []worktime.Holiday{
		{ID: "xmas", Date: worktime.NewDate(2000, time.March, 4), Recurring: true},
	}}

	// Monday 20:00 to Tuesday (holiday) 03:00
	segs, err := worktime.NewCalculator(rules).ComputeSegments(at(3, 20, 0), at(4, 3, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	assertSegments(t, []wantSegment{
		{worktime.CategoryRegular, at(3, 20, 0), at(3, 22, 0), "2.00"},
		{worktime.CategoryNight, at(3, 22, 0), at(4, 0, 0), "2.00"},
		{worktime.CategoryHoliday, at(4, 0, 0), at(4, 3, 0), "3.00"},
	}, segs)
}

func TestCalculator_NightWindowDisabled_AllRegular(t *testing.T) {
	rules := worktime.DefaultRuleSet()
	rules.NightStart = worktime.NewClockTime(0, 0)
	rules.NightEnd = worktime.NewClockTime(0, 0)

	segs, err := worktime.NewCalculator(rules).ComputeSegments(at(3, 20, 0), at(4, 8, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	assertSegments(t, []wantSegment{
		{worktime.CategoryRegular, at(3, 20, 0), at(4, 8, 0), "12.00"},
	}, segs)
}

func TestCalculator_LocalTimezone_ClassifiesLocalClock(t *testing.T) {
	// GIVEN: Rules in UTC+1
	// WHEN: Working 21:00-23:00 UTC on Monday (22:00-00:00 local)
	// THEN: Both hours are night

	rules := worktime.DefaultRuleSet()
	rules.Location = time.FixedZone("UTC+1", 3600)

	segs, err := worktime.NewCalculator(rules).ComputeSegments(at(3, 21, 0), at(3, 23, 0), worktime.CategoryRegular)
	require.NoError(t, err)

	require.Len(t, segs, 1)
	assert.Equal(t, worktime.CategoryNight, segs[0].Category)
	assertHours(t, "2.00", segs[0].Hours)
}

// =============================================================================
// SPECIAL DUTY TESTS
// =============================================================================

func TestCalculator_SpecialDuty_SingleSegmentRegardlessOfTime(t *testing.T) {
	// GIVEN: A driving shift across the night window into Saturday
	// WHEN: Computing segments
	// THEN: Exactly one driving segment covering the interval

	start := time.Date(2025, time.February, 28, 20, 0, 0, 0, time.UTC)
	for _, hint := range []worktime.Category{worktime.CategoryDriving, worktime.CategoryPassenger, worktime.CategoryEquipment} {
		segs, err := newTestCalculator().ComputeSegments(start, at(1, 10, 0), hint)
		require.NoError(t, err)

		assertSegments(t, []wantSegment{
			{hint, start, at(1, 10, 0), "14.00"},
		}, segs)
	}
}

// =============================================================================
// RANGE VALIDATION TESTS
// =============================================================================

func TestCalculator_InvalidRange_RangeError(t *testing.T) {
	calc := newTestCalculator()

	cases := []struct {
		name       string
		start, end time.Time
	}{
		{"end before start", at(3, 10, 0), at(3, 9, 0)},
		{"zero length", at(3, 10, 0), at(3, 10, 0)},
		{"longer than 24h", at(3, 8, 0), at(4, 8, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := calc.ComputeSegments(tc.start, tc.end, worktime.CategoryRegular)

			var rangeErr *worktime.RangeError
			require.ErrorAs(t, err, &rangeErr)
			assert.True(t, errors.Is(err, worktime.ErrOutOfRange))
			assert.False(t, worktime.IsRetryable(err))
		})
	}
}

func TestCalculator_Exactly24h_Accepted(t *testing.T) {
	segs, err := newTestCalculator().ComputeSegments(at(3, 8, 0), at(4, 8, 0), worktime.CategoryRegular)
	require.NoError(t, err)
	assertHours(t, "24.00", worktime.SegmentTotals(segs).Total())
}

func TestCalculator_UnknownHint_Rejected(t *testing.T) {
	_, err := newTestCalculator().ComputeSegments(at(3, 8, 0), at(3, 9, 0), worktime.Category("overtime"))
	assert.ErrorIs(t, err, worktime.ErrUnknownCategory)
}

// =============================================================================
// PROPERTY TESTS
// =============================================================================

func TestCalculator_RoundingNearBoundary_SumIsExact(t *testing.T) {
	// GIVEN: 21:50-22:10, ten minutes either side of the night boundary
	// WHEN: Computing segments
	// THEN: Segment hours add up to exactly round2(20 min) = 0.33

	segs, err := newTestCalculator().ComputeSegments(at(3, 21, 50), at(3, 22, 10), worktime.CategoryRegular)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assertHours(t, "0.33", worktime.SegmentTotals(segs).Total())
}

func TestCalculator_CoverageAndContiguity_AcrossWeek(t *testing.T) {
	// GIVEN: Many intervals starting at uneven offsets through a full week,
	//        with a holiday in the middle
	// WHEN: Computing segments
	// THEN: Segments are contiguous, cover [start, end) and sum to the
	//       duration within 0.01h per segment

	rules := worktime.DefaultRuleSet()
	rules.Holidays = &worktime.StaticHolidayCalendar{Holidays: []worktime.Holiday{{ID: "h", Date: march(5)}}}
	calc := worktime.NewCalculator(rules)
	tolerance := decimal.NewFromFloat(0.01)

	base := at(1, 0, 0)
	durations := []time.Duration{17 * time.Minute, 3*time.Hour + 7*time.Minute, 11 * time.Hour, 23*time.Hour + 59*time.Minute}
	for offset := time.Duration(0); offset < 8*24*time.Hour; offset += 37 * time.Minute {
		for _, d := range durations {
			start := base.Add(offset)
			end := start.Add(d)

			segs, err := calc.ComputeSegments(start, end, worktime.CategoryRegular)
			require.NoError(t, err)
			require.NotEmpty(t, segs)

			assert.True(t, segs[0].Start.Equal(start))
			assert.True(t, segs[len(segs)-1].End.Equal(end))
			for i := 1; i < len(segs); i++ {
				require.True(t, segs[i-1].End.Equal(segs[i].Start), "gap at %s", start)
				require.NotEqual(t, segs[i-1].Category, segs[i].Category, "unmerged neighbours at %s", start)
			}

			total := worktime.SegmentTotals(segs).Total()
			assert.True(t, total.Equal(worktime.HoursOf(d)), "total %s for %s from %s", total, d, start)
			for _, s := range segs {
				exact := decimal.NewFromFloat(s.End.Sub(s.Start).Hours())
				assert.True(t, s.Hours.Sub(exact).Abs().LessThanOrEqual(tolerance),
					"segment %s-%s has %s h", s.Start, s.End, s.Hours)
			}
		}
	}
}

// =============================================================================
// RULE SET TESTS
// =============================================================================

func TestRuleSet_Validate_RejectsOutOfDayClock(t *testing.T) {
	rules := worktime.DefaultRuleSet()
	rules.NightStart = worktime.ClockTime(24 * 60)

	var rangeErr *worktime.RangeError
	assert.ErrorAs(t, rules.Validate(), &rangeErr)
}

func TestRuleSet_InNightWindow_WrapsMidnight(t *testing.T) {
	rules := worktime.DefaultRuleSet()

	assert.True(t, rules.InNightWindow(worktime.NewClockTime(23, 0)))
	assert.True(t, rules.InNightWindow(worktime.NewClockTime(0, 0)))
	assert.True(t, rules.InNightWindow(worktime.NewClockTime(5, 59)))
	assert.False(t, rules.InNightWindow(worktime.NewClockTime(6, 0)))
	assert.False(t, rules.InNightWindow(worktime.NewClockTime(21, 59)))
}
