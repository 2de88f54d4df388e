/*
aggregate.go - Aggregation Layer

PURPOSE:
  Combines, per employee per day, either computed segments or override
  values into category totals, and sums days across a date range.

DAY SOURCE PRECEDENCE:
  1. Manual DailyOverride      -> override values (segments kept for audit)
  2. Computed segments         -> segment hours grouped by category
  3. Auto fallback override    -> override values, only when no segments
  4. Nothing                   -> zero

  Segments are booked on the work date: the local date of their interval's
  clock-in.

WEEKEND ANCHORING:
  The weekend is one payroll unit from Saturday at the anchor (06:00) to
  Sunday at the anchor. Segments of a Sunday work date lying entirely in
  [Sun 00:00, Sun anchor] are booked on the preceding Saturday, provided
  both days are segment-sourced (an override on either day keeps the hours
  where they are). This is a reporting transform; stored segments are not
  touched. It is applied in every day-level view, including single-day
  reads, so all views agree. Range totals follow the same attribution, so
  the grand total of a range equals the sum of interval durations booked to
  the range's payroll days when no manual overrides exist.

APPROVAL GATING:
  Each day reports the folded approval status of every interval that
  contributed hours to it. PayrollTotals keeps only fully approved days.
*/
package worktime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type DaySource string

const (
	SourceNone     DaySource = "none"
	SourceSegments DaySource = "segments"
	SourceOverride DaySource = "override"
	SourceFallback DaySource = "fallback"
)

// DayTotals is the aggregate for one employee on one payroll day.
type DayTotals struct {
	Date      Date
	Totals    CategoryTotals
	Total     decimal.Decimal
	Source    DaySource
	Status    ApprovalStatus
	Intervals []IntervalID
	Override  *DailyOverride
}

// RangeTotals is the aggregate for one employee over a period.
type RangeTotals struct {
	EmployeeID    EmployeeID
	Period        Period
	Days          []DayTotals
	Totals        CategoryTotals
	Total         decimal.Decimal
	FullyApproved bool
}

// Aggregator reads the stores and builds totals.
type Aggregator struct {
	Store         Store
	Location      *time.Location
	WeekendAnchor ClockTime
}

func NewAggregator(store Store, rules RuleSet) *Aggregator {
	return &Aggregator{Store: store, Location: rules.loc(), WeekendAnchor: rules.WeekendAnchor}
}

// WithStore returns a copy reading from s (used inside transactions).
func (a *Aggregator) WithStore(s Store) *Aggregator {
	cp := *a
	cp.Store = s
	return &cp
}

// Aggregate returns day and range totals for an employee.
func (a *Aggregator) Aggregate(ctx context.Context, employeeID EmployeeID, period Period) (*RangeTotals, error) {
	if period.End.Before(period.Start) {
		return nil, ErrInvalidPeriod
	}
	days, err := a.days(ctx, employeeID, period)
	if err != nil {
		return nil, err
	}
	return summarize(employeeID, period, days), nil
}

// PayrollTotals is Aggregate restricted to fully approved days.
func (a *Aggregator) PayrollTotals(ctx context.Context, employeeID EmployeeID, period Period) (*RangeTotals, error) {
	all, err := a.Aggregate(ctx, employeeID, period)
	if err != nil {
		return nil, err
	}
	var approved []DayTotals
	for _, d := range all.Days {
		if d.Status == StatusApproved && d.Source != SourceNone {
			approved = append(approved, d)
		}
	}
	return summarize(employeeID, period, approved), nil
}

// Day returns the totals of a single payroll day.
func (a *Aggregator) Day(ctx context.Context, employeeID EmployeeID, date Date) (*DayTotals, error) {
	rt, err := a.Aggregate(ctx, employeeID, Period{Start: date, End: date})
	if err != nil {
		return nil, err
	}
	d := rt.Days[0]
	return &d, nil
}

func summarize(employeeID EmployeeID, period Period, days []DayTotals) *RangeTotals {
	rt := &RangeTotals{
		EmployeeID:    employeeID,
		Period:        period,
		Days:          days,
		Totals:        NewCategoryTotals(),
		FullyApproved: true,
	}
	for _, d := range days {
		rt.Totals.Merge(d.Totals)
		if d.Source != SourceNone && d.Status != StatusApproved {
			rt.FullyApproved = false
		}
	}
	rt.Total = rt.Totals.Total()
	return rt
}

// dayState accumulates one day while the range is being built.
type dayState struct {
	date      Date
	intervals []WorkInterval
	segments  []Segment
	manual    *DailyOverride
	fallback  *DailyOverride
	totals    CategoryTotals
	source    DaySource
	// contributors are the intervals whose hours end up on this day.
	contributors map[IntervalID]WorkInterval
}

func (a *Aggregator) days(ctx context.Context, employeeID EmployeeID, period Period) ([]DayTotals, error) {
	loc := locOrUTC(a.Location)

	// One extra day on each side so Saturday/Sunday anchoring at the range
	// edges sees its neighbour.
	ext := Period{Start: period.Start.AddDays(-1), End: period.End.AddDays(1)}
	from, to := ext.Bounds(loc)

	intervals, err := a.Store.ListIntervals(ctx, IntervalFilter{
		EmployeeIDs: []EmployeeID{employeeID},
		StartFrom:   &from,
		StartTo:     &to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load intervals: %w", err)
	}

	ids := make([]IntervalID, 0, len(intervals))
	for _, iv := range intervals {
		ids = append(ids, iv.ID)
	}
	segsByInterval, err := a.Store.SegmentsForIntervals(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load segments: %w", err)
	}

	overrides, err := a.Store.ListOverrides(ctx, employeeID, ext)
	if err != nil {
		return nil, fmt.Errorf("failed to load overrides: %w", err)
	}

	states := make(map[string]*dayState)
	for _, d := range ext.Days() {
		states[d.String()] = &dayState{
			date:         d,
			totals:       NewCategoryTotals(),
			source:       SourceNone,
			contributors: make(map[IntervalID]WorkInterval),
		}
	}

	for _, iv := range intervals {
		st, ok := states[iv.WorkDate(loc).String()]
		if !ok {
			continue
		}
		st.intervals = append(st.intervals, iv)
		st.segments = append(st.segments, segsByInterval[iv.ID]...)
	}
	for i := range overrides {
		o := overrides[i]
		st, ok := states[o.Date.String()]
		if !ok {
			continue
		}
		if o.IsManual() {
			st.manual = &o
		} else {
			st.fallback = &o
		}
	}

	for _, st := range states {
		a.resolve(st)
	}
	a.anchorWeekends(states, loc)

	var result []DayTotals
	for _, d := range period.Days() {
		st := states[d.String()]
		contributors := make([]WorkInterval, 0, len(st.contributors))
		for _, iv := range st.contributors {
			contributors = append(contributors, iv)
		}
		sortByID(contributors)

		dt := DayTotals{
			Date:   d,
			Totals: st.totals,
			Total:  st.totals.Total(),
			Source: st.source,
			Status: GroupStatus(contributors),
		}
		for _, iv := range contributors {
			dt.Intervals = append(dt.Intervals, iv.ID)
		}
		switch st.source {
		case SourceOverride:
			dt.Override = st.manual
		case SourceFallback:
			dt.Override = st.fallback
		}
		result = append(result, dt)
	}
	return result, nil
}

// resolve picks the day's source and fills its totals.
func (a *Aggregator) resolve(st *dayState) {
	for _, iv := range st.intervals {
		st.contributors[iv.ID] = iv
	}
	switch {
	case st.manual != nil:
		st.source = SourceOverride
		st.totals = st.manual.Values.Clone()
	case len(st.segments) > 0:
		st.source = SourceSegments
		st.totals = SegmentTotals(st.segments)
	case st.fallback != nil:
		st.source = SourceFallback
		st.totals = st.fallback.Values.Clone()
	default:
		st.source = SourceNone
	}
}

// anchorWeekends moves Sunday pre-anchor segments onto the preceding Saturday.
func (a *Aggregator) anchorWeekends(states map[string]*dayState, loc *time.Location) {
	for _, sun := range states {
		if sun.date.Weekday() != time.Sunday || sun.source != SourceSegments {
			continue
		}
		sat, ok := states[sun.date.AddDays(-1).String()]
		if !ok || (sat.source != SourceSegments && sat.source != SourceNone) {
			continue
		}

		cutoff := sun.date.At(a.WeekendAnchor, loc)
		byInterval := make(map[IntervalID]WorkInterval, len(sun.intervals))
		for _, iv := range sun.intervals {
			byInterval[iv.ID] = iv
		}

		var kept []Segment
		moved := false
		for _, seg := range sun.segments {
			if seg.End.After(cutoff) {
				kept = append(kept, seg)
				continue
			}
			sun.totals.Add(seg.Category, seg.Hours.Neg())
			sat.totals.Add(seg.Category, seg.Hours)
			sat.segments = append(sat.segments, seg)
			if iv, ok := byInterval[seg.IntervalID]; ok {
				sat.contributors[iv.ID] = iv
			}
			moved = true
		}
		if !moved {
			continue
		}
		sat.source = SourceSegments
		sun.segments = kept

		// Drop intervals that no longer contribute any hours to Sunday.
		still := make(map[IntervalID]bool, len(kept))
		for _, seg := range kept {
			still[seg.IntervalID] = true
		}
		for id := range sun.contributors {
			if iv := sun.contributors[id]; !iv.IsOpen() && !still[id] {
				delete(sun.contributors, id)
			}
		}
		if len(kept) == 0 && len(sun.contributors) == 0 {
			sun.source = SourceNone
		}
	}
}

func sortByID(ivs []WorkInterval) {
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].ID < ivs[j].ID })
}
