/*
rules.go - Calendar Rule Set

PURPOSE:
  Maps an instant to the payroll category the calendar assigns to it.
  Stateless: the same instant always classifies the same way for a given
  RuleSet and holiday calendar.

PRECEDENCE (highest first):
  holiday  > the local calendar date is a holiday
  weekend  > saturday: [Sat anchor, Sun anchor)
             sunday:   [Sun anchor, Mon 00:00)
  night    > time of day inside [NightStart, NightEnd), wrapping midnight
  regular  > everything else

  The weekend anchor defaults to 06:00, so Saturday 00:00-06:00 is still a
  weekday night and Sunday 00:00-06:00 belongs to the Saturday window.

BOUNDARIES:
  Every instant where the active rule may change is a boundary: local
  midnight, NightStart, NightEnd and the weekend anchor. The calculator
  walks boundary to boundary instead of minute by minute.
*/
package worktime

import (
	"fmt"
	"time"
)

// Defaults used when a RuleSet leaves a field unset.
var (
	DefaultNightStart    = NewClockTime(22, 0)
	DefaultNightEnd      = NewClockTime(6, 0)
	DefaultWeekendAnchor = NewClockTime(6, 0)
)

// RuleSet configures the calendar rules.
type RuleSet struct {
	Location *time.Location

	// Night window. Equal values disable night hours.
	NightStart ClockTime
	NightEnd   ClockTime

	// WeekendAnchor is the clock time the Saturday window opens on Saturday
	// and hands over to the Sunday window on Sunday.
	WeekendAnchor ClockTime

	Holidays HolidayCalendar
}

// DefaultRuleSet returns 22:00-06:00 nights, a 06:00 weekend anchor, UTC and
// no holidays.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Location:      time.UTC,
		NightStart:    DefaultNightStart,
		NightEnd:      DefaultNightEnd,
		WeekendAnchor: DefaultWeekendAnchor,
		Holidays:      NoHolidays{},
	}
}

// Validate checks clock values are within a day.
func (r RuleSet) Validate() error {
	for name, c := range map[string]ClockTime{
		"night start":    r.NightStart,
		"night end":      r.NightEnd,
		"weekend anchor": r.WeekendAnchor,
	} {
		if c < 0 || c >= 24*60 {
			return &RangeError{Field: name, Value: fmt.Sprint(int(c)), Min: "0", Max: "1439"}
		}
	}
	return nil
}

func (r RuleSet) loc() *time.Location { return locOrUTC(r.Location) }

func (r RuleSet) isHoliday(d Date) bool {
	return r.Holidays != nil && r.Holidays.IsHoliday(d)
}

// InNightWindow reports whether clock time c is inside the night window.
func (r RuleSet) InNightWindow(c ClockTime) bool {
	switch {
	case r.NightStart == r.NightEnd:
		return false
	case r.NightStart < r.NightEnd:
		return c >= r.NightStart && c < r.NightEnd
	default:
		return c >= r.NightStart || c < r.NightEnd
	}
}

// Classify returns the category the calendar assigns to instant t.
func (r RuleSet) Classify(t time.Time) Category {
	loc := r.loc()
	date := DateOf(t, loc)
	if r.isHoliday(date) {
		return CategoryHoliday
	}

	clock := ClockOf(t, loc)
	switch date.Weekday() {
	case time.Saturday:
		if clock >= r.WeekendAnchor {
			return CategorySaturday
		}
	case time.Sunday:
		if clock < r.WeekendAnchor {
			return CategorySaturday
		}
		return CategorySunday
	}

	if r.InNightWindow(clock) {
		return CategoryNight
	}
	return CategoryRegular
}

// NextBoundary returns the first instant strictly after t where the
// classification may change.
func (r RuleSet) NextBoundary(t time.Time) time.Time {
	loc := r.loc()
	today := DateOf(t, loc)
	marks := []ClockTime{0, r.NightStart, r.NightEnd, r.WeekendAnchor}

	var next time.Time
	for _, d := range []Date{today, today.AddDays(1)} {
		for _, m := range marks {
			at := d.At(m, loc)
			if !at.After(t) {
				continue
			}
			if next.IsZero() || at.Before(next) {
				next = at
			}
		}
	}
	return next
}
