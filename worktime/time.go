package worktime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// DATE - Civil calendar date (no time of day)
// =============================================================================

// Date is a calendar date normalized to midnight UTC. Conversions from
// instants always go through a *time.Location so the date is the local one.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the local calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	lt := t.In(locOrUTC(loc))
	return NewDate(lt.Year(), lt.Month(), lt.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

func (d Date) String() string { return d.Time.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MidnightIn returns the instant the date starts in loc.
func (d Date) MidnightIn(loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, locOrUTC(loc))
}

// At returns the instant of clock time c on this date in loc.
func (d Date) At(c ClockTime, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, locOrUTC(loc))
}

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// =============================================================================
// PERIOD - Inclusive date range used by aggregation
// =============================================================================

type Period struct {
	Start Date
	End   Date
}

func NewPeriod(start, end Date) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days returns every date in the period.
func (p Period) Days() []Date {
	var days []Date
	for d := p.Start; d.BeforeOrEqual(p.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// Bounds returns the half-open instant range [start of Start, start of End+1) in loc.
func (p Period) Bounds(loc *time.Location) (time.Time, time.Time) {
	return p.Start.MidnightIn(loc), p.End.AddDays(1).MidnightIn(loc)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// ISOWeek returns the Monday-Sunday period of an ISO week id like "2025-W10".
func ISOWeek(weekID string) (Period, error) {
	var year, week int
	if _, err := fmt.Sscanf(weekID, "%d-W%d", &year, &week); err != nil {
		return Period{}, fmt.Errorf("invalid week id %q (use YYYY-Www): %w", weekID, err)
	}
	if week < 1 || week > 53 {
		return Period{}, &RangeError{Field: "week", Value: fmt.Sprint(week), Min: "1", Max: "53"}
	}
	// January 4th is always in ISO week 1.
	jan4 := NewDate(year, time.January, 4)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDays(-offset + (week-1)*7)
	return Period{Start: monday, End: monday.AddDays(6)}, nil
}

// =============================================================================
// CLOCK TIME - Time of day at minute resolution
// =============================================================================

// ClockTime is minutes since local midnight, in [0, 1440).
type ClockTime int

func NewClockTime(hour, minute int) ClockTime { return ClockTime(hour*60 + minute) }

// ParseClockTime parses HH:MM.
func ParseClockTime(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q (use HH:MM): %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, &RangeError{Field: "clock time", Value: s, Min: "00:00", Max: "23:59"}
	}
	return NewClockTime(h, m), nil
}

// ClockOf returns the local time of day of t, truncated to the minute.
func ClockOf(t time.Time, loc *time.Location) ClockTime {
	lt := t.In(locOrUTC(loc))
	return NewClockTime(lt.Hour(), lt.Minute())
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a public or company holiday. Recurring holidays match the same
// month/day every year.
type Holiday struct {
	ID        string
	Date      Date
	Name      string
	Recurring bool
}

// Matches reports whether the holiday falls on d.
func (h Holiday) Matches(d Date) bool {
	if h.Recurring {
		return h.Date.Month() == d.Month() && h.Date.Day() == d.Day()
	}
	return h.Date.Equal(d)
}

// HolidayCalendar provides holiday lookup.
type HolidayCalendar interface {
	IsHoliday(date Date) bool
}

// NoHolidays is a calendar for when holidays are disabled.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(Date) bool { return false }

// StaticHolidayCalendar is an in-memory calendar, built from configuration.
type StaticHolidayCalendar struct {
	Holidays []Holiday
}

func (c *StaticHolidayCalendar) IsHoliday(date Date) bool {
	for _, h := range c.Holidays {
		if h.Matches(date) {
			return true
		}
	}
	return false
}

// HolidaySource lists persisted holidays.
type HolidaySource interface {
	ListHolidays(ctx context.Context) ([]Holiday, error)
}

// StoredHolidayCalendar answers lookups from a snapshot of a HolidaySource.
// Lookups never touch the database; Reload must be called after the source
// changes. A failed Reload keeps the previous snapshot.
type StoredHolidayCalendar struct {
	source HolidaySource

	mu       sync.RWMutex
	snapshot StaticHolidayCalendar
}

// NewStoredHolidayCalendar loads the initial snapshot.
func NewStoredHolidayCalendar(ctx context.Context, source HolidaySource) (*StoredHolidayCalendar, error) {
	c := &StoredHolidayCalendar{source: source}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *StoredHolidayCalendar) Reload(ctx context.Context) error {
	holidays, err := c.source.ListHolidays(ctx)
	if err != nil {
		return fmt.Errorf("failed to load holidays: %w", err)
	}
	c.mu.Lock()
	c.snapshot = StaticHolidayCalendar{Holidays: holidays}
	c.mu.Unlock()
	return nil
}

func (c *StoredHolidayCalendar) IsHoliday(date Date) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.IsHoliday(date)
}

// HolidayCalendars reports a holiday when any of its calendars does.
type HolidayCalendars []HolidayCalendar

func (cs HolidayCalendars) IsHoliday(date Date) bool {
	for _, c := range cs {
		if c != nil && c.IsHoliday(date) {
			return true
		}
	}
	return false
}
