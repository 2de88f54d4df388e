/*
Package factory provides JSON to Go calendar rule conversion.

PURPOSE:
  Converts JSON rule set definitions into worktime.RuleSet values with a
  holiday calendar attached. Payroll teams describe their night window,
  weekend anchor, time zone and holidays in a file; the server loads it at
  startup (RULES_FILE) without code changes.

JSON SCHEMA:
  {
    "id": "standard",
    "name": "Standard 22-06 nights",
    "timezone": "Europe/Madrid",
    "night": {"start": "22:00", "end": "06:00"},
    "weekend_anchor": "06:00",
    "holidays": [
      {"date": "2025-01-01", "name": "New Year", "recurring": true},
      {"date": "2025-04-18", "name": "Good Friday"}
    ]
  }

DEFAULTS:
  Missing fields fall back to worktime.DefaultRuleSet(): UTC, 22:00-06:00
  nights, 06:00 weekend anchor, no holidays. Equal night start and end
  disable night hours.

USAGE:
  f := factory.NewRuleSetFactory()
  rules, err := f.ParseRuleSet(factory.StandardRuleSetJSON("Europe/Madrid"))

  // Stored holidays can be merged in after parsing
  rules = factory.WithHolidays(rules, storedHolidays...)

SEE ALSO:
  - worktime/rules.go: RuleSet and classification
  - store/sqlite/sqlite.go: holidays table
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/warp/worktime-engine/worktime"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleSetJSON is the JSON representation of a calendar rule set.
type RuleSetJSON struct {
	ID            string        `json:"id,omitempty"`
	Name          string        `json:"name,omitempty"`
	Timezone      string        `json:"timezone,omitempty"`
	Night         *NightJSON    `json:"night,omitempty"`
	WeekendAnchor string        `json:"weekend_anchor,omitempty"` // HH:MM
	Holidays      []HolidayJSON `json:"holidays,omitempty"`
}

// NightJSON is the night window, HH:MM local time. It may wrap midnight.
type NightJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// HolidayJSON is one holiday. Recurring holidays repeat every year on the
// same month and day.
type HolidayJSON struct {
	Date      string `json:"date"` // YYYY-MM-DD
	Name      string `json:"name"`
	Recurring bool   `json:"recurring,omitempty"`
}

// =============================================================================
// RULE SET FACTORY
// =============================================================================

// RuleSetFactory converts JSON rule sets to worktime.RuleSet.
type RuleSetFactory struct{}

func NewRuleSetFactory() *RuleSetFactory {
	return &RuleSetFactory{}
}

// ParseRuleSet parses a JSON string into a validated RuleSet.
func (f *RuleSetFactory) ParseRuleSet(jsonStr string) (worktime.RuleSet, error) {
	var rj RuleSetJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return worktime.RuleSet{}, fmt.Errorf("failed to parse rule set JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// LoadFile reads and parses a JSON rule set file.
func (f *RuleSetFactory) LoadFile(path string) (worktime.RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return worktime.RuleSet{}, fmt.Errorf("failed to read rule set %s: %w", path, err)
	}
	rules, err := f.ParseRuleSet(string(b))
	if err != nil {
		return worktime.RuleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// FromJSON converts RuleSetJSON to a validated RuleSet.
func (f *RuleSetFactory) FromJSON(rj RuleSetJSON) (worktime.RuleSet, error) {
	rules := worktime.DefaultRuleSet()

	if rj.Timezone != "" {
		loc, err := time.LoadLocation(rj.Timezone)
		if err != nil {
			return worktime.RuleSet{}, fmt.Errorf("invalid timezone %q: %w", rj.Timezone, err)
		}
		rules.Location = loc
	}

	if rj.Night != nil {
		start, err := worktime.ParseClockTime(rj.Night.Start)
		if err != nil {
			return worktime.RuleSet{}, fmt.Errorf("night.start: %w", err)
		}
		end, err := worktime.ParseClockTime(rj.Night.End)
		if err != nil {
			return worktime.RuleSet{}, fmt.Errorf("night.end: %w", err)
		}
		rules.NightStart, rules.NightEnd = start, end
	}

	if rj.WeekendAnchor != "" {
		anchor, err := worktime.ParseClockTime(rj.WeekendAnchor)
		if err != nil {
			return worktime.RuleSet{}, fmt.Errorf("weekend_anchor: %w", err)
		}
		rules.WeekendAnchor = anchor
	}

	holidays, err := parseHolidays(rj.Holidays)
	if err != nil {
		return worktime.RuleSet{}, err
	}
	if len(holidays) > 0 {
		rules.Holidays = &worktime.StaticHolidayCalendar{Holidays: holidays}
	}

	if err := rules.Validate(); err != nil {
		return worktime.RuleSet{}, err
	}
	return rules, nil
}

// ToJSON converts a RuleSet back to its JSON form. Only static holiday
// calendars can be listed; other calendars are omitted.
func (f *RuleSetFactory) ToJSON(rules worktime.RuleSet) RuleSetJSON {
	rj := RuleSetJSON{
		Night: &NightJSON{
			Start: rules.NightStart.String(),
			End:   rules.NightEnd.String(),
		},
		WeekendAnchor: rules.WeekendAnchor.String(),
	}
	if rules.Location != nil {
		rj.Timezone = rules.Location.String()
	}
	if cal, ok := rules.Holidays.(*worktime.StaticHolidayCalendar); ok {
		for _, h := range cal.Holidays {
			rj.Holidays = append(rj.Holidays, HolidayJSON{
				Date:      h.Date.String(),
				Name:      h.Name,
				Recurring: h.Recurring,
			})
		}
	}
	return rj
}

// WithHolidays returns rules whose calendar also contains extra. A calendar
// that is not static is replaced.
func WithHolidays(rules worktime.RuleSet, extra ...worktime.Holiday) worktime.RuleSet {
	if len(extra) == 0 {
		return rules
	}
	var merged []worktime.Holiday
	if cal, ok := rules.Holidays.(*worktime.StaticHolidayCalendar); ok {
		merged = append(merged, cal.Holidays...)
	}
	merged = append(merged, extra...)
	rules.Holidays = &worktime.StaticHolidayCalendar{Holidays: merged}
	return rules
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseHolidays(hs []HolidayJSON) ([]worktime.Holiday, error) {
	var holidays []worktime.Holiday
	for i, hj := range hs {
		d, err := worktime.ParseDate(hj.Date)
		if err != nil {
			return nil, fmt.Errorf("holidays[%d]: %w", i, err)
		}
		holidays = append(holidays, worktime.Holiday{
			ID:        uuid.NewString(),
			Date:      d,
			Name:      hj.Name,
			Recurring: hj.Recurring,
		})
	}
	return holidays, nil
}

// =============================================================================
// PRESET RULE SETS
// =============================================================================

// StandardRuleSetJSON returns 22:00-06:00 nights with a 06:00 weekend anchor.
func StandardRuleSetJSON(timezone string) string {
	return presetJSON(RuleSetJSON{
		ID:            "standard",
		Name:          "Standard 22-06 nights",
		Timezone:      timezone,
		Night:         &NightJSON{Start: "22:00", End: "06:00"},
		WeekendAnchor: "06:00",
	})
}

// NoNightRuleSetJSON disables night hours; weekends and holidays still apply.
func NoNightRuleSetJSON(timezone string) string {
	return presetJSON(RuleSetJSON{
		ID:            "no-night",
		Name:          "Weekend and holiday only",
		Timezone:      timezone,
		Night:         &NightJSON{Start: "00:00", End: "00:00"},
		WeekendAnchor: "06:00",
	})
}

// SpainRuleSetJSON is the standard rule set with Spanish national holidays.
func SpainRuleSetJSON() string {
	return presetJSON(RuleSetJSON{
		ID:            "es-national",
		Name:          "Spain national calendar",
		Timezone:      "Europe/Madrid",
		Night:         &NightJSON{Start: "22:00", End: "06:00"},
		WeekendAnchor: "06:00",
		Holidays: []HolidayJSON{
			{Date: "2000-01-01", Name: "Año Nuevo", Recurring: true},
			{Date: "2000-01-06", Name: "Epifanía del Señor", Recurring: true},
			{Date: "2000-05-01", Name: "Fiesta del Trabajo", Recurring: true},
			{Date: "2000-08-15", Name: "Asunción de la Virgen", Recurring: true},
			{Date: "2000-10-12", Name: "Fiesta Nacional de España", Recurring: true},
			{Date: "2000-11-01", Name: "Todos los Santos", Recurring: true},
			{Date: "2000-12-06", Name: "Día de la Constitución", Recurring: true},
			{Date: "2000-12-08", Name: "Inmaculada Concepción", Recurring: true},
			{Date: "2000-12-25", Name: "Navidad", Recurring: true},
		},
	})
}

func presetJSON(rj RuleSetJSON) string {
	b, _ := json.MarshalIndent(rj, "", "  ")
	return string(b)
}
