/*
Package worktime provides the time segmentation and approval engine.

PURPOSE:
  Converts raw work intervals (clock-in/clock-out pairs) into payroll
  categorized hour segments, lets supervisors override computed totals per
  day, and gates which hours count as official payroll data through an
  approval workflow.

KEY CONCEPTS IN THIS FILE (types.go):
  - Category:      Closed enumeration of payroll hour categories
  - WorkInterval:  One clock-in/clock-out pair with approval status
  - Segment:       A categorized, contiguous slice of a WorkInterval
  - DailyOverride: Manually entered per-category hours for an employee/day
  - Actor:         Who performs a mutating operation (role is opaque input)

DESIGN PRINCIPLES:
  1. Precision: Hours are decimal.Decimal, rounded to 2 places
  2. Exhaustiveness: Categories are a closed set, unknown tags are rejected
  3. Two layers: Computed segments are never deleted by overrides
  4. Auditability: Every mutation appends an AuditEntry

SEE ALSO:
  - calculator.go: Segment Calculator
  - override.go: Override Reconciliation
  - aggregate.go: Aggregation Layer
  - approval.go: Approval State Machine
  - recalc.go: Recalculation Orchestrator
*/
package worktime

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATEGORY - Closed enumeration of payroll hour categories
// =============================================================================

type Category string

const (
	CategoryRegular   Category = "regular"
	CategoryNight     Category = "night"
	CategorySaturday  Category = "saturday"
	CategorySunday    Category = "sunday"
	CategoryHoliday   Category = "holiday"
	CategoryPassenger Category = "passenger"
	CategoryDriving   Category = "driving"
	CategoryEquipment Category = "equipment"
)

// Categories lists every category in canonical reporting order.
var Categories = []Category{
	CategoryRegular,
	CategoryNight,
	CategorySaturday,
	CategorySunday,
	CategoryHoliday,
	CategoryPassenger,
	CategoryDriving,
	CategoryEquipment,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryRegular, CategoryNight, CategorySaturday, CategorySunday,
		CategoryHoliday, CategoryPassenger, CategoryDriving, CategoryEquipment:
		return true
	}
	return false
}

// IsSpecialDuty reports whether hours of this category are never sub-split
// by the calendar rules.
func (c Category) IsSpecialDuty() bool {
	switch c {
	case CategoryPassenger, CategoryDriving, CategoryEquipment:
		return true
	case CategoryRegular, CategoryNight, CategorySaturday, CategorySunday, CategoryHoliday:
		return false
	}
	return false
}

// ParseCategory parses a stored category tag.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// ParseShiftHint maps the free-text classification supplied at clock-in to a
// category. "normal" (and the empty hint) mean the calendar split applies.
func ParseShiftHint(s string) (Category, error) {
	switch s {
	case "", "normal", string(CategoryRegular):
		return CategoryRegular, nil
	}
	c, err := ParseCategory(s)
	if err != nil {
		return "", err
	}
	if !c.IsSpecialDuty() {
		return "", fmt.Errorf("%w: %q is not a shift hint", ErrUnknownCategory, s)
	}
	return c, nil
}

// =============================================================================
// HOURS - Decimal hour quantities
// =============================================================================

// HoursPrecision is the number of decimal places kept for hour values.
const HoursPrecision = 2

var millisPerHour = decimal.NewFromInt(int64(time.Hour / time.Millisecond))

// HoursOf converts a duration to decimal hours rounded to HoursPrecision.
func HoursOf(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(d.Milliseconds()).Div(millisPerHour).Round(HoursPrecision)
}

// NewHours builds an hour value from a float, rounded to HoursPrecision.
func NewHours(h float64) decimal.Decimal {
	return decimal.NewFromFloat(h).Round(HoursPrecision)
}

// CategoryTotals maps every category to its hours. Missing keys are zero.
type CategoryTotals map[Category]decimal.Decimal

// NewCategoryTotals returns totals with every category set to zero.
func NewCategoryTotals() CategoryTotals {
	t := make(CategoryTotals, len(Categories))
	for _, c := range Categories {
		t[c] = decimal.Zero
	}
	return t
}

func (t CategoryTotals) Get(c Category) decimal.Decimal {
	if v, ok := t[c]; ok {
		return v
	}
	return decimal.Zero
}

func (t CategoryTotals) Add(c Category, h decimal.Decimal) {
	t[c] = t.Get(c).Add(h)
}

// Merge adds every value of other into t.
func (t CategoryTotals) Merge(other CategoryTotals) {
	for c, v := range other {
		t.Add(c, v)
	}
}

// Total is the grand total across all categories.
func (t CategoryTotals) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range Categories {
		sum = sum.Add(t.Get(c))
	}
	return sum
}

// Clone returns an independent copy.
func (t CategoryTotals) Clone() CategoryTotals {
	out := NewCategoryTotals()
	out.Merge(t)
	return out
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type IntervalID string
type SegmentID string
type OverrideID string
type TeamID string

// =============================================================================
// APPROVAL STATUS
// =============================================================================

type ApprovalStatus string

const (
	StatusPendingReview ApprovalStatus = "pending_review"
	StatusApproved      ApprovalStatus = "approved"
)

func (s ApprovalStatus) Valid() bool {
	return s == StatusPendingReview || s == StatusApproved
}

// GroupStatus folds the statuses of every interval contributing to an
// employee/day. A single pending interval demotes the whole group.
func GroupStatus(intervals []WorkInterval) ApprovalStatus {
	if len(intervals) == 0 {
		return StatusPendingReview
	}
	for _, iv := range intervals {
		if iv.Status != StatusApproved {
			return StatusPendingReview
		}
	}
	return StatusApproved
}

// =============================================================================
// WORK INTERVAL
// =============================================================================

// WorkInterval is one clock-in/clock-out pair. End is nil while open.
type WorkInterval struct {
	ID            IntervalID
	EmployeeID    EmployeeID
	Start         time.Time
	End           *time.Time
	ShiftHint     Category
	Status        ApprovalStatus
	EditedByAdmin bool
	// SegmentsStale is set when boundaries changed and segments have not yet
	// been recomputed successfully.
	SegmentsStale bool
	Notes         string

	// Opaque references owned by the geolocation/photo collaborators.
	LocationRef string
	PhotoRef    string

	ApprovedBy *string
	ApprovedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsOpen reports whether the interval is still in progress.
func (iv WorkInterval) IsOpen() bool { return iv.End == nil }

// Duration is the span of a closed interval, zero while open.
func (iv WorkInterval) Duration() time.Duration {
	if iv.End == nil {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// WorkDate is the local calendar date the interval's hours are booked on.
func (iv WorkInterval) WorkDate(loc *time.Location) Date {
	return DateOf(iv.Start, loc)
}

// =============================================================================
// SEGMENT
// =============================================================================

// Segment is a categorized sub-range of exactly one WorkInterval.
type Segment struct {
	ID         SegmentID
	IntervalID IntervalID
	Category   Category
	Start      time.Time
	End        time.Time
	Hours      decimal.Decimal
}

// =============================================================================
// DAILY OVERRIDE
// =============================================================================

type Provenance string

const (
	// ProvenanceManual overrides are authoritative for aggregation.
	ProvenanceManual Provenance = "manual"
	// ProvenanceAuto overrides are fallbacks created when an interval could
	// not be decomposed into segments.
	ProvenanceAuto Provenance = "auto"
)

// DailyOverride holds per-category hours for one employee on one date.
type DailyOverride struct {
	ID         OverrideID
	EmployeeID EmployeeID
	Date       Date
	Values     CategoryTotals
	Provenance Provenance
	Notes      string
	UpdatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (o DailyOverride) IsManual() bool { return o.Provenance == ProvenanceManual }

// Total is the day's grand total taken from the override values only.
func (o DailyOverride) Total() decimal.Decimal { return o.Values.Total() }

// =============================================================================
// ACTOR - Caller identity supplied by the authentication collaborator
// =============================================================================

type Role string

const (
	RoleEmployee    Role = "employee"
	RoleTeamLead    Role = "team_lead"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
	RoleSystem      Role = "system"
)

type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used for automated work (clock-out recomputation, bulk jobs).
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// IsPrivileged reports whether the role manages other employees' hours.
func (a Actor) IsPrivileged() bool {
	switch a.Role {
	case RoleTeamLead, RoleCoordinator, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// CanOverrideBeyondSpan is the single policy deciding whether an override
// whose total exceeds the clocked span is saved with a warning (true) or
// rejected (false).
func CanOverrideBeyondSpan(role Role) bool {
	switch role {
	case RoleTeamLead, RoleCoordinator, RoleAdmin:
		return true
	}
	return false
}
