/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API. Engine types stay free of HTTP concerns; the
  conversion helpers at the bottom of this file build DTOs from them.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

HOURS:
  Hour values are decimal strings with two places ("7.50"), never floats.

TIMES:
  Instants are RFC 3339. Dates are YYYY-MM-DD. Clock times are HH:MM.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/worktime"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type ClockInRequest struct {
	EmployeeID  string     `json:"employee_id"`
	At          *time.Time `json:"at,omitempty"` // defaults to now
	ShiftHint   string     `json:"shift_hint,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	LocationRef string     `json:"location_ref,omitempty"`
	PhotoRef    string     `json:"photo_ref,omitempty"`
}

type ClockOutRequest struct {
	At *time.Time `json:"at,omitempty"` // defaults to now
}

// EditIntervalRequest changes an interval's boundaries. Omitted fields keep
// their current value.
type EditIntervalRequest struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// RecalculateRequest drives the orchestrator directly. FinalMode false
// returns a preview and persists nothing.
type RecalculateRequest struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	FinalMode bool      `json:"final_mode"`
}

// TeamBatchRequest selects a team's intervals for an ISO week, optionally
// one weekday ("monday".."sunday").
type TeamBatchRequest struct {
	WeekID    string `json:"week_id"`
	DayOfWeek string `json:"day_of_week,omitempty"`
	ClockIn   string `json:"clock_in,omitempty"`  // HH:MM, edit-all only
	ClockOut  string `json:"clock_out,omitempty"` // HH:MM, edit-all only
}

type OverrideRequest struct {
	Category string `json:"category"`
	Value    string `json:"value"` // decimal hours
	Notes    string `json:"notes,omitempty"`
}

type PreviewRequest struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	ShiftHint string    `json:"shift_hint,omitempty"`
}

type HolidayRequest struct {
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

type TeamMemberRequest struct {
	EmployeeID string `json:"employee_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type IntervalDTO struct {
	ID            string     `json:"id"`
	EmployeeID    string     `json:"employee_id"`
	Start         time.Time  `json:"start"`
	End           *time.Time `json:"end,omitempty"`
	ShiftHint     string     `json:"shift_hint"`
	Status        string     `json:"status"`
	EditedByAdmin bool       `json:"was_edited_by_admin"`
	SegmentsStale bool       `json:"segments_stale"`
	Notes         string     `json:"notes,omitempty"`
	LocationRef   string     `json:"location_ref,omitempty"`
	PhotoRef      string     `json:"photo_ref,omitempty"`
	ApprovedBy    *string    `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	Hours         string     `json:"hours,omitempty"`
}

type SegmentDTO struct {
	ID       string    `json:"id,omitempty"`
	Category string    `json:"category"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Hours    string    `json:"hours"`
}

type IntervalDetailDTO struct {
	Interval IntervalDTO  `json:"interval"`
	Segments []SegmentDTO `json:"segments"`
}

type OverrideDTO struct {
	ID         string            `json:"id"`
	EmployeeID string            `json:"employee_id"`
	Date       string            `json:"date"`
	Values     map[string]string `json:"values"`
	Total      string            `json:"total"`
	Provenance string            `json:"provenance"`
	Notes      string            `json:"notes,omitempty"`
	UpdatedBy  string            `json:"updated_by,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type DayDTO struct {
	Date      string            `json:"date"`
	Totals    map[string]string `json:"totals"`
	Total     string            `json:"total"`
	Source    string            `json:"source"`
	Status    string            `json:"status,omitempty"`
	Intervals []string          `json:"intervals,omitempty"`
	Override  *OverrideDTO      `json:"override,omitempty"`
}

type RangeDTO struct {
	EmployeeID    string            `json:"employee_id"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Days          []DayDTO          `json:"days"`
	Totals        map[string]string `json:"totals"`
	Total         string            `json:"total"`
	FullyApproved bool              `json:"fully_approved"`
}

type RecalcDTO struct {
	Interval       IntervalDTO  `json:"interval"`
	Segments       []SegmentDTO `json:"segments"`
	Preview        bool         `json:"preview"`
	OverridePurged bool         `json:"override_purged"`
	Attempts       int          `json:"attempts"`
	Day            *DayDTO      `json:"day,omitempty"`
}

type ClockOutDTO struct {
	Interval IntervalDTO  `json:"interval"`
	Segments []SegmentDTO `json:"segments,omitempty"`
	Day      *DayDTO      `json:"day,omitempty"`
	Fallback *OverrideDTO `json:"fallback_override,omitempty"`
}

type OverrideResultDTO struct {
	Override OverrideDTO `json:"override"`
	Warning  string      `json:"warning,omitempty"`
	Day      DayDTO      `json:"day"`
}

type BatchResultDTO struct {
	Succeeded      []worktime.IntervalID     `json:"succeeded"`
	Failed         []worktime.BatchItemError `json:"failed"`
	SucceededCount int                       `json:"succeeded_count"`
	FailedCount    int                       `json:"failed_count"`
	Partial        bool                      `json:"partial,omitempty"`
}

type AuditEntryDTO struct {
	ID           string                `json:"id"`
	Timestamp    time.Time             `json:"timestamp"`
	ActorID      string                `json:"actor_id"`
	Action       string                `json:"action"`
	ResourceType string                `json:"resource_type"`
	ResourceID   string                `json:"resource_id"`
	Details      worktime.AuditDetails `json:"details"`
}

type HolidayDTO struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// ErrorResponse is the error body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func hours(d decimal.Decimal) string {
	return d.StringFixed(worktime.HoursPrecision)
}

func totalsDTO(t worktime.CategoryTotals) map[string]string {
	m := make(map[string]string, len(worktime.Categories))
	for _, c := range worktime.Categories {
		m[string(c)] = hours(t.Get(c))
	}
	return m
}

func toIntervalDTO(iv worktime.WorkInterval) IntervalDTO {
	dto := IntervalDTO{
		ID:            string(iv.ID),
		EmployeeID:    string(iv.EmployeeID),
		Start:         iv.Start,
		End:           iv.End,
		ShiftHint:     string(iv.ShiftHint),
		Status:        string(iv.Status),
		EditedByAdmin: iv.EditedByAdmin,
		SegmentsStale: iv.SegmentsStale,
		Notes:         iv.Notes,
		LocationRef:   iv.LocationRef,
		PhotoRef:      iv.PhotoRef,
		ApprovedBy:    iv.ApprovedBy,
		ApprovedAt:    iv.ApprovedAt,
	}
	if !iv.IsOpen() {
		dto.Hours = hours(worktime.HoursOf(iv.Duration()))
	}
	return dto
}

func toSegmentDTOs(segs []worktime.Segment) []SegmentDTO {
	dtos := make([]SegmentDTO, len(segs))
	for i, s := range segs {
		dtos[i] = SegmentDTO{
			ID:       string(s.ID),
			Category: string(s.Category),
			Start:    s.Start,
			End:      s.End,
			Hours:    hours(s.Hours),
		}
	}
	return dtos
}

func toOverrideDTO(o worktime.DailyOverride) OverrideDTO {
	return OverrideDTO{
		ID:         string(o.ID),
		EmployeeID: string(o.EmployeeID),
		Date:       o.Date.String(),
		Values:     totalsDTO(o.Values),
		Total:      hours(o.Total()),
		Provenance: string(o.Provenance),
		Notes:      o.Notes,
		UpdatedBy:  o.UpdatedBy,
		UpdatedAt:  o.UpdatedAt,
	}
}

func toDayDTO(d worktime.DayTotals) DayDTO {
	dto := DayDTO{
		Date:   d.Date.String(),
		Totals: totalsDTO(d.Totals),
		Total:  hours(d.Total),
		Source: string(d.Source),
		Status: string(d.Status),
	}
	for _, id := range d.Intervals {
		dto.Intervals = append(dto.Intervals, string(id))
	}
	if d.Override != nil {
		o := toOverrideDTO(*d.Override)
		dto.Override = &o
	}
	return dto
}

func toRangeDTO(r worktime.RangeTotals) RangeDTO {
	dto := RangeDTO{
		EmployeeID:    string(r.EmployeeID),
		From:          r.Period.Start.String(),
		To:            r.Period.End.String(),
		Days:          make([]DayDTO, len(r.Days)),
		Totals:        totalsDTO(r.Totals),
		Total:         hours(r.Total),
		FullyApproved: r.FullyApproved,
	}
	for i, d := range r.Days {
		dto.Days[i] = toDayDTO(d)
	}
	return dto
}

func toRecalcDTO(r worktime.RecalcResult) RecalcDTO {
	dto := RecalcDTO{
		Interval:       toIntervalDTO(r.Interval),
		Segments:       toSegmentDTOs(r.Segments),
		Preview:        r.Preview,
		OverridePurged: r.OverridePurged,
		Attempts:       r.Attempts,
	}
	if r.Day != nil {
		day := toDayDTO(*r.Day)
		dto.Day = &day
	}
	return dto
}

func toBatchDTO(r *worktime.BatchResult, partial bool) BatchResultDTO {
	dto := BatchResultDTO{
		Succeeded:      r.Succeeded,
		Failed:         r.Failed,
		SucceededCount: r.SucceededCount(),
		FailedCount:    r.FailedCount(),
		Partial:        partial,
	}
	if dto.Succeeded == nil {
		dto.Succeeded = []worktime.IntervalID{}
	}
	if dto.Failed == nil {
		dto.Failed = []worktime.BatchItemError{}
	}
	return dto
}

func toAuditDTOs(entries []worktime.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:           e.ID,
			Timestamp:    e.Timestamp,
			ActorID:      e.ActorID,
			Action:       string(e.Action),
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Details:      e.Details,
		}
	}
	return dtos
}
