/*
handlers.go - HTTP API handlers for the worktime engine

PURPOSE:
  Exposes clock-in/clock-out, approvals, overrides, aggregation and bulk
  reprocessing via REST API. Handles HTTP request/response and JSON
  serialization, and delegates to the worktime services.

ENDPOINTS:
  Intervals:
    POST   /api/intervals/clock-in          Open an interval
    POST   /api/intervals/{id}/clock-out    Close it and compute segments
    GET    /api/intervals                   List (employee_id, from, to, status, open)
    GET    /api/intervals/{id}              Interval with its segments
    PUT    /api/intervals/{id}              Edit boundaries (recalculates)
    DELETE /api/intervals/{id}              Delete interval and segments
    POST   /api/intervals/{id}/approve      Approve
    POST   /api/intervals/{id}/recalculate  Final or interim recalculation
    GET    /api/intervals/{id}/audit        Audit trail

  Teams:
    GET    /api/teams/{teamId}/intervals    Intervals of a week (week, day)
    POST   /api/teams/{teamId}/approve-all  Batch approval
    POST   /api/teams/{teamId}/edit-all     Batch time-of-day edit
    POST   /api/teams/{teamId}/members      Add a member

  Employees:
    GET    /api/employees/{id}/hours          Per-day and per-category hours
    GET    /api/employees/{id}/payroll        Approved days only
    GET    /api/employees/{id}/days/{date}    One day
    GET    /api/employees/{id}/overrides      Overrides in a range
    PUT    /api/employees/{id}/overrides/{date} Set one category value

  Other:
    POST   /api/admin/reprocess      Bulk reprocessing
    POST   /api/segments/preview     Pure segment calculation
    POST   /api/compute              Segment computation service endpoint
    GET    /api/holidays             List stored holidays
    POST   /api/holidays             Create holiday
    DELETE /api/holidays/{id}        Delete holiday

ERROR HANDLING:
  Errors are returned as JSON {error, details} with:
  - 400: Invalid input, out-of-range values
  - 404: Interval or override not found
  - 409: Interval open/closed conflicts, already clocked in
  - 422: Override exceeds the clocked span (non-privileged actors)
  - 503: Segment computation failed after retries
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Actor extraction
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/worktime"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HolidayStore is implemented by stores with a holidays table.
type HolidayStore interface {
	SaveHoliday(ctx context.Context, h worktime.Holiday) error
	DeleteHoliday(ctx context.Context, id string) error
	ListHolidays(ctx context.Context) ([]worktime.Holiday, error)
}

// TeamStore is a team directory that accepts new members.
type TeamStore interface {
	worktime.TeamDirectory
	AddTeamMember(ctx context.Context, teamID worktime.TeamID, employeeID worktime.EmployeeID) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     worktime.TxStore
	Directory worktime.TeamDirectory
	Rules     worktime.RuleSet

	// Optional; the endpoints answer 501 when the store lacks them.
	Holidays HolidayStore
	Teams    TeamStore

	// Calendar is reloaded after every holiday write when set.
	Calendar *worktime.StoredHolidayCalendar

	Calculator   *worktime.Calculator
	Local        *worktime.LocalComputer
	Aggregator   *worktime.Aggregator
	Orchestrator *worktime.Orchestrator
	Tracker      *worktime.Tracker
	Approvals    *worktime.ApprovalService
	Overrides    *worktime.OverrideService
	Reprocessor  *worktime.Reprocessor

	Logger *slog.Logger
}

// NewHandler wires the engine services. A nil computer computes segments
// in-process; holiday and team endpoints are enabled when store and
// directory support them.
func NewHandler(store worktime.TxStore, directory worktime.TeamDirectory, rules worktime.RuleSet, computer worktime.SegmentComputer) *Handler {
	calc := worktime.NewCalculator(rules)
	local := worktime.NewLocalComputer(calc, store)
	if computer == nil {
		computer = local
	}
	agg := worktime.NewAggregator(store, rules)
	orch := worktime.NewOrchestrator(store, computer, agg)

	h := &Handler{
		Store:        store,
		Directory:    directory,
		Rules:        rules,
		Calculator:   calc,
		Local:        local,
		Aggregator:   agg,
		Orchestrator: orch,
		Tracker:      worktime.NewTracker(store, orch, rules),
		Approvals:    worktime.NewApprovalService(store, directory, orch, rules),
		Overrides:    worktime.NewOverrideService(store, agg),
		Reprocessor:  worktime.NewReprocessor(store, orch, rules),
		Logger:       slog.Default(),
	}
	if hs, ok := store.(HolidayStore); ok {
		h.Holidays = hs
	}
	if ts, ok := directory.(TeamStore); ok {
		h.Teams = ts
	}
	return h
}

// SetLogger hands logger to every service.
func (h *Handler) SetLogger(logger *slog.Logger) {
	h.Logger = logger
	h.Orchestrator.Logger = logger
	h.Tracker.Logger = logger
	h.Approvals.Logger = logger
	h.Overrides.Logger = logger
	h.Reprocessor.Logger = logger
}

// =============================================================================
// INTERVAL HANDLERS
// =============================================================================

// ClockIn opens an interval. The employee defaults to the actor.
// POST /api/intervals/clock-in
func (h *Handler) ClockIn(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())

	var req ClockInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID == "" {
		req.EmployeeID = actor.ID
	}

	in := worktime.ClockInRequest{
		EmployeeID:  worktime.EmployeeID(req.EmployeeID),
		ShiftHint:   req.ShiftHint,
		Notes:       req.Notes,
		LocationRef: req.LocationRef,
		PhotoRef:    req.PhotoRef,
	}
	if req.At != nil {
		in.At = *req.At
	}

	iv, err := h.Tracker.ClockIn(r.Context(), actor, in)
	if err != nil {
		h.fail(w, r, "Failed to clock in", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIntervalDTO(*iv))
}

// ClockOut closes an interval. The body is optional.
// POST /api/intervals/{id}/clock-out
func (h *Handler) ClockOut(w http.ResponseWriter, r *http.Request) {
	id := worktime.IntervalID(chi.URLParam(r, "id"))

	var req ClockOutRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	result, err := h.Tracker.ClockOut(r.Context(), actorFrom(r.Context()), id, at)
	if err != nil {
		h.fail(w, r, "Failed to clock out", err)
		return
	}

	dto := ClockOutDTO{Interval: toIntervalDTO(result.Interval)}
	if result.Recalc != nil {
		dto.Segments = toSegmentDTOs(result.Recalc.Segments)
		if result.Recalc.Day != nil {
			day := toDayDTO(*result.Recalc.Day)
			dto.Day = &day
		}
	}
	if result.Fallback != nil {
		o := toOverrideDTO(*result.Fallback)
		dto.Fallback = &o
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListIntervals returns intervals ordered by clock-in.
// GET /api/intervals?employee_id=&from=&to=&status=&open=
func (h *Handler) ListIntervals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := worktime.IntervalFilter{}

	if ids := q.Get("employee_id"); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			filter.EmployeeIDs = append(filter.EmployeeIDs, worktime.EmployeeID(strings.TrimSpace(id)))
		}
	}
	if q.Get("from") != "" || q.Get("to") != "" {
		period, err := parsePeriod(q.Get("from"), q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date range", err)
			return
		}
		from, to := period.Bounds(h.Rules.Location)
		filter.StartFrom, filter.StartTo = &from, &to
	}
	if s := q.Get("status"); s != "" {
		status := worktime.ApprovalStatus(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", s))
			return
		}
		filter.Status = &status
	}
	if open := q.Get("open"); open != "" {
		b, err := strconv.ParseBool(open)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid open flag", err)
			return
		}
		filter.OnlyOpen, filter.OnlyClosed = b, !b
	}

	intervals, err := h.Store.ListIntervals(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list intervals", err)
		return
	}
	dtos := make([]IntervalDTO, len(intervals))
	for i, iv := range intervals {
		dtos[i] = toIntervalDTO(iv)
	}
	writeJSON(w, http.StatusOK, map[string]any{"intervals": dtos})
}

// GetInterval returns an interval and its segments.
// GET /api/intervals/{id}
func (h *Handler) GetInterval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := worktime.IntervalID(chi.URLParam(r, "id"))

	iv, err := h.Store.GetInterval(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get interval", err)
		return
	}
	segments, err := h.Store.Segments(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get segments", err)
		return
	}
	writeJSON(w, http.StatusOK, IntervalDetailDTO{
		Interval: toIntervalDTO(*iv),
		Segments: toSegmentDTOs(segments),
	})
}

// EditInterval changes boundaries and recalculates.
// PUT /api/intervals/{id}
func (h *Handler) EditInterval(w http.ResponseWriter, r *http.Request) {
	id := worktime.IntervalID(chi.URLParam(r, "id"))

	var req EditIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Start == nil && req.End == nil {
		writeError(w, http.StatusBadRequest, "start or end is required", nil)
		return
	}

	result, err := h.Approvals.Edit(r.Context(), actorFrom(r.Context()), id, worktime.EditRequest{
		Start: req.Start,
		End:   req.End,
	})
	if err != nil {
		h.fail(w, r, "Failed to edit interval", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalcDTO(*result))
}

// DeleteInterval removes an interval and its segments.
// DELETE /api/intervals/{id}
func (h *Handler) DeleteInterval(w http.ResponseWriter, r *http.Request) {
	id := worktime.IntervalID(chi.URLParam(r, "id"))

	if err := h.Approvals.Delete(r.Context(), actorFrom(r.Context()), id); err != nil {
		h.fail(w, r, "Failed to delete interval", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// ApproveInterval marks a closed interval approved.
// POST /api/intervals/{id}/approve
func (h *Handler) ApproveInterval(w http.ResponseWriter, r *http.Request) {
	id := worktime.IntervalID(chi.URLParam(r, "id"))

	iv, err := h.Approvals.Approve(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		h.fail(w, r, "Failed to approve interval", err)
		return
	}
	writeJSON(w, http.StatusOK, toIntervalDTO(*iv))
}

// Recalculate runs the orchestrator. final_mode=false is a preview.
// POST /api/intervals/{id}/recalculate
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	id := worktime.IntervalID(chi.URLParam(r, "id"))

	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Orchestrator.Recalculate(r.Context(), worktime.RecalcRequest{
		IntervalID: id,
		Start:      req.Start,
		End:        req.End,
		FinalMode:  req.FinalMode,
		Actor:      actorFrom(r.Context()),
		Scope:      worktime.ScopeSingle,
		Action:     worktime.AuditRecalculated,
	})
	if err != nil {
		h.fail(w, r, "Failed to recalculate interval", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalcDTO(*result))
}

// IntervalAudit returns the audit entries of an interval, oldest first.
// GET /api/intervals/{id}/audit
func (h *Handler) IntervalAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.Store.QueryAudit(r.Context(), worktime.AuditFilter{ResourceID: &id})
	if err != nil {
		h.fail(w, r, "Failed to query audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toAuditDTOs(entries)})
}

// =============================================================================
// TEAM HANDLERS
// =============================================================================

// TeamIntervals lists a team's intervals for a week.
// GET /api/teams/{teamId}/intervals?week=2025-W10&day=monday
func (h *Handler) TeamIntervals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := teamFilter(chi.URLParam(r, "teamId"), q.Get("week"), q.Get("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team filter", err)
		return
	}

	intervals, err := h.Approvals.TeamIntervals(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list team intervals", err)
		return
	}
	dtos := make([]IntervalDTO, len(intervals))
	for i, iv := range intervals {
		dtos[i] = toIntervalDTO(iv)
	}
	writeJSON(w, http.StatusOK, map[string]any{"intervals": dtos})
}

// ApproveAll approves every interval in the team filter.
// POST /api/teams/{teamId}/approve-all
func (h *Handler) ApproveAll(w http.ResponseWriter, r *http.Request) {
	var req TeamBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	filter, err := teamFilter(chi.URLParam(r, "teamId"), req.WeekID, req.DayOfWeek)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team filter", err)
		return
	}

	result, err := h.Approvals.ApproveAll(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		h.fail(w, r, "Failed to approve team intervals", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(result, false))
}

// EditAll sets clock-in and/or clock-out times for every interval in the
// team filter. A cancelled request reports the intervals already edited.
// POST /api/teams/{teamId}/edit-all
func (h *Handler) EditAll(w http.ResponseWriter, r *http.Request) {
	var req TeamBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	filter, err := teamFilter(chi.URLParam(r, "teamId"), req.WeekID, req.DayOfWeek)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team filter", err)
		return
	}

	var edit worktime.TeamEdit
	if req.ClockIn != "" {
		c, err := worktime.ParseClockTime(req.ClockIn)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid clock_in", err)
			return
		}
		edit.ClockIn = &c
	}
	if req.ClockOut != "" {
		c, err := worktime.ParseClockTime(req.ClockOut)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid clock_out", err)
			return
		}
		edit.ClockOut = &c
	}

	result, err := h.Approvals.EditAll(r.Context(), actorFrom(r.Context()), filter, edit)
	if err != nil {
		if result != nil && errors.Is(err, context.Canceled) {
			writeJSON(w, http.StatusOK, toBatchDTO(result, true))
			return
		}
		h.fail(w, r, "Failed to edit team intervals", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(result, false))
}

// AddTeamMember adds an employee to a team.
// POST /api/teams/{teamId}/members
func (h *Handler) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	if h.Teams == nil {
		writeError(w, http.StatusNotImplemented, "Team directory is read-only", nil)
		return
	}
	teamID := worktime.TeamID(chi.URLParam(r, "teamId"))

	var req TeamMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}

	if err := h.Teams.AddTeamMember(r.Context(), teamID, worktime.EmployeeID(req.EmployeeID)); err != nil {
		h.fail(w, r, "Failed to add team member", err)
		return
	}
	members, err := h.Teams.TeamMembers(r.Context(), teamID)
	if err != nil {
		h.fail(w, r, "Failed to list team members", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"team_id": teamID, "members": members})
}

// =============================================================================
// EMPLOYEE HOURS AND OVERRIDES
// =============================================================================

// GetHours returns per-day and per-category hours for a date range.
// GET /api/employees/{id}/hours?from=2025-03-01&to=2025-03-31
func (h *Handler) GetHours(w http.ResponseWriter, r *http.Request) {
	h.rangeTotals(w, r, h.Aggregator.Aggregate)
}

// GetPayroll is GetHours restricted to fully approved days.
// GET /api/employees/{id}/payroll?from=&to=
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	h.rangeTotals(w, r, h.Aggregator.PayrollTotals)
}

func (h *Handler) rangeTotals(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, worktime.EmployeeID, worktime.Period) (*worktime.RangeTotals, error),
) {
	employeeID := worktime.EmployeeID(chi.URLParam(r, "id"))
	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	totals, err := fn(r.Context(), employeeID, period)
	if err != nil {
		h.fail(w, r, "Failed to aggregate hours", err)
		return
	}
	writeJSON(w, http.StatusOK, toRangeDTO(*totals))
}

// GetDay returns one day's hours.
// GET /api/employees/{id}/days/{date}
func (h *Handler) GetDay(w http.ResponseWriter, r *http.Request) {
	employeeID := worktime.EmployeeID(chi.URLParam(r, "id"))
	date, err := worktime.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	day, err := h.Aggregator.Day(r.Context(), employeeID, date)
	if err != nil {
		h.fail(w, r, "Failed to aggregate day", err)
		return
	}
	writeJSON(w, http.StatusOK, toDayDTO(*day))
}

// ListOverrides returns the employee's overrides in a range.
// GET /api/employees/{id}/overrides?from=&to=
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	employeeID := worktime.EmployeeID(chi.URLParam(r, "id"))
	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	overrides, err := h.Store.ListOverrides(r.Context(), employeeID, period)
	if err != nil {
		h.fail(w, r, "Failed to list overrides", err)
		return
	}
	dtos := make([]OverrideDTO, len(overrides))
	for i, o := range overrides {
		dtos[i] = toOverrideDTO(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": dtos})
}

// ApplyOverride sets one category of the employee's override for a date.
// Privileged actors may exceed the clocked span and get a warning back.
// PUT /api/employees/{id}/overrides/{date}
func (h *Handler) ApplyOverride(w http.ResponseWriter, r *http.Request) {
	employeeID := worktime.EmployeeID(chi.URLParam(r, "id"))
	date, err := worktime.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	category, err := worktime.ParseCategory(req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid category", err)
		return
	}
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid value", err)
		return
	}

	result, err := h.Overrides.ApplyOverride(r.Context(), actorFrom(r.Context()), employeeID, date, category, value, req.Notes)
	if err != nil {
		h.fail(w, r, "Failed to apply override", err)
		return
	}

	dto := OverrideResultDTO{
		Override: toOverrideDTO(result.Override),
		Day:      toDayDTO(result.Day),
	}
	if result.Warning != nil {
		dto.Warning = result.Warning.Error()
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN AND COMPUTATION
// =============================================================================

// Reprocess runs a bulk reprocessing job synchronously.
// POST /api/admin/reprocess
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	var req worktime.ReprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Reprocessor.Reprocess(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to reprocess intervals", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PreviewSegments runs the calculator without touching the store.
// POST /api/segments/preview
func (h *Handler) PreviewSegments(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	hint, err := worktime.ParseShiftHint(req.ShiftHint)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid shift hint", err)
		return
	}

	segments, err := h.Calculator.ComputeSegments(req.Start, req.End, hint)
	if err != nil {
		h.fail(w, r, "Failed to compute segments", err)
		return
	}
	totals := worktime.SegmentTotals(segments)
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": toSegmentDTOs(segments),
		"totals":   totalsDTO(totals),
		"total":    hours(totals.Total()),
	})
}

// Compute serves peers configured with COMPUTE_SERVICE_URL. Final requests
// persist the segments here; intermediate ones only return them.
// POST /api/compute
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	var req worktime.ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, worktime.ComputeResponse{Error: err.Error()})
		return
	}

	segments, err := h.Local.ComputeSegments(r.Context(), req)
	if err != nil {
		writeJSON(w, errorStatus(err), worktime.ComputeResponse{Error: err.Error()})
		return
	}

	resp := worktime.ComputeResponse{Success: true}
	for _, s := range segments {
		resp.Segments = append(resp.Segments, worktime.ComputeSegment{
			Category: s.Category,
			Start:    s.Start,
			End:      s.End,
			Hours:    s.Hours,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// ListHolidays returns all stored holidays.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	if h.Holidays == nil {
		writeError(w, http.StatusNotImplemented, "Holiday storage is not available", nil)
		return
	}

	holidays, err := h.Holidays.ListHolidays(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to get holidays", err)
		return
	}

	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, HolidayDTO{
			ID:        hol.ID,
			Date:      hol.Date.String(),
			Name:      hol.Name,
			Recurring: hol.Recurring,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

// CreateHoliday stores a holiday. It applies to segments computed afterwards.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	if h.Holidays == nil {
		writeError(w, http.StatusNotImplemented, "Holiday storage is not available", nil)
		return
	}

	var req HolidayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Date == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}
	date, err := worktime.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	holiday := worktime.Holiday{
		ID:        uuid.NewString(),
		Date:      date,
		Name:      req.Name,
		Recurring: req.Recurring,
	}
	if err := h.Holidays.SaveHoliday(r.Context(), holiday); err != nil {
		h.fail(w, r, "Failed to create holiday", err)
		return
	}
	if err := h.reloadCalendar(r.Context()); err != nil {
		h.fail(w, r, "Holiday created but the calendar could not be refreshed", err)
		return
	}

	writeJSON(w, http.StatusCreated, HolidayDTO{
		ID:        holiday.ID,
		Date:      holiday.Date.String(),
		Name:      holiday.Name,
		Recurring: holiday.Recurring,
	})
}

// DeleteHoliday deletes a holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if h.Holidays == nil {
		writeError(w, http.StatusNotImplemented, "Holiday storage is not available", nil)
		return
	}

	if err := h.Holidays.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete holiday", err)
		return
	}
	if err := h.reloadCalendar(r.Context()); err != nil {
		h.fail(w, r, "Holiday deleted but the calendar could not be refreshed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (h *Handler) reloadCalendar(ctx context.Context) error {
	if h.Calendar == nil {
		return nil
	}
	return h.Calendar.Reload(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps an engine error to its status. Server-side failures are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), message, "error", err, "path", r.URL.Path)
	}
	writeError(w, status, message, err)
}

func errorStatus(err error) int {
	var warning *worktime.ValidationWarning
	switch {
	case worktime.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &warning):
		return http.StatusUnprocessableEntity
	case errors.Is(err, worktime.ErrAlreadyClockedIn),
		errors.Is(err, worktime.ErrIntervalOpen),
		errors.Is(err, worktime.ErrIntervalClosed),
		errors.Is(err, worktime.ErrSegmentsStale):
		return http.StatusConflict
	case errors.Is(err, worktime.ErrRecalculationFailed),
		errors.Is(err, worktime.ErrComputationUnavailable):
		return http.StatusServiceUnavailable
	case worktime.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional decodes a JSON body; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parsePeriod(from, to string) (worktime.Period, error) {
	if from == "" || to == "" {
		return worktime.Period{}, fmt.Errorf("from and to are required (YYYY-MM-DD)")
	}
	start, err := worktime.ParseDate(from)
	if err != nil {
		return worktime.Period{}, err
	}
	end, err := worktime.ParseDate(to)
	if err != nil {
		return worktime.Period{}, err
	}
	return worktime.NewPeriod(start, end)
}

func teamFilter(teamID, weekID, day string) (worktime.TeamFilter, error) {
	filter := worktime.TeamFilter{TeamID: worktime.TeamID(teamID), WeekID: weekID}
	if weekID == "" {
		return filter, fmt.Errorf("week is required (e.g. 2025-W10)")
	}
	if day != "" {
		wd, err := parseWeekday(day)
		if err != nil {
			return filter, err
		}
		filter.DayOfWeek = &wd
	}
	if _, err := filter.Period(); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown day of week %q", s)
}
