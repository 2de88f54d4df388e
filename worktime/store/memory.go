// Package store provides in-memory worktime.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/worktime-engine/worktime"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	intervals map[worktime.IntervalID]worktime.WorkInterval
	segments  map[worktime.IntervalID][]worktime.Segment
	overrides map[overrideKey]worktime.DailyOverride
	audit     []worktime.AuditEntry
	teams     map[worktime.TeamID][]worktime.EmployeeID
}

type overrideKey struct {
	EmployeeID worktime.EmployeeID
	Date       string
}

func keyOf(employeeID worktime.EmployeeID, date worktime.Date) overrideKey {
	return overrideKey{EmployeeID: employeeID, Date: date.String()}
}

func NewMemory() *Memory {
	return &Memory{
		intervals: make(map[worktime.IntervalID]worktime.WorkInterval),
		segments:  make(map[worktime.IntervalID][]worktime.Segment),
		overrides: make(map[overrideKey]worktime.DailyOverride),
		teams:     make(map[worktime.TeamID][]worktime.EmployeeID),
	}
}

// AddTeamMember registers an employee in a team.
func (m *Memory) AddTeamMember(teamID worktime.TeamID, employeeID worktime.EmployeeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[teamID] = append(m.teams[teamID], employeeID)
}

func (m *Memory) TeamMembers(_ context.Context, teamID worktime.TeamID) ([]worktime.EmployeeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]worktime.EmployeeID(nil), m.teams[teamID]...), nil
}

// =============================================================================
// INTERVALS
// =============================================================================

func (m *Memory) GetInterval(_ context.Context, id worktime.IntervalID) (*worktime.WorkInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getIntervalLocked(id)
}

func (m *Memory) getIntervalLocked(id worktime.IntervalID) (*worktime.WorkInterval, error) {
	iv, ok := m.intervals[id]
	if !ok {
		return nil, &worktime.NotFoundError{Resource: "work interval", ID: string(id)}
	}
	return &iv, nil
}

func (m *Memory) SaveInterval(_ context.Context, iv worktime.WorkInterval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intervals[iv.ID] = iv
	return nil
}

func (m *Memory) DeleteInterval(_ context.Context, id worktime.IntervalID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteIntervalLocked(id)
}

func (m *Memory) deleteIntervalLocked(id worktime.IntervalID) error {
	if _, ok := m.intervals[id]; !ok {
		return &worktime.NotFoundError{Resource: "work interval", ID: string(id)}
	}
	delete(m.intervals, id)
	delete(m.segments, id)
	return nil
}

func (m *Memory) ListIntervals(_ context.Context, filter worktime.IntervalFilter) ([]worktime.WorkInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listIntervalsLocked(filter), nil
}

func (m *Memory) listIntervalsLocked(filter worktime.IntervalFilter) []worktime.WorkInterval {
	var result []worktime.WorkInterval
	for _, iv := range m.intervals {
		if filter.Matches(iv) {
			result = append(result, iv)
		}
	}
	sortIntervals(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func (m *Memory) ListUnsegmented(_ context.Context, limit int) ([]worktime.WorkInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []worktime.WorkInterval
	for _, iv := range m.intervals {
		if iv.IsOpen() {
			continue
		}
		if iv.SegmentsStale || len(m.segments[iv.ID]) == 0 {
			result = append(result, iv)
		}
	}
	sortIntervals(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func sortIntervals(ivs []worktime.WorkInterval) {
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].Start.Equal(ivs[j].Start) {
			return ivs[i].ID < ivs[j].ID
		}
		return ivs[i].Start.Before(ivs[j].Start)
	})
}

// =============================================================================
// SEGMENTS
// =============================================================================

func (m *Memory) Segments(_ context.Context, intervalID worktime.IntervalID) ([]worktime.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]worktime.Segment(nil), m.segments[intervalID]...), nil
}

func (m *Memory) SegmentsForIntervals(_ context.Context, ids []worktime.IntervalID) (map[worktime.IntervalID][]worktime.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[worktime.IntervalID][]worktime.Segment, len(ids))
	for _, id := range ids {
		if segs := m.segments[id]; len(segs) > 0 {
			result[id] = append([]worktime.Segment(nil), segs...)
		}
	}
	return result, nil
}

func (m *Memory) ReplaceSegments(_ context.Context, intervalID worktime.IntervalID, segments []worktime.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceSegmentsLocked(intervalID, segments)
}

func (m *Memory) replaceSegmentsLocked(intervalID worktime.IntervalID, segments []worktime.Segment) error {
	if _, ok := m.intervals[intervalID]; !ok {
		return &worktime.NotFoundError{Resource: "work interval", ID: string(intervalID)}
	}
	segs := append([]worktime.Segment(nil), segments...)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Start.Before(segs[j].Start) })
	m.segments[intervalID] = segs
	return nil
}

// =============================================================================
// OVERRIDES
// =============================================================================

func (m *Memory) GetOverride(_ context.Context, employeeID worktime.EmployeeID, date worktime.Date) (*worktime.DailyOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.overrides[keyOf(employeeID, date)]
	if !ok {
		return nil, nil
	}
	o.Values = o.Values.Clone()
	return &o, nil
}

func (m *Memory) SaveOverride(_ context.Context, o worktime.DailyOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Values = o.Values.Clone()
	m.overrides[keyOf(o.EmployeeID, o.Date)] = o
	return nil
}

func (m *Memory) DeleteOverride(_ context.Context, employeeID worktime.EmployeeID, date worktime.Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := keyOf(employeeID, date)
	_, ok := m.overrides[k]
	delete(m.overrides, k)
	return ok, nil
}

func (m *Memory) ListOverrides(_ context.Context, employeeID worktime.EmployeeID, period worktime.Period) ([]worktime.DailyOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []worktime.DailyOverride
	for k, o := range m.overrides {
		if k.EmployeeID == employeeID && period.Contains(o.Date) {
			o.Values = o.Values.Clone()
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry worktime.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter worktime.AuditFilter) ([]worktime.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []worktime.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot and a
// rollback on error. Writers outside fn are blocked until it returns.
func (m *Memory) WithTx(ctx context.Context, fn func(worktime.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	intervals map[worktime.IntervalID]worktime.WorkInterval
	segments  map[worktime.IntervalID][]worktime.Segment
	overrides map[overrideKey]worktime.DailyOverride
	audit     []worktime.AuditEntry
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		intervals: make(map[worktime.IntervalID]worktime.WorkInterval, len(m.intervals)),
		segments:  make(map[worktime.IntervalID][]worktime.Segment, len(m.segments)),
		overrides: make(map[overrideKey]worktime.DailyOverride, len(m.overrides)),
		audit:     append([]worktime.AuditEntry(nil), m.audit...),
	}
	for k, v := range m.intervals {
		s.intervals[k] = v
	}
	for k, v := range m.segments {
		s.segments[k] = append([]worktime.Segment(nil), v...)
	}
	for k, v := range m.overrides {
		v.Values = v.Values.Clone()
		s.overrides[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.intervals = s.intervals
	m.segments = s.segments
	m.overrides = s.overrides
	m.audit = s.audit
}

// txView operates on the parent's maps while the parent lock is held.
type txView struct {
	parent *Memory
}

func (tv *txView) GetInterval(_ context.Context, id worktime.IntervalID) (*worktime.WorkInterval, error) {
	return tv.parent.getIntervalLocked(id)
}

func (tv *txView) SaveInterval(_ context.Context, iv worktime.WorkInterval) error {
	tv.parent.intervals[iv.ID] = iv
	return nil
}

func (tv *txView) DeleteInterval(_ context.Context, id worktime.IntervalID) error {
	return tv.parent.deleteIntervalLocked(id)
}

func (tv *txView) ListIntervals(_ context.Context, filter worktime.IntervalFilter) ([]worktime.WorkInterval, error) {
	return tv.parent.listIntervalsLocked(filter), nil
}

func (tv *txView) ListUnsegmented(_ context.Context, limit int) ([]worktime.WorkInterval, error) {
	var result []worktime.WorkInterval
	for _, iv := range tv.parent.intervals {
		if !iv.IsOpen() && (iv.SegmentsStale || len(tv.parent.segments[iv.ID]) == 0) {
			result = append(result, iv)
		}
	}
	sortIntervals(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (tv *txView) Segments(_ context.Context, intervalID worktime.IntervalID) ([]worktime.Segment, error) {
	return append([]worktime.Segment(nil), tv.parent.segments[intervalID]...), nil
}

func (tv *txView) SegmentsForIntervals(_ context.Context, ids []worktime.IntervalID) (map[worktime.IntervalID][]worktime.Segment, error) {
	result := make(map[worktime.IntervalID][]worktime.Segment, len(ids))
	for _, id := range ids {
		if segs := tv.parent.segments[id]; len(segs) > 0 {
			result[id] = append([]worktime.Segment(nil), segs...)
		}
	}
	return result, nil
}

func (tv *txView) ReplaceSegments(_ context.Context, intervalID worktime.IntervalID, segments []worktime.Segment) error {
	return tv.parent.replaceSegmentsLocked(intervalID, segments)
}

func (tv *txView) GetOverride(_ context.Context, employeeID worktime.EmployeeID, date worktime.Date) (*worktime.DailyOverride, error) {
	o, ok := tv.parent.overrides[keyOf(employeeID, date)]
	if !ok {
		return nil, nil
	}
	o.Values = o.Values.Clone()
	return &o, nil
}

func (tv *txView) SaveOverride(_ context.Context, o worktime.DailyOverride) error {
	o.Values = o.Values.Clone()
	tv.parent.overrides[keyOf(o.EmployeeID, o.Date)] = o
	return nil
}

func (tv *txView) DeleteOverride(_ context.Context, employeeID worktime.EmployeeID, date worktime.Date) (bool, error) {
	k := keyOf(employeeID, date)
	_, ok := tv.parent.overrides[k]
	delete(tv.parent.overrides, k)
	return ok, nil
}

func (tv *txView) ListOverrides(_ context.Context, employeeID worktime.EmployeeID, period worktime.Period) ([]worktime.DailyOverride, error) {
	var result []worktime.DailyOverride
	for k, o := range tv.parent.overrides {
		if k.EmployeeID == employeeID && period.Contains(o.Date) {
			o.Values = o.Values.Clone()
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (tv *txView) AppendAudit(_ context.Context, entry worktime.AuditEntry) error {
	tv.parent.audit = append(tv.parent.audit, entry)
	return nil
}

func (tv *txView) QueryAudit(_ context.Context, filter worktime.AuditFilter) ([]worktime.AuditEntry, error) {
	var result []worktime.AuditEntry
	for _, e := range tv.parent.audit {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

var (
	_ worktime.TxStore       = (*Memory)(nil)
	_ worktime.TeamDirectory = (*Memory)(nil)
)
