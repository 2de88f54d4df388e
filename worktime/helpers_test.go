package worktime_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/worktime"
	"github.com/warp/worktime-engine/worktime/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================
// March 2025: Sat 1, Sun 2, Mon 3 ... Sat 8, Sun 9 (ISO week 2025-W10 is 3-9).

var (
	admin    = worktime.Actor{ID: "admin-1", Role: worktime.RoleAdmin}
	teamLead = worktime.Actor{ID: "lead-1", Role: worktime.RoleTeamLead}
	employee = worktime.Actor{ID: "emp-1", Role: worktime.RoleEmployee}
)

// at returns an instant in March 2025, UTC.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func march(day int) worktime.Date {
	return worktime.NewDate(2025, time.March, day)
}

func assertHours(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(worktime.HoursPrecision), msgAndArgs...)
}

type testEnv struct {
	store     *store.Memory
	rules     worktime.RuleSet
	agg       *worktime.Aggregator
	computer  *countingComputer
	orch      *worktime.Orchestrator
	tracker   *worktime.Tracker
	approvals *worktime.ApprovalService
	overrides *worktime.OverrideService
	reproc    *worktime.Reprocessor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRules(t, worktime.DefaultRuleSet())
}

func newTestEnvWithRules(t *testing.T, rules worktime.RuleSet) *testEnv {
	t.Helper()
	require.NoError(t, rules.Validate())

	mem := store.NewMemory()
	agg := worktime.NewAggregator(mem, rules)
	computer := &countingComputer{next: worktime.NewLocalComputer(worktime.NewCalculator(rules), mem)}

	orch := worktime.NewOrchestrator(mem, computer, agg)
	orch.Retry = worktime.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	approvals := worktime.NewApprovalService(mem, mem, orch, rules)
	approvals.EditDelay = 0

	return &testEnv{
		store:     mem,
		rules:     rules,
		agg:       agg,
		computer:  computer,
		orch:      orch,
		tracker:   worktime.NewTracker(mem, orch, rules),
		approvals: approvals,
		overrides: worktime.NewOverrideService(mem, agg),
		reproc:    worktime.NewReprocessor(mem, orch, rules),
	}
}

// work records a closed interval through clock-in and clock-out.
func (e *testEnv) work(t *testing.T, emp worktime.EmployeeID, start, end time.Time, hint string) worktime.WorkInterval {
	t.Helper()
	ctx := context.Background()

	iv, err := e.tracker.ClockIn(ctx, worktime.Actor{ID: string(emp), Role: worktime.RoleEmployee}, worktime.ClockInRequest{
		EmployeeID: emp,
		At:         start,
		ShiftHint:  hint,
	})
	require.NoError(t, err)

	out, err := e.tracker.ClockOut(ctx, worktime.Actor{ID: string(emp), Role: worktime.RoleEmployee}, iv.ID, end)
	require.NoError(t, err)
	return out.Interval
}

// seed stores a closed interval directly, without segments.
func (e *testEnv) seed(t *testing.T, id worktime.IntervalID, emp worktime.EmployeeID, start, end time.Time) worktime.WorkInterval {
	t.Helper()
	iv := worktime.WorkInterval{
		ID:         id,
		EmployeeID: emp,
		Start:      start,
		End:        &end,
		ShiftHint:  worktime.CategoryRegular,
		Status:     worktime.StatusPendingReview,
	}
	require.NoError(t, e.store.SaveInterval(context.Background(), iv))
	return iv
}

func (e *testEnv) auditActions(t *testing.T, actions ...worktime.AuditAction) []worktime.AuditEntry {
	t.Helper()
	entries, err := e.store.QueryAudit(context.Background(), worktime.AuditFilter{Actions: actions})
	require.NoError(t, err)
	return entries
}

// countingComputer counts calls and can fail the first N of them.
type countingComputer struct {
	next     worktime.SegmentComputer
	calls    int
	failures int
	err      error
}

func (c *countingComputer) ComputeSegments(ctx context.Context, req worktime.ComputeRequest) ([]worktime.Segment, error) {
	c.calls++
	if c.failures != 0 {
		if c.failures > 0 {
			c.failures--
		}
		return nil, c.err
	}
	return c.next.ComputeSegments(ctx, req)
}

// failNext makes the next n calls fail with err; n < 0 fails forever.
func (c *countingComputer) failNext(n int, err error) {
	c.failures = n
	c.err = err
	c.calls = 0
}
