/*
Package postgres provides a PostgreSQL implementation of the worktime storage
interfaces on top of a pgx connection pool.

PURPOSE:
  Production counterpart of store/sqlite. Same tables, native column types:
  TIMESTAMPTZ instants, DATE work dates, NUMERIC hours, JSONB audit details.

TRANSACTIONS:
  WithTx begins a pgx transaction, hands a txStore bound to it to the
  callback, rolls back on error or panic and commits otherwise. Isolation
  between concurrent writers is left to PostgreSQL; there is no in-process
  mutex.

SEE ALSO:
  - worktime/store.go: Interface definitions
  - store/sqlite/sqlite.go: Embedded single-writer implementation
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/worktime"
)

// Store implements worktime.TxStore, worktime.TeamDirectory and a holiday
// calendar backed by the holidays table.
type Store struct {
	pool *pgxpool.Pool
	*txStore
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{pool: pool, txStore: &txStore{q: pool}}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	var overrideColumns strings.Builder
	for _, c := range worktime.Categories {
		fmt.Fprintf(&overrideColumns, "\t\t%s NUMERIC(10,2) NOT NULL DEFAULT 0,\n", categoryColumn(c))
	}

	schema := `
	CREATE TABLE IF NOT EXISTS work_intervals (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		clock_in_time TIMESTAMPTZ NOT NULL,
		clock_out_time TIMESTAMPTZ,
		shift_hint TEXT NOT NULL DEFAULT 'regular',
		approval_status TEXT NOT NULL DEFAULT 'pending_review',
		was_edited_by_admin BOOLEAN NOT NULL DEFAULT FALSE,
		segments_stale BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT,
		location_ref TEXT,
		photo_ref TEXT,
		approved_by TEXT,
		approved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_work_intervals_employee_clock_in
		ON work_intervals(employee_id, clock_in_time);
	CREATE INDEX IF NOT EXISTS idx_work_intervals_open
		ON work_intervals(employee_id) WHERE clock_out_time IS NULL;

	CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		interval_id TEXT NOT NULL REFERENCES work_intervals(id) ON DELETE CASCADE,
		segment_type TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		hours_decimal NUMERIC(10,2) NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_segments_interval ON segments(interval_id, start_time);

	CREATE TABLE IF NOT EXISTS daily_overrides (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		work_date DATE NOT NULL,
` + overrideColumns.String() + `		provenance TEXT NOT NULL DEFAULT 'manual',
		notes TEXT,
		updated_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (employee_id, work_date)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMPTZ NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		details JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_resource ON audit_log(resource_id, timestamp);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date DATE NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (date, name)
	);

	CREATE TABLE IF NOT EXISTS team_members (
		team_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (team_id, employee_id)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// WithTx executes fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(worktime.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&txStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback error: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteInterval removes the interval and its segments in one transaction.
func (s *Store) DeleteInterval(ctx context.Context, id worktime.IntervalID) error {
	return s.WithTx(ctx, func(tx worktime.Store) error {
		return tx.DeleteInterval(ctx, id)
	})
}

// ReplaceSegments swaps an interval's segments in one transaction.
func (s *Store) ReplaceSegments(ctx context.Context, intervalID worktime.IntervalID, segments []worktime.Segment) error {
	return s.WithTx(ctx, func(tx worktime.Store) error {
		return tx.ReplaceSegments(ctx, intervalID, segments)
	})
}

// AddTeamMember registers an employee in a team. Adding twice is a no-op.
func (s *Store) AddTeamMember(ctx context.Context, teamID worktime.TeamID, employeeID worktime.EmployeeID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO team_members (team_id, employee_id) VALUES ($1, $2)
		ON CONFLICT (team_id, employee_id) DO NOTHING`,
		string(teamID), string(employeeID))
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *Store) TeamMembers(ctx context.Context, teamID worktime.TeamID) ([]worktime.EmployeeID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT employee_id FROM team_members WHERE team_id = $1 ORDER BY employee_id`, string(teamID))
	if err != nil {
		return nil, fmt.Errorf("query team members: %w", err)
	}
	defer rows.Close()

	var members []worktime.EmployeeID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, worktime.EmployeeID(id))
	}
	return members, rows.Err()
}

// SaveHoliday inserts a holiday or updates its recurrence.
func (s *Store) SaveHoliday(ctx context.Context, h worktime.Holiday) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO holidays (id, date, name, recurring) VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, name) DO UPDATE SET recurring = EXCLUDED.recurring`,
		h.ID, h.Date.Time, h.Name, h.Recurring)
	if err != nil {
		return fmt.Errorf("save holiday: %w", err)
	}
	return nil
}

func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM holidays WHERE id = $1`, id)
	return err
}

func (s *Store) ListHolidays(ctx context.Context) ([]worktime.Holiday, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, date, name, recurring FROM holidays ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("query holidays: %w", err)
	}
	defer rows.Close()

	var holidays []worktime.Holiday
	for rows.Next() {
		var (
			h    worktime.Holiday
			date time.Time
		)
		if err := rows.Scan(&h.ID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		h.Date = worktime.NewDate(date.Year(), date.Month(), date.Day())
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStore struct {
	q querier
}

// args accumulates positional parameters and hands out $n placeholders.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func (a *args) list(vs []string) string {
	ph := make([]string, len(vs))
	for i, v := range vs {
		ph[i] = a.add(v)
	}
	return strings.Join(ph, ", ")
}

// ===== WORK INTERVALS =====

const intervalColumns = `id, employee_id, clock_in_time, clock_out_time, shift_hint, approval_status,
	was_edited_by_admin, segments_stale, notes, location_ref, photo_ref, approved_by, approved_at,
	created_at, updated_at`

func (ts *txStore) GetInterval(ctx context.Context, id worktime.IntervalID) (*worktime.WorkInterval, error) {
	iv, err := scanInterval(ts.q.QueryRow(ctx, `SELECT `+intervalColumns+` FROM work_intervals WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &worktime.NotFoundError{Resource: "work interval", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &iv, nil
}

func (ts *txStore) SaveInterval(ctx context.Context, iv worktime.WorkInterval) error {
	now := time.Now().UTC()
	createdAt, updatedAt := iv.CreatedAt, iv.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	hint := iv.ShiftHint
	if hint == "" {
		hint = worktime.CategoryRegular
	}
	status := iv.Status
	if status == "" {
		status = worktime.StatusPendingReview
	}

	_, err := ts.q.Exec(ctx, `
		INSERT INTO work_intervals (`+intervalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			employee_id = EXCLUDED.employee_id,
			clock_in_time = EXCLUDED.clock_in_time,
			clock_out_time = EXCLUDED.clock_out_time,
			shift_hint = EXCLUDED.shift_hint,
			approval_status = EXCLUDED.approval_status,
			was_edited_by_admin = EXCLUDED.was_edited_by_admin,
			segments_stale = EXCLUDED.segments_stale,
			notes = EXCLUDED.notes,
			location_ref = EXCLUDED.location_ref,
			photo_ref = EXCLUDED.photo_ref,
			approved_by = EXCLUDED.approved_by,
			approved_at = EXCLUDED.approved_at,
			updated_at = EXCLUDED.updated_at`,
		string(iv.ID),
		string(iv.EmployeeID),
		iv.Start,
		iv.End,
		string(hint),
		string(status),
		iv.EditedByAdmin,
		iv.SegmentsStale,
		nullable(iv.Notes),
		nullable(iv.LocationRef),
		nullable(iv.PhotoRef),
		iv.ApprovedBy,
		iv.ApprovedAt,
		createdAt,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("save interval: %w", err)
	}
	return nil
}

func (ts *txStore) DeleteInterval(ctx context.Context, id worktime.IntervalID) error {
	if _, err := ts.q.Exec(ctx, `DELETE FROM segments WHERE interval_id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}
	tag, err := ts.q.Exec(ctx, `DELETE FROM work_intervals WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete interval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &worktime.NotFoundError{Resource: "work interval", ID: string(id)}
	}
	return nil
}

func (ts *txStore) ListIntervals(ctx context.Context, filter worktime.IntervalFilter) ([]worktime.WorkInterval, error) {
	var (
		a     args
		where []string
	)
	if len(filter.EmployeeIDs) > 0 {
		ids := make([]string, len(filter.EmployeeIDs))
		for i, id := range filter.EmployeeIDs {
			ids[i] = string(id)
		}
		where = append(where, "employee_id IN ("+a.list(ids)+")")
	}
	if filter.StartFrom != nil {
		where = append(where, "clock_in_time >= "+a.add(*filter.StartFrom))
	}
	if filter.StartTo != nil {
		where = append(where, "clock_in_time < "+a.add(*filter.StartTo))
	}
	if filter.Status != nil {
		where = append(where, "approval_status = "+a.add(string(*filter.Status)))
	}
	if filter.OnlyClosed {
		where = append(where, "clock_out_time IS NOT NULL")
	}
	if filter.OnlyOpen {
		where = append(where, "clock_out_time IS NULL")
	}

	query := `SELECT ` + intervalColumns + ` FROM work_intervals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY clock_in_time, id"
	if filter.Limit > 0 {
		query += " LIMIT " + a.add(filter.Limit)
	}
	return ts.queryIntervals(ctx, query, a...)
}

func (ts *txStore) ListUnsegmented(ctx context.Context, limit int) ([]worktime.WorkInterval, error) {
	query := `
		SELECT ` + intervalColumns + `
		FROM work_intervals w
		WHERE w.clock_out_time IS NOT NULL
		  AND (w.segments_stale
		       OR NOT EXISTS (SELECT 1 FROM segments s WHERE s.interval_id = w.id))
		ORDER BY w.clock_in_time, w.id`
	var a args
	if limit > 0 {
		query += " LIMIT " + a.add(limit)
	}
	return ts.queryIntervals(ctx, query, a...)
}

func (ts *txStore) queryIntervals(ctx context.Context, query string, a ...any) ([]worktime.WorkInterval, error) {
	rows, err := ts.q.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("query intervals: %w", err)
	}
	defer rows.Close()

	var intervals []worktime.WorkInterval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}

func scanInterval(row pgx.Row) (worktime.WorkInterval, error) {
	var (
		iv                         worktime.WorkInterval
		id, employee, hint, status string
		notes, location, photo     *string
	)
	err := row.Scan(
		&id, &employee, &iv.Start, &iv.End, &hint, &status,
		&iv.EditedByAdmin, &iv.SegmentsStale, &notes, &location, &photo, &iv.ApprovedBy, &iv.ApprovedAt,
		&iv.CreatedAt, &iv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return iv, err
		}
		return iv, fmt.Errorf("scan interval: %w", err)
	}
	iv.ID = worktime.IntervalID(id)
	iv.EmployeeID = worktime.EmployeeID(employee)
	iv.ShiftHint = worktime.Category(hint)
	iv.Status = worktime.ApprovalStatus(status)
	iv.Notes = deref(notes)
	iv.LocationRef = deref(location)
	iv.PhotoRef = deref(photo)
	iv.Start = iv.Start.UTC()
	if iv.End != nil {
		end := iv.End.UTC()
		iv.End = &end
	}
	return iv, nil
}

// ===== SEGMENTS =====

func (ts *txStore) Segments(ctx context.Context, intervalID worktime.IntervalID) ([]worktime.Segment, error) {
	m, err := ts.SegmentsForIntervals(ctx, []worktime.IntervalID{intervalID})
	if err != nil {
		return nil, err
	}
	return m[intervalID], nil
}

func (ts *txStore) SegmentsForIntervals(ctx context.Context, ids []worktime.IntervalID) (map[worktime.IntervalID][]worktime.Segment, error) {
	result := make(map[worktime.IntervalID][]worktime.Segment, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	rows, err := ts.q.Query(ctx, `
		SELECT id, interval_id, segment_type, start_time, end_time, hours_decimal::text
		FROM segments
		WHERE interval_id = ANY($1)
		ORDER BY interval_id, start_time`, keys)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, intervalID, category, hours string
			seg                             worktime.Segment
		)
		if err := rows.Scan(&id, &intervalID, &category, &seg.Start, &seg.End, &hours); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.ID = worktime.SegmentID(id)
		seg.IntervalID = worktime.IntervalID(intervalID)
		seg.Category = worktime.Category(category)
		if !seg.Category.Valid() {
			return nil, fmt.Errorf("segment %s: %w: %q", id, worktime.ErrUnknownCategory, category)
		}
		seg.Start, seg.End = seg.Start.UTC(), seg.End.UTC()
		if seg.Hours, err = decimal.NewFromString(hours); err != nil {
			return nil, fmt.Errorf("segment %s hours: %w", id, err)
		}
		result[seg.IntervalID] = append(result[seg.IntervalID], seg)
	}
	return result, rows.Err()
}

func (ts *txStore) ReplaceSegments(ctx context.Context, intervalID worktime.IntervalID, segments []worktime.Segment) error {
	var exists bool
	if err := ts.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM work_intervals WHERE id = $1)`, string(intervalID)).Scan(&exists); err != nil {
		return fmt.Errorf("check interval: %w", err)
	}
	if !exists {
		return &worktime.NotFoundError{Resource: "work interval", ID: string(intervalID)}
	}

	if _, err := ts.q.Exec(ctx, `DELETE FROM segments WHERE interval_id = $1`, string(intervalID)); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}
	for _, seg := range segments {
		if _, err := ts.q.Exec(ctx, `
			INSERT INTO segments (id, interval_id, segment_type, start_time, end_time, hours_decimal)
			VALUES ($1, $2, $3, $4, $5, $6::numeric)`,
			string(seg.ID), string(intervalID), string(seg.Category), seg.Start, seg.End, seg.Hours.String(),
		); err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
	}
	return nil
}

// ===== DAILY OVERRIDES =====

func categoryColumn(c worktime.Category) string {
	return "hours_" + string(c)
}

func overrideSelect() string {
	cols := []string{"id", "employee_id", "work_date"}
	for _, c := range worktime.Categories {
		cols = append(cols, categoryColumn(c)+"::text")
	}
	cols = append(cols, "provenance", "notes", "updated_by", "created_at", "updated_at")
	return "SELECT " + strings.Join(cols, ", ") + " FROM daily_overrides"
}

func (ts *txStore) GetOverride(ctx context.Context, employeeID worktime.EmployeeID, date worktime.Date) (*worktime.DailyOverride, error) {
	o, err := scanOverride(ts.q.QueryRow(ctx,
		overrideSelect()+` WHERE employee_id = $1 AND work_date = $2`, string(employeeID), date.Time))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (ts *txStore) SaveOverride(ctx context.Context, o worktime.DailyOverride) error {
	if o.ID == "" {
		o.ID = worktime.OverrideID(uuid.NewString())
	}
	provenance := o.Provenance
	if provenance == "" {
		provenance = worktime.ProvenanceManual
	}
	now := time.Now().UTC()
	createdAt, updatedAt := o.CreatedAt, o.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	var a args
	cols := []string{"id", "employee_id", "work_date"}
	vals := []string{a.add(string(o.ID)), a.add(string(o.EmployeeID)), a.add(o.Date.Time)}
	var updates []string
	for _, c := range worktime.Categories {
		col := categoryColumn(c)
		cols = append(cols, col)
		vals = append(vals, a.add(o.Values.Get(c).String())+"::numeric")
		updates = append(updates, col+" = EXCLUDED."+col)
	}
	cols = append(cols, "provenance", "notes", "updated_by", "created_at", "updated_at")
	vals = append(vals,
		a.add(string(provenance)), a.add(nullable(o.Notes)), a.add(nullable(o.UpdatedBy)),
		a.add(createdAt), a.add(updatedAt))

	query := `INSERT INTO daily_overrides (` + strings.Join(cols, ", ") + `)
		VALUES (` + strings.Join(vals, ", ") + `)
		ON CONFLICT (employee_id, work_date) DO UPDATE SET
			` + strings.Join(updates, ", ") + `,
			provenance = EXCLUDED.provenance,
			notes = EXCLUDED.notes,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`

	if _, err := ts.q.Exec(ctx, query, a...); err != nil {
		return fmt.Errorf("save override: %w", err)
	}
	return nil
}

func (ts *txStore) DeleteOverride(ctx context.Context, employeeID worktime.EmployeeID, date worktime.Date) (bool, error) {
	tag, err := ts.q.Exec(ctx,
		`DELETE FROM daily_overrides WHERE employee_id = $1 AND work_date = $2`, string(employeeID), date.Time)
	if err != nil {
		return false, fmt.Errorf("delete override: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (ts *txStore) ListOverrides(ctx context.Context, employeeID worktime.EmployeeID, period worktime.Period) ([]worktime.DailyOverride, error) {
	rows, err := ts.q.Query(ctx,
		overrideSelect()+` WHERE employee_id = $1 AND work_date BETWEEN $2 AND $3 ORDER BY work_date`,
		string(employeeID), period.Start.Time, period.End.Time)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []worktime.DailyOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

func scanOverride(row pgx.Row) (worktime.DailyOverride, error) {
	var (
		o                        worktime.DailyOverride
		id, employee, provenance string
		workDate                 time.Time
		notes, updatedBy         *string
	)
	values := make([]string, len(worktime.Categories))
	dest := []any{&id, &employee, &workDate}
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &provenance, &notes, &updatedBy, &o.CreatedAt, &o.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("scan override: %w", err)
	}

	o.ID = worktime.OverrideID(id)
	o.EmployeeID = worktime.EmployeeID(employee)
	o.Date = worktime.NewDate(workDate.Year(), workDate.Month(), workDate.Day())
	o.Provenance = worktime.Provenance(provenance)
	o.Notes = deref(notes)
	o.UpdatedBy = deref(updatedBy)
	o.Values = worktime.NewCategoryTotals()
	for i, c := range worktime.Categories {
		v, err := decimal.NewFromString(values[i])
		if err != nil {
			return o, fmt.Errorf("override %s %s: %w", id, c, err)
		}
		o.Values[c] = v
	}
	return o, nil
}

// ===== AUDIT LOG =====

func (ts *txStore) AppendAudit(ctx context.Context, entry worktime.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = ts.q.Exec(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, resource_type, resource_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
		entry.ID, entry.Timestamp, entry.ActorID, string(entry.Action),
		entry.ResourceType, entry.ResourceID, string(details))
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (ts *txStore) QueryAudit(ctx context.Context, filter worktime.AuditFilter) ([]worktime.AuditEntry, error) {
	var (
		a     args
		where []string
	)
	if filter.ResourceID != nil {
		where = append(where, "resource_id = "+a.add(*filter.ResourceID))
	}
	if filter.ActorID != nil {
		where = append(where, "actor_id = "+a.add(*filter.ActorID))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, act := range filter.Actions {
			actions[i] = string(act)
		}
		where = append(where, "action IN ("+a.list(actions)+")")
	}
	if filter.From != nil {
		where = append(where, "timestamp >= "+a.add(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "timestamp <= "+a.add(*filter.To))
	}

	query := `SELECT id, timestamp, actor_id, action, resource_type, resource_id, details::text FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp, seq"

	rows, err := ts.q.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []worktime.AuditEntry
	for rows.Next() {
		var (
			e       worktime.AuditEntry
			action  string
			details *string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &action, &e.ResourceType, &e.ResourceID, &details); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = worktime.AuditAction(action)
		e.Timestamp = e.Timestamp.UTC()
		if details != nil {
			if err := json.Unmarshal([]byte(*details), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ worktime.TxStore       = (*Store)(nil)
	_ worktime.TeamDirectory = (*Store)(nil)
	_ worktime.HolidaySource = (*Store)(nil)
)
