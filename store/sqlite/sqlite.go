/*
Package sqlite provides a SQLite-backed implementation of the worktime storage
interfaces.

PURPOSE:
  Implements worktime.TxStore (intervals, segments, overrides, audit log),
  worktime.TeamDirectory and a persisted holiday calendar using SQLite. The
  PostgreSQL store in store/postgres follows the same contract.

KEY TABLES:
  work_intervals:  Clock-in/clock-out pairs with approval status and stale flag
  segments:        Categorized slices of an interval (FK, cascade on delete)
  daily_overrides: One row per (employee, work_date), one column per category
  audit_log:       Append-only record of mutations, details as JSON
  holidays:        Fixed and recurring (month/day) holidays
  team_members:    Team membership for batch operations

ATOMIC SEGMENT REPLACEMENT:
  ReplaceSegments deletes and re-inserts an interval's segments inside one
  SQL transaction; readers never see an interval with zero segments.

TIMESTAMPS:
  Instants are stored as fixed-width UTC text (timeLayout) so string order
  equals time order. Dates are stored as YYYY-MM-DD.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so
  ":memory:" databases are shared by every query and SQLite has exactly one
  writer. With PostgreSQL, database-level concurrency control handles this
  instead.

USAGE:
  store, err := sqlite.New("./data/worktime.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - worktime/store.go: Interface definitions
  - worktime/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/worktime-engine/worktime"
)

const (
	timeLayout = "2006-01-02T15:04:05.000000Z"
	dateLayout = "2006-01-02"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	base *txStore
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, base: &txStore{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	var overrideColumns strings.Builder
	for _, c := range worktime.Categories {
		fmt.Fprintf(&overrideColumns, "\t\t%s TEXT NOT NULL DEFAULT '0',\n", categoryColumn(c))
	}

	schema := `
	-- Work intervals
	CREATE TABLE IF NOT EXISTS work_intervals (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		clock_in_time TEXT NOT NULL,
		clock_out_time TEXT,
		shift_hint TEXT NOT NULL DEFAULT 'regular',
		approval_status TEXT NOT NULL DEFAULT 'pending_review',
		was_edited_by_admin BOOLEAN NOT NULL DEFAULT FALSE,
		segments_stale BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT,
		location_ref TEXT,
		photo_ref TEXT,
		approved_by TEXT,
		approved_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Day and range reads (hot path)
	CREATE INDEX IF NOT EXISTS idx_work_intervals_employee_clock_in
		ON work_intervals(employee_id, clock_in_time);

	-- Open interval lookup on clock-in
	CREATE INDEX IF NOT EXISTS idx_work_intervals_open
		ON work_intervals(employee_id) WHERE clock_out_time IS NULL;

	-- Segments
	CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		interval_id TEXT NOT NULL REFERENCES work_intervals(id) ON DELETE CASCADE,
		segment_type TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		hours_decimal TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_segments_interval
		ON segments(interval_id, start_time);

	-- Daily overrides, one numeric column per category
	CREATE TABLE IF NOT EXISTS daily_overrides (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
` + overrideColumns.String() + `		provenance TEXT NOT NULL DEFAULT 'manual',
		notes TEXT,
		updated_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, work_date)
	);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		details_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_resource
		ON audit_log(resource_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp
		ON audit_log(timestamp);

	-- Holidays
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL,
		UNIQUE(date, name)
	);

	-- Team directory
	CREATE TABLE IF NOT EXISTS team_members (
		team_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (team_id, employee_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ACCESSORS (worktime.Store interface)
// =============================================================================

func (s *Store) GetInterval(ctx context.Context, id worktime.IntervalID) (*worktime.WorkInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.GetInterval(ctx, id)
}

func (s *Store) SaveInterval(ctx context.Context, iv worktime.WorkInterval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.SaveInterval(ctx, iv)
}

// DeleteInterval removes the interval and its segments atomically.
func (s *Store) DeleteInterval(ctx context.Context, id worktime.IntervalID) error {
	return s.WithTx(ctx, func(tx worktime.Store) error {
		return tx.DeleteInterval(ctx, id)
	})
}

func (s *Store) ListIntervals(ctx context.Context, filter worktime.IntervalFilter) ([]worktime.WorkInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.ListIntervals(ctx, filter)
}

func (s *Store) ListUnsegmented(ctx context.Context, limit int) ([]worktime.WorkInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.ListUnsegmented(ctx, limit)
}

func (s *Store) Segments(ctx context.Context, intervalID worktime.IntervalID) ([]worktime.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.Segments(ctx, intervalID)
}

func (s *Store) SegmentsForIntervals(ctx context.Context, ids []worktime.IntervalID) (map[worktime.IntervalID][]worktime.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.SegmentsForIntervals(ctx, ids)
}

// ReplaceSegments deletes and re-inserts the interval's segments in one transaction.
func (s *Store) ReplaceSegments(ctx context.Context, intervalID worktime.IntervalID, segments []worktime.Segment) error {
	return s.WithTx(ctx, func(tx worktime.Store) error {
		return tx.ReplaceSegments(ctx, intervalID, segments)
	})
}

func (s *Store) GetOverride(ctx context.Context, employeeID worktime.EmployeeID, date worktime.Date) (*worktime.DailyOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.GetOverride(ctx, employeeID, date)
}

func (s *Store) SaveOverride(ctx context.Context, o worktime.DailyOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.SaveOverride(ctx, o)
}

func (s *Store) DeleteOverride(ctx context.Context, employeeID worktime.EmployeeID, date worktime.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.DeleteOverride(ctx, employeeID, date)
}

func (s *Store) ListOverrides(ctx context.Context, employeeID worktime.EmployeeID, period worktime.Period) ([]worktime.DailyOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.ListOverrides(ctx, employeeID, period)
}

func (s *Store) AppendAudit(ctx context.Context, entry worktime.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.AppendAudit(ctx, entry)
}

func (s *Store) QueryAudit(ctx context.Context, filter worktime.AuditFilter) ([]worktime.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.QueryAudit(ctx, filter)
}

// =============================================================================
// TRANSACTIONAL STORE (worktime.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store worktime.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txStore runs every query on one querier without locking. The Store uses it
// on the pool under its mutex; WithTx hands it out bound to a *sql.Tx.
type txStore struct {
	db querier
}

// =============================================================================
// WORK INTERVALS
// =============================================================================

const intervalColumns = `id, employee_id, clock_in_time, clock_out_time, shift_hint, approval_status,
	was_edited_by_admin, segments_stale, notes, location_ref, photo_ref, approved_by, approved_at,
	created_at, updated_at`

func (ts *txStore) GetInterval(ctx context.Context, id worktime.IntervalID) (*worktime.WorkInterval, error) {
	row := ts.db.QueryRowContext(ctx, `SELECT `+intervalColumns+` FROM work_intervals WHERE id = ?`, id)
	iv, err := scanInterval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &worktime.NotFoundError{Resource: "work interval", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &iv, nil
}

func (ts *txStore) SaveInterval(ctx context.Context, iv worktime.WorkInterval) error {
	query := `
		INSERT INTO work_intervals (` + intervalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			clock_in_time = excluded.clock_in_time,
			clock_out_time = excluded.clock_out_time,
			shift_hint = excluded.shift_hint,
			approval_status = excluded.approval_status,
			was_edited_by_admin = excluded.was_edited_by_admin,
			segments_stale = excluded.segments_stale,
			notes = excluded.notes,
			location_ref = excluded.location_ref,
			photo_ref = excluded.photo_ref,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			updated_at = excluded.updated_at
	`

	createdAt, updatedAt := iv.CreatedAt, iv.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
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

	_, err := ts.db.ExecContext(ctx, query,
		iv.ID,
		iv.EmployeeID,
		formatTime(iv.Start),
		nullTime(iv.End),
		hint,
		status,
		iv.EditedByAdmin,
		iv.SegmentsStale,
		nullString(iv.Notes),
		nullString(iv.LocationRef),
		nullString(iv.PhotoRef),
		nullStringPtr(iv.ApprovedBy),
		nullTime(iv.ApprovedAt),
		formatTime(createdAt),
		formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save interval: %w", err)
	}
	return nil
}

func (ts *txStore) DeleteInterval(ctx context.Context, id worktime.IntervalID) error {
	if _, err := ts.db.ExecContext(ctx, "DELETE FROM segments WHERE interval_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete segments: %w", err)
	}
	res, err := ts.db.ExecContext(ctx, "DELETE FROM work_intervals WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete interval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &worktime.NotFoundError{Resource: "work interval", ID: string(id)}
	}
	return nil
}

func (ts *txStore) ListIntervals(ctx context.Context, filter worktime.IntervalFilter) ([]worktime.WorkInterval, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.EmployeeIDs) > 0 {
		where = append(where, "employee_id IN ("+placeholders(len(filter.EmployeeIDs))+")")
		for _, id := range filter.EmployeeIDs {
			args = append(args, id)
		}
	}
	if filter.StartFrom != nil {
		where = append(where, "clock_in_time >= ?")
		args = append(args, formatTime(*filter.StartFrom))
	}
	if filter.StartTo != nil {
		where = append(where, "clock_in_time < ?")
		args = append(args, formatTime(*filter.StartTo))
	}
	if filter.Status != nil {
		where = append(where, "approval_status = ?")
		args = append(args, *filter.Status)
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
	query += " ORDER BY clock_in_time ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return ts.queryIntervals(ctx, query, args...)
}

func (ts *txStore) ListUnsegmented(ctx context.Context, limit int) ([]worktime.WorkInterval, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT ` + intervalColumns + `
		FROM work_intervals w
		WHERE w.clock_out_time IS NOT NULL
		  AND (w.segments_stale = TRUE
		       OR NOT EXISTS (SELECT 1 FROM segments s WHERE s.interval_id = w.id))
		ORDER BY w.clock_in_time ASC, w.id ASC
		LIMIT ?
	`
	return ts.queryIntervals(ctx, query, limit)
}

func (ts *txStore) queryIntervals(ctx context.Context, query string, args ...any) ([]worktime.WorkInterval, error) {
	rows, err := ts.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query intervals: %w", err)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanInterval(row scanner) (worktime.WorkInterval, error) {
	var (
		iv         worktime.WorkInterval
		clockIn    string
		clockOut   sql.NullString
		notes      sql.NullString
		location   sql.NullString
		photo      sql.NullString
		approvedBy sql.NullString
		approvedAt sql.NullString
		createdAt  string
		updatedAt  string
	)

	err := row.Scan(
		&iv.ID, &iv.EmployeeID, &clockIn, &clockOut, &iv.ShiftHint, &iv.Status,
		&iv.EditedByAdmin, &iv.SegmentsStale, &notes, &location, &photo, &approvedBy, &approvedAt,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return iv, err
	}
	if err != nil {
		return iv, fmt.Errorf("failed to scan interval: %w", err)
	}

	iv.Start = parseTime(clockIn)
	iv.End = parseNullTime(clockOut)
	iv.Notes = notes.String
	iv.LocationRef = location.String
	iv.PhotoRef = photo.String
	if approvedBy.Valid {
		by := approvedBy.String
		iv.ApprovedBy = &by
	}
	iv.ApprovedAt = parseNullTime(approvedAt)
	iv.CreatedAt = parseTime(createdAt)
	iv.UpdatedAt = parseTime(updatedAt)
	return iv, nil
}

// =============================================================================
// SEGMENTS
// =============================================================================

func (ts *txStore) Segments(ctx context.Context, intervalID worktime.IntervalID) ([]worktime.Segment, error) {
	byInterval, err := ts.SegmentsForIntervals(ctx, []worktime.IntervalID{intervalID})
	if err != nil {
		return nil, err
	}
	return byInterval[intervalID], nil
}

func (ts *txStore) SegmentsForIntervals(ctx context.Context, ids []worktime.IntervalID) (map[worktime.IntervalID][]worktime.Segment, error) {
	result := make(map[worktime.IntervalID][]worktime.Segment, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `
		SELECT id, interval_id, segment_type, start_time, end_time, hours_decimal
		FROM segments
		WHERE interval_id IN (` + placeholders(len(ids)) + `)
		ORDER BY interval_id ASC, start_time ASC
	`

	rows, err := ts.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seg        worktime.Segment
			start, end string
			hours      string
		)
		if err := rows.Scan(&seg.ID, &seg.IntervalID, &seg.Category, &start, &end, &hours); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		if !seg.Category.Valid() {
			return nil, fmt.Errorf("segment %s: %w: %q", seg.ID, worktime.ErrUnknownCategory, seg.Category)
		}
		seg.Start = parseTime(start)
		seg.End = parseTime(end)
		seg.Hours = parseDecimal(hours)
		result[seg.IntervalID] = append(result[seg.IntervalID], seg)
	}
	return result, rows.Err()
}

func (ts *txStore) ReplaceSegments(ctx context.Context, intervalID worktime.IntervalID, segments []worktime.Segment) error {
	var exists int
	err := ts.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM work_intervals WHERE id = ?", intervalID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check interval: %w", err)
	}
	if exists == 0 {
		return &worktime.NotFoundError{Resource: "work interval", ID: string(intervalID)}
	}

	if _, err := ts.db.ExecContext(ctx, "DELETE FROM segments WHERE interval_id = ?", intervalID); err != nil {
		return fmt.Errorf("failed to delete segments: %w", err)
	}

	query := `
		INSERT INTO segments (id, interval_id, segment_type, start_time, end_time, hours_decimal)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, seg := range segments {
		if _, err := ts.db.ExecContext(ctx, query,
			seg.ID,
			intervalID,
			seg.Category,
			formatTime(seg.Start),
			formatTime(seg.End),
			seg.Hours.String(),
		); err != nil {
			return fmt.Errorf("failed to insert segment: %w", err)
		}
	}
	return nil
}

// =============================================================================
// DAILY OVERRIDES
// =============================================================================

func categoryColumn(c worktime.Category) string {
	return "hours_" + string(c)
}

func overrideColumns() string {
	cols := []string{"id", "employee_id", "work_date"}
	for _, c := range worktime.Categories {
		cols = append(cols, categoryColumn(c))
	}
	cols = append(cols, "provenance", "notes", "updated_by", "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

func (ts *txStore) GetOverride(ctx context.Context, employeeID worktime.EmployeeID, date worktime.Date) (*worktime.DailyOverride, error) {
	query := `SELECT ` + overrideColumns() + ` FROM daily_overrides WHERE employee_id = ? AND work_date = ?`
	o, err := scanOverride(ts.db.QueryRowContext(ctx, query, employeeID, date.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (ts *txStore) SaveOverride(ctx context.Context, o worktime.DailyOverride) error {
	n := 3 + len(worktime.Categories) + 5
	var updates []string
	for _, c := range worktime.Categories {
		col := categoryColumn(c)
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	query := `
		INSERT INTO daily_overrides (` + overrideColumns() + `)
		VALUES (` + placeholders(n) + `)
		ON CONFLICT(employee_id, work_date) DO UPDATE SET
			` + strings.Join(updates, ",\n\t\t\t") + `,
			provenance = excluded.provenance,
			notes = excluded.notes,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`

	createdAt, updatedAt := o.CreatedAt, o.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	provenance := o.Provenance
	if provenance == "" {
		provenance = worktime.ProvenanceManual
	}
	if o.ID == "" {
		o.ID = worktime.OverrideID(uuid.NewString())
	}

	args := []any{o.ID, o.EmployeeID, o.Date.String()}
	for _, c := range worktime.Categories {
		args = append(args, o.Values.Get(c).String())
	}
	args = append(args, provenance, nullString(o.Notes), nullString(o.UpdatedBy), formatTime(createdAt), formatTime(updatedAt))

	if _, err := ts.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save override: %w", err)
	}
	return nil
}

func (ts *txStore) DeleteOverride(ctx context.Context, employeeID worktime.EmployeeID, date worktime.Date) (bool, error) {
	res, err := ts.db.ExecContext(ctx,
		"DELETE FROM daily_overrides WHERE employee_id = ? AND work_date = ?",
		employeeID, date.String())
	if err != nil {
		return false, fmt.Errorf("failed to delete override: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (ts *txStore) ListOverrides(ctx context.Context, employeeID worktime.EmployeeID, period worktime.Period) ([]worktime.DailyOverride, error) {
	query := `
		SELECT ` + overrideColumns() + `
		FROM daily_overrides
		WHERE employee_id = ? AND work_date >= ? AND work_date <= ?
		ORDER BY work_date ASC
	`
	rows, err := ts.db.QueryContext(ctx, query, employeeID, period.Start.String(), period.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
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

func scanOverride(row scanner) (worktime.DailyOverride, error) {
	var (
		o         worktime.DailyOverride
		workDate  string
		notes     sql.NullString
		updatedBy sql.NullString
		createdAt string
		updatedAt string
	)
	values := make([]string, len(worktime.Categories))

	dest := []any{&o.ID, &o.EmployeeID, &workDate}
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &o.Provenance, &notes, &updatedBy, &createdAt, &updatedAt)

	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return o, err
	}
	if err != nil {
		return o, fmt.Errorf("failed to scan override: %w", err)
	}

	o.Date, err = worktime.ParseDate(workDate)
	if err != nil {
		return o, err
	}
	o.Values = worktime.NewCategoryTotals()
	for i, c := range worktime.Categories {
		o.Values[c] = parseDecimal(values[i])
	}
	o.Notes = notes.String
	o.UpdatedBy = updatedBy.String
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (ts *txStore) AppendAudit(ctx context.Context, entry worktime.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	_, err = ts.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, resource_type, resource_id, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		formatTime(entry.Timestamp),
		entry.ActorID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		string(details),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (ts *txStore) QueryAudit(ctx context.Context, filter worktime.AuditFilter) ([]worktime.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.ResourceID != nil {
		where = append(where, "resource_id = ?")
		args = append(args, *filter.ResourceID)
	}
	if filter.ActorID != nil {
		where = append(where, "actor_id = ?")
		args = append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		where = append(where, "action IN ("+placeholders(len(filter.Actions))+")")
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	if filter.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTime(*filter.To))
	}

	query := `SELECT id, timestamp, actor_id, action, resource_type, resource_id, details_json FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC, rowid ASC"

	rows, err := ts.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []worktime.AuditEntry
	for rows.Next() {
		var (
			e         worktime.AuditEntry
			timestamp string
			details   sql.NullString
		)
		if err := rows.Scan(&e.ID, &timestamp, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(timestamp)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TEAM DIRECTORY (worktime.TeamDirectory interface)
// =============================================================================

// AddTeamMember registers an employee in a team. Adding twice is a no-op.
func (s *Store) AddTeamMember(ctx context.Context, teamID worktime.TeamID, employeeID worktime.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, employee_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(team_id, employee_id) DO NOTHING`,
		teamID, employeeID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// RemoveTeamMember removes an employee from a team.
func (s *Store) RemoveTeamMember(ctx context.Context, teamID worktime.TeamID, employeeID worktime.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM team_members WHERE team_id = ? AND employee_id = ?", teamID, employeeID)
	return err
}

func (s *Store) TeamMembers(ctx context.Context, teamID worktime.TeamID) ([]worktime.EmployeeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT employee_id FROM team_members WHERE team_id = ? ORDER BY employee_id ASC", teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query team members: %w", err)
	}
	defer rows.Close()

	var members []worktime.EmployeeID
	for rows.Next() {
		var id worktime.EmployeeID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// =============================================================================
// HOLIDAY CALENDAR IMPLEMENTATION
// =============================================================================

// SaveHoliday saves a holiday to the database.
func (s *Store) SaveHoliday(ctx context.Context, h worktime.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, name) DO UPDATE SET
			recurring = excluded.recurring
	`

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.Date.Format(dateLayout),
		h.Name,
		h.Recurring,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	return nil
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	return err
}

// ListHolidays returns every stored holiday ordered by date.
func (s *Store) ListHolidays(ctx context.Context) ([]worktime.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, date, name, recurring FROM holidays ORDER BY date ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var holidays []worktime.Holiday
	for rows.Next() {
		var (
			h       worktime.Holiday
			dateStr string
		)
		if err := rows.Scan(&h.ID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		if h.Date, err = worktime.ParseDate(dateStr); err != nil {
			return nil, err
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var (
	_ worktime.TxStore       = (*Store)(nil)
	_ worktime.TeamDirectory = (*Store)(nil)
	_ worktime.HolidaySource = (*Store)(nil)
)
