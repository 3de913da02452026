/*
Package sqlite provides a SQLite-backed implementation of attendance.Store.

PURPOSE:
  Persists day records as one row per (employee_id, work_date) and keeps
  the audit trail the HTTP layer records through the engine's audit hook.
  This is the default deployment store; store/postgres is the same contract
  on PostgreSQL.

KEY TABLES:
  day_records: Punch state, primary key (employee_id, work_date)
  punch_audit: Append-only log of engine audit events

ATOMIC CHECK-AND-SET:
  UpdateDay runs inside an IMMEDIATE transaction (_txlock=immediate), so
  the write lock is taken before the row is read. The upsert is further
  guarded by the row version; a lost race surfaces as
  ErrConcurrentModification instead of a silent overwrite.

CONCURRENCY:
  Uses sync.RWMutex for in-process serialization on top of SQLite's own
  locking. In-memory databases are pinned to one connection, since every
  new connection to ":memory:" opens a fresh, empty database.

WAL MODE:
  File databases are opened with WAL so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := attendance.NewEngine(store, schedule)

SEE ALSO:
  - attendance/store.go: Interface definition
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/attendance-engine/attendance"
)

// ErrConcurrentModification is returned when a guarded upsert finds the row
// changed since it was read.
var ErrConcurrentModification = errors.New("day record modified concurrently")

// Store implements attendance.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ attendance.Store      = (*Store)(nil)
	_ attendance.AuditStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

const connParams = "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"

// dsn appends the connection parameters to dbPath, which may be a plain
// path or a file: URI that already carries a query.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + connParams
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- One row per employee and calendar date
	CREATE TABLE IF NOT EXISTS day_records (
		employee_id INTEGER NOT NULL,
		work_date TEXT NOT NULL,
		am_in TEXT,
		am_out TEXT,
		pm_in TEXT,
		pm_out TEXT,
		ot_in TEXT,
		ot_out TEXT,
		ot_allowed BOOLEAN NOT NULL DEFAULT FALSE,
		paid BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, work_date),
		CHECK (am_out IS NULL OR (am_in IS NOT NULL AND am_out >= am_in)),
		CHECK (pm_out IS NULL OR (pm_in IS NOT NULL AND pm_out >= pm_in)),
		CHECK (ot_out IS NULL OR (ot_in IS NOT NULL AND ot_out >= ot_in))
	);

	-- For payroll range queries
	CREATE INDEX IF NOT EXISTS idx_day_records_paid
		ON day_records(employee_id, paid, work_date);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS punch_audit (
		id TEXT PRIMARY KEY,
		employee_id INTEGER NOT NULL,
		work_date TEXT NOT NULL,
		action TEXT NOT NULL,
		slots TEXT,
		actor_id TEXT NOT NULL,
		source TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_punch_audit_day
		ON punch_audit(employee_id, work_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DAY RECORDS (attendance.Store interface)
// =============================================================================

const dayColumns = `employee_id, work_date, am_in, am_out, pm_in, pm_out, ot_in, ot_out,
	ot_allowed, paid, version, updated_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LoadDay returns the record for key, or nil when none exists.
func (s *Store) LoadDay(ctx context.Context, key attendance.DayKey) (*attendance.DayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, found, err := s.loadDay(ctx, s.db, key)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) loadDay(ctx context.Context, q queryer, key attendance.DayKey) (attendance.DayRecord, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+dayColumns+` FROM day_records WHERE employee_id = ? AND work_date = ?`,
		key.EmployeeID, key.WorkDate.String())

	rec, err := scanDay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.DayRecord{}, false, nil
	}
	if err != nil {
		return attendance.DayRecord{}, false, fmt.Errorf("failed to load day %s: %w", key, err)
	}
	return rec, true, nil
}

// SaveDay inserts or replaces a record unconditionally.
func (s *Store) SaveDay(ctx context.Context, rec attendance.DayRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO day_records (` + dayColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(employee_id, work_date) DO UPDATE SET
			am_in = excluded.am_in,
			am_out = excluded.am_out,
			pm_in = excluded.pm_in,
			pm_out = excluded.pm_out,
			ot_in = excluded.ot_in,
			ot_out = excluded.ot_out,
			ot_allowed = excluded.ot_allowed,
			paid = excluded.paid,
			version = day_records.version + 1,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, dayArgs(rec, time.Now())...); err != nil {
		return fmt.Errorf("failed to save day %s: %w", rec.Key(), err)
	}
	return nil
}

// LoadRange returns the records of an employee in [from, to] ordered by date.
func (s *Store) LoadRange(ctx context.Context, employeeID int64, from, to attendance.Date) ([]attendance.DayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dayColumns+` FROM day_records
		 WHERE employee_id = ? AND work_date >= ? AND work_date <= ?
		 ORDER BY work_date ASC`,
		employeeID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query day records: %w", err)
	}
	defer rows.Close()

	var records []attendance.DayRecord
	for rows.Next() {
		rec, err := scanDay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan day record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateDay performs the atomic check-and-set described in the package doc.
func (s *Store) UpdateDay(ctx context.Context, key attendance.DayKey, fn attendance.UpdateFunc) (attendance.DayRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.DayRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	rec, found, err := s.loadDay(ctx, sqlTx, key)
	if err != nil {
		return attendance.DayRecord{}, err
	}
	if !found {
		rec = attendance.NewDayRecord(key)
	}

	changed, err := fn(&rec)
	if err != nil {
		return attendance.DayRecord{}, err
	}
	if !changed {
		return rec, nil
	}

	now := time.Now()
	query := `
		INSERT INTO day_records (` + dayColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, work_date) DO UPDATE SET
			am_in = excluded.am_in,
			am_out = excluded.am_out,
			pm_in = excluded.pm_in,
			pm_out = excluded.pm_out,
			ot_in = excluded.ot_in,
			ot_out = excluded.ot_out,
			ot_allowed = excluded.ot_allowed,
			paid = excluded.paid,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE day_records.version = excluded.version - 1
	`
	args := dayArgs(rec, now)
	args = append(args[:10], rec.Version+1, now.UTC().Format(time.RFC3339))
	res, err := sqlTx.ExecContext(ctx, query, args...)
	if err != nil {
		return attendance.DayRecord{}, fmt.Errorf("failed to save day %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return attendance.DayRecord{}, ErrConcurrentModification
	}

	if err := sqlTx.Commit(); err != nil {
		return attendance.DayRecord{}, fmt.Errorf("failed to commit day %s: %w", key, err)
	}
	rec.Version++
	rec.UpdatedAt = now.UTC().Truncate(time.Second)
	return rec, nil
}

// dayArgs returns the column values in dayColumns order, with the version
// placeholder omitted (the caller's query supplies it).
func dayArgs(rec attendance.DayRecord, now time.Time) []any {
	args := []any{rec.EmployeeID, rec.WorkDate.String()}
	for _, slot := range attendance.AllSlots {
		args = append(args, slotValue(rec, slot))
	}
	return append(args, rec.OTAllowed, rec.Paid, now.UTC().Format(time.RFC3339))
}

func slotValue(rec attendance.DayRecord, slot attendance.Slot) sql.NullString {
	t, ok := rec.Get(slot)
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: t.String(), Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDay(sc scanner) (attendance.DayRecord, error) {
	var (
		rec       attendance.DayRecord
		workDate  string
		slots     [6]sql.NullString
		updatedAt string
	)
	err := sc.Scan(&rec.EmployeeID, &workDate,
		&slots[0], &slots[1], &slots[2], &slots[3], &slots[4], &slots[5],
		&rec.OTAllowed, &rec.Paid, &rec.Version, &updatedAt)
	if err != nil {
		return rec, err
	}

	if rec.WorkDate, err = attendance.ParseDate(workDate); err != nil {
		return rec, err
	}
	for i, ns := range slots {
		if !ns.Valid {
			continue
		}
		t, err := attendance.ParseTimeOfDay(ns.String)
		if err != nil {
			return rec, err
		}
		setSlot(&rec, attendance.AllSlots[i], t)
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return rec, nil
}

// setSlot assigns a stored punch without going through the state machine.
func setSlot(rec *attendance.DayRecord, slot attendance.Slot, t attendance.TimeOfDay) {
	switch slot {
	case attendance.AmIn:
		rec.AmIn = &t
	case attendance.AmOut:
		rec.AmOut = &t
	case attendance.PmIn:
		rec.PmIn = &t
	case attendance.PmOut:
		rec.PmOut = &t
	case attendance.OtIn:
		rec.OtIn = &t
	case attendance.OtOut:
		rec.OtOut = &t
	}
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AppendAudit appends an audit record. Records are never updated.
func (s *Store) AppendAudit(ctx context.Context, r attendance.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO punch_audit (id, employee_id, work_date, action, slots, actor_id, source, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EmployeeID, r.WorkDate.String(), r.Action, strings.Join(r.Slots, ","),
		r.ActorID, nullString(r.Source), r.At.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// AuditTrail returns the audit records of one day, oldest first.
func (s *Store) AuditTrail(ctx context.Context, key attendance.DayKey) ([]attendance.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, work_date, action, slots, actor_id, source, at
		FROM punch_audit
		WHERE employee_id = ? AND work_date = ?
		ORDER BY at ASC, rowid ASC`,
		key.EmployeeID, key.WorkDate.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var out []attendance.AuditRecord
	for rows.Next() {
		var (
			r        attendance.AuditRecord
			workDate string
			slots    sql.NullString
			source   sql.NullString
			at       string
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &workDate, &r.Action, &slots, &r.ActorID, &source, &at); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		r.WorkDate, _ = attendance.ParseDate(workDate)
		if slots.String != "" {
			r.Slots = strings.Split(slots.String, ",")
		}
		r.Source = source.String
		r.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reset deletes all data. Used by tests and demo tooling only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM day_records; DELETE FROM punch_audit;`)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
