/*
store.go - Storage port for day records

PURPOSE:
  Defines the interface between the punch engine and the database. The
  engine owns the DayRecord shape; stores persist it as one row per
  (employee, date).

ATOMIC CHECK-AND-SET:
  Every punch evaluates its preconditions and writes in one step. A plain
  LoadDay/SaveDay pair is not enough: two submissions of the same form
  could both see an empty slot. UpdateDay runs the check and the write
  under the store's own serialization (mutex, immediate transaction or
  row lock), so exactly one of two concurrent punches of a slot wins.

AUDIT TRAIL:
  AuditStore is the optional append-only log of AuditEvents. Both SQL
  stores implement it; the memory store does not.

IMPLEMENTATIONS:
  - attendance/store/memory.go: In-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite (default deployment)
  - store/postgres/postgres.go: PostgreSQL via gorm
*/
package attendance

import (
	"context"
	"time"
)

// Store persists day records.
type Store interface {
	// LoadDay returns the record for key, or nil when none exists.
	LoadDay(ctx context.Context, key DayKey) (*DayRecord, error)

	// SaveDay inserts or replaces a record.
	SaveDay(ctx context.Context, rec DayRecord) error

	// LoadRange returns the stored records of an employee in [from, to],
	// ordered by date. Days without a record are omitted.
	LoadRange(ctx context.Context, employeeID int64, from, to Date) ([]DayRecord, error)

	// UpdateDay atomically loads the record for key (a fresh empty record
	// when absent), calls fn on it, and saves it when fn returns nil and
	// reports a change. When fn returns an error nothing is written and
	// that error is returned unchanged.
	UpdateDay(ctx context.Context, key DayKey, fn UpdateFunc) (DayRecord, error)
}

// UpdateFunc mutates rec in place. It returns changed=false when the record
// should be left as stored.
type UpdateFunc func(rec *DayRecord) (changed bool, err error)

// AuditRecord is a persisted AuditEvent.
type AuditRecord struct {
	ID         string
	EmployeeID int64
	WorkDate   Date
	Action     string
	Slots      []string
	ActorID    string
	Source     string
	At         time.Time
}

// AuditStore persists the audit trail. Records are never updated.
type AuditStore interface {
	AppendAudit(ctx context.Context, r AuditRecord) error

	// AuditTrail returns the records of one day, oldest first.
	AuditTrail(ctx context.Context, key DayKey) ([]AuditRecord, error)
}
