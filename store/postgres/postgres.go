/*
Package postgres provides a PostgreSQL implementation of attendance.Store
built on gorm.

PURPOSE:
  Production store for multi-instance deployments. Rows have the same
  shape as the SQLite store; punches are stored as TIME-like "HH:MM"
  strings so both databases hold identical data.

ATOMIC CHECK-AND-SET:
  UpdateDay opens a transaction, seeds the row with
  INSERT ... ON CONFLICT DO NOTHING, then reads it back with
  SELECT ... FOR UPDATE. Concurrent punches for the same (employee, date)
  queue on the row lock, so the second one sees the first one's slot.

AUDIT TRAIL:
  punch_audit mirrors the SQLite table. Rows carry a serial Seq so events
  written in the same instant keep their insertion order.

SEE ALSO:
  - attendance/store.go: Interface definition
  - store/sqlite/sqlite.go: Default single-node store
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/warp/attendance-engine/attendance"
)

// DayRow is the gorm model of a day record.
type DayRow struct {
	EmployeeID int64     `gorm:"primaryKey;autoIncrement:false"`
	WorkDate   string    `gorm:"primaryKey;type:date"`
	AmIn       *string   `gorm:"size:5"`
	AmOut      *string   `gorm:"size:5"`
	PmIn       *string   `gorm:"size:5"`
	PmOut      *string   `gorm:"size:5"`
	OtIn       *string   `gorm:"size:5"`
	OtOut      *string   `gorm:"size:5"`
	OTAllowed  bool      `gorm:"column:ot_allowed;not null;default:false"`
	Paid       bool      `gorm:"not null;default:false;index"`
	Version    int64     `gorm:"not null;default:0"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (DayRow) TableName() string { return "day_records" }

// AuditRow is the gorm model of an audit record.
type AuditRow struct {
	Seq        int64     `gorm:"primaryKey"`
	ID         string    `gorm:"size:36;not null;uniqueIndex"`
	EmployeeID int64     `gorm:"not null;index:idx_punch_audit_day"`
	WorkDate   string    `gorm:"type:date;not null;index:idx_punch_audit_day"`
	Action     string    `gorm:"size:32;not null"`
	Slots      string    `gorm:"size:64"`
	ActorID    string    `gorm:"size:128;not null"`
	Source     string    `gorm:"size:64"`
	At         time.Time `gorm:"not null"`
}

func (AuditRow) TableName() string { return "punch_audit" }

// Options configures the connection pool.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool
}

// Store implements attendance.Store on PostgreSQL.
type Store struct {
	db *gorm.DB
}

var (
	_ attendance.Store      = (*Store)(nil)
	_ attendance.AuditStore = (*Store)(nil)
)

// Open connects, configures the pool and migrates the schema.
func Open(opts Options, logger *zap.Logger) (*Store, error) {
	level := gormlogger.Warn
	if opts.LogSQL {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := opts.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	store, err := New(db)
	if err != nil {
		return nil, err
	}

	logger.Info("postgres store ready",
		zap.Int("max_open_conns", maxOpen),
		zap.Int("max_idle_conns", maxIdle),
	)
	return store, nil
}

// New wraps an existing gorm connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&DayRow{}, &AuditRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) LoadDay(ctx context.Context, key attendance.DayKey) (*attendance.DayRecord, error) {
	var row DayRow
	err := s.db.WithContext(ctx).
		Where("employee_id = ? AND work_date = ?", key.EmployeeID, key.WorkDate.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load day %s: %w", key, err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) SaveDay(ctx context.Context, rec attendance.DayRecord) error {
	row := fromRecord(rec)
	row.Version = rec.Version + 1
	row.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "employee_id"}, {Name: "work_date"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save day %s: %w", rec.Key(), err)
	}
	return nil
}

func (s *Store) LoadRange(ctx context.Context, employeeID int64, from, to attendance.Date) ([]attendance.DayRecord, error) {
	var rows []DayRow
	err := s.db.WithContext(ctx).
		Where("employee_id = ? AND work_date BETWEEN ? AND ?", employeeID, from.String(), to.String()).
		Order("work_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query day records: %w", err)
	}

	out := make([]attendance.DayRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateDay locks the (employee, date) row for the whole check-and-set.
func (s *Store) UpdateDay(ctx context.Context, key attendance.DayKey, fn attendance.UpdateFunc) (attendance.DayRecord, error) {
	var result attendance.DayRecord
	var fnErr error

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := DayRow{EmployeeID: key.EmployeeID, WorkDate: key.WorkDate.String(), UpdatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("failed to seed day %s: %w", key, err)
		}

		var row DayRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("employee_id = ? AND work_date = ?", key.EmployeeID, key.WorkDate.String()).
			Take(&row).Error; err != nil {
			return fmt.Errorf("failed to lock day %s: %w", key, err)
		}

		rec, err := row.toRecord()
		if err != nil {
			return err
		}
		seeded := row.Version == 0

		changed, err := fn(&rec)
		if err != nil {
			fnErr = err
			return err
		}
		if !changed {
			result = rec
			if seeded {
				// Leave no trace of a read-only visit.
				return tx.Delete(&DayRow{}, "employee_id = ? AND work_date = ? AND version = 0",
					key.EmployeeID, key.WorkDate.String()).Error
			}
			return nil
		}

		next := fromRecord(rec)
		next.Version = row.Version + 1
		next.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("failed to save day %s: %w", key, err)
		}
		result, err = next.toRecord()
		return err
	})
	if fnErr != nil {
		return attendance.DayRecord{}, fnErr
	}
	if err != nil {
		return attendance.DayRecord{}, err
	}
	return result, nil
}

func fromRecord(rec attendance.DayRecord) DayRow {
	row := DayRow{
		EmployeeID: rec.EmployeeID,
		WorkDate:   rec.WorkDate.String(),
		OTAllowed:  rec.OTAllowed,
		Paid:       rec.Paid,
		Version:    rec.Version,
		UpdatedAt:  rec.UpdatedAt,
	}
	fields := []**string{&row.AmIn, &row.AmOut, &row.PmIn, &row.PmOut, &row.OtIn, &row.OtOut}
	for i, slot := range attendance.AllSlots {
		if t, ok := rec.Get(slot); ok {
			v := t.String()
			*fields[i] = &v
		}
	}
	return row
}

func (row DayRow) toRecord() (attendance.DayRecord, error) {
	date, err := parseRowDate(row.WorkDate)
	if err != nil {
		return attendance.DayRecord{}, err
	}
	rec := attendance.DayRecord{
		EmployeeID: row.EmployeeID,
		WorkDate:   date,
		OTAllowed:  row.OTAllowed,
		Paid:       row.Paid,
		Version:    row.Version,
		UpdatedAt:  row.UpdatedAt,
	}
	stored := []*string{row.AmIn, row.AmOut, row.PmIn, row.PmOut, row.OtIn, row.OtOut}
	targets := []**attendance.TimeOfDay{&rec.AmIn, &rec.AmOut, &rec.PmIn, &rec.PmOut, &rec.OtIn, &rec.OtOut}
	for i, v := range stored {
		if v == nil {
			continue
		}
		t, err := attendance.ParseTimeOfDay(*v)
		if err != nil {
			return attendance.DayRecord{}, fmt.Errorf("day %d/%s: %w", row.EmployeeID, row.WorkDate, err)
		}
		*targets[i] = &t
	}
	return rec, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AppendAudit appends an audit record. Records are never updated.
func (s *Store) AppendAudit(ctx context.Context, r attendance.AuditRecord) error {
	row := fromAuditRecord(r)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// AuditTrail returns the audit records of one day, oldest first.
func (s *Store) AuditTrail(ctx context.Context, key attendance.DayKey) ([]attendance.AuditRecord, error) {
	var rows []AuditRow
	err := s.db.WithContext(ctx).
		Where("employee_id = ? AND work_date = ?", key.EmployeeID, key.WorkDate.String()).
		Order("at ASC, seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}

	out := make([]attendance.AuditRecord, 0, len(rows))
	for _, row := range rows {
		r, err := row.toAuditRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func fromAuditRecord(r attendance.AuditRecord) AuditRow {
	return AuditRow{
		ID:         r.ID,
		EmployeeID: r.EmployeeID,
		WorkDate:   r.WorkDate.String(),
		Action:     r.Action,
		Slots:      strings.Join(r.Slots, ","),
		ActorID:    r.ActorID,
		Source:     r.Source,
		At:         r.At.UTC(),
	}
}

func (row AuditRow) toAuditRecord() (attendance.AuditRecord, error) {
	date, err := parseRowDate(row.WorkDate)
	if err != nil {
		return attendance.AuditRecord{}, err
	}
	r := attendance.AuditRecord{
		ID:         row.ID,
		EmployeeID: row.EmployeeID,
		WorkDate:   date,
		Action:     row.Action,
		ActorID:    row.ActorID,
		Source:     row.Source,
		At:         row.At,
	}
	if row.Slots != "" {
		r.Slots = strings.Split(row.Slots, ",")
	}
	return r, nil
}

// parseRowDate accepts both "2006-01-02" and the RFC 3339 form pgx returns
// for DATE columns scanned into strings.
func parseRowDate(s string) (attendance.Date, error) {
	if len(s) >= 10 {
		s = s[:10]
	}
	return attendance.ParseDate(s)
}
