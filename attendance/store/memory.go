// Package store provides in-process attendance.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	days map[attendance.DayKey]attendance.DayRecord
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		days: make(map[attendance.DayKey]attendance.DayRecord),
		now:  time.Now,
	}
}

var _ attendance.Store = (*Memory)(nil)

func (m *Memory) LoadDay(_ context.Context, key attendance.DayKey) (*attendance.DayRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.days[key]
	if !ok {
		return nil, nil
	}
	c := rec.Clone()
	return &c, nil
}

func (m *Memory) SaveDay(_ context.Context, rec attendance.DayRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(rec)
	return nil
}

func (m *Memory) saveLocked(rec attendance.DayRecord) attendance.DayRecord {
	rec = rec.Clone()
	rec.Version = m.days[rec.Key()].Version + 1
	rec.UpdatedAt = m.now().UTC()
	m.days[rec.Key()] = rec
	return rec.Clone()
}

func (m *Memory) LoadRange(_ context.Context, employeeID int64, from, to attendance.Date) ([]attendance.DayRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.DayRecord
	for k, rec := range m.days {
		if k.EmployeeID != employeeID || k.WorkDate.Before(from) || k.WorkDate.After(to) {
			continue
		}
		result = append(result, rec.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].WorkDate.Before(result[j].WorkDate)
	})
	return result, nil
}

// UpdateDay holds the write lock for the whole check-and-set.
func (m *Memory) UpdateDay(ctx context.Context, key attendance.DayKey, fn attendance.UpdateFunc) (attendance.DayRecord, error) {
	if err := ctx.Err(); err != nil {
		return attendance.DayRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.days[key]
	if ok {
		rec = rec.Clone()
	} else {
		rec = attendance.NewDayRecord(key)
	}

	changed, err := fn(&rec)
	if err != nil {
		return attendance.DayRecord{}, err
	}
	if !changed {
		return rec, nil
	}
	return m.saveLocked(rec), nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.days)
}
