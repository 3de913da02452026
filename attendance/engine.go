/*
engine.go - Punch state machine

PURPOSE:
  Validates and applies punches and undos against a DayRecord, and serves
  every read through the auto-close sweeper so totals never see a day left
  open past its window.

PUNCH PRECONDITIONS (checked in order):
  1. Day not paid                    -> LockedError
  2. Target slot empty               -> AlreadyPunchedError
  3. Out slot has its in slot set    -> OutOfSequenceError
  4. OT slot on an OT-allowed day    -> OvertimeNotAllowedError
  5. Now inside the slot's window    -> OutsideWindowError

  The stored time is rounded to round_to_minutes. An out punch is then
  clamped to its pair's auto-close boundary and never stored before its in.

  The sweep, the checks and the write run inside one Store.UpdateDay call.

UNDO:
  UndoLast clears the first set slot of ot_out, ot_in, pm_out, pm_in,
  am_out, am_in. It is the only correction mechanism.

AUDIT:
  The engine records nothing itself. Actor and source are passed through
  to the audit hooks after each successful mutation.

SEE ALSO:
  - sweeper.go: AutoClose rules
  - window.go: Window resolution
  - calculator.go: Totals
*/
package attendance

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// CLOCK AND AUDIT HOOKS
// =============================================================================

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// FixedClock always returns the same instant.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

type AuditAction string

const (
	AuditPunch           AuditAction = "punch"
	AuditUndo            AuditAction = "undo"
	AuditAutoClose       AuditAction = "auto_close"
	AuditOvertimeAllowed AuditAction = "overtime_allowed"
	AuditOvertimeRevoked AuditAction = "overtime_revoked"
	AuditLocked          AuditAction = "locked"
)

// SystemActor is the actor of changes the engine makes on its own.
const SystemActor = "system"

// AuditEvent describes one successful mutation.
type AuditEvent struct {
	Action     AuditAction
	EmployeeID int64
	Date       Date
	Slots      []Slot
	ActorID    string
	Source     string
	At         time.Time
}

// AuditHook receives audit events. Hooks run synchronously after the write.
type AuditHook func(ctx context.Context, ev AuditEvent)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the attendance punch engine. It is safe for concurrent use; all
// serialization happens in the Store.
type Engine struct {
	store    Store
	schedule Schedule
	clock    Clock
	hooks    []AuditHook
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithAuditHook(h AuditHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

// NewEngine creates an engine over store using schedule.
func NewEngine(store Store, schedule Schedule, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		schedule: schedule,
		clock:    ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Schedule() Schedule { return e.schedule }

func (e *Engine) now() time.Time { return e.clock.Now().In(e.schedule.location()) }

func (e *Engine) emit(ctx context.Context, ev AuditEvent) {
	for _, h := range e.hooks {
		h(ctx, ev)
	}
}

func (e *Engine) emitAutoClose(ctx context.Context, key DayKey, closed []Slot, now time.Time) {
	if len(closed) == 0 {
		return
	}
	e.emit(ctx, AuditEvent{
		Action:     AuditAutoClose,
		EmployeeID: key.EmployeeID,
		Date:       key.WorkDate,
		Slots:      closed,
		ActorID:    SystemActor,
		At:         now,
	})
}

// update runs fn inside Store.UpdateDay after the sweep. A rule error from fn
// is returned as is; the sweep it saw is still persisted.
func (e *Engine) update(ctx context.Context, op string, key DayKey, now time.Time,
	fn func(rec *DayRecord) (bool, error)) (DayRecord, []Slot, error) {
	var (
		ruleErr error
		closed  []Slot
	)
	rec, err := e.store.UpdateDay(ctx, key, func(r *DayRecord) (bool, error) {
		ruleErr, closed = nil, e.schedule.AutoClose(r, now)
		changed, err := fn(r)
		if err != nil {
			ruleErr = err
			return len(closed) > 0, nil
		}
		return changed || len(closed) > 0, nil
	})
	if err != nil {
		return DayRecord{}, nil, &StorageError{Op: op, Key: key, Err: err}
	}
	e.emitAutoClose(ctx, key, closed, now)
	if ruleErr != nil {
		return DayRecord{}, closed, ruleErr
	}
	return rec, closed, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Punch records slot for employeeID on date at the current local time.
func (e *Engine) Punch(ctx context.Context, employeeID int64, date Date, slot Slot, actorID, source string) (DayRecord, error) {
	if !slot.Valid() {
		return DayRecord{}, fmt.Errorf("%w: %d", ErrInvalidSlot, int(slot))
	}
	now := e.now()
	key := DayKey{EmployeeID: employeeID, WorkDate: date}

	var at TimeOfDay
	rec, _, err := e.update(ctx, "punch", key, now, func(r *DayRecord) (bool, error) {
		if err := e.schedule.checkPunch(*r, slot, now); err != nil {
			return false, err
		}
		at = TimeOfDayOf(now).Round(e.schedule.RoundToMinutes)
		if slot.IsOut() {
			in, _ := r.Get(slot.In())
			at = max(min(at, e.schedule.closeBoundary(slot.In())), in)
		}
		r.set(slot, at)
		return true, nil
	})
	if err != nil {
		return DayRecord{}, err
	}

	e.emit(ctx, AuditEvent{
		Action:     AuditPunch,
		EmployeeID: employeeID,
		Date:       date,
		Slots:      []Slot{slot},
		ActorID:    actorID,
		Source:     source,
		At:         now,
	})
	return rec, nil
}

// checkPunch evaluates the punch preconditions in their fixed order.
func (s Schedule) checkPunch(rec DayRecord, slot Slot, now time.Time) error {
	if rec.Paid {
		return &LockedError{EmployeeID: rec.EmployeeID, Date: rec.WorkDate, Slot: &slot}
	}
	if at, ok := rec.Get(slot); ok {
		return &AlreadyPunchedError{Slot: slot, At: at}
	}
	if slot.IsOut() && !rec.Has(slot.In()) {
		return &OutOfSequenceError{Slot: slot, Requires: slot.In()}
	}
	if slot.IsOvertime() && !rec.OTAllowed {
		return &OvertimeNotAllowedError{
			Slot:       slot,
			EmployeeID: rec.EmployeeID,
			Date:       rec.WorkDate,
			Window:     s.OvertimeWindow(rec.WorkDate),
		}
	}
	w := s.WindowFor(rec.WorkDate, slot)
	if !w.Contains(now) {
		return &OutsideWindowError{Slot: slot, Window: w, At: now}
	}
	return nil
}

// UndoLast clears the most recently filled slot of the day.
func (e *Engine) UndoLast(ctx context.Context, employeeID int64, date Date, actorID string) (DayRecord, error) {
	now := e.now()
	key := DayKey{EmployeeID: employeeID, WorkDate: date}

	var cleared Slot
	rec, _, err := e.update(ctx, "undo", key, now, func(r *DayRecord) (bool, error) {
		if r.Paid {
			return false, &LockedError{EmployeeID: employeeID, Date: date}
		}
		for _, s := range undoOrder {
			if r.Has(s) {
				r.clear(s)
				cleared = s
				return true, nil
			}
		}
		return false, &NothingToUndoError{EmployeeID: employeeID, Date: date}
	})
	if err != nil {
		return DayRecord{}, err
	}

	e.emit(ctx, AuditEvent{
		Action:     AuditUndo,
		EmployeeID: employeeID,
		Date:       date,
		Slots:      []Slot{cleared},
		ActorID:    actorID,
		At:         now,
	})
	return rec, nil
}

// SetOvertimeAllowed grants or revokes overtime for one day, creating the
// record when needed. Existing OT punches are kept; they simply stop counting.
func (e *Engine) SetOvertimeAllowed(ctx context.Context, employeeID int64, date Date, allowed bool, actorID string) (DayRecord, error) {
	now := e.now()
	key := DayKey{EmployeeID: employeeID, WorkDate: date}

	var changed bool
	rec, _, err := e.update(ctx, "set_overtime", key, now, func(r *DayRecord) (bool, error) {
		if r.Paid {
			return false, &LockedError{EmployeeID: employeeID, Date: date}
		}
		changed = r.OTAllowed != allowed
		r.OTAllowed = allowed
		return changed, nil
	})
	if err != nil {
		return DayRecord{}, err
	}

	if changed {
		action := AuditOvertimeAllowed
		if !allowed {
			action = AuditOvertimeRevoked
		}
		e.emit(ctx, AuditEvent{Action: action, EmployeeID: employeeID, Date: date, ActorID: actorID, At: now})
	}
	return rec, nil
}

// MarkPaid locks every stored record of employeeID in [from, to]. Records are
// swept before locking so payroll sees closed days. It returns the number of
// records newly locked.
func (e *Engine) MarkPaid(ctx context.Context, employeeID int64, from, to Date, actorID string) (int, error) {
	if to.Before(from) {
		return 0, ErrInvalidRange
	}
	recs, err := e.store.LoadRange(ctx, employeeID, from, to)
	if err != nil {
		return 0, &StorageError{Op: "load_range", Key: DayKey{EmployeeID: employeeID, WorkDate: from}, Err: err}
	}

	now := e.now()
	locked := 0
	for _, stored := range recs {
		key := stored.Key()
		var changed bool
		if _, _, err := e.update(ctx, "mark_paid", key, now, func(r *DayRecord) (bool, error) {
			changed = !r.Paid
			r.Paid = true
			return changed, nil
		}); err != nil {
			return locked, err
		}
		if changed {
			locked++
			e.emit(ctx, AuditEvent{Action: AuditLocked, EmployeeID: employeeID, Date: key.WorkDate, ActorID: actorID, At: now})
		}
	}
	return locked, nil
}

// =============================================================================
// READS - every read goes through the sweeper
// =============================================================================

// Day returns the swept record for (employeeID, date). A day without a record
// is returned empty and is not persisted.
func (e *Engine) Day(ctx context.Context, employeeID int64, date Date) (DayRecord, error) {
	key := DayKey{EmployeeID: employeeID, WorkDate: date}
	stored, err := e.store.LoadDay(ctx, key)
	if err != nil {
		return DayRecord{}, &StorageError{Op: "load", Key: key, Err: err}
	}
	if stored == nil {
		return NewDayRecord(key), nil
	}
	return e.sweep(ctx, *stored)
}

// sweep applies AutoClose to rec and persists any closure atomically.
func (e *Engine) sweep(ctx context.Context, rec DayRecord) (DayRecord, error) {
	now := e.now()
	probe := rec.Clone()
	if len(e.schedule.AutoClose(&probe, now)) == 0 {
		return rec, nil
	}
	swept, _, err := e.update(ctx, "auto_close", rec.Key(), now, func(*DayRecord) (bool, error) {
		return false, nil
	})
	return swept, err
}

// ListRange returns the swept records of employeeID in [from, to].
// Days with no record are omitted.
func (e *Engine) ListRange(ctx context.Context, employeeID int64, from, to Date) ([]DayRecord, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	recs, err := e.store.LoadRange(ctx, employeeID, from, to)
	if err != nil {
		return nil, &StorageError{Op: "load_range", Key: DayKey{EmployeeID: employeeID, WorkDate: from}, Err: err}
	}
	for i := range recs {
		if recs[i], err = e.sweep(ctx, recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// DayTotals returns the swept record of a day and its totals.
func (e *Engine) DayTotals(ctx context.Context, employeeID int64, date Date) (DaySummary, error) {
	rec, err := e.Day(ctx, employeeID, date)
	if err != nil {
		return DaySummary{}, err
	}
	return DaySummary{Record: rec, Totals: e.schedule.ComputeDay(rec)}, nil
}

// MonthTotals aggregates [from, to] for employeeID.
func (e *Engine) MonthTotals(ctx context.Context, employeeID int64, from, to Date) (MonthTotals, error) {
	recs, err := e.ListRange(ctx, employeeID, from, to)
	if err != nil {
		return MonthTotals{}, err
	}
	return e.schedule.ComputeMonth(employeeID, from, to, recs), nil
}

// Windows returns the window of every slot on date, for display.
func (e *Engine) Windows(date Date) map[Slot]Window {
	out := make(map[Slot]Window, len(AllSlots))
	for _, s := range AllSlots {
		out[s] = e.schedule.WindowFor(date, s)
	}
	return out
}

// Today is the current date in the schedule's location.
func (e *Engine) Today() Date { return DateOf(e.now()) }
