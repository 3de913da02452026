/*
Package attendance implements the attendance punch engine.

PURPOSE:
  Tracks one record per (employee, calendar date) holding six punch slots:
  AM in/out, PM in/out and OT in/out. The engine gates each punch behind a
  schedule window, closes slots whose window has elapsed, and converts the
  punches into regular, deduction and overtime minutes for payroll.

KEY CONCEPTS IN THIS FILE (types.go):
  - Slot: one of the six named punch fields
  - TimeOfDay: minutes since local midnight, the resolution of a punch
  - Date: a calendar date, the second half of a DayRecord key
  - DayRecord: persisted punch state for one employee on one date
  - DayTotals / MonthTotals: derived minute totals, never persisted

DESIGN PRINCIPLES:
  1. Small state space: punches are only ever set, undone last-first, or
     auto-closed. There is no arbitrary edit.
  2. Paid days are locked. Nothing in the engine mutates them.
  3. All state lives in the DayRecord. The engine holds no mutable state.

SEE ALSO:
  - schedule.go: Schedule configuration and parsing
  - window.go: Window resolution per slot
  - engine.go: Punch state machine
  - sweeper.go: Auto-close rules
  - calculator.go: Minute totals
  - store.go: Storage port
*/
package attendance

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SLOT - The six punch fields of a day
// =============================================================================

// Slot names one of the six punch fields of a DayRecord.
type Slot int

const (
	AmIn Slot = iota
	AmOut
	PmIn
	PmOut
	OtIn
	OtOut
)

// AllSlots lists the slots in their natural punch order.
var AllSlots = []Slot{AmIn, AmOut, PmIn, PmOut, OtIn, OtOut}

// undoOrder is the order in which UndoLast searches for the slot to clear.
var undoOrder = []Slot{OtOut, OtIn, PmOut, PmIn, AmOut, AmIn}

var slotNames = [...]string{"am_in", "am_out", "pm_in", "pm_out", "ot_in", "ot_out"}

func (s Slot) String() string {
	if !s.Valid() {
		return fmt.Sprintf("slot(%d)", int(s))
	}
	return slotNames[s]
}

func (s Slot) Valid() bool      { return s >= AmIn && s <= OtOut }
func (s Slot) IsOut() bool      { return s == AmOut || s == PmOut || s == OtOut }
func (s Slot) IsOvertime() bool { return s == OtIn || s == OtOut }

// In returns the "in" slot paired with s. For an in slot it returns s.
func (s Slot) In() Slot {
	if s.IsOut() {
		return s - 1
	}
	return s
}

// ParseSlot accepts the snake_case slot names ("am_in", "ot_out", ...).
func ParseSlot(name string) (Slot, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, sn := range slotNames {
		if sn == n {
			return Slot(i), nil
		}
	}
	return 0, fmt.Errorf("unknown slot %q", name)
}

func (s Slot) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid slot %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Slot) UnmarshalText(b []byte) error {
	parsed, err := ParseSlot(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// =============================================================================
// TIME OF DAY - Minute resolution, local to the schedule's location
// =============================================================================

// TimeOfDay is a local wall-clock time in minutes since midnight.
type TimeOfDay int

const (
	Noon       TimeOfDay = 12 * 60
	Evening    TimeOfDay = 18 * 60
	lastMinute TimeOfDay = 24*60 - 1
)

// NewTimeOfDay builds a TimeOfDay from hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// TimeOfDayOf returns the wall-clock minute of t, dropping seconds.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

// ParseTimeOfDay accepts "15:04", "15:04:05", "3:04 PM" and "3:04PM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05", "3:04 PM", "3:04PM"} {
		if t, err := time.Parse(layout, strings.ToUpper(s)); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Format12h renders the time the way the portal labels windows, e.g. "7:05 AM".
func (t TimeOfDay) Format12h() string {
	return time.Date(2000, 1, 1, t.Hour(), t.Minute(), 0, 0, time.UTC).Format("3:04 PM")
}

// On returns the instant of t on date d in loc.
func (t TimeOfDay) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour(), t.Minute(), 0, 0, loc)
}

// Round rounds t to the nearest multiple of step minutes, halves up.
// A step of 0 or 1 leaves t unchanged. The result never passes 23:59.
func (t TimeOfDay) Round(step int) TimeOfDay {
	if step <= 1 {
		return t
	}
	r := TimeOfDay((int(t) + step/2) / step * step)
	if r > lastMinute {
		return lastMinute
	}
	return r
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// =============================================================================
// DATE - Calendar date without time or location
// =============================================================================

// Date is a calendar date. It is comparable and usable as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return DateOf(t), nil
}

func (d Date) String() string { return d.midnightUTC().Format(dateLayout) }
func (d Date) IsZero() bool   { return d == Date{} }

func (d Date) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date    { return DateOf(d.midnightUTC().AddDate(0, 0, n)) }
func (d Date) Before(o Date) bool    { return d.midnightUTC().Before(o.midnightUTC()) }
func (d Date) After(o Date) bool     { return d.midnightUTC().After(o.midnightUTC()) }
func (d Date) Weekday() time.Weekday { return d.midnightUTC().Weekday() }

// MonthRange returns the first and last date of the given month.
func MonthRange(year int, month time.Month) (Date, Date) {
	first := NewDate(year, month, 1)
	return first, NewDate(year, month+1, 1).AddDays(-1)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// DAY RECORD - Persisted punch state for (employee, date)
// =============================================================================

// DayKey identifies a DayRecord.
type DayKey struct {
	EmployeeID int64
	WorkDate   Date
}

func (k DayKey) String() string { return fmt.Sprintf("%d/%s", k.EmployeeID, k.WorkDate) }

// DayRecord is the punch state of one employee on one date.
// An out slot is only set when its in slot is set and out >= in.
type DayRecord struct {
	EmployeeID int64
	WorkDate   Date

	AmIn  *TimeOfDay
	AmOut *TimeOfDay
	PmIn  *TimeOfDay
	PmOut *TimeOfDay
	OtIn  *TimeOfDay
	OtOut *TimeOfDay

	OTAllowed bool // granted per day by an administrator
	Paid      bool // consumed by payroll; locked

	Version   int64
	UpdatedAt time.Time
}

// NewDayRecord returns an empty record for key.
func NewDayRecord(key DayKey) DayRecord {
	return DayRecord{EmployeeID: key.EmployeeID, WorkDate: key.WorkDate}
}

func (r DayRecord) Key() DayKey {
	return DayKey{EmployeeID: r.EmployeeID, WorkDate: r.WorkDate}
}

func (r *DayRecord) field(s Slot) **TimeOfDay {
	switch s {
	case AmIn:
		return &r.AmIn
	case AmOut:
		return &r.AmOut
	case PmIn:
		return &r.PmIn
	case PmOut:
		return &r.PmOut
	case OtIn:
		return &r.OtIn
	case OtOut:
		return &r.OtOut
	}
	panic(fmt.Sprintf("attendance: invalid slot %d", int(s)))
}

// Get returns the punch in slot s and whether it is set.
func (r DayRecord) Get(s Slot) (TimeOfDay, bool) {
	p := *r.field(s)
	if p == nil {
		return 0, false
	}
	return *p, true
}

func (r DayRecord) Has(s Slot) bool {
	_, ok := r.Get(s)
	return ok
}

func (r *DayRecord) set(s Slot, t TimeOfDay) { *r.field(s) = &t }
func (r *DayRecord) clear(s Slot)            { *r.field(s) = nil }

// Empty reports whether no slot is set.
func (r DayRecord) Empty() bool {
	for _, s := range AllSlots {
		if r.Has(s) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so stored records never alias caller records.
func (r DayRecord) Clone() DayRecord {
	c := r
	for _, s := range AllSlots {
		if t, ok := r.Get(s); ok {
			c.set(s, t)
		}
	}
	return c
}

// =============================================================================
// TOTALS - Derived, never persisted
// =============================================================================

// DayTotals are the payroll minutes of one day.
// DeductionMinutes is only meaningful when Complete is true; an incomplete
// day reports no deduction rather than a zero shortfall.
type DayTotals struct {
	RegularMinutes   int
	DeductionMinutes int
	OvertimeMinutes  int
	Complete         bool
}

// Deduction returns the shortfall and whether it applies.
func (t DayTotals) Deduction() (int, bool) {
	return t.DeductionMinutes, t.Complete
}

// DaySummary pairs a record with its totals.
type DaySummary struct {
	Record DayRecord
	Totals DayTotals
}

// MonthTotals aggregates DayTotals over a date range.
type MonthTotals struct {
	EmployeeID int64
	From       Date
	To         Date

	RegularMinutes   int
	DeductionMinutes int // sum over complete days only
	OvertimeMinutes  int

	DaysPresent    int // at least one punch
	DaysComplete   int // all four AM/PM slots set
	DaysIncomplete int // present but not complete

	Days []DaySummary
}
