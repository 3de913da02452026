/*
errors.go - Error types for the punch engine

PURPOSE:
  Every business-rule violation is an expected, user-recoverable outcome
  and is surfaced as its own type carrying the slot and the state the
  caller needs to render a precise message. None is ever coerced into a
  valid punch.

ERROR CATEGORIES:
  1. Rule errors - Locked, AlreadyPunched, OutOfSequence,
     OvertimeNotAllowed, OutsideWindow, NothingToUndo
  2. Storage errors - StorageError, never retried by the engine

USAGE:
  if errors.Is(err, attendance.ErrOutsideWindow) { ... }

  var oe *attendance.OutsideWindowError
  if errors.As(err, &oe) {
      fmt.Println(oe.Window)
  }
*/
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLocked is returned for any mutation of a paid day.
	ErrLocked = errors.New("day is locked by payroll")

	ErrAlreadyPunched = errors.New("slot already punched")

	// ErrOutOfSequence is returned when an out slot is punched before its in slot.
	ErrOutOfSequence = errors.New("punch out of sequence")

	ErrOvertimeNotAllowed = errors.New("overtime not allowed for this day")

	ErrOutsideWindow = errors.New("punch outside allowed window")

	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrStorage marks failures of the storage port.
	ErrStorage = errors.New("attendance storage failure")

	// ErrInvalidSlot is returned for slot values outside the enum.
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrInvalidRange is returned when a range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry slot and state
// =============================================================================

type LockedError struct {
	EmployeeID int64
	Date       Date
	Slot       *Slot // attempted punch; nil for undo and overtime changes
}

func (e *LockedError) Error() string {
	if e.Slot != nil {
		return fmt.Sprintf("cannot punch %s: day %s of employee %d is paid and locked", *e.Slot, e.Date, e.EmployeeID)
	}
	return fmt.Sprintf("day %s of employee %d is paid and locked", e.Date, e.EmployeeID)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

type AlreadyPunchedError struct {
	Slot Slot
	At   TimeOfDay // existing punch
}

func (e *AlreadyPunchedError) Error() string {
	return fmt.Sprintf("%s already punched at %s", e.Slot, e.At.Format12h())
}

func (e *AlreadyPunchedError) Unwrap() error { return ErrAlreadyPunched }

type OutOfSequenceError struct {
	Slot     Slot
	Requires Slot
}

func (e *OutOfSequenceError) Error() string {
	return fmt.Sprintf("cannot punch %s before %s", e.Slot, e.Requires)
}

func (e *OutOfSequenceError) Unwrap() error { return ErrOutOfSequence }

type OvertimeNotAllowedError struct {
	Slot       Slot
	EmployeeID int64
	Date       Date
	Window     Window // the OT window the punch would have needed
}

func (e *OvertimeNotAllowedError) Error() string {
	return fmt.Sprintf("%s: overtime not allowed for employee %d on %s", e.Slot, e.EmployeeID, e.Date)
}

func (e *OvertimeNotAllowedError) Unwrap() error { return ErrOvertimeNotAllowed }

type OutsideWindowError struct {
	Slot   Slot
	Window Window
	At     time.Time // attempted instant
}

func (e *OutsideWindowError) Error() string {
	return fmt.Sprintf("%s allowed only %s (attempted %s)", e.Slot, e.Window, e.At.Format("3:04 PM"))
}

func (e *OutsideWindowError) Unwrap() error { return ErrOutsideWindow }

type NothingToUndoError struct {
	EmployeeID int64
	Date       Date
}

func (e *NothingToUndoError) Error() string {
	return fmt.Sprintf("nothing to undo for employee %d on %s", e.EmployeeID, e.Date)
}

func (e *NothingToUndoError) Unwrap() error { return ErrNothingToUndo }

// StorageError wraps a failure of the storage port. Both ErrStorage and the
// underlying error are reachable with errors.Is.
type StorageError struct {
	Op  string
	Key DayKey
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether err is a business-rule outcome the user can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrAlreadyPunched) ||
		errors.Is(err, ErrOutOfSequence) ||
		errors.Is(err, ErrOvertimeNotAllowed) ||
		errors.Is(err, ErrOutsideWindow) ||
		errors.Is(err, ErrNothingToUndo)
}

func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}
