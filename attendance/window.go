package attendance

import (
	"fmt"
	"time"
)

// Window is the inclusive instant range in which a slot may be punched.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", w.Start.Format("3:04 PM"), w.End.Format("3:04 PM"))
}

// span is a wall-clock interval used by window resolution and the calculator.
type span struct {
	from, to TimeOfDay
}

func (sp span) on(d Date, loc *time.Location) Window {
	return Window{Start: sp.from.On(d, loc), End: sp.to.On(d, loc)}
}

// slotSpan is the wall-clock window of a slot. In slots may be punched from
// their scheduled start to their scheduled end. Out slots share the start of
// their pair and end at the hard auto-close boundary: noon for AM, 18:00 for
// PM and ot_end for OT.
func (s Schedule) slotSpan(slot Slot) span {
	switch slot {
	case AmIn:
		return span{s.AmIn, s.AmOut}
	case AmOut:
		return span{s.AmIn, Noon}
	case PmIn:
		return span{s.PmIn, s.PmOut}
	case PmOut:
		return span{s.PmIn, Evening}
	default:
		return s.overtimeSpan()
	}
}

func (s Schedule) overtimeSpan() span { return span{s.OtStart, s.OtEnd} }
func (s Schedule) amSpan() span       { return span{s.AmIn, s.AmOut} }
func (s Schedule) pmSpan() span       { return span{s.PmIn, s.PmOut} }

// WindowFor returns the window in which slot may be punched on date.
func (s Schedule) WindowFor(date Date, slot Slot) Window {
	return s.slotSpan(slot).on(date, s.location())
}

// OvertimeWindow returns the fixed OT window on date.
func (s Schedule) OvertimeWindow(date Date) Window {
	return s.overtimeSpan().on(date, s.location())
}

// closeBoundary is the wall-clock time at which an open pair is auto-closed.
func (s Schedule) closeBoundary(in Slot) TimeOfDay {
	switch in {
	case AmIn:
		return Noon
	case PmIn:
		return Evening
	default:
		return s.OtEnd
	}
}
