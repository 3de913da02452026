package attendance

import "time"

// AutoClose closes every pair whose window has elapsed at now and returns
// the out slots it filled.
//
// Rules, each independent and idempotent:
//   - am_in set, am_out empty, now >= 12:00  -> am_out = 12:00
//   - pm_in set, pm_out empty, now >= 18:00  -> pm_out = 18:00
//   - ot_in set, ot_out empty, now >= ot_end -> ot_out = ot_end
//
// Paid and future days are never touched. Every boundary of a past day has
// elapsed. The closing time is never earlier than the matching in punch.
func (s Schedule) AutoClose(rec *DayRecord, now time.Time) []Slot {
	if rec.Paid {
		return nil
	}
	now = now.In(s.location())
	today := DateOf(now)
	if rec.WorkDate.After(today) {
		return nil
	}
	past := rec.WorkDate.Before(today)
	clock := TimeOfDayOf(now)

	var closed []Slot
	for _, in := range []Slot{AmIn, PmIn, OtIn} {
		out := in + 1
		inAt, ok := rec.Get(in)
		if !ok || rec.Has(out) {
			continue
		}
		boundary := s.closeBoundary(in)
		if !past && clock < boundary {
			continue
		}
		rec.set(out, max(boundary, inAt))
		closed = append(closed, out)
	}
	return closed
}
