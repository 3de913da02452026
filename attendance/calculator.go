package attendance

// =============================================================================
// MINUTE CALCULATOR - DayRecord -> payroll minutes
// =============================================================================
//
// regular   = overlap(am pair, scheduled AM) + overlap(pm pair, scheduled PM),
//             capped at the standard day
// deduction = standard - regular, only once all four AM/PM slots are set
// overtime  = overlap(ot pair, OT window) when OT is allowed for the day
//
// A late in punch inside the grace period counts from the scheduled start.
// Nothing else is forgiven.

// ComputeDay returns the totals of a single, already swept record.
// It is pure: the same record always yields the same totals.
func (s Schedule) ComputeDay(rec DayRecord) DayTotals {
	am := s.pairMinutes(rec, AmIn, s.amSpan(), true)
	pm := s.pairMinutes(rec, PmIn, s.pmSpan(), true)

	t := DayTotals{
		RegularMinutes: min(am+pm, s.StandardMinutesPerDay),
		Complete:       rec.Has(AmIn) && rec.Has(AmOut) && rec.Has(PmIn) && rec.Has(PmOut),
	}
	if t.Complete {
		t.DeductionMinutes = max(0, s.StandardMinutesPerDay-t.RegularMinutes)
	}
	if rec.OTAllowed {
		t.OvertimeMinutes = s.pairMinutes(rec, OtIn, s.overtimeSpan(), false)
	}
	return t
}

// ComputeMonth aggregates [from, to]. Days without a record count as empty.
func (s Schedule) ComputeMonth(employeeID int64, from, to Date, records []DayRecord) MonthTotals {
	byDate := make(map[Date]DayRecord, len(records))
	for _, r := range records {
		byDate[r.WorkDate] = r
	}

	m := MonthTotals{EmployeeID: employeeID, From: from, To: to}
	for d := from; !d.After(to); d = d.AddDays(1) {
		rec, ok := byDate[d]
		if !ok {
			rec = NewDayRecord(DayKey{EmployeeID: employeeID, WorkDate: d})
		}
		t := s.ComputeDay(rec)

		m.RegularMinutes += t.RegularMinutes
		m.OvertimeMinutes += t.OvertimeMinutes
		if t.Complete {
			m.DeductionMinutes += t.DeductionMinutes
			m.DaysComplete++
		}
		if !rec.Empty() {
			m.DaysPresent++
			if !t.Complete {
				m.DaysIncomplete++
			}
		}
		m.Days = append(m.Days, DaySummary{Record: rec, Totals: t})
	}
	return m
}

// pairMinutes is the overlap of the in/out pair starting at in with the
// scheduled span. Incomplete or inverted pairs count zero.
func (s Schedule) pairMinutes(rec DayRecord, in Slot, sched span, grace bool) int {
	a, okIn := rec.Get(in)
	b, okOut := rec.Get(in + 1)
	if !okIn || !okOut || b <= a {
		return 0
	}
	if grace {
		a = s.applyGrace(a, sched.from)
	}
	return overlapMinutes(a, b, sched)
}

// applyGrace moves a late in punch back to the scheduled start when it is
// at most GraceMinutes late.
func (s Schedule) applyGrace(in, start TimeOfDay) TimeOfDay {
	if in > start && int(in-start) <= s.GraceMinutes {
		return start
	}
	return in
}

// overlapMinutes is the length of [a,b] ∩ [w.from,w.to], zero when either
// interval is empty or they are disjoint.
func overlapMinutes(a, b TimeOfDay, w span) int {
	if b <= a || w.to <= w.from {
		return 0
	}
	start, end := max(a, w.from), min(b, w.to)
	if end <= start {
		return 0
	}
	return int(end - start)
}
