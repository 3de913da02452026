/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Decouples the engine's types from the JSON contract. Punches are
  rendered as "HH:MM" plus a 12-hour label; an absent punch is null.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/payroll"
)

// =============================================================================
// REQUESTS
// =============================================================================

// PunchRequest is the body of POST .../punches.
type PunchRequest struct {
	Slot   string `json:"slot"`
	Source string `json:"source"` // e.g. "web", "kiosk", "biometric"
}

// OvertimeRequest is the body of PUT .../overtime.
type OvertimeRequest struct {
	Allowed bool `json:"allowed"`
}

// MarkPaidRequest is the body of POST .../paid.
type MarkPaidRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// PunchDTO is one slot value.
type PunchDTO struct {
	Time  string `json:"time"`
	Label string `json:"label"`
}

// DayRecordDTO represents a DayRecord.
type DayRecordDTO struct {
	EmployeeID int64     `json:"employee_id"`
	WorkDate   string    `json:"work_date"`
	AmIn       *PunchDTO `json:"am_in"`
	AmOut      *PunchDTO `json:"am_out"`
	PmIn       *PunchDTO `json:"pm_in"`
	PmOut      *PunchDTO `json:"pm_out"`
	OtIn       *PunchDTO `json:"ot_in"`
	OtOut      *PunchDTO `json:"ot_out"`
	OTAllowed  bool      `json:"ot_allowed"`
	Paid       bool      `json:"paid"`
	Version    int64     `json:"version"`
	UpdatedAt  string    `json:"updated_at,omitempty"`
}

// DayTotalsDTO represents DayTotals. DeductionMinutes is null until the day
// is complete.
type DayTotalsDTO struct {
	RegularMinutes   int  `json:"regular_minutes"`
	DeductionMinutes *int `json:"deduction_minutes"`
	OvertimeMinutes  int  `json:"overtime_minutes"`
	Complete         bool `json:"complete"`
}

// WindowDTO is a punch window rendered for display.
type WindowDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label"`
}

// DayDTO is the response for a single day.
type DayDTO struct {
	Record  DayRecordDTO         `json:"record"`
	Totals  DayTotalsDTO         `json:"totals"`
	Windows map[string]WindowDTO `json:"windows,omitempty"`
}

// MonthDTO represents MonthTotals.
type MonthDTO struct {
	EmployeeID       int64    `json:"employee_id"`
	From             string   `json:"from"`
	To               string   `json:"to"`
	RegularMinutes   int      `json:"regular_minutes"`
	DeductionMinutes int      `json:"deduction_minutes"`
	OvertimeMinutes  int      `json:"overtime_minutes"`
	DaysPresent      int      `json:"days_present"`
	DaysComplete     int      `json:"days_complete"`
	DaysIncomplete   int      `json:"days_incomplete"`
	Days             []DayDTO `json:"days"`
}

// PayrollDTO represents a payroll.Summary. Money is rendered as strings.
type PayrollDTO struct {
	EmployeeID     int64           `json:"employee_id"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Currency       string          `json:"currency"`
	RegularHours   decimal.Decimal `json:"regular_hours"`
	DeductionHours decimal.Decimal `json:"deduction_hours"`
	OvertimeHours  decimal.Decimal `json:"overtime_hours"`
	RegularPay     string          `json:"regular_pay"`
	Deduction      string          `json:"deduction"`
	OvertimePay    string          `json:"overtime_pay"`
	Gross          string          `json:"gross"`
	Net            string          `json:"net"`
}

// ScheduleDTO describes the configured schedule and today's windows.
type ScheduleDTO struct {
	AmIn                  string               `json:"am_in"`
	AmOut                 string               `json:"am_out"`
	PmIn                  string               `json:"pm_in"`
	PmOut                 string               `json:"pm_out"`
	OtStart               string               `json:"ot_start"`
	OtEnd                 string               `json:"ot_end"`
	StandardMinutesPerDay int                  `json:"standard_minutes_per_day"`
	GraceMinutes          int                  `json:"grace_minutes"`
	RoundToMinutes        int                  `json:"round_to_minutes"`
	Timezone              string               `json:"timezone"`
	Today                 string               `json:"today"`
	Windows               map[string]WindowDTO `json:"windows"`
}

// MarkPaidDTO is the response of a payroll lock.
type MarkPaidDTO struct {
	Locked int `json:"locked"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string     `json:"error"`
	Details string     `json:"details,omitempty"`
	Slot    string     `json:"slot,omitempty"`
	Window  *WindowDTO `json:"window,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPunchDTO(rec attendance.DayRecord, s attendance.Slot) *PunchDTO {
	t, ok := rec.Get(s)
	if !ok {
		return nil
	}
	return &PunchDTO{Time: t.String(), Label: t.Format12h()}
}

func toDayRecordDTO(rec attendance.DayRecord) DayRecordDTO {
	dto := DayRecordDTO{
		EmployeeID: rec.EmployeeID,
		WorkDate:   rec.WorkDate.String(),
		AmIn:       toPunchDTO(rec, attendance.AmIn),
		AmOut:      toPunchDTO(rec, attendance.AmOut),
		PmIn:       toPunchDTO(rec, attendance.PmIn),
		PmOut:      toPunchDTO(rec, attendance.PmOut),
		OtIn:       toPunchDTO(rec, attendance.OtIn),
		OtOut:      toPunchDTO(rec, attendance.OtOut),
		OTAllowed:  rec.OTAllowed,
		Paid:       rec.Paid,
		Version:    rec.Version,
	}
	if !rec.UpdatedAt.IsZero() {
		dto.UpdatedAt = rec.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toDayTotalsDTO(t attendance.DayTotals) DayTotalsDTO {
	dto := DayTotalsDTO{
		RegularMinutes:  t.RegularMinutes,
		OvertimeMinutes: t.OvertimeMinutes,
		Complete:        t.Complete,
	}
	if v, ok := t.Deduction(); ok {
		dto.DeductionMinutes = &v
	}
	return dto
}

func toWindowDTO(w attendance.Window) WindowDTO {
	return WindowDTO{
		Start: w.Start.Format(time.RFC3339),
		End:   w.End.Format(time.RFC3339),
		Label: w.String(),
	}
}

func toWindowsDTO(ws map[attendance.Slot]attendance.Window) map[string]WindowDTO {
	out := make(map[string]WindowDTO, len(ws))
	for s, w := range ws {
		out[s.String()] = toWindowDTO(w)
	}
	return out
}

func toMonthDTO(m attendance.MonthTotals) MonthDTO {
	dto := MonthDTO{
		EmployeeID:       m.EmployeeID,
		From:             m.From.String(),
		To:               m.To.String(),
		RegularMinutes:   m.RegularMinutes,
		DeductionMinutes: m.DeductionMinutes,
		OvertimeMinutes:  m.OvertimeMinutes,
		DaysPresent:      m.DaysPresent,
		DaysComplete:     m.DaysComplete,
		DaysIncomplete:   m.DaysIncomplete,
		Days:             make([]DayDTO, 0, len(m.Days)),
	}
	for _, d := range m.Days {
		dto.Days = append(dto.Days, DayDTO{
			Record: toDayRecordDTO(d.Record),
			Totals: toDayTotalsDTO(d.Totals),
		})
	}
	return dto
}

func toPayrollDTO(p payroll.Summary) PayrollDTO {
	return PayrollDTO{
		EmployeeID:     p.EmployeeID,
		From:           p.From.String(),
		To:             p.To.String(),
		Currency:       p.Currency,
		RegularHours:   p.RegularHours,
		DeductionHours: p.DeductionHours,
		OvertimeHours:  p.OvertimeHours,
		RegularPay:     p.RegularPay.StringFixed(2),
		Deduction:      p.Deduction.StringFixed(2),
		OvertimePay:    p.OvertimePay.StringFixed(2),
		Gross:          p.Gross.StringFixed(2),
		Net:            p.Net.StringFixed(2),
	}
}
