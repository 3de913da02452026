/*
Package payroll prices attendance minutes.

PURPOSE:
  Converts MonthTotals into money: regular time at the hourly rate,
  deductions at the same rate, overtime at rate x multiplier. Rates belong
  to the settings store outside the engine; this package only does the
  arithmetic, with decimal.Decimal so cents never drift.

ROUNDING:
  Every line is rounded half-up to 2 places. Gross is the sum of the
  rounded lines, so a payslip always adds up.
*/
package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
)

var minutesPerHour = decimal.NewFromInt(60)

// Rates prices one employee's time.
type Rates struct {
	Hourly             decimal.Decimal
	OvertimeMultiplier decimal.Decimal
	Currency           string
}

// ParseRates builds Rates from configuration strings.
func ParseRates(hourly, multiplier, currency string) (Rates, error) {
	h, err := decimal.NewFromString(hourly)
	if err != nil {
		return Rates{}, fmt.Errorf("invalid hourly rate %q: %w", hourly, err)
	}
	m, err := decimal.NewFromString(multiplier)
	if err != nil {
		return Rates{}, fmt.Errorf("invalid overtime multiplier %q: %w", multiplier, err)
	}
	if h.IsNegative() || m.IsNegative() {
		return Rates{}, fmt.Errorf("rates must not be negative")
	}
	return Rates{Hourly: h, OvertimeMultiplier: m, Currency: currency}, nil
}

// Summary is the priced form of MonthTotals.
type Summary struct {
	EmployeeID int64
	From       attendance.Date
	To         attendance.Date
	Currency   string

	RegularHours   decimal.Decimal
	DeductionHours decimal.Decimal
	OvertimeHours  decimal.Decimal

	RegularPay  decimal.Decimal
	Deduction   decimal.Decimal
	OvertimePay decimal.Decimal
	Gross       decimal.Decimal // regular + overtime
	Net         decimal.Decimal // equals Gross, see Price
}

// Hours converts minutes to hours, rounded to 2 places.
func Hours(minutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).Div(minutesPerHour).Round(2)
}

// Price computes the pay summary for m.
//
// Regular minutes already exclude the shortfall, so Deduction is reported
// for information and is not subtracted a second time: Net equals Gross.
// It is kept as a separate line because payslips show the late/undertime
// amount explicitly.
func Price(m attendance.MonthTotals, r Rates) Summary {
	perMinute := r.Hourly.Div(minutesPerHour)
	regular := perMinute.Mul(decimal.NewFromInt(int64(m.RegularMinutes))).Round(2)
	deduction := perMinute.Mul(decimal.NewFromInt(int64(m.DeductionMinutes))).Round(2)
	overtime := perMinute.Mul(r.OvertimeMultiplier).Mul(decimal.NewFromInt(int64(m.OvertimeMinutes))).Round(2)
	gross := regular.Add(overtime)

	return Summary{
		EmployeeID:     m.EmployeeID,
		From:           m.From,
		To:             m.To,
		Currency:       r.Currency,
		RegularHours:   Hours(m.RegularMinutes),
		DeductionHours: Hours(m.DeductionMinutes),
		OvertimeHours:  Hours(m.OvertimeMinutes),
		RegularPay:     regular,
		Deduction:      deduction,
		OvertimePay:    overtime,
		Gross:          gross,
		Net:            gross,
	}
}
