// Package report renders attendance totals as spreadsheet timesheets.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/payroll"
)

const sheetName = "Timesheet"

// Header is the first row of every timesheet.
var Header = []any{
	"Date", "Day", "AM In", "AM Out", "PM In", "PM Out", "OT In", "OT Out",
	"OT Allowed", "Paid", "Regular (min)", "Deduction (min)", "Overtime (min)",
}

// WriteTimesheet writes an .xlsx workbook with one row per day of m, a
// totals row and, when pay is non-nil, the priced summary below it.
func WriteTimesheet(w io.Writer, m attendance.MonthTotals, pay *payroll.Summary) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return err
	}

	row := 1
	if err := setRow(f, row, Header); err != nil {
		return err
	}

	for _, d := range m.Days {
		row++
		rec := d.Record
		values := []any{rec.WorkDate.String(), rec.WorkDate.Weekday().String()[:3]}
		for _, s := range attendance.AllSlots {
			values = append(values, punchCell(rec, s))
		}
		deduction := any("")
		if v, ok := d.Totals.Deduction(); ok {
			deduction = v
		}
		values = append(values, yesNo(rec.OTAllowed), yesNo(rec.Paid),
			d.Totals.RegularMinutes, deduction, d.Totals.OvertimeMinutes)
		if err := setRow(f, row, values); err != nil {
			return err
		}
	}

	row++
	if err := setRow(f, row, []any{
		"Total", "", "", "", "", "", "", "", "", "",
		m.RegularMinutes, m.DeductionMinutes, m.OvertimeMinutes,
	}); err != nil {
		return err
	}

	if pay != nil {
		row += 2
		lines := [][]any{
			{"Regular pay", pay.RegularPay.StringFixed(2), pay.Currency},
			{"Overtime pay", pay.OvertimePay.StringFixed(2), pay.Currency},
			{"Late/undertime", pay.Deduction.StringFixed(2), pay.Currency},
			{"Gross", pay.Gross.StringFixed(2), pay.Currency},
		}
		for _, l := range lines {
			if err := setRow(f, row, l); err != nil {
				return err
			}
			row++
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	return f.Write(w)
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

func punchCell(rec attendance.DayRecord, s attendance.Slot) string {
	if t, ok := rec.Get(s); ok {
		return t.Format12h()
	}
	return ""
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
