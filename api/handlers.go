/*
handlers.go - HTTP API handlers for the attendance punch engine

PURPOSE:
  Exposes the punch engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every rule to the engine.

ENDPOINTS:
  Schedule:
    GET    /api/schedule                                      Schedule + today's windows

  Days:
    GET    /api/employees/{id}/days/{date}                    Swept record + totals
    POST   /api/employees/{id}/days/{date}/punches            Punch a slot
    DELETE /api/employees/{id}/days/{date}/punches/last       Undo last punch
    PUT    /api/employees/{id}/days/{date}/overtime           Grant/revoke OT

  Months:
    GET    /api/employees/{id}/months/{month}                 Month totals
    GET    /api/employees/{id}/months/{month}/payroll         Priced summary
    GET    /api/employees/{id}/months/{month}/timesheet.xlsx  Workbook export

  Payroll lock:
    POST   /api/employees/{id}/paid                           Lock a date range

  {date} is YYYY-MM-DD or "today"; {month} is YYYY-MM.

ERROR HANDLING:
  - 400: Invalid input
  - 401: Missing/invalid token (when tokens are enabled)
  - 404: Nothing to undo
  - 409: Locked, already punched, out of sequence
  - 422: Overtime not allowed, outside window
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/payroll"
	"github.com/warp/attendance-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *attendance.Engine
	Rates  payroll.Rates
	Logger *zap.Logger

	// Ping checks the store for /healthz. Optional.
	Ping func(ctx context.Context) error
}

// NewHandler creates a new handler.
func NewHandler(engine *attendance.Engine, rates payroll.Rates, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Rates: rates, Logger: logger}
}

// =============================================================================
// SCHEDULE
// =============================================================================

// GetSchedule returns the schedule and today's windows.
// GET /api/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	s := h.Engine.Schedule()
	today := h.Engine.Today()
	writeJSON(w, http.StatusOK, ScheduleDTO{
		AmIn:                  s.AmIn.String(),
		AmOut:                 s.AmOut.String(),
		PmIn:                  s.PmIn.String(),
		PmOut:                 s.PmOut.String(),
		OtStart:               s.OtStart.String(),
		OtEnd:                 s.OtEnd.String(),
		StandardMinutesPerDay: s.StandardMinutesPerDay,
		GraceMinutes:          s.GraceMinutes,
		RoundToMinutes:        s.RoundToMinutes,
		Timezone:              s.Location.String(),
		Today:                 today.String(),
		Windows:               toWindowsDTO(h.Engine.Windows(today)),
	})
}

// =============================================================================
// DAY HANDLERS
// =============================================================================

// GetDay returns the swept record and totals of one day.
// GET /api/employees/{id}/days/{date}
func (h *Handler) GetDay(w http.ResponseWriter, r *http.Request) {
	employeeID, date, ok := h.dayParams(w, r)
	if !ok {
		return
	}

	sum, err := h.Engine.DayTotals(r.Context(), employeeID, date)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DayDTO{
		Record:  toDayRecordDTO(sum.Record),
		Totals:  toDayTotalsDTO(sum.Totals),
		Windows: toWindowsDTO(h.Engine.Windows(date)),
	})
}

// Punch records a slot at the current time.
// POST /api/employees/{id}/days/{date}/punches
func (h *Handler) Punch(w http.ResponseWriter, r *http.Request) {
	employeeID, date, ok := h.dayParams(w, r)
	if !ok {
		return
	}

	var req PunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	slot, err := attendance.ParseSlot(req.Slot)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid slot", err)
		return
	}
	source := req.Source
	if source == "" {
		source = "web"
	}

	rec, err := h.Engine.Punch(r.Context(), employeeID, date, slot, ActorFromContext(r.Context()), source)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeDay(w, http.StatusCreated, rec)
}

// UndoLast clears the most recent punch.
// DELETE /api/employees/{id}/days/{date}/punches/last
func (h *Handler) UndoLast(w http.ResponseWriter, r *http.Request) {
	employeeID, date, ok := h.dayParams(w, r)
	if !ok {
		return
	}

	rec, err := h.Engine.UndoLast(r.Context(), employeeID, date, ActorFromContext(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeDay(w, http.StatusOK, rec)
}

// SetOvertime grants or revokes overtime for a day.
// PUT /api/employees/{id}/days/{date}/overtime
func (h *Handler) SetOvertime(w http.ResponseWriter, r *http.Request) {
	employeeID, date, ok := h.dayParams(w, r)
	if !ok {
		return
	}

	var req OvertimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Engine.SetOvertimeAllowed(r.Context(), employeeID, date, req.Allowed, ActorFromContext(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.writeDay(w, http.StatusOK, rec)
}

func (h *Handler) writeDay(w http.ResponseWriter, status int, rec attendance.DayRecord) {
	writeJSON(w, status, DayDTO{
		Record: toDayRecordDTO(rec),
		Totals: toDayTotalsDTO(h.Engine.Schedule().ComputeDay(rec)),
	})
}

// =============================================================================
// MONTH HANDLERS
// =============================================================================

// GetMonth returns month totals with every day of the month.
// GET /api/employees/{id}/months/{month}
func (h *Handler) GetMonth(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monthTotals(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toMonthDTO(m))
}

// GetPayroll prices the month with the configured rates.
// GET /api/employees/{id}/months/{month}/payroll
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monthTotals(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(payroll.Price(m, h.Rates)))
}

// GetTimesheet streams the month as an .xlsx workbook.
// GET /api/employees/{id}/months/{month}/timesheet.xlsx
func (h *Handler) GetTimesheet(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monthTotals(w, r)
	if !ok {
		return
	}
	pay := payroll.Price(m, h.Rates)

	var buf bytes.Buffer
	if err := report.WriteTimesheet(&buf, m, &pay); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build timesheet", err)
		return
	}

	name := fmt.Sprintf("timesheet-%d-%d-%02d.xlsx", m.EmployeeID, m.From.Year, int(m.From.Month))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) monthTotals(w http.ResponseWriter, r *http.Request) (attendance.MonthTotals, bool) {
	employeeID, ok := employeeParam(w, r)
	if !ok {
		return attendance.MonthTotals{}, false
	}
	month, err := time.Parse("2006-01", chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month format (use YYYY-MM)", err)
		return attendance.MonthTotals{}, false
	}

	from, to := attendance.MonthRange(month.Year(), month.Month())
	m, err := h.Engine.MonthTotals(r.Context(), employeeID, from, to)
	if err != nil {
		h.writeEngineError(w, r, err)
		return attendance.MonthTotals{}, false
	}
	return m, true
}

// =============================================================================
// PAYROLL LOCK
// =============================================================================

// MarkPaid locks every stored day in a range.
// POST /api/employees/{id}/paid
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	employeeID, ok := employeeParam(w, r)
	if !ok {
		return
	}

	var req MarkPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	from, err := attendance.ParseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	to, err := attendance.ParseDate(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}

	n, err := h.Engine.MarkPaid(r.Context(), employeeID, from, to, ActorFromContext(r.Context()))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MarkPaidDTO{Locked: n})
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz reports store reachability.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PARAMS AND RESPONSES
// =============================================================================

func employeeParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid employee id", err)
		return 0, false
	}
	return id, true
}

func (h *Handler) dayParams(w http.ResponseWriter, r *http.Request) (int64, attendance.Date, bool) {
	employeeID, ok := employeeParam(w, r)
	if !ok {
		return 0, attendance.Date{}, false
	}
	raw := chi.URLParam(r, "date")
	if raw == "today" {
		return employeeID, h.Engine.Today(), true
	}
	date, err := attendance.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return 0, attendance.Date{}, false
	}
	return employeeID, date, true
}

// writeEngineError maps engine errors to HTTP statuses and carries the slot
// and window so the portal can render a precise message.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Details: err.Error()}
	status := http.StatusInternalServerError

	var (
		locked   *attendance.LockedError
		already  *attendance.AlreadyPunchedError
		sequence *attendance.OutOfSequenceError
		noOT     *attendance.OvertimeNotAllowedError
		outside  *attendance.OutsideWindowError
		nothing  *attendance.NothingToUndoError
	)
	switch {
	case errors.As(err, &locked):
		status, resp.Error = http.StatusConflict, "Day is locked by payroll"
		if locked.Slot != nil {
			resp.Slot = locked.Slot.String()
		}
	case errors.As(err, &already):
		status, resp.Error, resp.Slot = http.StatusConflict, "Slot already punched", already.Slot.String()
	case errors.As(err, &sequence):
		status, resp.Error, resp.Slot = http.StatusConflict, "Punch out of sequence", sequence.Slot.String()
	case errors.As(err, &noOT):
		win := toWindowDTO(noOT.Window)
		status, resp.Error, resp.Slot, resp.Window = http.StatusUnprocessableEntity, "Overtime not allowed", noOT.Slot.String(), &win
	case errors.As(err, &outside):
		win := toWindowDTO(outside.Window)
		status, resp.Error, resp.Slot, resp.Window = http.StatusUnprocessableEntity, "Outside punch window", outside.Slot.String(), &win
	case errors.As(err, &nothing):
		status, resp.Error = http.StatusNotFound, "Nothing to undo"
	case errors.Is(err, attendance.ErrInvalidRange), errors.Is(err, attendance.ErrInvalidSlot):
		status, resp.Error = http.StatusBadRequest, "Invalid request"
	default:
		resp.Error = "Internal error"
		h.Logger.Error("engine failure",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
