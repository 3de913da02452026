package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const emp int64 = 42

// workDay is a Tuesday.
var workDay = attendance.NewDate(2026, time.March, 10)

func at(h, m int) time.Time {
	return time.Date(2026, time.March, 10, h, m, 0, 0, time.UTC)
}

func tod(h, m int) *attendance.TimeOfDay {
	t := attendance.NewTimeOfDay(h, m)
	return &t
}

// testSchedule is AM 07:00-11:00, PM 13:00-17:00, OT 18:00-22:00, 480 min, 5 min grace.
func testSchedule() attendance.Schedule {
	cfg := attendance.DefaultScheduleConfig()
	cfg.Timezone = "UTC"
	return attendance.MustParseSchedule(cfg)
}

type harness struct {
	engine *attendance.Engine
	store  *store.Memory
	now    time.Time
	mu     sync.Mutex
	events []attendance.AuditEvent
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	h := &harness{store: store.NewMemory(), now: now}
	h.engine = attendance.NewEngine(h.store, testSchedule(),
		attendance.WithClock(attendance.ClockFunc(func() time.Time { return h.now })),
		attendance.WithAuditHook(func(_ context.Context, ev attendance.AuditEvent) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, ev)
		}),
	)
	return h
}

func (h *harness) seed(t *testing.T, rec attendance.DayRecord) {
	t.Helper()
	require.NoError(t, h.store.SaveDay(context.Background(), rec))
}

func (h *harness) punchAt(t *testing.T, slot attendance.Slot, when time.Time) attendance.DayRecord {
	t.Helper()
	h.now = when
	rec, err := h.engine.Punch(context.Background(), emp, workDay, slot, "actor-1", "kiosk")
	require.NoError(t, err, "punch %s at %s", slot, when.Format("15:04"))
	return rec
}

func (h *harness) allowOT(t *testing.T) {
	t.Helper()
	_, err := h.engine.SetOvertimeAllowed(context.Background(), emp, workDay, true, "admin")
	require.NoError(t, err)
}

func (h *harness) actions() []attendance.AuditAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []attendance.AuditAction
	for _, ev := range h.events {
		out = append(out, ev.Action)
	}
	return out
}

type timedPunch struct {
	slot attendance.Slot
	at   time.Time
}

// validPunches gives, for each slot, the punches it needs first and a time
// inside its window.
var validPunches = []struct {
	slot   attendance.Slot
	prior  []timedPunch
	at     time.Time
	needOT bool
}{
	{slot: attendance.AmIn, at: at(7, 30)},
	{slot: attendance.AmOut, prior: []timedPunch{{attendance.AmIn, at(7, 30)}}, at: at(11, 30)},
	{slot: attendance.PmIn, at: at(13, 30)},
	{slot: attendance.PmOut, prior: []timedPunch{{attendance.PmIn, at(13, 30)}}, at: at(17, 30)},
	{slot: attendance.OtIn, at: at(19, 0), needOT: true},
	{slot: attendance.OtOut, prior: []timedPunch{{attendance.OtIn, at(19, 0)}}, at: at(20, 0), needOT: true},
}

// =============================================================================
// PUNCH STATE MACHINE
// =============================================================================

func TestPunch_TwiceInARow_SecondIsAlreadyPunched(t *testing.T) {
	for _, tc := range validPunches {
		t.Run(tc.slot.String(), func(t *testing.T) {
			h := newHarness(t, tc.at)
			if tc.needOT {
				h.allowOT(t)
			}
			for _, p := range tc.prior {
				h.punchAt(t, p.slot, p.at)
			}

			rec := h.punchAt(t, tc.slot, tc.at)
			got, ok := rec.Get(tc.slot)
			require.True(t, ok)
			assert.Equal(t, attendance.TimeOfDayOf(tc.at), got)

			_, err := h.engine.Punch(context.Background(), emp, workDay, tc.slot, "actor-1", "kiosk")
			var already *attendance.AlreadyPunchedError
			require.ErrorAs(t, err, &already)
			assert.Equal(t, tc.slot, already.Slot)
			assert.Equal(t, got, already.At)
			assert.ErrorIs(t, err, attendance.ErrAlreadyPunched)
		})
	}
}

func TestPunch_OutBeforeIn_IsOutOfSequence(t *testing.T) {
	for _, tc := range validPunches {
		if !tc.slot.IsOut() {
			continue
		}
		t.Run(tc.slot.String(), func(t *testing.T) {
			h := newHarness(t, tc.at)
			if tc.needOT {
				h.allowOT(t)
			}

			_, err := h.engine.Punch(context.Background(), emp, workDay, tc.slot, "actor-1", "kiosk")
			var seq *attendance.OutOfSequenceError
			require.ErrorAs(t, err, &seq)
			assert.Equal(t, tc.slot, seq.Slot)
			assert.Equal(t, tc.slot.In(), seq.Requires)
		})
	}
}

func TestPunch_PaidDay_EveryMutationIsLocked(t *testing.T) {
	// GIVEN: A paid day with some punches
	// WHEN: Any mutation is attempted
	// THEN: LockedError, and the record is unchanged
	ctx := context.Background()
	for _, tc := range validPunches {
		t.Run(tc.slot.String(), func(t *testing.T) {
			h := newHarness(t, tc.at)
			h.seed(t, attendance.DayRecord{
				EmployeeID: emp, WorkDate: workDay,
				AmIn: tod(7, 0), OTAllowed: true, Paid: true,
			})

			_, err := h.engine.Punch(ctx, emp, workDay, tc.slot, "actor-1", "kiosk")
			var locked *attendance.LockedError
			require.ErrorAs(t, err, &locked)
			assert.Equal(t, workDay, locked.Date)
			require.NotNil(t, locked.Slot)
			assert.Equal(t, tc.slot, *locked.Slot)
		})
	}

	h := newHarness(t, at(9, 0))
	h.seed(t, attendance.DayRecord{EmployeeID: emp, WorkDate: workDay, AmIn: tod(7, 0), Paid: true})

	_, err := h.engine.UndoLast(ctx, emp, workDay, "actor-1")
	var locked *attendance.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Nil(t, locked.Slot)

	_, err = h.engine.SetOvertimeAllowed(ctx, emp, workDay, true, "admin")
	assert.ErrorIs(t, err, attendance.ErrLocked)

	rec, err := h.engine.Day(ctx, emp, workDay)
	require.NoError(t, err)
	assert.Equal(t, attendance.NewTimeOfDay(7, 0), *rec.AmIn)
	assert.Nil(t, rec.AmOut)
	assert.False(t, rec.OTAllowed)
	assert.Empty(t, h.actions())
}

func TestPunch_OvertimeInBeforeWindow_IsOutsideWindow(t *testing.T) {
	// GIVEN: OT allowed for the day
	// WHEN: Punching ot_in at 17:00, before the 18:00 window opens
	// THEN: OutsideWindowError carrying the OT window
	h := newHarness(t, at(8, 0))
	h.allowOT(t)

	h.now = at(17, 0)
	_, err := h.engine.Punch(context.Background(), emp, workDay, attendance.OtIn, "actor-1", "kiosk")

	var outside *attendance.OutsideWindowError
	require.ErrorAs(t, err, &outside)
	assert.Equal(t, attendance.OtIn, outside.Slot)
	assert.Equal(t, at(18, 0), outside.Window.Start)
	assert.Equal(t, at(22, 0), outside.Window.End)
	assert.Equal(t, at(17, 0), outside.At)
}

func TestPunch_OvertimeNotAllowed(t *testing.T) {
	h := newHarness(t, at(19, 0))

	_, err := h.engine.Punch(context.Background(), emp, workDay, attendance.OtIn, "actor-1", "kiosk")

	var notAllowed *attendance.OvertimeNotAllowedError
	require.ErrorAs(t, err, &notAllowed)
	assert.Equal(t, attendance.OtIn, notAllowed.Slot)
	assert.True(t, at(18, 0).Equal(notAllowed.Window.Start), "start %s", notAllowed.Window.Start)
	assert.True(t, at(22, 0).Equal(notAllowed.Window.End), "end %s", notAllowed.Window.End)
}

func TestPunch_PreconditionOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("locked before already punched", func(t *testing.T) {
		h := newHarness(t, at(8, 0))
		h.seed(t, attendance.DayRecord{EmployeeID: emp, WorkDate: workDay, AmIn: tod(7, 0), Paid: true})
		_, err := h.engine.Punch(ctx, emp, workDay, attendance.AmIn, "a", "web")
		assert.ErrorIs(t, err, attendance.ErrLocked)
	})

	t.Run("already punched before window", func(t *testing.T) {
		h := newHarness(t, at(8, 0))
		h.seed(t, attendance.DayRecord{EmployeeID: emp, WorkDate: workDay, PmIn: tod(13, 0)})
		_, err := h.engine.Punch(ctx, emp, workDay, attendance.PmIn, "a", "web")
		assert.ErrorIs(t, err, attendance.ErrAlreadyPunched)
	})

	t.Run("sequence before overtime permission", func(t *testing.T) {
		h := newHarness(t, at(19, 0))
		_, err := h.engine.Punch(ctx, emp, workDay, attendance.OtOut, "a", "web")
		assert.ErrorIs(t, err, attendance.ErrOutOfSequence)
	})

	t.Run("overtime permission before window", func(t *testing.T) {
		h := newHarness(t, at(17, 0))
		_, err := h.engine.Punch(ctx, emp, workDay, attendance.OtIn, "a", "web")
		assert.ErrorIs(t, err, attendance.ErrOvertimeNotAllowed)
	})
}

func TestPunch_Windows(t *testing.T) {
	tests := []struct {
		name  string
		slot  attendance.Slot
		prior []timedPunch
		at    time.Time
		ok    bool
	}{
		{"am_in at scheduled start", attendance.AmIn, nil, at(7, 0), true},
		{"am_in before start", attendance.AmIn, nil, at(6, 59), false},
		{"am_in at scheduled end", attendance.AmIn, nil, at(11, 0), true},
		{"am_in after scheduled end", attendance.AmIn, nil, at(11, 1), false},
		{"am_out just before noon", attendance.AmOut, []timedPunch{{attendance.AmIn, at(7, 0)}}, at(11, 59), true},
		{"am_out at noon is auto-closed", attendance.AmOut, []timedPunch{{attendance.AmIn, at(7, 0)}}, at(12, 0), false},
		{"pm_in during lunch", attendance.PmIn, nil, at(12, 30), false},
		{"pm_out just before 18:00", attendance.PmOut, []timedPunch{{attendance.PmIn, at(13, 0)}}, at(17, 59), true},
		{"pm_out past 18:00 is auto-closed", attendance.PmOut, []timedPunch{{attendance.PmIn, at(13, 0)}}, at(18, 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.at)
			for _, p := range tt.prior {
				h.punchAt(t, p.slot, p.at)
			}
			h.now = tt.at
			_, err := h.engine.Punch(context.Background(), emp, workDay, tt.slot, "a", "web")
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestPunch_PastDate_IsOutsideWindow(t *testing.T) {
	h := newHarness(t, at(8, 0))
	yesterday := workDay.AddDays(-1)

	_, err := h.engine.Punch(context.Background(), emp, yesterday, attendance.AmIn, "a", "web")
	assert.ErrorIs(t, err, attendance.ErrOutsideWindow)
	assert.Equal(t, 0, h.store.Len(), "a rejected punch on a new day must not create a record")
}

func TestPunch_RoundsToConfiguredStep(t *testing.T) {
	cfg := attendance.DefaultScheduleConfig()
	cfg.Timezone = "UTC"
	cfg.RoundToMinutes = 15
	now := at(7, 8)
	eng := attendance.NewEngine(store.NewMemory(), attendance.MustParseSchedule(cfg),
		attendance.WithClock(attendance.ClockFunc(func() time.Time { return now })))

	rec, err := eng.Punch(context.Background(), emp, workDay, attendance.AmIn, "a", "web")
	require.NoError(t, err)
	assert.Equal(t, attendance.NewTimeOfDay(7, 15), *rec.AmIn)

	// 07:20 rounds to 07:15, never before the in punch.
	now = at(7, 20)
	rec, err = eng.Punch(context.Background(), emp, workDay, attendance.AmOut, "a", "web")
	require.NoError(t, err)
	assert.Equal(t, attendance.NewTimeOfDay(7, 15), *rec.AmOut)
}

func TestPunch_RoundedOutNeverPassesAutoCloseBoundary(t *testing.T) {
	// GIVEN: A 7-minute rounding step, which does not divide the hour
	// WHEN: am_out is punched at 11:59, which rounds to 12:01
	// THEN: The stored out is clamped to 12:00
	cfg := attendance.DefaultScheduleConfig()
	cfg.Timezone = "UTC"
	cfg.RoundToMinutes = 7
	now := at(7, 0)
	eng := attendance.NewEngine(store.NewMemory(), attendance.MustParseSchedule(cfg),
		attendance.WithClock(attendance.ClockFunc(func() time.Time { return now })))
	ctx := context.Background()

	_, err := eng.Punch(ctx, emp, workDay, attendance.AmIn, "a", "web")
	require.NoError(t, err)

	now = at(11, 59)
	rec, err := eng.Punch(ctx, emp, workDay, attendance.AmOut, "a", "web")
	require.NoError(t, err)
	assert.Equal(t, attendance.Noon, *rec.AmOut)
}

func TestPunch_InvalidSlot(t *testing.T) {
	h := newHarness(t, at(8, 0))
	_, err := h.engine.Punch(context.Background(), emp, workDay, attendance.Slot(9), "a", "web")
	assert.ErrorIs(t, err, attendance.ErrInvalidSlot)
}

func TestPunch_AuditEventCarriesActorAndSource(t *testing.T) {
	h := newHarness(t, at(7, 2))
	h.punchAt(t, attendance.AmIn, at(7, 2))

	require.Len(t, h.events, 1)
	ev := h.events[0]
	assert.Equal(t, attendance.AuditPunch, ev.Action)
	assert.Equal(t, emp, ev.EmployeeID)
	assert.Equal(t, workDay, ev.Date)
	assert.Equal(t, []attendance.Slot{attendance.AmIn}, ev.Slots)
	assert.Equal(t, "actor-1", ev.ActorID)
	assert.Equal(t, "kiosk", ev.Source)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestPunch_ConcurrentSameSlot_ExactlyOneSucceeds(t *testing.T) {
	// GIVEN: A double-submitted form
	// WHEN: Many goroutines punch am_in at once
	// THEN: One success, the rest AlreadyPunchedError
	h := newHarness(t, at(7, 10))
	const n = 8

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.engine.Punch(context.Background(), emp, workDay, attendance.AmIn, "a", "web")
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, attendance.ErrAlreadyPunched)
	}
	assert.Equal(t, 1, succeeded)
}

// =============================================================================
// UNDO
// =============================================================================

func TestUndoLast_ThenRepunch_Succeeds(t *testing.T) {
	h := newHarness(t, at(7, 30))
	h.punchAt(t, attendance.AmIn, at(7, 30))

	rec, err := h.engine.UndoLast(context.Background(), emp, workDay, "actor-1")
	require.NoError(t, err)
	assert.Nil(t, rec.AmIn)

	rec = h.punchAt(t, attendance.AmIn, at(7, 40))
	assert.Equal(t, attendance.NewTimeOfDay(7, 40), *rec.AmIn)
	assert.Equal(t, []attendance.AuditAction{attendance.AuditPunch, attendance.AuditUndo, attendance.AuditPunch}, h.actions())
}

func TestUndoLast_ClearsInReverseSlotOrder(t *testing.T) {
	// A future date keeps the sweeper out of the way.
	future := workDay.AddDays(7)
	h := newHarness(t, at(9, 0))
	h.seed(t, attendance.DayRecord{
		EmployeeID: emp, WorkDate: future, OTAllowed: true,
		AmIn: tod(7, 0), AmOut: tod(11, 0), PmIn: tod(13, 0), PmOut: tod(17, 0), OtIn: tod(18, 0), OtOut: tod(20, 0),
	})

	want := []attendance.Slot{attendance.OtOut, attendance.OtIn, attendance.PmOut, attendance.PmIn, attendance.AmOut, attendance.AmIn}
	for _, slot := range want {
		rec, err := h.engine.UndoLast(context.Background(), emp, future, "a")
		require.NoError(t, err)
		assert.False(t, rec.Has(slot), "expected %s cleared", slot)
	}

	_, err := h.engine.UndoLast(context.Background(), emp, future, "a")
	var nothing *attendance.NothingToUndoError
	require.ErrorAs(t, err, &nothing)
	assert.Equal(t, future, nothing.Date)
}

func TestUndoLast_NoRecord_NothingToUndo(t *testing.T) {
	h := newHarness(t, at(9, 0))
	_, err := h.engine.UndoLast(context.Background(), emp, workDay, "a")
	assert.ErrorIs(t, err, attendance.ErrNothingToUndo)
	assert.Equal(t, 0, h.store.Len())
}

// =============================================================================
// OVERTIME PERMISSION AND PAYROLL LOCK
// =============================================================================

func TestSetOvertimeAllowed_PreSeedsRecord(t *testing.T) {
	h := newHarness(t, at(8, 0))

	rec, err := h.engine.SetOvertimeAllowed(context.Background(), emp, workDay, true, "admin")
	require.NoError(t, err)
	assert.True(t, rec.OTAllowed)
	assert.True(t, rec.Empty())

	stored, err := h.store.LoadDay(context.Background(), attendance.DayKey{EmployeeID: emp, WorkDate: workDay})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.OTAllowed)

	// Granting again is a no-op and emits nothing new.
	_, err = h.engine.SetOvertimeAllowed(context.Background(), emp, workDay, true, "admin")
	require.NoError(t, err)
	assert.Equal(t, []attendance.AuditAction{attendance.AuditOvertimeAllowed}, h.actions())
}

func TestMarkPaid_SweepsThenLocks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(9, 0))
	prev := workDay.AddDays(-1)
	h.seed(t, attendance.DayRecord{EmployeeID: emp, WorkDate: prev, AmIn: tod(7, 0), PmIn: tod(13, 0)})
	h.seed(t, attendance.DayRecord{EmployeeID: emp, WorkDate: prev.AddDays(-1), AmIn: tod(7, 0), AmOut: tod(11, 0), Paid: true})

	n, err := h.engine.MarkPaid(ctx, emp, prev.AddDays(-5), prev, "payroll")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := h.engine.Day(ctx, emp, prev)
	require.NoError(t, err)
	assert.True(t, rec.Paid)
	assert.Equal(t, attendance.Noon, *rec.AmOut)
	assert.Equal(t, attendance.Evening, *rec.PmOut)

	_, err = h.engine.MarkPaid(ctx, emp, prev, prev.AddDays(-1), "payroll")
	assert.ErrorIs(t, err, attendance.ErrInvalidRange)
}

// =============================================================================
// STORAGE FAILURES
// =============================================================================

type failingStore struct{ err error }

func (f failingStore) LoadDay(context.Context, attendance.DayKey) (*attendance.DayRecord, error) {
	return nil, f.err
}
func (f failingStore) SaveDay(context.Context, attendance.DayRecord) error { return f.err }
func (f failingStore) LoadRange(context.Context, int64, attendance.Date, attendance.Date) ([]attendance.DayRecord, error) {
	return nil, f.err
}
func (f failingStore) UpdateDay(context.Context, attendance.DayKey, attendance.UpdateFunc) (attendance.DayRecord, error) {
	return attendance.DayRecord{}, f.err
}

func TestEngine_StorageFailure_IsStorageError(t *testing.T) {
	boom := errors.New("disk on fire")
	eng := attendance.NewEngine(failingStore{err: boom}, testSchedule(),
		attendance.WithClock(attendance.FixedClock(at(7, 30))))
	ctx := context.Background()

	_, err := eng.Punch(ctx, emp, workDay, attendance.AmIn, "a", "web")
	var se *attendance.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "punch", se.Op)
	assert.ErrorIs(t, err, attendance.ErrStorage)
	assert.ErrorIs(t, err, boom)
	assert.False(t, attendance.IsClientError(err))
	assert.True(t, attendance.IsStorageError(err))

	_, err = eng.Day(ctx, emp, workDay)
	assert.ErrorIs(t, err, attendance.ErrStorage)

	_, err = eng.MonthTotals(ctx, emp, workDay, workDay.AddDays(3))
	assert.ErrorIs(t, err, attendance.ErrStorage)
}
