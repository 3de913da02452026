package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tp(h, m int) *attendance.TimeOfDay {
	t := attendance.NewTimeOfDay(h, m)
	return &t
}

var day = attendance.NewDate(2026, time.March, 10)

func TestStore_SaveAndLoadDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := attendance.DayKey{EmployeeID: 7, WorkDate: day}

	got, err := s.LoadDay(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	rec := attendance.DayRecord{
		EmployeeID: 7, WorkDate: day,
		AmIn: tp(7, 2), AmOut: tp(11, 0), OtIn: tp(18, 30),
		OTAllowed: true,
	}
	require.NoError(t, s.SaveDay(ctx, rec))

	got, err = s.LoadDay(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, day, got.WorkDate)
	assert.Equal(t, attendance.NewTimeOfDay(7, 2), *got.AmIn)
	assert.Equal(t, attendance.NewTimeOfDay(11, 0), *got.AmOut)
	assert.Nil(t, got.PmIn)
	assert.Equal(t, attendance.NewTimeOfDay(18, 30), *got.OtIn)
	assert.True(t, got.OTAllowed)
	assert.False(t, got.Paid)
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.UpdatedAt.IsZero())

	// Overwrite bumps the version.
	rec.Paid = true
	require.NoError(t, s.SaveDay(ctx, rec))
	got, err = s.LoadDay(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Paid)
	assert.Equal(t, int64(2), got.Version)
}

func TestStore_RejectsOutWithoutIn(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveDay(context.Background(), attendance.DayRecord{EmployeeID: 1, WorkDate: day, AmOut: tp(11, 0)})
	assert.Error(t, err)
}

func TestStore_LoadRange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, d := range []int{12, 3, 28} {
		require.NoError(t, s.SaveDay(ctx, attendance.DayRecord{
			EmployeeID: 1, WorkDate: attendance.NewDate(2026, time.March, d), AmIn: tp(7, 0),
		}))
	}
	require.NoError(t, s.SaveDay(ctx, attendance.DayRecord{EmployeeID: 1, WorkDate: attendance.NewDate(2026, time.April, 1), AmIn: tp(7, 0)}))
	require.NoError(t, s.SaveDay(ctx, attendance.DayRecord{EmployeeID: 2, WorkDate: day, AmIn: tp(7, 0)}))

	from, to := attendance.MonthRange(2026, time.March)
	recs, err := s.LoadRange(ctx, 1, from, to)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 3, recs[0].WorkDate.Day)
	assert.Equal(t, 12, recs[1].WorkDate.Day)
	assert.Equal(t, 28, recs[2].WorkDate.Day)
}

func TestStore_UpdateDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := attendance.DayKey{EmployeeID: 3, WorkDate: day}

	t.Run("unchanged creates nothing", func(t *testing.T) {
		rec, err := s.UpdateDay(ctx, key, func(r *attendance.DayRecord) (bool, error) {
			return false, nil
		})
		require.NoError(t, err)
		assert.True(t, rec.Empty())

		stored, err := s.LoadDay(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("error writes nothing", func(t *testing.T) {
		boom := errors.New("rule failed")
		_, err := s.UpdateDay(ctx, key, func(r *attendance.DayRecord) (bool, error) {
			r.AmIn = tp(7, 0)
			return true, boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := s.LoadDay(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("changed is persisted with a new version", func(t *testing.T) {
		rec, err := s.UpdateDay(ctx, key, func(r *attendance.DayRecord) (bool, error) {
			r.AmIn = tp(7, 0)
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Version)

		rec, err = s.UpdateDay(ctx, key, func(r *attendance.DayRecord) (bool, error) {
			require.NotNil(t, r.AmIn)
			r.AmOut = tp(11, 0)
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec.Version)

		stored, err := s.LoadDay(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Version)
		assert.Equal(t, attendance.NewTimeOfDay(11, 0), *stored.AmOut)
	})
}

func TestStore_EngineConcurrentPunch(t *testing.T) {
	s := newTestStore(t)
	cfg := attendance.DefaultScheduleConfig()
	cfg.Timezone = "UTC"
	now := time.Date(2026, time.March, 10, 7, 3, 0, 0, time.UTC)
	eng := attendance.NewEngine(s, attendance.MustParseSchedule(cfg), attendance.WithClock(attendance.FixedClock(now)))

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Punch(context.Background(), 9, day, attendance.AmIn, "a", "web")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, attendance.ErrAlreadyPunched)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestStore_AuditTrail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := attendance.DayKey{EmployeeID: 5, WorkDate: day}
	base := time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendAudit(ctx, attendance.AuditRecord{
		ID: "a1", EmployeeID: 5, WorkDate: day, Action: "punch",
		Slots: []string{"am_in"}, ActorID: "u1", Source: "kiosk", At: base,
	}))
	require.NoError(t, s.AppendAudit(ctx, attendance.AuditRecord{
		ID: "a2", EmployeeID: 5, WorkDate: day, Action: "auto_close",
		Slots: []string{"am_out", "pm_out"}, ActorID: attendance.SystemActor, At: base.Add(5 * time.Hour),
	}))
	require.NoError(t, s.AppendAudit(ctx, attendance.AuditRecord{
		ID: "other", EmployeeID: 6, WorkDate: day, Action: "punch", ActorID: "u2", At: base,
	}))

	trail, err := s.AuditTrail(ctx, key)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "a1", trail[0].ID)
	assert.Equal(t, "kiosk", trail[0].Source)
	assert.Equal(t, []string{"am_in"}, trail[0].Slots)
	assert.True(t, base.Equal(trail[0].At))
	assert.Equal(t, "auto_close", trail[1].Action)
	assert.Equal(t, []string{"am_out", "pm_out"}, trail[1].Slots)
	assert.Empty(t, trail[1].Source)

	require.NoError(t, s.Reset(ctx))
	trail, err = s.AuditTrail(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "./data/a.db?"+connParams, dsn("./data/a.db"))
	assert.Equal(t, ":memory:?"+connParams, dsn(":memory:"))
	assert.Equal(t, "file::memory:?mode=memory&cache=shared&"+connParams, dsn("file::memory:?mode=memory&cache=shared"))
}

func TestNew_URIWithQuery(t *testing.T) {
	ctx := context.Background()
	path := "file:" + filepath.Join(t.TempDir(), "a.db") + "?cache=private"

	s, err := New(path)
	require.NoError(t, err)
	defer s.Close()

	var fk int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk, "connection parameters applied after an existing query")

	require.NoError(t, s.SaveDay(ctx, attendance.DayRecord{EmployeeID: 1, WorkDate: day, AmIn: tp(7, 0)}))
	got, err := s.LoadDay(ctx, attendance.DayKey{EmployeeID: 1, WorkDate: day})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, attendance.NewTimeOfDay(7, 0), *got.AmIn)
}
