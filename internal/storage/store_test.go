package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"checktime/internal/calendar"
	logx "checktime/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var gormDBSeq atomic.Int64

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "cal.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
		"gorm": func(t *testing.T) Store {
			dsn := fmt.Sprintf("file:checktime_%d?mode=memory&cache=shared", gormDBSeq.Add(1))
			db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
			require.NoError(t, err)
			st, err := NewGorm(db)
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, st Store)) {
	for name, open := range backends(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func newUser(t *testing.T, st Store, name string, enabled bool, chatID int64) calendar.User {
	t.Helper()
	u, err := st.PutUser(context.Background(), calendar.User{
		Name:          name,
		RemoteEnabled: enabled,
		Remote:        &calendar.RemoteAccount{Username: name, SealedPassword: "sealed", Subdomain: "acme"},
		Notify:        &calendar.NotifyAddress{Enabled: true, TelegramChatID: chatID},
	})
	require.NoError(t, err)
	require.NotZero(t, u.ID)
	return u
}

func TestUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		a := newUser(t, st, "ana", true, 100)
		b := newUser(t, st, "bob", false, 200)

		got, err := st.GetUser(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "ana", got.Name)
		require.NotNil(t, got.Remote)
		assert.Equal(t, "sealed", got.Remote.SealedPassword)
		require.NotNil(t, got.Notify)
		assert.Equal(t, int64(100), got.Notify.TelegramChatID)

		all, err := st.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		enabled, err := st.ListUsersWithActionEnabled(ctx)
		require.NoError(t, err)
		require.Len(t, enabled, 1)
		assert.Equal(t, a.ID, enabled[0].ID)

		found, err := st.FindUserByChatID(ctx, 200)
		require.NoError(t, err)
		assert.Equal(t, b.ID, found.ID)

		_, err = st.FindUserByChatID(ctx, 999)
		assert.ErrorIs(t, err, calendar.ErrNotFound)

		_, err = st.GetUser(ctx, 4242)
		assert.ErrorIs(t, err, calendar.ErrNotFound)

		b.RemoteEnabled = true
		b.Notify = nil
		b, err = st.PutUser(ctx, b)
		require.NoError(t, err)
		assert.True(t, b.RemoteEnabled)
		assert.Nil(t, b.Notify)

		enabled, err = st.ListUsersWithActionEnabled(ctx)
		require.NoError(t, err)
		assert.Len(t, enabled, 2)
	})
}

func TestHolidays(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		u := newUser(t, st, "ana", true, 1)
		day := calendar.MustDate("2024-12-25")

		require.NoError(t, st.AddHoliday(ctx, calendar.Holiday{UserID: u.ID, Date: day, Description: "xmas"}))
		assert.ErrorIs(t, st.AddHoliday(ctx, calendar.Holiday{UserID: u.ID, Date: day}), calendar.ErrConflict)
		require.NoError(t, st.AddHoliday(ctx, calendar.Holiday{UserID: u.ID, Date: calendar.MustDate("2024-01-01")}))

		h, err := st.GetHoliday(ctx, u.ID, day)
		require.NoError(t, err)
		assert.Equal(t, "xmas", h.Description)

		list, err := st.ListHolidays(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "2024-01-01", list[0].Date.String())

		require.NoError(t, st.DeleteHoliday(ctx, u.ID, day))
		assert.ErrorIs(t, st.DeleteHoliday(ctx, u.ID, day), calendar.ErrNotFound)
		_, err = st.GetHoliday(ctx, u.ID, day)
		assert.ErrorIs(t, err, calendar.ErrNotFound)
	})
}

func TestPeriodsAndDaySchedules(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		u := newUser(t, st, "ana", true, 1)

		p, err := st.AddPeriod(ctx, calendar.SchedulePeriod{
			UserID: u.ID, Name: "spring",
			Start: calendar.MustDate("2024-03-01"), End: calendar.MustDate("2024-06-30"), Active: true,
		})
		require.NoError(t, err)
		require.NotZero(t, p.ID)

		_, err = st.AddPeriod(ctx, calendar.SchedulePeriod{
			UserID: u.ID, Start: calendar.MustDate("2024-06-30"), End: calendar.MustDate("2024-08-01"), Active: true,
		})
		assert.ErrorIs(t, err, calendar.ErrPeriodOverlap)

		// Inactive periods may overlap.
		_, err = st.AddPeriod(ctx, calendar.SchedulePeriod{
			UserID: u.ID, Start: calendar.MustDate("2024-04-01"), End: calendar.MustDate("2024-04-30"), Active: false,
		})
		require.NoError(t, err)

		_, err = st.AddPeriod(ctx, calendar.SchedulePeriod{
			UserID: u.ID, Start: calendar.MustDate("2024-05-01"), End: calendar.MustDate("2024-04-01"), Active: true,
		})
		assert.ErrorIs(t, err, calendar.ErrInvalid)

		got, err := st.ActivePeriods(ctx, u.ID, calendar.MustDate("2024-04-15"))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, p.ID, got[0].ID)

		got, err = st.ActivePeriods(ctx, u.ID, calendar.MustDate("2024-07-01"))
		require.NoError(t, err)
		assert.Empty(t, got)

		ds := calendar.DaySchedule{PeriodID: p.ID, Weekday: 0, CheckIn: calendar.MustClock("08:00"), CheckOut: calendar.MustClock("17:00")}
		require.NoError(t, st.PutDaySchedule(ctx, ds))
		ds.CheckOut = calendar.MustClock("16:30")
		require.NoError(t, st.PutDaySchedule(ctx, ds))

		back, err := st.GetDaySchedule(ctx, p.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, "16:30", back.CheckOut.String())

		_, err = st.GetDaySchedule(ctx, p.ID, 5)
		assert.ErrorIs(t, err, calendar.ErrNotFound)

		assert.ErrorIs(t, st.PutDaySchedule(ctx, calendar.DaySchedule{PeriodID: 9999, Weekday: 1}), calendar.ErrNotFound)
		assert.ErrorIs(t, st.PutDaySchedule(ctx, calendar.DaySchedule{PeriodID: p.ID, Weekday: 7}), calendar.ErrInvalid)
	})
}

func TestOverridesUpsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		u := newUser(t, st, "ana", true, 1)
		day := calendar.MustDate("2024-03-04")

		_, err := st.GetOverride(ctx, u.ID, day)
		assert.ErrorIs(t, err, calendar.ErrNotFound)

		o := calendar.DayOverride{UserID: u.ID, Date: day, CheckIn: calendar.MustClock("10:00"), CheckOut: calendar.MustClock("14:00")}
		require.NoError(t, st.PutOverride(ctx, o))
		o.CheckIn = calendar.MustClock("11:00")
		require.NoError(t, st.PutOverride(ctx, o))

		got, err := st.GetOverride(ctx, u.ID, day)
		require.NoError(t, err)
		assert.Equal(t, "11:00", got.CheckIn.String())
		assert.Equal(t, "14:00", got.CheckOut.String())
	})
}

func TestAudit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			uid := int64(1 + i%2)
			require.NoError(t, st.AppendAudit(ctx, AuditEntry{
				DispatchID: fmt.Sprintf("d%d", i), UserID: uid, Action: "check_in", State: "succeeded", TookMS: int64(i),
			}))
		}
		got, err := st.RecentAudit(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "d4", got[0].DispatchID)
		assert.Equal(t, "d2", got[1].DispatchID)

		all, err := st.RecentAudit(ctx, 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 5)
		assert.False(t, all[0].At.IsZero())
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
	assert.True(t, ValidDriver("postgres"))
	assert.False(t, ValidDriver("mongo"))

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}
