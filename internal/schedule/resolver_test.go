package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/storage"
	logx "checktime/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	st   *storage.Memory
	user calendar.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemory()
	u, err := st.PutUser(context.Background(), calendar.User{
		Name:          "ana",
		RemoteEnabled: true,
		Remote:        &calendar.RemoteAccount{Username: "ana", SealedPassword: "x"},
	})
	require.NoError(t, err)
	return &fixture{st: st, user: u}
}

func (f *fixture) period(t *testing.T, start, end string, days map[int][2]string) calendar.SchedulePeriod {
	t.Helper()
	ctx := context.Background()
	p, err := f.st.AddPeriod(ctx, calendar.SchedulePeriod{
		UserID: f.user.ID, Name: start[:4], Start: calendar.MustDate(start), End: calendar.MustDate(end), Active: true,
	})
	require.NoError(t, err)
	for wd, hours := range days {
		require.NoError(t, f.st.PutDaySchedule(ctx, calendar.DaySchedule{
			PeriodID: p.ID, Weekday: wd, CheckIn: calendar.MustClock(hours[0]), CheckOut: calendar.MustClock(hours[1]),
		}))
	}
	return p
}

func weekdays(in, out string) map[int][2]string {
	m := map[int][2]string{}
	for d := 0; d < 5; d++ {
		m[d] = [2]string{in, out}
	}
	return m
}

func TestHolidayWinsOverPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := calendar.MustDate("2025-12-25")
	f.period(t, "2025-01-01", "2025-12-31", weekdays("09:00", "18:00"))
	require.NoError(t, f.st.AddHoliday(ctx, calendar.Holiday{UserID: f.user.ID, Date: day, Description: "Christmas"}))

	r := NewResolver(f.st, DefaultPolicy(), logx.Nop())
	res, err := r.Resolve(ctx, f.user.ID, day)
	require.NoError(t, err)
	assert.False(t, res.Working)
	assert.Equal(t, SourceNone, res.Source)
	assert.Equal(t, ReasonHoliday, res.Reason)
}

func TestOverrideReplacesPeriodHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := calendar.MustDate("2025-03-10") // Monday
	f.period(t, "2025-01-01", "2025-12-31", weekdays("09:00", "18:00"))
	require.NoError(t, f.st.PutOverride(ctx, calendar.DayOverride{
		UserID: f.user.ID, Date: day, CheckIn: calendar.MustClock("10:00"), CheckOut: calendar.MustClock("16:00"), Description: "half day",
	}))

	res, err := NewResolver(f.st, DefaultPolicy(), logx.Nop()).Resolve(ctx, f.user.ID, day)
	require.NoError(t, err)
	assert.True(t, res.Working)
	assert.Equal(t, "10:00", res.CheckIn.String())
	assert.Equal(t, "16:00", res.CheckOut.String())
	assert.Equal(t, SourceOverride, res.Source)
}

func TestPrecedencePolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := calendar.MustDate("2025-05-01")
	require.NoError(t, f.st.AddHoliday(ctx, calendar.Holiday{UserID: f.user.ID, Date: day}))
	require.NoError(t, f.st.PutOverride(ctx, calendar.DayOverride{
		UserID: f.user.ID, Date: day, CheckIn: calendar.MustClock("08:00"), CheckOut: calendar.MustClock("12:00"),
	}))

	r := NewResolver(f.st, DefaultPolicy(), logx.Nop())
	res, err := r.Resolve(ctx, f.user.ID, day)
	require.NoError(t, err)
	assert.False(t, res.Working)

	r.SetPolicy(Policy{Precedence: OverrideFirst})
	res, err = r.Resolve(ctx, f.user.ID, day)
	require.NoError(t, err)
	assert.True(t, res.Working)
	assert.Equal(t, SourceOverride, res.Source)
	assert.Equal(t, "08:00", res.CheckIn.String())
}

func TestNoPeriodAndNoDaySchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := NewResolver(f.st, DefaultPolicy(), logx.Nop())

	res, err := r.Resolve(ctx, f.user.ID, calendar.MustDate("2025-03-10"))
	require.NoError(t, err)
	assert.Equal(t, notWorking(ReasonNoPeriod), res)

	f.period(t, "2025-01-01", "2025-12-31", weekdays("09:00", "18:00"))
	res, err = r.Resolve(ctx, f.user.ID, calendar.MustDate("2025-03-15")) // Saturday
	require.NoError(t, err)
	assert.False(t, res.Working)
	assert.Equal(t, ReasonNoDaySchedule, res.Reason)

	res, err = r.Resolve(ctx, f.user.ID, calendar.MustDate("2025-03-14")) // Friday
	require.NoError(t, err)
	assert.True(t, res.Working)
	assert.Equal(t, SourcePeriod, res.Source)
	assert.Equal(t, "18:00", res.CheckOut.String())
}

func TestInactivePeriodIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.st.AddPeriod(ctx, calendar.SchedulePeriod{
		UserID: f.user.ID, Start: calendar.MustDate("2025-01-01"), End: calendar.MustDate("2025-12-31"), Active: false,
	})
	require.NoError(t, err)
	require.NoError(t, f.st.PutDaySchedule(ctx, calendar.DaySchedule{PeriodID: p.ID, Weekday: 0,
		CheckIn: calendar.MustClock("09:00"), CheckOut: calendar.MustClock("17:00")}))

	res, err := NewResolver(f.st, DefaultPolicy(), logx.Nop()).Resolve(ctx, f.user.ID, calendar.MustDate("2025-03-10"))
	require.NoError(t, err)
	assert.Equal(t, ReasonNoPeriod, res.Reason)
}

func TestResolveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.period(t, "2025-01-01", "2025-12-31", weekdays("09:00", "18:00"))
	r := NewResolver(f.st, DefaultPolicy(), logx.Nop())
	day := calendar.MustDate("2025-06-02")

	a, err := r.Resolve(ctx, f.user.ID, day)
	require.NoError(t, err)
	b, err := r.Resolve(ctx, f.user.ID, day)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestOverlappingPeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	older := f.st.InsertPeriodUnchecked(calendar.SchedulePeriod{UserID: f.user.ID, Active: true,
		Start: calendar.MustDate("2025-01-01"), End: calendar.MustDate("2025-12-31"), CreatedAt: base})
	newer := f.st.InsertPeriodUnchecked(calendar.SchedulePeriod{UserID: f.user.ID, Active: true,
		Start: calendar.MustDate("2025-03-01"), End: calendar.MustDate("2025-03-31"), CreatedAt: base.Add(time.Hour)})
	require.NoError(t, f.st.PutDaySchedule(ctx, calendar.DaySchedule{PeriodID: older.ID, Weekday: 0,
		CheckIn: calendar.MustClock("09:00"), CheckOut: calendar.MustClock("18:00")}))
	require.NoError(t, f.st.PutDaySchedule(ctx, calendar.DaySchedule{PeriodID: newer.ID, Weekday: 0,
		CheckIn: calendar.MustClock("07:00"), CheckOut: calendar.MustClock("15:00")}))
	day := calendar.MustDate("2025-03-10")

	r := NewResolver(f.st, DefaultPolicy(), logx.Nop())
	res, err := r.Resolve(ctx, f.user.ID, day)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, res.PeriodID)
	assert.Equal(t, "07:00", res.CheckIn.String())

	r.SetPolicy(Policy{OnOverlap: OverlapSkip})
	_, err = r.Resolve(ctx, f.user.ID, day)
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, f.user.ID, rerr.UserID)
	assert.Equal(t, day, rerr.Date)
}

type failingReader struct {
	calendar.Reader
}

func (failingReader) GetHoliday(context.Context, int64, calendar.Date) (calendar.Holiday, error) {
	return calendar.Holiday{}, errors.New("disk on fire")
}

func TestStoreFailureIsResolutionError(t *testing.T) {
	r := NewResolver(failingReader{}, DefaultPolicy(), logx.Nop())
	_, err := r.Resolve(context.Background(), 1, calendar.MustDate("2025-01-01"))
	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)

	p, err = ParsePolicy("Override_First", "skip")
	require.NoError(t, err)
	assert.Equal(t, Policy{Precedence: OverrideFirst, OnOverlap: OverlapSkip}, p)

	_, err = ParsePolicy("random", "")
	assert.Error(t, err)
	_, err = ParsePolicy("", "first")
	assert.Error(t, err)
}
