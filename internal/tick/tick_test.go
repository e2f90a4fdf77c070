package tick

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/dispatch"
	"checktime/internal/schedule"
	"checktime/internal/storage"
	logx "checktime/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	userID int64
	action calendar.Action
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, u calendar.User, a calendar.Action) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.calls = append(d.calls, call{u.ID, a})
	return "id", nil
}

func (d *fakeDispatcher) taken() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

type fakeAlerter struct {
	mu   sync.Mutex
	msgs []string
}

func (a *fakeAlerter) NotifyOperator(_ context.Context, text string) error {
	a.mu.Lock()
	a.msgs = append(a.msgs, text)
	a.mu.Unlock()
	return nil
}

type flakyLister struct {
	fail bool
	next UserLister
}

func (l *flakyLister) ListEligibleUsers(ctx context.Context) ([]calendar.User, []error, error) {
	if l.fail {
		return nil, nil, errors.New("database is locked")
	}
	return l.next.ListEligibleUsers(ctx)
}

type env struct {
	st   *storage.Memory
	disp *fakeDispatcher
	svc  *Service
	user calendar.User
}

// newEnv stores one user working checkIn-checkOut on every weekday of 2025.
func newEnv(t *testing.T, checkIn, checkOut string, opts ...Option) *env {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	u, err := st.PutUser(ctx, calendar.User{Name: "ana", RemoteEnabled: true,
		Remote: &calendar.RemoteAccount{Username: "ana", SealedPassword: "x"}})
	require.NoError(t, err)
	p, err := st.AddPeriod(ctx, calendar.SchedulePeriod{UserID: u.ID, Active: true,
		Start: calendar.MustDate("2025-01-01"), End: calendar.MustDate("2025-12-31")})
	require.NoError(t, err)
	for wd := 0; wd < 7; wd++ {
		require.NoError(t, st.PutDaySchedule(ctx, calendar.DaySchedule{PeriodID: p.ID, Weekday: wd,
			CheckIn: calendar.MustClock(checkIn), CheckOut: calendar.MustClock(checkOut)}))
	}
	disp := &fakeDispatcher{}
	svc := New(Config{Timezone: "UTC"}, schedule.NewEligibility(st, logx.Nop()),
		schedule.NewResolver(st, schedule.DefaultPolicy(), logx.Nop()), disp, logx.Nop(), opts...)
	return &env{st: st, disp: disp, svc: svc, user: u}
}

func at(hhmm string, sec int) time.Time {
	c := calendar.MustClock(hhmm)
	return time.Date(2025, 3, 10, c.Hour, c.Minute, sec, 0, time.UTC)
}

func TestCheckInFiresOnceAtScheduledMinute(t *testing.T) {
	e := newEnv(t, "09:00", "18:00")
	ctx := context.Background()

	rep := e.svc.Tick(ctx, at("09:00", 3))
	require.NoError(t, rep.Fatal)
	assert.Equal(t, 1, rep.Evaluated)
	require.Len(t, rep.Dispatched, 1)
	assert.Equal(t, []call{{e.user.ID, calendar.CheckIn}}, e.disp.taken())

	rep = e.svc.Tick(ctx, at("09:01", 0))
	assert.Empty(t, rep.Dispatched)
	assert.Len(t, e.disp.taken(), 1)

	rep = e.svc.Tick(ctx, at("18:00", 59))
	require.Len(t, rep.Dispatched, 1)
	assert.Equal(t, calendar.CheckOut, rep.Dispatched[0].Action)
}

func TestEqualTimesOnlyCheckIn(t *testing.T) {
	e := newEnv(t, "12:00", "12:00")
	rep := e.svc.Tick(context.Background(), at("12:00", 0))
	require.Len(t, rep.Dispatched, 1)
	assert.Equal(t, calendar.CheckIn, rep.Dispatched[0].Action)
}

func TestHolidaySuppressesDispatch(t *testing.T) {
	e := newEnv(t, "09:00", "18:00")
	require.NoError(t, e.st.AddHoliday(context.Background(),
		calendar.Holiday{UserID: e.user.ID, Date: calendar.MustDate("2025-03-10")}))
	rep := e.svc.Tick(context.Background(), at("09:00", 0))
	assert.Empty(t, rep.Dispatched)
	assert.Equal(t, 1, rep.Evaluated)
}

func TestTickUsesConfiguredTimezone(t *testing.T) {
	e := newEnv(t, "09:00", "18:00")
	e.svc.Apply(Config{Timezone: "Europe/Madrid"})
	// 08:00 UTC is 09:00 in Madrid on this date (CET).
	rep := e.svc.Tick(context.Background(), at("08:00", 0))
	require.Len(t, rep.Dispatched, 1)
	assert.Equal(t, calendar.CheckIn, rep.Dispatched[0].Action)
}

func TestInFlightIsSkippedNotError(t *testing.T) {
	e := newEnv(t, "09:00", "18:00")
	e.disp.err = dispatch.ErrInFlight
	rep := e.svc.Tick(context.Background(), at("09:00", 0))
	assert.Empty(t, rep.Dispatched)
	assert.Equal(t, 1, rep.Skipped)
	assert.Empty(t, rep.Errors)
}

func TestResolutionErrorSkipsUser(t *testing.T) {
	e := newEnv(t, "09:00", "18:00")
	e.st.InsertPeriodUnchecked(calendar.SchedulePeriod{UserID: e.user.ID, Active: true,
		Start: calendar.MustDate("2025-03-01"), End: calendar.MustDate("2025-03-31")})
	e.svc.resolver = schedule.NewResolver(e.st, schedule.Policy{OnOverlap: schedule.OverlapSkip}, logx.Nop())

	rep := e.svc.Tick(context.Background(), at("09:00", 0))
	assert.Empty(t, rep.Dispatched)
	assert.Equal(t, 1, rep.Skipped)
	require.Len(t, rep.Errors, 1)
	var rerr *schedule.ResolutionError
	assert.ErrorAs(t, rep.Errors[0], &rerr)
}

func TestFatalErrorBacksOff(t *testing.T) {
	alert := &fakeAlerter{}
	e := newEnv(t, "09:00", "18:00", WithAlerter(alert))
	lister := &flakyLister{fail: true, next: e.svc.users}
	e.svc.users = lister
	e.svc.Apply(Config{Timezone: "UTC", FatalBackoff: 5 * time.Minute, FatalBackoffMax: 8 * time.Minute})
	ctx := context.Background()

	rep := e.svc.Tick(ctx, at("09:00", 0))
	require.Error(t, rep.Fatal)
	_, until := e.svc.backoff.state()
	assert.Equal(t, at("09:05", 0), until)

	rep = e.svc.Tick(ctx, at("09:04", 0))
	assert.True(t, rep.BackedOff)

	// Second failure doubles the window, capped by the max.
	rep = e.svc.Tick(ctx, at("09:05", 0))
	require.Error(t, rep.Fatal)
	streak, until := e.svc.backoff.state()
	assert.Equal(t, 2, streak)
	assert.Equal(t, at("09:13", 0), until)

	alert.mu.Lock()
	assert.Len(t, alert.msgs, 1, "only the first failure of a streak alerts")
	alert.mu.Unlock()

	lister.fail = false
	rep = e.svc.Tick(ctx, at("09:13", 0))
	require.NoError(t, rep.Fatal)
	assert.False(t, rep.BackedOff)
	streak, _ = e.svc.backoff.state()
	assert.Zero(t, streak)

	snap := e.svc.Snapshot()
	assert.EqualValues(t, 4, snap.Ticks)
	assert.EqualValues(t, 2, snap.Fatal)
	assert.EqualValues(t, 1, snap.BackedOff)
	assert.Equal(t, at("09:13", 0), snap.LastTick)
}

func TestStartStopDisabled(t *testing.T) {
	e := newEnv(t, "09:00", "18:00")
	e.svc.Start(context.Background())
	assert.Nil(t, e.svc.c, "disabled scheduler registers no trigger")

	e.svc.Apply(Config{Enabled: true, Timezone: "UTC"})
	e.svc.Start(context.Background())
	require.NotNil(t, e.svc.c)
	snap := e.svc.Snapshot()
	assert.False(t, snap.Next.IsZero())
	e.svc.Stop(context.Background())
	assert.Nil(t, e.svc.c)
}

func TestCronLoggerCountsSkips(t *testing.T) {
	e := newEnv(t, "09:00", "18:00")
	cl := cronLogger{log: logx.Nop(), onSkip: e.svc.noteOverrun}
	cl.Info("skip")
	cl.Info("wake", "now", time.Now())
	assert.EqualValues(t, 1, e.svc.Snapshot().Overruns)
}

type gateLister struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (l *gateLister) ListEligibleUsers(ctx context.Context) ([]calendar.User, []error, error) {
	first := false
	l.once.Do(func() { first = true })
	if first {
		close(l.entered)
		<-l.release
	}
	return nil, nil, nil
}

func TestTimezoneReloadDuringRunningTick(t *testing.T) {
	e := newEnv(t, "09:00", "18:00")
	gate := &gateLister{entered: make(chan struct{}), release: make(chan struct{})}
	e.svc.users = gate
	e.svc.trigger = "@every 1s"
	e.svc.Apply(Config{Enabled: true, Timezone: "UTC"})
	e.svc.Start(context.Background())
	t.Cleanup(func() { e.svc.Stop(context.Background()) })

	select {
	case <-gate.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("trigger never fired")
	}

	applied := make(chan struct{})
	go func() {
		e.svc.Apply(Config{Enabled: true, Timezone: "Europe/Madrid"})
		close(applied)
	}()
	time.Sleep(50 * time.Millisecond)

	// Apply is waiting for the running tick; status reads must not block on it.
	snapped := make(chan Snapshot, 1)
	go func() { snapped <- e.svc.Snapshot() }()
	select {
	case snap := <-snapped:
		assert.Equal(t, "Europe/Madrid", snap.Timezone)
	case <-time.After(time.Second):
		t.Fatal("snapshot blocked behind timezone reload")
	}

	close(gate.release)
	select {
	case <-applied:
	case <-time.After(3 * time.Second):
		t.Fatal("apply never returned")
	}
	assert.True(t, e.svc.Active(), "trigger restarted in the new timezone")
}

func TestStopWinsOverPendingRestart(t *testing.T) {
	e := newEnv(t, "09:00", "18:00")
	e.svc.Apply(Config{Enabled: true, Timezone: "UTC"})
	e.svc.Start(context.Background())
	e.svc.Stop(context.Background())

	e.svc.Apply(Config{Enabled: true, Timezone: "Europe/Madrid"})
	assert.False(t, e.svc.Active())
}
