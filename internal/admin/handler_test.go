package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/dispatch"
	"checktime/internal/storage"
	"checktime/internal/tick"
	kit "checktime/internal/transport"
	logx "checktime/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                      { return nil }
func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.replies = append(a.replies, text)
	a.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		return ""
	}
	return a.replies[len(a.replies)-1]
}

const (
	owner    int64 = 1
	stranger int64 = 2
	chat     int64 = 555
)

type fixture struct {
	h  *Handler
	ad *fakeAdapter
	st *storage.Memory
	u  calendar.User
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := storage.NewMemory()
	u, err := st.PutUser(context.Background(), calendar.User{
		Name:   "ana",
		Notify: &calendar.NotifyAddress{Enabled: true, TelegramChatID: chat},
	})
	require.NoError(t, err)
	ad := &fakeAdapter{}
	h := New(ad, st, []int64{owner}, logx.Nop(), opts...)
	h.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{h: h, ad: ad, st: st, u: u}
}

// send routes one message and runs the queued handler synchronously.
func (f *fixture) send(from int64, text string) string {
	before := len(f.ad.replies)
	f.h.route(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: from, Text: text}})
	select {
	case job := <-f.h.jobs:
		job()
	default:
	}
	if len(f.ad.replies) == before {
		return ""
	}
	return f.ad.last()
}

func TestChatIDOpenToEveryone(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Chat ID: 555", f.send(stranger, "/chatid"))
	assert.Equal(t, "Chat ID: 555", f.send(stranger, "/chatid@checktime_bot"))
}

func TestOwnerOnlyCommandsRefuseOthers(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []string{"/holiday_add 2025-12-25", "/holiday_del 2025-12-25", "/holidays", "/status"} {
		assert.Equal(t, "unauthorized", f.send(stranger, cmd), cmd)
	}
	list, err := f.st.ListHolidays(context.Background(), f.u.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHolidayLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "Holiday added: 2025-12-25 Christmas Day", f.send(owner, `/holiday_add 2025-12-25 "Christmas Day"`))
	_, err := f.st.GetHoliday(ctx, f.u.ID, calendar.MustDate("2025-12-25"))
	require.NoError(t, err)

	assert.Equal(t, "2025-12-25 is already a holiday.", f.send(owner, "/holiday_add 2025-12-25"))

	require.NoError(t, f.st.AddHoliday(ctx, calendar.Holiday{UserID: f.u.ID, Date: calendar.MustDate("2025-01-01")}))
	assert.Equal(t, "Upcoming holidays:\n2025-12-25 Christmas Day", f.send(owner, "/holidays"))

	assert.Equal(t, "Holiday removed: 2025-12-25", f.send(owner, "/holiday_del 2025-12-25"))
	assert.Equal(t, "2025-12-25 is not a holiday.", f.send(owner, "/holiday_del 2025-12-25"))
	assert.Equal(t, "No upcoming holidays.", f.send(owner, "/holidays"))
}

func TestHolidayArgumentErrors(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.send(owner, "/holiday_add"), "usage")
	assert.Equal(t, "invalid date, expected YYYY-MM-DD", f.send(owner, "/holiday_add 25/12/2025"))
	assert.Contains(t, f.send(owner, "/holiday_del"), "usage")
}

func TestUnlinkedChat(t *testing.T) {
	f := newFixture(t)
	f.h.route(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 999, FromID: owner, Text: "/holidays"}})
	(<-f.h.jobs)()
	assert.Contains(t, f.ad.last(), "not linked")
}

func TestUnknownAndPlainText(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "unknown command. try /help", f.send(owner, "/nope"))
	assert.Equal(t, "", f.send(owner, "hello"))
	help := f.send(stranger, "/help")
	assert.Contains(t, help, "/holiday_add YYYY-MM-DD [description] - mark a date as holiday (owner)")
	assert.Contains(t, help, "/chatid - show this chat's id")
}

type tickSnap tick.Snapshot

func (s tickSnap) Snapshot() tick.Snapshot { return tick.Snapshot(s) }

type dispatchSnap dispatch.Snapshot

func (s dispatchSnap) Snapshot() dispatch.Snapshot { return dispatch.Snapshot(s) }

func TestStatus(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, WithStatus(
		tickSnap{Enabled: true, Timezone: "UTC", Ticks: 3, LastTick: at, Last: tick.ReportSummary{Evaluated: 2, Dispatched: 1}},
		dispatchSnap{Started: 1, Succeeded: 1, History: []dispatch.HistoryItem{{UserID: 7, Action: calendar.CheckIn, State: "succeeded", Started: at}}},
	))
	out := f.send(owner, "/status")
	assert.Contains(t, out, "Scheduler: enabled=true tz=UTC ticks=3")
	assert.Contains(t, out, "Last tick: 09:00 evaluated=2 dispatched=1 skipped=0")
	assert.Contains(t, out, "Dispatch: in_flight=0 started=1 ok=1")
	assert.Contains(t, out, "user=7 check_in succeeded")
}

func TestPanicIsRecoveredAndReported(t *testing.T) {
	f := newFixture(t)
	f.h.cmds["boom"] = Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }}
	assert.Equal(t, "error: panic: kaboom", f.send(owner, "/boom"))
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline bool
	h := Chain(func(ctx context.Context, _ *Request) error {
		_, deadline = ctx.Deadline()
		return nil
	}, MWTimeout(time.Second))
	require.NoError(t, h(context.Background(), &Request{}))
	assert.True(t, deadline)
}

func TestRunStopsOnClose(t *testing.T) {
	f := newFixture(t)
	updates := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- f.h.Run(context.Background(), updates) }()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: stranger, Text: "/chatid"}}
	close(updates)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, "Chat ID: 555", f.ad.last())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"/holiday_add", "2025-12-25", "Día de Navidad"}, tokenize(`/holiday_add 2025-12-25 "Día de Navidad"`))
	assert.Equal(t, []string{"a b"}, tokenize(`a\ b`))
	assert.Nil(t, tokenize("   "))
}

func TestMenuSorted(t *testing.T) {
	f := newFixture(t)
	menu := f.h.Menu()
	require.Len(t, menu, 6)
	assert.Equal(t, "chatid", menu[0].Command)
	assert.Equal(t, "status", menu[5].Command)
}
