package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/eventbus"
	"checktime/internal/executor"
	"checktime/internal/storage"
	logx "checktime/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	release chan struct{}
	calls   atomic.Int32
	panics  bool
}

func (r *blockingRunner) Run(ctx context.Context, u calendar.User, a calendar.Action) executor.Outcome {
	r.calls.Add(1)
	if r.panics {
		panic("runner exploded")
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
	now := time.Now()
	return executor.Outcome{UserID: u.ID, Action: a, State: executor.StateSucceeded, Started: now, Finished: now}
}

type recordingReporter struct {
	mu   sync.Mutex
	outs []executor.Outcome
	done chan struct{}
}

func newReporter() *recordingReporter { return &recordingReporter{done: make(chan struct{}, 16)} }

func (r *recordingReporter) Report(_ context.Context, _ calendar.User, out executor.Outcome) {
	r.mu.Lock()
	r.outs = append(r.outs, out)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recordingReporter) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for report %d", i+1)
		}
	}
}

func (r *recordingReporter) outcomes() []executor.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]executor.Outcome(nil), r.outs...)
}

func startService(t *testing.T, runner Runner, opts ...Option) *Service {
	t.Helper()
	s := New(Config{Budget: time.Second, Grace: time.Second}, runner, logx.Nop(), opts...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestDuplicateDispatchIsDropped(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	rep := newReporter()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := startService(t, runner, WithReporter(rep), WithBus(bus))
	u := calendar.User{ID: 1}

	id, err := s.Dispatch(context.Background(), u, calendar.CheckIn)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.InFlight(1))

	_, err = s.Dispatch(context.Background(), u, calendar.CheckOut)
	assert.ErrorIs(t, err, ErrInFlight)

	// Another user is independent.
	other, err := s.Dispatch(context.Background(), calendar.User{ID: 2}, calendar.CheckIn)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	close(runner.release)
	rep.wait(t, 2)
	assert.EqualValues(t, 2, runner.calls.Load())
	assert.Len(t, rep.outcomes(), 2)

	require.Eventually(t, func() bool { return !s.InFlight(1) }, time.Second, 5*time.Millisecond)
	_, err = s.Dispatch(context.Background(), u, calendar.CheckOut)
	require.NoError(t, err)
	rep.wait(t, 1)

	snap := s.Snapshot()
	assert.EqualValues(t, 3, snap.Started)
	assert.EqualValues(t, 1, snap.Skipped)
	assert.Len(t, snap.History, 3)

	var skipped bool
	for len(events) > 0 {
		if ev := <-events; ev.Type == eventbus.DispatchSkipped {
			skipped = true
		}
	}
	assert.True(t, skipped)
}

func TestPanicReportsUnknownOnce(t *testing.T) {
	rep := newReporter()
	audit := storage.NewMemory()
	s := startService(t, &blockingRunner{panics: true}, WithReporter(rep), WithAudit(audit))

	_, err := s.Dispatch(context.Background(), calendar.User{ID: 9}, calendar.CheckIn)
	require.NoError(t, err)
	rep.wait(t, 1)

	outs := rep.outcomes()
	require.Len(t, outs, 1)
	assert.Equal(t, executor.StateFailed, outs[0].State)
	assert.Equal(t, executor.Unknown, outs[0].Kind())

	entries, err := audit.RecentAudit(context.Background(), 9, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "failed", entries[0].State)
	assert.Equal(t, "unknown", entries[0].Kind)

	require.Eventually(t, func() bool { return !s.InFlight(9) }, time.Second, 5*time.Millisecond)
}

func TestDispatchAfterStop(t *testing.T) {
	s := New(Config{}, &blockingRunner{}, logx.Nop())
	_, err := s.Dispatch(context.Background(), calendar.User{ID: 1}, calendar.CheckIn)
	assert.ErrorIs(t, err, ErrStopped)

	s.Start(context.Background())
	s.Stop(context.Background())
	_, err = s.Dispatch(context.Background(), calendar.User{ID: 1}, calendar.CheckIn)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStopWaitsForInFlight(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	rep := newReporter()
	s := New(Config{Budget: 5 * time.Second}, runner, logx.Nop(), WithReporter(rep))
	s.Start(context.Background())

	_, err := s.Dispatch(context.Background(), calendar.User{ID: 3}, calendar.CheckIn)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(runner.release)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	outs := rep.outcomes()
	require.Len(t, outs, 1, "stop returns after the in-flight execution reported")
	assert.True(t, outs[0].Succeeded())
}
