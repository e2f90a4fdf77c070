package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"checktime/internal/calendar"
	logx "checktime/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	login   func(ctx context.Context) error
	ready   func(ctx context.Context) error
	trigger func(ctx context.Context) error
	confirm func(ctx context.Context) error

	closed  atomic.Int32
	creds   Credentials
	actions []calendar.Action
}

func call(fn func(context.Context) error, ctx context.Context) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (s *fakeSession) Login(ctx context.Context, c Credentials) error {
	s.creds = c
	return call(s.login, ctx)
}
func (s *fakeSession) AwaitActionReady(ctx context.Context) error { return call(s.ready, ctx) }
func (s *fakeSession) Trigger(ctx context.Context, a calendar.Action) error {
	s.actions = append(s.actions, a)
	return call(s.trigger, ctx)
}
func (s *fakeSession) AwaitConfirmation(ctx context.Context) error { return call(s.confirm, ctx) }
func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeFactory struct {
	sess *fakeSession
	err  error
}

func (f *fakeFactory) Open(context.Context, Credentials) (Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sess, nil
}

type plainVault struct{ err error }

func (v plainVault) Open(s string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	return "plain:" + s, nil
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func testUser() calendar.User {
	return calendar.User{
		ID:            7,
		Name:          "ana",
		RemoteEnabled: true,
		Remote:        &calendar.RemoteAccount{Username: "ana", SealedPassword: "sealed", Subdomain: "acme"},
	}
}

func shortConfig() Config {
	return Config{LoginTimeout: 30 * time.Millisecond, ReadyTimeout: 30 * time.Millisecond, ConfirmTimeout: 30 * time.Millisecond}
}

func states(o Outcome) []State {
	out := make([]State, 0, len(o.Trail))
	for _, t := range o.Trail {
		out = append(out, t.State)
	}
	return out
}

func TestRunSucceeds(t *testing.T) {
	sess := &fakeSession{}
	ex := New(shortConfig(), &fakeFactory{sess: sess}, plainVault{}, logx.Nop())

	out := ex.Run(context.Background(), testUser(), calendar.CheckIn)
	require.True(t, out.Succeeded())
	assert.Nil(t, out.Err)
	assert.Equal(t, []State{StateIdle, StateLoggingIn, StateAwaitingActionReady, StatePerformingAction,
		StateAwaitingConfirmation, StateSucceeded}, states(out))
	assert.Equal(t, "plain:sealed", sess.creds.Password)
	assert.Equal(t, "acme", sess.creds.Subdomain)
	assert.Equal(t, []calendar.Action{calendar.CheckIn}, sess.actions)
	assert.EqualValues(t, 1, sess.closed.Load())
	assert.False(t, out.Finished.Before(out.Started))
}

func TestSimulatedRunAlwaysSucceeds(t *testing.T) {
	const delay = 80 * time.Millisecond
	ex := New(Config{}, SimulatedFactory{Delay: delay}, plainVault{}, logx.Nop(), Simulated(true))

	for i := 0; i < 3; i++ {
		start := time.Now()
		out := ex.Run(context.Background(), testUser(), calendar.CheckOut)
		took := time.Since(start)

		require.Equal(t, StateSucceeded, out.State)
		assert.True(t, out.Simulated)
		assert.NotContains(t, states(out), StateFailed)
		assert.GreaterOrEqual(t, took, delay)
		assert.Less(t, took, delay+time.Second)
	}
}

func TestSimulatedRunIgnoresStepTimeouts(t *testing.T) {
	ex := New(shortConfig(), SimulatedFactory{Delay: 200 * time.Millisecond}, plainVault{}, logx.Nop(), Simulated(true))

	out := ex.Run(context.Background(), testUser(), calendar.CheckIn)
	require.Equal(t, StateSucceeded, out.State)
	assert.Nil(t, out.Err)
}

func TestSimulatedRunSkipsCredentials(t *testing.T) {
	broken := plainVault{err: errors.New("cipher: message authentication failed")}
	ex := New(Config{}, SimulatedFactory{}, broken, logx.Nop(), Simulated(true))

	out := ex.Run(context.Background(), testUser(), calendar.CheckIn)
	require.Equal(t, StateSucceeded, out.State)

	u := testUser()
	u.Remote.SealedPassword = ""
	out = ex.Run(context.Background(), u, calendar.CheckOut)
	assert.Equal(t, StateSucceeded, out.State)
}

func TestLoginTimeoutFailsWithLoginError(t *testing.T) {
	sess := &fakeSession{login: blockUntilDone}
	ex := New(shortConfig(), &fakeFactory{sess: sess}, plainVault{}, logx.Nop())

	out := ex.Run(context.Background(), testUser(), calendar.CheckIn)
	require.Equal(t, StateFailed, out.State)
	assert.Equal(t, LoginError, out.Kind())
	assert.True(t, errors.Is(out.Err, context.DeadlineExceeded))
	assert.EqualValues(t, 1, sess.closed.Load(), "session must be released exactly once")
	assert.Equal(t, []State{StateIdle, StateLoggingIn, StateFailed}, states(out))
}

func TestTimeoutKindDependsOnState(t *testing.T) {
	cases := []struct {
		name string
		sess *fakeSession
		want Kind
	}{
		{"ready", &fakeSession{ready: blockUntilDone}, ActionNotFound},
		{"trigger", &fakeSession{trigger: blockUntilDone}, ActionNotFound},
		{"confirm", &fakeSession{confirm: blockUntilDone}, Timeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ex := New(shortConfig(), &fakeFactory{sess: tc.sess}, plainVault{}, logx.Nop())
			out := ex.Run(context.Background(), testUser(), calendar.CheckIn)
			assert.Equal(t, StateFailed, out.State)
			assert.Equal(t, tc.want, out.Kind())
			assert.EqualValues(t, 1, tc.sess.closed.Load())
		})
	}
}

func TestSessionErrorKeepsKind(t *testing.T) {
	sess := &fakeSession{login: func(context.Context) error {
		return Fail(LoginError, "bad password", nil)
	}}
	ex := New(shortConfig(), &fakeFactory{sess: sess}, plainVault{}, logx.Nop())
	out := ex.Run(context.Background(), testUser(), calendar.CheckIn)
	assert.ErrorIs(t, out.Err, ErrLogin)
	assert.Equal(t, "bad password", out.Err.Detail)

	sess = &fakeSession{trigger: func(context.Context) error { return errors.New("boom") }}
	ex = New(shortConfig(), &fakeFactory{sess: sess}, plainVault{}, logx.Nop())
	out = ex.Run(context.Background(), testUser(), calendar.CheckIn)
	assert.Equal(t, Unknown, out.Kind())
	assert.EqualValues(t, 1, sess.closed.Load())
}

func TestPanicIsUnknownAndReleases(t *testing.T) {
	sess := &fakeSession{confirm: func(context.Context) error { panic("kaboom") }}
	ex := New(shortConfig(), &fakeFactory{sess: sess}, plainVault{}, logx.Nop())

	out := ex.Run(context.Background(), testUser(), calendar.CheckIn)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, Unknown, out.Kind())
	assert.EqualValues(t, 1, sess.closed.Load())
}

func TestCredentialFailures(t *testing.T) {
	sess := &fakeSession{}
	ex := New(shortConfig(), &fakeFactory{sess: sess}, plainVault{err: errors.New("wrong key")}, logx.Nop())
	out := ex.Run(context.Background(), testUser(), calendar.CheckIn)
	assert.Equal(t, LoginError, out.Kind())
	assert.Equal(t, "credentials", out.Err.Detail)

	u := testUser()
	u.Remote = nil
	out = ex.Run(context.Background(), u, calendar.CheckIn)
	assert.Equal(t, LoginError, out.Kind())
	assert.Zero(t, sess.closed.Load(), "no session is opened without credentials")
}

func TestFactoryFailure(t *testing.T) {
	ex := New(shortConfig(), &fakeFactory{err: errors.New("no network")}, plainVault{}, logx.Nop())
	out := ex.Run(context.Background(), testUser(), calendar.CheckIn)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, Unknown, out.Kind())
}

func TestSimulationEnabled(t *testing.T) {
	t.Setenv(EnvSimulate, "")
	assert.False(t, SimulationEnabled(false))
	assert.True(t, SimulationEnabled(true))

	t.Setenv(EnvSimulate, "1")
	assert.True(t, SimulationEnabled(false))

	t.Setenv(EnvSimulate, "off")
	assert.False(t, SimulationEnabled(true))
}

func TestBudget(t *testing.T) {
	c := Config{LoginTimeout: time.Second, ReadyTimeout: 2 * time.Second, ConfirmTimeout: 3 * time.Second}
	assert.Equal(t, 8*time.Second, c.Budget())
	assert.Equal(t, 120*time.Second, Config{}.Budget())
}
