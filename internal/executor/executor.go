package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"checktime/internal/calendar"
	logx "checktime/pkg/logx"
)

type Executor struct {
	factory   SessionFactory
	vault     Unsealer
	log       logx.Logger
	simulated bool
	cfg       atomic.Pointer[Config]
}

type Option func(*Executor)

// Simulated marks outcomes as simulated and runs them without credentials
// or step deadlines. Pair it with SimulatedFactory.
func Simulated(on bool) Option { return func(e *Executor) { e.simulated = on } }

func New(cfg Config, factory SessionFactory, vault Unsealer, log logx.Logger, opts ...Option) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{factory: factory, vault: vault, log: log.With(logx.String("comp", "executor"))}
	for _, o := range opts {
		o(e)
	}
	e.Apply(cfg)
	return e
}

// Apply swaps step timeouts for runs started afterwards.
func (e *Executor) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.cfg.Store(&cfg)
}

func (e *Executor) Config() Config { return *e.cfg.Load() }

func (e *Executor) IsSimulated() bool { return e.simulated }

type run struct {
	out *Outcome
	log logx.Logger
}

func (r *run) enter(s State) {
	r.out.State = s
	r.out.Trail = append(r.out.Trail, Transition{State: s, At: time.Now()})
	r.log.Trace("state", logx.String("state", string(s)))
}

func (r *run) fail(err *ExecutionError) {
	r.out.Err = err
	r.enter(StateFailed)
}

// Run performs one attempt. It always returns a terminal Outcome.
func (e *Executor) Run(ctx context.Context, u calendar.User, action calendar.Action) (out Outcome) {
	cfg := e.Config()
	out = Outcome{UserID: u.ID, Action: action, Started: time.Now(), Simulated: e.simulated}
	r := &run{out: &out, log: e.log.With(logx.User(u.ID), logx.Action(action))}
	r.enter(StateIdle)

	var (
		sess      Session
		closeOnce sync.Once
	)
	release := func() {
		if sess == nil {
			return
		}
		closeOnce.Do(func() {
			if err := sess.Close(); err != nil {
				r.log.Debug("session close failed", logx.Err(err))
			}
		})
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("execution panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			r.fail(Fail(Unknown, "panic", fmt.Errorf("%v", p)))
		}
		release()
		out.Finished = time.Now()
	}()

	var creds Credentials
	if u.Remote != nil {
		creds = Credentials{Username: u.Remote.Username, Subdomain: u.Remote.Subdomain}
	}
	// simulated sessions never see a password
	if !e.simulated {
		if !u.Remote.Configured() {
			r.fail(Fail(LoginError, "credentials missing", nil))
			return out
		}
		if e.vault != nil {
			pw, err := e.vault.Open(u.Remote.SealedPassword)
			if err != nil {
				r.fail(Fail(LoginError, "credentials", err))
				return out
			}
			creds.Password = pw
		}
	}

	s, err := e.factory.Open(ctx, creds)
	if err != nil {
		r.fail(classify(StateIdle, err))
		return out
	}
	sess = s

	steps := []struct {
		state   State
		timeout time.Duration
		do      func(context.Context) error
	}{
		{StateLoggingIn, cfg.LoginTimeout, func(c context.Context) error { return sess.Login(c, creds) }},
		{StateAwaitingActionReady, cfg.ReadyTimeout, sess.AwaitActionReady},
		{StatePerformingAction, cfg.ReadyTimeout, func(c context.Context) error { return sess.Trigger(c, action) }},
		{StateAwaitingConfirmation, cfg.ConfirmTimeout, sess.AwaitConfirmation},
	}
	for _, st := range steps {
		r.enter(st.state)
		if err := e.step(ctx, st.timeout, st.do); err != nil {
			r.fail(classify(st.state, err))
			return out
		}
	}
	r.enter(StateSucceeded)
	return out
}

// step bounds fn by timeout. Simulated steps run unbounded; their delay is
// fixed and they cannot fail.
func (e *Executor) step(parent context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if e.simulated {
		return fn(parent)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		return err
	}
	// A step that ignores its context can still overrun.
	if ctx.Err() != nil && parent.Err() == nil {
		return ctx.Err()
	}
	return nil
}
