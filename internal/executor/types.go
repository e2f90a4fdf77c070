package executor

import (
	"context"
	"time"

	"checktime/internal/calendar"
)

type State string

const (
	StateIdle                 State = "idle"
	StateLoggingIn            State = "logging_in"
	StateAwaitingActionReady  State = "awaiting_action_ready"
	StatePerformingAction     State = "performing_action"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
)

func (s State) Terminal() bool { return s == StateSucceeded || s == StateFailed }

// Credentials are the unsealed login data for one execution. They never
// leave the executor.
type Credentials struct {
	Username  string
	Password  string
	Subdomain string
}

// Session is one remote browsing session. It is owned by a single
// execution and must not be shared.
type Session interface {
	Login(ctx context.Context, creds Credentials) error
	AwaitActionReady(ctx context.Context) error
	Trigger(ctx context.Context, action calendar.Action) error
	AwaitConfirmation(ctx context.Context) error
	Close() error
}

type SessionFactory interface {
	Open(ctx context.Context, creds Credentials) (Session, error)
}

// Unsealer recovers the stored password.
type Unsealer interface {
	Open(sealed string) (string, error)
}

type Config struct {
	LoginTimeout   time.Duration
	ReadyTimeout   time.Duration
	ConfirmTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 30 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	return c
}

// Budget is the longest a run may take when every step uses its timeout.
func (c Config) Budget() time.Duration {
	c = c.withDefaults()
	return c.LoginTimeout + 2*c.ReadyTimeout + c.ConfirmTimeout
}

type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Outcome is the terminal result of one run.
type Outcome struct {
	UserID    int64
	Action    calendar.Action
	State     State
	Err       *ExecutionError
	Trail     []Transition
	Started   time.Time
	Finished  time.Time
	Simulated bool
}

func (o Outcome) Succeeded() bool { return o.State == StateSucceeded }

func (o Outcome) Kind() Kind {
	if o.Err == nil {
		return ""
	}
	return o.Err.Kind
}

func (o Outcome) Duration() time.Duration {
	if o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}
