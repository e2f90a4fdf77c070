package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/executor"
	"checktime/internal/runtime/supervisor"
	"checktime/internal/storage"
)

var (
	ErrInFlight = errors.New("dispatch: execution already in flight for user")
	ErrStopped  = errors.New("dispatch: stopped")
)

type Config struct {
	HistorySize int
	// Budget bounds one execution; Grace is added on top for reporting.
	Budget time.Duration
	Grace  time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.Budget <= 0 {
		c.Budget = executor.Config{}.Budget()
	}
	if c.Grace <= 0 {
		c.Grace = 15 * time.Second
	}
	return c
}

type Runner interface {
	Run(ctx context.Context, u calendar.User, a calendar.Action) executor.Outcome
}

// Reporter receives every terminal outcome exactly once.
type Reporter interface {
	Report(ctx context.Context, u calendar.User, out executor.Outcome)
}

// AuditSink persists finished executions.
type AuditSink interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// RunState tracks whether a user has an execution in flight.
type RunState struct {
	mu       sync.Mutex
	inflight bool
	since    time.Time
}

func (s *RunState) tryAcquire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	s.since = now
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	s.inflight = false
	s.since = time.Time{}
	s.mu.Unlock()
}

func (s *RunState) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

type HistoryItem struct {
	ID       string          `json:"id"`
	UserID   int64           `json:"user_id"`
	Action   calendar.Action `json:"action"`
	Started  time.Time       `json:"started"`
	Duration time.Duration   `json:"duration"`
	State    executor.State  `json:"state"`
	Kind     executor.Kind   `json:"kind,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Event is the payload of dispatch.* bus events.
type Event struct {
	ID       string          `json:"id"`
	UserID   int64           `json:"user_id"`
	Action   calendar.Action `json:"action"`
	State    executor.State  `json:"state,omitempty"`
	Kind     executor.Kind   `json:"kind,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
}

type Snapshot struct {
	Running    bool                `json:"running"`
	InFlight   int                 `json:"in_flight"`
	Started    uint64              `json:"started"`
	Succeeded  uint64              `json:"succeeded"`
	Failed     uint64              `json:"failed"`
	Skipped    uint64              `json:"skipped"`
	History    []HistoryItem       `json:"history"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
}
