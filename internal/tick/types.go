package tick

import (
	"context"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/schedule"
)

type Config struct {
	Enabled         bool
	Timezone        string // IANA TZ; empty means Local
	FatalBackoff    time.Duration
	FatalBackoffMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.FatalBackoff <= 0 {
		c.FatalBackoff = 5 * time.Minute
	}
	if c.FatalBackoffMax <= 0 {
		c.FatalBackoffMax = 30 * time.Minute
	}
	if c.FatalBackoffMax < c.FatalBackoff {
		c.FatalBackoffMax = c.FatalBackoff
	}
	return c
}

type UserLister interface {
	ListEligibleUsers(ctx context.Context) ([]calendar.User, []error, error)
}

type Resolver interface {
	Resolve(ctx context.Context, userID int64, d calendar.Date) (schedule.Result, error)
}

// Dispatcher starts one execution and returns without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, u calendar.User, a calendar.Action) (string, error)
}

// Alerter reaches the operator.
type Alerter interface {
	NotifyOperator(ctx context.Context, text string) error
}

type Dispatched struct {
	UserID int64
	Action calendar.Action
	ID     string
}

// Report summarizes one evaluated minute.
type Report struct {
	At         time.Time
	Evaluated  int
	Dispatched []Dispatched
	Skipped    int
	Errors     []error

	// Fatal is set when the tick could not evaluate anyone.
	Fatal error
	// BackedOff marks a tick suppressed by an active fatal backoff.
	BackedOff bool
	Took      time.Duration
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Running   bool
	Next      time.Time
	LastTick  time.Time
	Last      ReportSummary
	Ticks     uint64
	Overruns  uint64
	BackedOff uint64
	Fatal     uint64

	FatalStreak  int
	BackoffUntil time.Time
}

// ReportSummary is the flattened Report kept for status output.
type ReportSummary struct {
	At         time.Time `json:"at"`
	Evaluated  int       `json:"evaluated"`
	Dispatched int       `json:"dispatched"`
	Skipped    int       `json:"skipped"`
	Errors     []string  `json:"errors,omitempty"`
	Fatal      string    `json:"fatal,omitempty"`
	BackedOff  bool      `json:"backed_off,omitempty"`
	TookMS     int64     `json:"took_ms"`
}

func (r Report) Summary() ReportSummary {
	s := ReportSummary{
		At:         r.At,
		Evaluated:  r.Evaluated,
		Dispatched: len(r.Dispatched),
		Skipped:    r.Skipped,
		BackedOff:  r.BackedOff,
		TookMS:     r.Took.Milliseconds(),
	}
	for _, err := range r.Errors {
		s.Errors = append(s.Errors, err.Error())
	}
	if r.Fatal != nil {
		s.Fatal = r.Fatal.Error()
	}
	return s
}
