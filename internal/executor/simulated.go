package executor

import (
	"context"
	"os"
	"strings"
	"time"

	"checktime/internal/calendar"
)

// EnvSimulate forces simulation mode when set to a truthy value.
const EnvSimulate = "CHECKTIME_SIMULATE"

// SimulationEnabled resolves simulation mode once at startup.
func SimulationEnabled(configured bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvSimulate))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return configured
}

// SimulatedFactory opens sessions that wait Delay in total and always
// succeed. Nothing leaves the process.
type SimulatedFactory struct {
	Delay time.Duration
}

func (f SimulatedFactory) Open(context.Context, Credentials) (Session, error) {
	d := f.Delay
	if d < 0 {
		d = 0
	}
	return &simulatedSession{pause: d / 4}, nil
}

type simulatedSession struct {
	pause time.Duration
}

// wait deliberately ignores cancellation so a simulated run never fails.
func (s *simulatedSession) wait() error {
	if s.pause > 0 {
		time.Sleep(s.pause)
	}
	return nil
}

func (s *simulatedSession) Login(context.Context, Credentials) error       { return s.wait() }
func (s *simulatedSession) AwaitActionReady(context.Context) error         { return s.wait() }
func (s *simulatedSession) Trigger(context.Context, calendar.Action) error { return s.wait() }
func (s *simulatedSession) AwaitConfirmation(context.Context) error        { return s.wait() }
func (s *simulatedSession) Close() error                                   { return nil }
