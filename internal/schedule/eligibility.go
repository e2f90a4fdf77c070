package schedule

import (
	"context"
	"fmt"

	"checktime/internal/calendar"
	logx "checktime/pkg/logx"
)

// Eligibility lists users the tick loop should evaluate. It reads the store
// on every call.
type Eligibility struct {
	store calendar.Reader
	log   logx.Logger
}

func NewEligibility(store calendar.Reader, log logx.Logger) *Eligibility {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Eligibility{store: store, log: log.With(logx.String("comp", "eligibility"))}
}

// ListEligibleUsers returns enabled users with usable credentials. Enabled
// users missing credentials are reported as ConfigurationErrors alongside
// the list; they are never part of it. The error return is reserved for
// store failures.
func (e *Eligibility) ListEligibleUsers(ctx context.Context) ([]calendar.User, []error, error) {
	users, err := e.store.ListUsersWithActionEnabled(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]calendar.User, 0, len(users))
	var problems []error
	for _, u := range users {
		if !u.RemoteEnabled {
			continue
		}
		if !u.Remote.Configured() {
			cerr := &ConfigurationError{UserID: u.ID, Reason: "remote action enabled but credentials are missing"}
			e.log.Warn("user excluded", logx.User(u.ID), logx.Err(cerr))
			problems = append(problems, cerr)
			continue
		}
		out = append(out, u)
	}
	return out, problems, nil
}
