package schedule

import (
	"fmt"

	"checktime/internal/calendar"
)

// ConfigurationError reports a user whose stored settings cannot support
// the automated action (missing credentials, bad account data).
type ConfigurationError struct {
	UserID int64
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for user %d: %s", e.UserID, e.Reason)
}

// ResolutionError reports calendar data the resolver refuses to interpret.
type ResolutionError struct {
	UserID int64
	Date   calendar.Date
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve schedule for user %d on %s: %s", e.UserID, e.Date, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }
