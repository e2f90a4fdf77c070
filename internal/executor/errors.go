package executor

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	LoginError     Kind = "login_error"
	ActionNotFound Kind = "action_not_found"
	Timeout        Kind = "timeout"
	Unknown        Kind = "unknown"
)

// ExecutionError is the failure reason of a run.
type ExecutionError struct {
	Kind   Kind
	Detail string
	Err    error
}

// Kind sentinels for errors.Is.
var (
	ErrLogin          = &ExecutionError{Kind: LoginError}
	ErrActionNotFound = &ExecutionError{Kind: ActionNotFound}
	ErrTimeout        = &ExecutionError{Kind: Timeout}
	ErrUnknown        = &ExecutionError{Kind: Unknown}
)

// Fail builds an ExecutionError; sessions return it to pin the kind.
func Fail(kind Kind, detail string, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Detail: detail, Err: err}
}

func (e *ExecutionError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is matches another ExecutionError of the same kind.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// classify maps a step error to a failure kind based on where it happened.
func classify(state State, err error) *ExecutionError {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	if errors.Is(err, context.DeadlineExceeded) {
		switch state {
		case StateLoggingIn:
			return Fail(LoginError, "login timed out", err)
		case StateAwaitingActionReady, StatePerformingAction:
			return Fail(ActionNotFound, "action control did not appear", err)
		case StateAwaitingConfirmation:
			return Fail(Timeout, "no confirmation", err)
		}
	}
	return Fail(Unknown, fmt.Sprintf("during %s", state), err)
}
