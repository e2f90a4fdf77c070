// Package executor performs one remote check-in or check-out as a small
// state machine over an exclusively owned Session:
//
//	Idle -> LoggingIn -> AwaitingActionReady -> PerformingAction
//	     -> AwaitingConfirmation -> Succeeded
//
// Any step may end in Failed with a Kind. There are no retries; the session
// is closed exactly once whatever the exit path.
package executor
