// Package dispatch starts one independent execution per (user, action) and
// guarantees at most one in-flight execution per user.
//
// Executions are never queued: a dispatch for a busy user is dropped with
// ErrInFlight. Every started execution reports its outcome exactly once.
package dispatch
