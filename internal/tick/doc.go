// Package tick drives the minute loop: once per wall-clock minute it lists
// eligible users, resolves their day and hands due actions to a dispatcher.
//
// At most one tick is in flight. A trigger that fires while the previous
// tick still runs is skipped, never queued.
package tick
