// Package schedule decides, per user and civil date, whether the user works
// and at which check-in and check-out minutes. It also provides the set of
// users the tick loop evaluates.
package schedule
