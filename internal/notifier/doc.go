// Package notifier delivers short outcome messages to users and the operator.
//
// Notify and NotifyOperator only enqueue. A bounded queue is drained by a
// small worker pool under a supervisor; each send is rate limited, retried
// with jittered exponential backoff and deduplicated within a short window.
// Delivery failures are logged and published on the event bus, never
// returned to the caller.
//
// # Sinks
//
// A Sink delivers to one kind of destination. The Telegram sink sends
// through the chat transport adapter; the Web Push sink posts to the
// browser subscription stored on the user.
//
// # Reporter
//
// Reporter turns each terminal execution outcome into exactly one user
// message, plus an operator message when the execution failed.
package notifier
