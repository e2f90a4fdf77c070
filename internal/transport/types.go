// Package transport defines the chat boundary shared by the notifier, the
// operator command handler and the log operator sink. Only plain text
// travels across it.
package transport

import "context"

// Adapter is a bidirectional chat transport.
type Adapter interface {
	// Start begins delivering inbound messages on out until ctx ends.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound text message. FromID is 0 for channel posts.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget addresses a chat. User notifications and operator alerts use
// the same shape.
type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	DisablePreview bool
	// Silent delivers without a notification sound.
	Silent bool
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}
