package notifier

import (
	"context"
	"time"

	rtsup "checktime/internal/runtime/supervisor"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration

	// OperatorChatID receives NotifyOperator messages; zero disables them.
	OperatorChatID int64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	return c
}

// Destination addresses one sink.
type Destination struct {
	Sink             string `json:"sink"`
	ChatID           int64  `json:"chat_id,omitempty"`
	PushSubscription string `json:"-"`
	UserID           int64  `json:"user_id,omitempty"`
}

// Sink delivers text to one kind of destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, to Destination, text string) error
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	Sink   string    `json:"sink"`
	UserID int64     `json:"user_id,omitempty"`
	Text   string    `json:"text"`
}

// NotificationEvent is the Data of notifier.* bus events.
type NotificationEvent struct {
	Sink   string    `json:"sink"`
	UserID int64     `json:"user_id,omitempty"`
	ChatID int64     `json:"chat_id,omitempty"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled    bool            `json:"enabled"`
	Running    bool            `json:"running"`
	QueueLen   int             `json:"queue_len"`
	QueueCap   int             `json:"queue_cap"`
	Sinks      []string        `json:"sinks"`
	Sent       uint64          `json:"sent"`
	Failed     uint64          `json:"failed"`
	Dropped    uint64          `json:"dropped"`
	Deduped    uint64          `json:"deduped"`
	History    []HistoryItem   `json:"history,omitempty"`
	Supervisor *rtsup.Snapshot `json:"supervisor,omitempty"`
}
