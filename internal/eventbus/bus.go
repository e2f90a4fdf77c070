// Package eventbus is an in-process, non-blocking event fan-out.
//
// Publishers never block: a subscriber whose buffer is full misses events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by checktime components.
const (
	TickCompleted    = "tick.completed"
	TickSkipped      = "tick.skipped"
	TickFailed       = "tick.failed"
	DispatchStarted  = "dispatch.started"
	DispatchFinished = "dispatch.finished"
	DispatchSkipped  = "dispatch.skipped"
	NotifierSent     = "notifier.sent"
	NotifierFailed   = "notifier.failed"
	NotifierDropped  = "notifier.dropped"
	NotifierDeduped  = "notifier.deduped"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock while sending so unsubscribe cannot close a
	// channel mid-send; sends are non-blocking so this stays short.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
