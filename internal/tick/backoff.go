package tick

import (
	"sync"
	"time"
)

// fatalBackoff suppresses ticks after tick-fatal failures. Each consecutive
// failure doubles the window up to max; a clean tick closes it.
type fatalBackoff struct {
	mu        sync.Mutex
	fails     int
	current   time.Duration
	openUntil time.Time
}

func (b *fatalBackoff) isOpen(now time.Time) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.openUntil.IsZero() && now.Before(b.openUntil) {
		return true, b.openUntil
	}
	return false, time.Time{}
}

// recordFailure opens the window and reports whether this failure starts a
// new streak.
func (b *fatalBackoff) recordFailure(now time.Time, base, max time.Duration) (first bool, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails++
	if b.fails == 1 || b.current <= 0 {
		b.current = base
	} else {
		b.current *= 2
	}
	if b.current > max {
		b.current = max
	}
	b.openUntil = now.Add(b.current)
	return b.fails == 1, b.openUntil
}

func (b *fatalBackoff) recordSuccess() (recovered bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	recovered = b.fails > 0
	b.fails = 0
	b.current = 0
	b.openUntil = time.Time{}
	return recovered
}

func (b *fatalBackoff) state() (int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fails, b.openUntil
}
