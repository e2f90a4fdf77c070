package sdnotify

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "checktime/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) send(_ bool, state string) (bool, error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestDisabledSendsNothing(t *testing.T) {
	rec := &recorder{}
	n := New(Config{Notify: false}, logx.Nop())
	n.send = rec.send
	n.Ready()
	n.Stopping()
	assert.Empty(t, rec.states)

	var nilN *Notifier
	nilN.Ready()
}

func TestLifecycleStates(t *testing.T) {
	rec := &recorder{}
	n := New(Config{Notify: true}, logx.Nop())
	n.send = rec.send
	n.Ready()
	n.Status("ticking")
	n.Reloading()
	n.Stopping()
	assert.Equal(t, []string{daemon.SdNotifyReady, "STATUS=ticking", daemon.SdNotifyReloading, daemon.SdNotifyStopping}, rec.states)
}

func TestWatchdogPings(t *testing.T) {
	rec := &recorder{}
	n := New(Config{Notify: true, Watchdog: true}, logx.Nop())
	n.send = rec.send
	n.interval = func() (time.Duration, error) { return 20 * time.Millisecond, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { n.RunWatchdog(ctx); close(done) }()
	assert.Eventually(t, func() bool { return rec.count(daemon.SdNotifyWatchdog) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestWatchdogAbsent(t *testing.T) {
	n := New(Config{Notify: true, Watchdog: true}, logx.Nop())
	n.interval = func() (time.Duration, error) { return 0, nil }
	n.RunWatchdog(context.Background())
}
