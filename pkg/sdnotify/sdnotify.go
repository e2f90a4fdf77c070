// Package sdnotify reports service state to systemd when running under a
// Type=notify unit. Every call is a no-op outside systemd.
package sdnotify

import (
	"context"
	"time"

	logx "checktime/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Config struct {
	Notify   bool
	Watchdog bool
}

// Notifier sends sd_notify messages. The zero value is disabled.
type Notifier struct {
	cfg  Config
	log  logx.Logger
	send func(unsetEnv bool, state string) (bool, error)
	// interval returns the watchdog period, 0 when not enabled.
	interval func() (time.Duration, error)
}

func New(cfg Config, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "sdnotify")),
		send: daemon.SdNotify,
		interval: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

func (n *Notifier) notify(state string) {
	if n == nil || !n.cfg.Notify || n.send == nil {
		return
	}
	sent, err := n.send(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n *Notifier) Ready()     { n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()  { n.notify(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() { n.notify(daemon.SdNotifyReloading) }

func (n *Notifier) Status(text string) { n.notify("STATUS=" + text) }

// RunWatchdog pings the watchdog at half the configured period until ctx is
// done. It returns immediately when the unit has no watchdog.
func (n *Notifier) RunWatchdog(ctx context.Context) {
	if n == nil || !n.cfg.Notify || !n.cfg.Watchdog || n.interval == nil {
		return
	}
	every, err := n.interval()
	if err != nil {
		n.log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	every /= 2
	n.log.Info("watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
