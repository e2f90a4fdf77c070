package app

import (
	"context"
	"strings"
	"time"

	"checktime/internal/config"
	"checktime/internal/schedule"
	logx "checktime/pkg/logx"
)

// reloadLoop applies every config the manager publishes. Bursts collapse
// to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes live-reloadable settings into running components.
// Sections that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	a.logs.SetOperatorTarget(next.Telegram.OperatorChatID)
	a.logs.Apply(mapLogging(next))

	if a.admin != nil {
		a.admin.SetOwners(next.Telegram.OwnerUserIDs)
	}

	if p, err := schedule.ParsePolicy(next.Schedule.Precedence, next.Schedule.OnPeriodOverlap); err == nil {
		a.resolver.SetPolicy(p)
	}

	a.exec.Apply(mapExecutor(next))
	a.disp.Apply(mapDispatch(next))

	tcfg := mapTick(next)
	wasTicking := a.tick.Active()
	a.tick.Apply(tcfg)
	switch {
	case wasTicking && !tcfg.Enabled:
		a.log.Info("tick scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.tick.Stop(stopCtx)
		cancel()
	case !wasTicking && tcfg.Enabled:
		a.log.Info("tick scheduler enabled via config")
		a.tick.Start(ctx)
	}

	ncfg := mapNotifier(next)
	wasNotifying := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case wasNotifying && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasNotifying && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	a.ops.Reconfigure(ctx, mapOps(next))

	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}
