// Package app wires the check-in engine together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"checktime/internal/admin"
	"checktime/internal/calendar"
	"checktime/internal/config"
	"checktime/internal/dispatch"
	"checktime/internal/eventbus"
	"checktime/internal/executor"
	"checktime/internal/executor/web"
	"checktime/internal/notifier"
	"checktime/internal/ops"
	rtsup "checktime/internal/runtime/supervisor"
	"checktime/internal/schedule"
	"checktime/internal/storage"
	"checktime/internal/tick"
	kit "checktime/internal/transport"
	"checktime/internal/transport/telegram"
	"checktime/internal/vault"
	logx "checktime/pkg/logx"
	"checktime/pkg/sdnotify"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	vault *vault.Vault

	// adapter is nil when no telegram token is configured.
	adapter *telegram.Adapter

	resolver *schedule.Resolver
	exec     *executor.Executor
	disp     *dispatch.Service
	tick     *tick.Service
	notif    *notifier.Service
	admin    *admin.Handler
	ops      *ops.Service
	sd       *sdnotify.Notifier

	stopping atomic.Bool
	updates  chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	var ad *telegram.Adapter
	if cfg.Telegram.Token != "" {
		ad, err = telegram.New(mapTelegram(cfg), logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
	}

	// operator forwarding stays off until the target is set, so Apply
	// never runs with a half-configured sink
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Operator.Enabled = false
	var sender kit.Adapter
	if ad != nil {
		sender = ad
	}
	logSvc, root := logx.New(bootCfg, sender)
	logSvc.SetOperatorTarget(cfg.Telegram.OperatorChatID)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg, root); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, root logx.Logger) error {
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	st, err := storage.Open(mapStorage(cfg), comp("storage"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = st

	v, err := vault.FromEnv(cfg.Vault.Key)
	switch {
	case errors.Is(err, vault.ErrNoKey):
		a.log.Warn("no encryption key configured; sealed passwords cannot be opened")
	case err != nil:
		return fmt.Errorf("vault: %w", err)
	default:
		a.vault = v
	}

	policy, err := schedule.ParsePolicy(cfg.Schedule.Precedence, cfg.Schedule.OnPeriodOverlap)
	if err != nil {
		return err
	}
	a.resolver = schedule.NewResolver(st, policy, comp("schedule"))
	elig := schedule.NewEligibility(st, comp("eligibility"))

	simulate := executor.SimulationEnabled(cfg.Executor.Simulate)
	var factory executor.SessionFactory
	if simulate {
		factory = executor.SimulatedFactory{Delay: config.Duration(cfg.Executor.SimulateDelay)}
		a.log.Warn("simulation mode: no remote actions will be performed")
	} else {
		factory = web.NewFactory(mapWeb(cfg), comp("web"))
	}
	var unsealer executor.Unsealer
	if a.vault != nil {
		unsealer = a.vault
	}
	a.exec = executor.New(mapExecutor(cfg), factory, unsealer, comp("executor"), executor.Simulated(simulate))

	nopts := []notifier.Option{notifier.WithBus(a.bus)}
	if a.adapter != nil {
		nopts = append(nopts, notifier.WithSink(notifier.NewTelegramSink(a.adapter)))
	}
	if wp := notifier.NewWebPushSink(mapWebPush(cfg), nil); wp != nil {
		nopts = append(nopts, notifier.WithSink(wp))
	}
	a.notif = notifier.New(mapNotifier(cfg), comp("notifier"), nopts...)

	// the reporter needs the tick timezone; tick is built right after
	var tk *tick.Service
	reporter := notifier.NewReporter(a.notif, func() *time.Location { return tk.Location() }, comp("reporter"))

	a.disp = dispatch.New(mapDispatch(cfg), a.exec, comp("dispatch"),
		dispatch.WithBus(a.bus),
		dispatch.WithAudit(st),
		dispatch.WithReporter(reporter),
	)
	tk = tick.New(mapTick(cfg), elig, a.resolver, a.disp, comp("tick"),
		tick.WithAlerter(a.notif),
		tick.WithBus(a.bus),
	)
	a.tick = tk

	if a.adapter != nil {
		a.admin = admin.New(a.adapter, st, cfg.Telegram.OwnerUserIDs, comp("admin"), admin.WithStatus(tk, a.disp))
	}

	a.ops = ops.New(mapOps(cfg), ops.Sources{
		Tick:     tk,
		Dispatch: a.disp,
		Notifier: a.notif,
		Stopping: a.stopping.Load,
	}, comp("ops"))

	a.sd = sdnotify.New(mapSystemd(cfg), root)
	return nil
}

// Seed imports a YAML calendar file into the configured store.
func (a *App) Seed(ctx context.Context, path string) (calendar.SeedReport, error) {
	doc, err := calendar.LoadSeedFile(path)
	if err != nil {
		return calendar.SeedReport{}, err
	}
	var sealer calendar.Sealer
	if a.vault != nil {
		sealer = a.vault
	}
	rep, err := calendar.Seed(ctx, a.store, sealer, doc)
	for _, e := range rep.Errors {
		a.log.Warn("seed record skipped", logx.Err(e))
	}
	if err != nil {
		return rep, err
	}
	a.log.Info("seed imported",
		logx.String("path", path),
		logx.Int("users", rep.Users),
		logx.Int("holidays", rep.Holidays),
		logx.Int("periods", rep.Periods),
		logx.Int("days", rep.Days),
		logx.Int("overrides", rep.Overrides),
	)
	return rep, nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	a.disp.Start(run)

	if a.adapter != nil {
		if err := a.adapter.Start(run, a.updates); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		if err := a.adapter.UpdateMenuCommands(run, a.admin.Menu()); err != nil {
			a.log.Warn("publish command menu failed", logx.Err(err))
		}
		a.sup.Go("admin.commands", func(c context.Context) error {
			return a.admin.Run(c, a.updates)
		})
	} else {
		a.log.Info("telegram disabled (no token); admin commands and chat notifications are off")
	}

	a.tick.Start(run)
	a.ops.Start(run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.sd.RunWatchdog)

	a.sd.Ready()
	a.sd.Status("running")
	a.log.Info("app started",
		logx.Bool("simulated", a.exec.IsSimulated()),
		logx.String("tz", a.tick.Location().String()),
	)
	return nil
}
