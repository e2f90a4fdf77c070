package tick

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"checktime/internal/eventbus"
	logx "checktime/pkg/logx"

	"github.com/robfig/cron/v3"
)

const everyMinute = "* * * * *"

// tickBudget bounds a single tick so it finishes before the next trigger.
const tickBudget = 55 * time.Second

type Option func(*Service)

// WithClock replaces time.Now as the source of the evaluated minute.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAlerter(a Alerter) Option { return func(s *Service) { s.alert = a } }

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location
	c   *cron.Cron
	ctx context.Context
	// halted is set by Stop so a concurrent Apply does not revive the trigger.
	halted bool
	// trigger is the cron spec; everyMinute outside tests.
	trigger string

	log      logx.Logger
	bus      eventbus.Bus
	alert    Alerter
	now      func() time.Time
	users    UserLister
	resolver Resolver
	dispatch Dispatcher

	backoff fatalBackoff

	ticks     atomic.Uint64
	overruns  atomic.Uint64
	backedOff atomic.Uint64
	fatal     atomic.Uint64
	running   atomic.Bool

	lastMu sync.Mutex
	last   Report
}

func New(cfg Config, users UserLister, resolver Resolver, dispatch Dispatcher, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg.withDefaults(),
		log:      log.With(logx.String("comp", "tick")),
		now:      time.Now,
		users:    users,
		resolver: resolver,
		dispatch: dispatch,
		trigger:  everyMinute,
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocation(s.cfg.Timezone)
	return s
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply swaps the backoff settings and restarts the trigger when the
// timezone changes. A running tick finishes before the new trigger starts;
// the lock is not held while waiting for it.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	var old *cron.Cron
	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.loc = s.loadLocation(cfg.Timezone)
		if s.c != nil {
			s.log.Info("timezone changed; restarting trigger", logx.String("tz", s.loc.String()))
			old = s.detachLocked()
		}
	}
	s.mu.Unlock()
	if old == nil {
		return
	}

	<-old.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil && !s.halted && s.cfg.Enabled {
		s.startCronLocked()
	}
}

// Start registers the minute trigger. It is a no-op when disabled or
// already started.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("tick scheduler disabled")
		return
	}
	s.ctx = ctx
	s.halted = false
	s.startCronLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()))
}

// Active reports whether the minute trigger is registered.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *Service) startCronLocked() {
	cl := cronLogger{log: s.log, onSkip: s.noteOverrun}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.trigger, s.fire); err != nil {
		s.log.Error("register minute trigger failed", logx.Err(err))
		return
	}
	s.c = c
	c.Start()
}

func (s *Service) detachLocked() *cron.Cron {
	c := s.c
	s.c = nil
	return c
}

// Stop removes the trigger and waits for a running tick, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	s.halted = true
	c := s.detachLocked()
	s.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) fire() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, tickBudget)
	defer cancel()
	s.Tick(ctx, s.now())
}

func (s *Service) noteOverrun() {
	n := s.overruns.Add(1)
	s.log.Warn("previous tick still running; trigger skipped", logx.Uint64("overruns", n))
	s.publish(eventbus.TickSkipped, map[string]any{"reason": "overrun"})
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.loc.String()}
	if s.c != nil {
		if es := s.c.Entries(); len(es) > 0 {
			snap.Next = es[0].Next
		}
	}
	s.mu.Unlock()

	s.lastMu.Lock()
	snap.LastTick = s.last.At
	snap.Last = s.last.Summary()
	s.lastMu.Unlock()

	snap.Running = s.running.Load()
	snap.Ticks = s.ticks.Load()
	snap.Overruns = s.overruns.Load()
	snap.BackedOff = s.backedOff.Load()
	snap.Fatal = s.fatal.Load()
	snap.FatalStreak, snap.BackoffUntil = s.backoff.state()
	return snap
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
