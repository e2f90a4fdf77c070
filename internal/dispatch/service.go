package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/eventbus"
	"checktime/internal/executor"
	"checktime/internal/runtime/supervisor"
	"checktime/internal/storage"
	logx "checktime/pkg/logx"

	"github.com/google/uuid"
)

type Service struct {
	mu       sync.Mutex
	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	runner   Runner
	reporter Reporter
	audit    AuditSink

	sup      *supervisor.Supervisor
	stopping bool
	states   map[int64]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	inFlight  atomic.Int32
	started   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option  { return func(s *Service) { s.bus = b } }
func WithAudit(a AuditSink) Option   { return func(s *Service) { s.audit = a } }
func WithReporter(r Reporter) Option { return func(s *Service) { s.reporter = r } }

func New(cfg Config, runner Runner, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg.withDefaults(),
		log:    log.With(logx.String("comp", "dispatch")),
		runner: runner,
		states: map[int64]*RunState{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Budget is how long one execution may run, including the reporting grace.
func (s *Service) Budget() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Budget + s.cfg.Grace
}

// Start is idempotent. Executions run under a supervisor derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)
	s.stopping = false
	s.log.Info("dispatcher started")
}

func (s *Service) stateFor(userID int64) *RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[userID]
	if st == nil {
		st = &RunState{}
		s.states[userID] = st
	}
	return st
}

// InFlight reports whether userID has a running execution.
func (s *Service) InFlight(userID int64) bool {
	s.mu.Lock()
	st := s.states[userID]
	s.mu.Unlock()
	return st != nil && st.busy()
}

// Dispatch launches one execution and returns its ID without waiting.
func (s *Service) Dispatch(ctx context.Context, u calendar.User, a calendar.Action) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	sup, stopping, cfg := s.sup, s.stopping, s.cfg
	s.mu.Unlock()
	if sup == nil || stopping {
		return "", ErrStopped
	}

	id := uuid.NewString()
	now := time.Now()
	st := s.stateFor(u.ID)
	if !st.tryAcquire(now) {
		s.skipped.Add(1)
		s.log.Warn("duplicate dispatch dropped; execution in flight",
			logx.User(u.ID), logx.Action(a), logx.DispatchID(id))
		s.publish(eventbus.DispatchSkipped, Event{ID: id, UserID: u.ID, Action: a})
		return "", ErrInFlight
	}

	// Launch under the lock so Stop never waits on a half-registered goroutine.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping || s.sup != sup {
		st.release()
		return "", ErrStopped
	}
	s.started.Add(1)
	s.inFlight.Add(1)
	sup.Go0("exec", func(supCtx context.Context) {
		s.execute(supCtx, cfg, id, u, a, st)
	})
	return id, nil
}

func (s *Service) execute(parent context.Context, cfg Config, id string, u calendar.User, a calendar.Action, st *RunState) {
	defer s.inFlight.Add(-1)
	log := s.log.With(logx.DispatchID(id), logx.User(u.ID), logx.Action(a))
	start := time.Now()
	s.publish(eventbus.DispatchStarted, Event{ID: id, UserID: u.ID, Action: a})
	log.Debug("execution started")

	ctx, cancel := context.WithTimeout(parent, cfg.Budget+cfg.Grace)
	out := s.runSafe(ctx, log, u, a)
	cancel()
	st.release()

	took := time.Since(start)
	item := HistoryItem{ID: id, UserID: u.ID, Action: a, Started: start, Duration: took, State: out.State, Kind: out.Kind()}
	if out.Err != nil {
		item.Error = out.Err.Error()
	}
	s.record(item, cfg.HistorySize)

	if out.Succeeded() {
		s.succeeded.Add(1)
		log.Info("execution succeeded", logx.Duration("took", took), logx.Bool("simulated", out.Simulated))
	} else {
		s.failed.Add(1)
		log.Warn("execution failed", logx.String("kind", string(out.Kind())), logx.String("err", item.Error), logx.Duration("took", took))
	}
	s.publish(eventbus.DispatchFinished, Event{ID: id, UserID: u.ID, Action: a, State: out.State, Kind: out.Kind(), Duration: took})

	// Reporting outlives the execution budget but not shutdown.
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(parent), cfg.Grace)
	defer rcancel()
	if s.audit != nil {
		err := s.audit.AppendAudit(rctx, storage.AuditEntry{
			At: out.Finished, DispatchID: id, UserID: u.ID, Action: string(a),
			State: string(out.State), Kind: string(out.Kind()), Detail: item.Error, TookMS: took.Milliseconds(),
		})
		if err != nil {
			log.Warn("audit write failed", logx.Err(err))
		}
	}
	if s.reporter != nil {
		s.reporter.Report(rctx, u, out)
	}
}

// runSafe turns a runner panic into a Failed(Unknown) outcome.
func (s *Service) runSafe(ctx context.Context, log logx.Logger, u calendar.User, a calendar.Action) (out executor.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("runner panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			now := time.Now()
			out = executor.Outcome{
				UserID: u.ID, Action: a, State: executor.StateFailed,
				Err:     executor.Fail(executor.Unknown, "panic", fmt.Errorf("%v", p)),
				Started: now, Finished: now,
			}
		}
	}()
	out = s.runner.Run(ctx, u, a)
	if !out.State.Terminal() {
		out.State = executor.StateFailed
		if out.Err == nil {
			out.Err = executor.Fail(executor.Unknown, "runner returned a non-terminal state", nil)
		}
	}
	return out
}

func (s *Service) record(item HistoryItem, size int) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, data Event) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// Stop refuses new dispatches and waits for in-flight executions, bounded
// by ctx. Executions still running at the deadline are canceled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.stopping = true
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("dispatcher stop timed out; canceling executions", logx.Int("in_flight", int(s.inFlight.Load())))
		sup.Cancel()
	}
	s.mu.Lock()
	s.sup = nil
	s.mu.Unlock()
	s.log.Info("dispatcher stopped")
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	sup := s.sup
	running := sup != nil && !s.stopping
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Running:    running,
		InFlight:   int(s.inFlight.Load()),
		Started:    s.started.Load(),
		Succeeded:  s.succeeded.Load(),
		Failed:     s.failed.Load(),
		Skipped:    s.skipped.Load(),
		History:    h,
		Supervisor: sup.Snapshot(),
	}
}
