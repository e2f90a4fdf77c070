package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/eventbus"
	rtsup "checktime/internal/runtime/supervisor"
	logx "checktime/pkg/logx"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// ErrPermanent marks sink errors that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

const (
	SinkTelegram = "telegram"
	SinkWebPush  = "webpush"
)

const sendTimeout = 10 * time.Second

type job struct {
	to   Destination
	text string
	key  string
}

// Service implements the async pipeline: queue + worker pool + rate limit +
// retry + dedup. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	sinks map[string]Sink

	cfg     Config
	limiter *rate.Limiter
	dedup   *cache.Cache

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
	deduped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

// WithSink registers a sink under its Name. A nil sink is ignored.
func WithSink(sink Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks[sink.Name()] = sink
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log.With(logx.String("comp", "notifier")),
		sinks: map[string]Sink{},
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps limits and dedup settings. Worker and queue sizes take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	if s.dedup == nil || cfg.DedupWindow != s.cfg.DedupWindow {
		s.dedup = nil
		if cfg.DedupWindow > 0 {
			s.dedup = cache.New(cfg.DedupWindow, 2*cfg.DedupWindow)
		}
	}
	s.cfg = cfg
	// burst = rate per sec, so short spikes don't block too hard
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// delivery is best-effort; a broken worker must not take the app down
		rtsup.WithCancelOnError(false),
	)
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("service started", logx.Int("workers", workers), logx.Int("sinks", len(s.sinks)))
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// in-flight enqueues finish before the queue closes
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
		s.log.Info("service stopped")
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("stop timed out; pending notifications abandoned")
	}
}

// Notify enqueues text for every destination the user has configured.
// A nil user or a user without enabled notifications is a no-op.
func (s *Service) Notify(ctx context.Context, u *calendar.User, text string) error {
	if u == nil || !u.Notify.Reachable() {
		return nil
	}
	var errs []error
	for _, to := range s.destinations(u) {
		if err := s.enqueue(ctx, to, text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to.Sink, err))
		}
	}
	return errors.Join(errs...)
}

// NotifyOperator enqueues text for the operator chat. It is a no-op when no
// operator chat is configured.
func (s *Service) NotifyOperator(ctx context.Context, text string) error {
	s.mu.Lock()
	chatID := s.cfg.OperatorChatID
	s.mu.Unlock()
	if chatID == 0 {
		return nil
	}
	return s.enqueue(ctx, Destination{Sink: SinkTelegram, ChatID: chatID}, text)
}

func (s *Service) destinations(u *calendar.User) []Destination {
	n := u.Notify
	var out []Destination
	if n.TelegramChatID != 0 {
		out = append(out, Destination{Sink: SinkTelegram, ChatID: n.TelegramChatID, UserID: u.ID})
	}
	if n.PushSubscription != "" {
		out = append(out, Destination{Sink: SinkWebPush, PushSubscription: n.PushSubscription, UserID: u.ID})
	}
	return out
}

func (s *Service) enqueue(ctx context.Context, to Destination, text string) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if _, ok := s.sinks[to.Sink]; !ok {
		s.mu.Unlock()
		s.log.Debug("no sink registered; destination skipped", logx.String("sink", to.Sink), logx.User(to.UserID))
		return nil
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q, dd, window := s.queue, s.dedup, s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(to, text)
	if dd != nil {
		// Add fails while an unexpired entry exists.
		if err := dd.Add(key, struct{}{}, window); err != nil {
			s.deduped.Add(1)
			s.publish(eventbus.NotifierDeduped, to, key, nil)
			return nil
		}
	}

	select {
	case q <- job{to: to, text: text, key: key}:
		return nil
	default:
		s.dropped.Add(1)
		if dd != nil {
			dd.Delete(key)
		}
		s.log.Warn("notifier queue full; message dropped", logx.String("sink", to.Sink), logx.User(to.UserID), logx.Int("queue_cap", cap(q)))
		s.publish(eventbus.NotifierDropped, to, key, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	sink := s.sinks[j.to.Sink]
	s.mu.Unlock()
	if sink == nil {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sink.Send(callCtx, j.to, j.text)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.appendHistory(j)
			s.publish(eventbus.NotifierSent, j.to, j.key, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("sink", j.to.Sink), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if errors.Is(err, ErrPermanent) || attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.failed.Add(1)
	s.log.Warn("notification delivery failed", logx.String("sink", j.to.Sink), logx.User(j.to.UserID), logx.Err(lastErr))
	s.publish(eventbus.NotifierFailed, j.to, j.key, lastErr)
}

func (s *Service) publish(typ string, to Destination, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{Sink: to.Sink, UserID: to.UserID, ChatID: to.ChatID, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) appendHistory(j job) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Sink: j.to.Sink, UserID: j.to.UserID, Text: j.text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

// History returns up to n most recent deliveries, oldest first.
func (s *Service) History(n int) []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	h := s.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]HistoryItem(nil), h...)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.queue != nil}
	if s.queue != nil {
		snap.QueueLen, snap.QueueCap = len(s.queue), cap(s.queue)
	}
	for name := range s.sinks {
		snap.Sinks = append(snap.Sinks, name)
	}
	if s.sup != nil {
		sup := s.sup.Snapshot()
		snap.Supervisor = &sup
	}
	s.mu.Unlock()
	sort.Strings(snap.Sinks)

	snap.Sent = s.sent.Load()
	snap.Failed = s.failed.Load()
	snap.Dropped = s.dropped.Load()
	snap.Deduped = s.deduped.Load()
	snap.History = s.History(20)
	return snap
}

func dedupKey(to Destination, text string) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d|%s|", to.Sink, to.ChatID, to.PushSubscription)
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1) with
// 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
