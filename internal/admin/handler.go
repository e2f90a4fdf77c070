// Package admin serves the operator commands that arrive over the chat
// transport.
package admin

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/dispatch"
	"checktime/internal/tick"
	kit "checktime/internal/transport"
	logx "checktime/pkg/logx"

	"github.com/google/uuid"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

const defaultTimeout = 10 * time.Second

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

// Holidays is the calendar write path the commands need.
type Holidays interface {
	FindUserByChatID(ctx context.Context, chatID int64) (calendar.User, error)
	AddHoliday(ctx context.Context, h calendar.Holiday) error
	DeleteHoliday(ctx context.Context, userID int64, d calendar.Date) error
	ListHolidays(ctx context.Context, userID int64) ([]calendar.Holiday, error)
}

type TickStatus interface{ Snapshot() tick.Snapshot }

type DispatchStatus interface{ Snapshot() dispatch.Snapshot }

type Option func(*Handler)

func WithStatus(t TickStatus, d DispatchStatus) Option {
	return func(h *Handler) { h.tick, h.dispatch = t, d }
}

// Handler routes chat updates to commands through a bounded worker pool.
type Handler struct {
	mu     sync.RWMutex
	owners []int64

	log      logx.Logger
	adapter  kit.Adapter
	store    Holidays
	tick     TickStatus
	dispatch DispatchStatus
	now      func() time.Time

	cmds map[string]Command
	jobs chan func()
}

func New(adapter kit.Adapter, store Holidays, owners []int64, log logx.Logger, opts ...Option) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{
		owners:  append([]int64(nil), owners...),
		log:     log.With(logx.String("comp", "admin")),
		adapter: adapter,
		store:   store,
		now:     time.Now,
		jobs:    make(chan func(), 64),
	}
	for _, o := range opts {
		o(h)
	}
	h.cmds = map[string]Command{}
	for _, c := range h.builtins() {
		h.cmds[c.Name] = c
	}
	return h
}

// SetOwners swaps the owner list; safe during hot reload.
func (h *Handler) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	h.mu.Lock()
	h.owners = cp
	h.mu.Unlock()
}

func (h *Handler) isOwner(id int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return id != 0 && slices.Contains(h.owners, id)
}

// Menu lists the commands for the platform command menu.
func (h *Handler) Menu() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(h.cmds))
	for _, c := range h.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Run consumes updates until ctx is done or updates is closed, then waits
// for running handlers.
func (h *Handler) Run(ctx context.Context, updates <-chan kit.Update) error {
	const workers = 2
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-h.jobs:
					if !ok {
						return
					}
					job()
				}
			}
		}()
	}
	h.log.Info("command handler started", logx.Int("workers", workers))
	defer func() {
		close(h.jobs)
		wg.Wait()
		h.log.Info("command handler stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			h.route(ctx, up)
		}
	}
}

func (h *Handler) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	parts := tokenize(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return
	}
	to := kit.ChatTarget{ChatID: msg.ChatID}
	cmd, ok := h.cmds[word]
	if !ok {
		h.reply(ctx, to, "unknown command. try /help")
		return
	}
	if cmd.Access == AccessOwnerOnly && !h.isOwner(msg.FromID) {
		h.log.Warn("unauthorized command", logx.String("cmd", word), logx.Int64("from_id", msg.FromID))
		h.reply(ctx, to, "unauthorized")
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Chat:    to,
		FromID:  msg.FromID,
		Command: word,
		Args:    parts[1:],
		ReqID:   rid,
		Logger: h.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", word),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	final := Chain(cmd.Handle,
		MWReplyError(h.reply),
		MWRequestLog(),
		MWPanicRecover(),
		MWTimeout(timeout),
	)

	select {
	case h.jobs <- func() { _ = final(ctx, req) }:
	default:
		h.reply(ctx, to, "busy, try again")
	}
}

func (h *Handler) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := h.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		h.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (h *Handler) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range h.Menu() {
		cmd := h.cmds[c.Command]
		usage := cmd.Usage
		if usage == "" {
			usage = "/" + cmd.Name
		}
		b.WriteString(usage)
		b.WriteString(" - ")
		b.WriteString(cmd.Description)
		if cmd.Access == AccessOwnerOnly {
			b.WriteString(" (owner)")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
