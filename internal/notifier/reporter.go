package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/executor"
	logx "checktime/pkg/logx"
)

// Notifier is the subset of Service the Reporter needs.
type Notifier interface {
	Notify(ctx context.Context, u *calendar.User, text string) error
	NotifyOperator(ctx context.Context, text string) error
}

// Reporter turns terminal execution outcomes into messages.
type Reporter struct {
	n   Notifier
	loc func() *time.Location
	log logx.Logger
}

// NewReporter formats times in the location returned by loc; a nil loc
// means time.Local.
func NewReporter(n Notifier, loc func() *time.Location, log logx.Logger) *Reporter {
	if loc == nil {
		loc = func() *time.Location { return time.Local }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{n: n, loc: loc, log: log.With(logx.String("comp", "reporter"))}
}

// Report sends exactly one user message for out, and one operator message
// when it failed. Delivery problems are logged only.
func (r *Reporter) Report(ctx context.Context, u calendar.User, out executor.Outcome) {
	if err := r.n.Notify(ctx, &u, r.UserMessage(out)); err != nil && !errors.Is(err, ErrDisabled) {
		r.log.Warn("user notification not queued", logx.User(u.ID), logx.Err(err))
	}
	if out.Succeeded() {
		return
	}
	if err := r.n.NotifyOperator(ctx, r.OperatorMessage(u, out)); err != nil && !errors.Is(err, ErrDisabled) {
		r.log.Warn("operator notification not queued", logx.User(u.ID), logx.Err(err))
	}
}

func (r *Reporter) stamp(out executor.Outcome) string {
	at := out.Finished
	if at.IsZero() {
		at = time.Now()
	}
	return at.In(r.loc()).Format("2006-01-02 15:04:05")
}

func (r *Reporter) UserMessage(out executor.Outcome) string {
	var b strings.Builder
	label := capitalize(out.Action.Label())
	if out.Succeeded() {
		fmt.Fprintf(&b, "✅ %s registered at %s", label, r.stamp(out))
	} else {
		fmt.Fprintf(&b, "❌ %s failed at %s\nReason: %s", label, r.stamp(out), describe(out.Kind()))
	}
	if out.Simulated {
		b.WriteString("\n(simulation mode, nothing was sent)")
	}
	return b.String()
}

func (r *Reporter) OperatorMessage(u calendar.User, out executor.Outcome) string {
	msg := fmt.Sprintf("⚠️ %s for %s (id %d) failed: %s", out.Action.Label(), u.Label(), u.ID, out.Kind())
	if out.Err != nil && out.Err.Detail != "" {
		msg += "\n" + out.Err.Detail
	}
	return msg + "\nat " + r.stamp(out)
}

func describe(k executor.Kind) string {
	switch k {
	case executor.LoginError:
		return "login failed; check the stored credentials"
	case executor.ActionNotFound:
		return "the action button was not found"
	case executor.Timeout:
		return "the remote site did not respond in time"
	default:
		return "unexpected error"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
