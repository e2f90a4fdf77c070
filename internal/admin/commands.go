package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checktime/internal/calendar"
	logx "checktime/pkg/logx"
)

func (h *Handler) builtins() []Command {
	return []Command{
		{
			Name:        "help",
			Description: "list commands",
			Access:      AccessEveryone,
			Handle: func(ctx context.Context, req *Request) error {
				h.reply(ctx, req.Chat, h.helpText())
				return nil
			},
		},
		{
			Name:        "chatid",
			Description: "show this chat's id",
			Access:      AccessEveryone,
			Handle:      h.cmdChatID,
		},
		{
			Name:        "holiday_add",
			Description: "mark a date as holiday",
			Usage:       "/holiday_add YYYY-MM-DD [description]",
			Access:      AccessOwnerOnly,
			Handle:      h.cmdHolidayAdd,
		},
		{
			Name:        "holiday_del",
			Description: "remove a holiday",
			Usage:       "/holiday_del YYYY-MM-DD",
			Access:      AccessOwnerOnly,
			Handle:      h.cmdHolidayDel,
		},
		{
			Name:        "holidays",
			Description: "list upcoming holidays",
			Access:      AccessOwnerOnly,
			Handle:      h.cmdHolidays,
		},
		{
			Name:        "status",
			Description: "scheduler and dispatch status",
			Access:      AccessOwnerOnly,
			Handle:      h.cmdStatus,
		},
	}
}

func (h *Handler) cmdChatID(ctx context.Context, req *Request) error {
	h.reply(ctx, req.Chat, fmt.Sprintf("Chat ID: %d", req.Chat.ChatID))
	return nil
}

// chatUser resolves the calendar user bound to the request chat. It replies
// and returns ok=false when there is none.
func (h *Handler) chatUser(ctx context.Context, req *Request) (calendar.User, bool, error) {
	u, err := h.store.FindUserByChatID(ctx, req.Chat.ChatID)
	if errors.Is(err, calendar.ErrNotFound) {
		h.reply(ctx, req.Chat, "This chat is not linked to any user. Set its chat ID as the user's notification chat.")
		return calendar.User{}, false, nil
	}
	if err != nil {
		return calendar.User{}, false, fmt.Errorf("find user: %w", err)
	}
	return u, true, nil
}

func (h *Handler) cmdHolidayAdd(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		h.reply(ctx, req.Chat, "usage: /holiday_add YYYY-MM-DD [description]")
		return nil
	}
	d, err := calendar.ParseDate(req.Args[0])
	if err != nil {
		h.reply(ctx, req.Chat, "invalid date, expected YYYY-MM-DD")
		return nil
	}
	u, ok, err := h.chatUser(ctx, req)
	if !ok {
		return err
	}
	desc := strings.Join(req.Args[1:], " ")
	err = h.store.AddHoliday(ctx, calendar.Holiday{UserID: u.ID, Date: d, Description: desc})
	switch {
	case errors.Is(err, calendar.ErrConflict):
		h.reply(ctx, req.Chat, fmt.Sprintf("%s is already a holiday.", d))
		return nil
	case err != nil:
		return fmt.Errorf("add holiday: %w", err)
	}
	req.Logger.Info("holiday added", logx.User(u.ID), logx.Date(d))
	h.reply(ctx, req.Chat, strings.TrimSpace(fmt.Sprintf("Holiday added: %s %s", d, desc)))
	return nil
}

func (h *Handler) cmdHolidayDel(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		h.reply(ctx, req.Chat, "usage: /holiday_del YYYY-MM-DD")
		return nil
	}
	d, err := calendar.ParseDate(req.Args[0])
	if err != nil {
		h.reply(ctx, req.Chat, "invalid date, expected YYYY-MM-DD")
		return nil
	}
	u, ok, err := h.chatUser(ctx, req)
	if !ok {
		return err
	}
	err = h.store.DeleteHoliday(ctx, u.ID, d)
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		h.reply(ctx, req.Chat, fmt.Sprintf("%s is not a holiday.", d))
		return nil
	case err != nil:
		return fmt.Errorf("delete holiday: %w", err)
	}
	req.Logger.Info("holiday deleted", logx.User(u.ID), logx.Date(d))
	h.reply(ctx, req.Chat, fmt.Sprintf("Holiday removed: %s", d))
	return nil
}

func (h *Handler) cmdHolidays(ctx context.Context, req *Request) error {
	u, ok, err := h.chatUser(ctx, req)
	if !ok {
		return err
	}
	list, err := h.store.ListHolidays(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("list holidays: %w", err)
	}
	today := calendar.DateOf(h.now())
	var b strings.Builder
	for _, hd := range list {
		if hd.Date.Before(today) {
			continue
		}
		b.WriteString("\n" + strings.TrimSpace(hd.Date.String()+" "+hd.Description))
	}
	if b.Len() == 0 {
		h.reply(ctx, req.Chat, "No upcoming holidays.")
		return nil
	}
	h.reply(ctx, req.Chat, "Upcoming holidays:"+b.String())
	return nil
}

func (h *Handler) cmdStatus(ctx context.Context, req *Request) error {
	var b strings.Builder
	if h.tick != nil {
		ts := h.tick.Snapshot()
		fmt.Fprintf(&b, "Scheduler: enabled=%t tz=%s ticks=%d overruns=%d", ts.Enabled, ts.Timezone, ts.Ticks, ts.Overruns)
		if !ts.Next.IsZero() {
			fmt.Fprintf(&b, "\nNext tick: %s", ts.Next.Format("15:04"))
		}
		if !ts.LastTick.IsZero() {
			fmt.Fprintf(&b, "\nLast tick: %s evaluated=%d dispatched=%d skipped=%d",
				ts.LastTick.Format("15:04"), ts.Last.Evaluated, ts.Last.Dispatched, ts.Last.Skipped)
		}
		if ts.FatalStreak > 0 {
			fmt.Fprintf(&b, "\nBacked off until %s (failures: %d)", ts.BackoffUntil.Format("15:04"), ts.FatalStreak)
		}
	}
	if h.dispatch != nil {
		ds := h.dispatch.Snapshot()
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Dispatch: in_flight=%d started=%d ok=%d failed=%d skipped=%d",
			ds.InFlight, ds.Started, ds.Succeeded, ds.Failed, ds.Skipped)
		hist := ds.History
		if len(hist) > 5 {
			hist = hist[len(hist)-5:]
		}
		for _, it := range hist {
			line := fmt.Sprintf("\n%s user=%d %s %s", it.Started.Format("01-02 15:04"), it.UserID, it.Action, it.State)
			if it.Kind != "" {
				line += " (" + string(it.Kind) + ")"
			}
			b.WriteString(line)
		}
	}
	if b.Len() == 0 {
		b.WriteString("No status available.")
	}
	h.reply(ctx, req.Chat, b.String())
	return nil
}
