package calendar

import (
	"strings"
	"time"
)

type User struct {
	ID        int64
	Name      string
	CreatedAt time.Time

	// RemoteEnabled gates the automated action; Remote carries the account.
	RemoteEnabled bool
	Remote        *RemoteAccount

	// Notify is nil when the user has no delivery address at all.
	Notify *NotifyAddress
}

type RemoteAccount struct {
	Username       string
	SealedPassword string
	Subdomain      string
}

// Configured reports whether the account has everything a login needs.
func (a *RemoteAccount) Configured() bool {
	return a != nil && strings.TrimSpace(a.Username) != "" && strings.TrimSpace(a.SealedPassword) != ""
}

type NotifyAddress struct {
	Enabled        bool
	TelegramChatID int64
	// PushSubscription is a Web Push subscription JSON document.
	PushSubscription string
}

// Reachable reports whether at least one destination is usable.
func (n *NotifyAddress) Reachable() bool {
	if n == nil || !n.Enabled {
		return false
	}
	return n.TelegramChatID != 0 || strings.TrimSpace(n.PushSubscription) != ""
}

func (u *User) Label() string {
	if u == nil {
		return ""
	}
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	if u.Remote != nil && u.Remote.Username != "" {
		return u.Remote.Username
	}
	return "user"
}

type Holiday struct {
	UserID      int64
	Date        Date
	Description string
}

type SchedulePeriod struct {
	ID        int64
	UserID    int64
	Name      string
	Start     Date
	End       Date
	Active    bool
	CreatedAt time.Time
}

func (p SchedulePeriod) Covers(d Date) bool { return d.Within(p.Start, p.End) }

// Overlaps reports whether the two inclusive ranges share a day.
func (p SchedulePeriod) Overlaps(o SchedulePeriod) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

type DaySchedule struct {
	PeriodID int64
	Weekday  int // 0 = Monday
	CheckIn  Clock
	CheckOut Clock
}

type DayOverride struct {
	UserID      int64
	Date        Date
	CheckIn     Clock
	CheckOut    Clock
	Description string
}

// Action is the remote operation performed at a scheduled minute.
type Action string

const (
	CheckIn  Action = "check_in"
	CheckOut Action = "check_out"
)

func (a Action) Label() string {
	switch a {
	case CheckIn:
		return "check-in"
	case CheckOut:
		return "check-out"
	default:
		return string(a)
	}
}
