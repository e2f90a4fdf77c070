package storage

import (
	"database/sql"
	"time"

	"checktime/internal/calendar"
)

// Row shapes shared by the sqlx backend. Dates are stored as YYYY-MM-DD
// text and clock values as HH:MM so range checks compare as strings.

type userRow struct {
	ID               int64          `db:"id"`
	Name             string         `db:"name"`
	CreatedAt        string         `db:"created_at"`
	RemoteEnabled    bool           `db:"remote_enabled"`
	RemoteUsername   sql.NullString `db:"remote_username"`
	RemotePassword   sql.NullString `db:"remote_password"`
	RemoteSubdomain  sql.NullString `db:"remote_subdomain"`
	NotifyEnabled    sql.NullBool   `db:"notify_enabled"`
	TelegramChatID   sql.NullInt64  `db:"telegram_chat_id"`
	PushSubscription sql.NullString `db:"push_subscription"`
}

func (r userRow) user() calendar.User {
	u := calendar.User{ID: r.ID, Name: r.Name, RemoteEnabled: r.RemoteEnabled, CreatedAt: parseStamp(r.CreatedAt)}
	if r.RemoteUsername.Valid || r.RemotePassword.Valid || r.RemoteSubdomain.Valid {
		u.Remote = &calendar.RemoteAccount{
			Username:       r.RemoteUsername.String,
			SealedPassword: r.RemotePassword.String,
			Subdomain:      r.RemoteSubdomain.String,
		}
	}
	if r.NotifyEnabled.Valid {
		u.Notify = &calendar.NotifyAddress{
			Enabled:          r.NotifyEnabled.Bool,
			TelegramChatID:   r.TelegramChatID.Int64,
			PushSubscription: r.PushSubscription.String,
		}
	}
	return u
}

func rowFromUser(u calendar.User) userRow {
	r := userRow{ID: u.ID, Name: u.Name, RemoteEnabled: u.RemoteEnabled, CreatedAt: stamp(u.CreatedAt)}
	if a := u.Remote; a != nil {
		r.RemoteUsername = sql.NullString{String: a.Username, Valid: true}
		r.RemotePassword = sql.NullString{String: a.SealedPassword, Valid: true}
		r.RemoteSubdomain = sql.NullString{String: a.Subdomain, Valid: true}
	}
	if n := u.Notify; n != nil {
		r.NotifyEnabled = sql.NullBool{Bool: n.Enabled, Valid: true}
		r.TelegramChatID = sql.NullInt64{Int64: n.TelegramChatID, Valid: n.TelegramChatID != 0}
		r.PushSubscription = sql.NullString{String: n.PushSubscription, Valid: n.PushSubscription != ""}
	}
	return r
}

type holidayRow struct {
	UserID      int64  `db:"user_id"`
	Date        string `db:"date"`
	Description string `db:"description"`
}

type periodRow struct {
	ID        int64  `db:"id"`
	UserID    int64  `db:"user_id"`
	Name      string `db:"name"`
	StartDate string `db:"start_date"`
	EndDate   string `db:"end_date"`
	IsActive  bool   `db:"is_active"`
	CreatedAt string `db:"created_at"`
}

func (r periodRow) period() (calendar.SchedulePeriod, error) {
	start, err := calendar.ParseDate(r.StartDate)
	if err != nil {
		return calendar.SchedulePeriod{}, err
	}
	end, err := calendar.ParseDate(r.EndDate)
	if err != nil {
		return calendar.SchedulePeriod{}, err
	}
	return calendar.SchedulePeriod{
		ID: r.ID, UserID: r.UserID, Name: r.Name,
		Start: start, End: end, Active: r.IsActive,
		CreatedAt: parseStamp(r.CreatedAt),
	}, nil
}

type dayRow struct {
	PeriodID  int64  `db:"period_id"`
	DayOfWeek int    `db:"day_of_week"`
	CheckIn   string `db:"check_in"`
	CheckOut  string `db:"check_out"`
}

type overrideRow struct {
	UserID      int64  `db:"user_id"`
	Date        string `db:"date"`
	CheckIn     string `db:"check_in"`
	CheckOut    string `db:"check_out"`
	Description string `db:"description"`
}

type auditRow struct {
	At         string         `db:"at"`
	DispatchID string         `db:"dispatch_id"`
	UserID     int64          `db:"user_id"`
	Action     string         `db:"action"`
	State      string         `db:"state"`
	Kind       sql.NullString `db:"kind"`
	Detail     sql.NullString `db:"detail"`
	TookMS     int64          `db:"took_ms"`
}

func (r auditRow) entry() AuditEntry {
	return AuditEntry{
		At: parseStamp(r.At), DispatchID: r.DispatchID, UserID: r.UserID,
		Action: r.Action, State: r.State, Kind: r.Kind.String, Detail: r.Detail.String, TookMS: r.TookMS,
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseClocks(in, out string) (calendar.Clock, calendar.Clock, error) {
	ci, err := calendar.ParseClock(in)
	if err != nil {
		return ci, calendar.Clock{}, err
	}
	co, err := calendar.ParseClock(out)
	return ci, co, err
}
