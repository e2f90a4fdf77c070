package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"checktime/internal/calendar"
	logx "checktime/pkg/logx"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const auditKeep = 5000

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps :memory: databases
	// on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log.With(logx.String("store", "sqlite"))}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return calendar.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const userCols = `id, name, created_at, remote_enabled, remote_username, remote_password,
	remote_subdomain, notify_enabled, telegram_chat_id, push_subscription`

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (calendar.User, error) {
	var r userRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+userCols+` FROM users WHERE id = ?`, id); err != nil {
		return calendar.User{}, notFound(err)
	}
	return r.user(), nil
}

func (s *sqliteStore) listUsers(ctx context.Context, where string, args ...any) ([]calendar.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+userCols+` FROM users `+where+` ORDER BY id`, args...); err != nil {
		return nil, err
	}
	out := make([]calendar.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.user())
	}
	return out, nil
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]calendar.User, error) {
	return s.listUsers(ctx, "")
}

func (s *sqliteStore) ListUsersWithActionEnabled(ctx context.Context) ([]calendar.User, error) {
	return s.listUsers(ctx, "WHERE remote_enabled = 1")
}

func (s *sqliteStore) FindUserByChatID(ctx context.Context, chatID int64) (calendar.User, error) {
	if chatID == 0 {
		return calendar.User{}, calendar.ErrNotFound
	}
	us, err := s.listUsers(ctx, "WHERE telegram_chat_id = ?", chatID)
	if err != nil {
		return calendar.User{}, err
	}
	if len(us) == 0 {
		return calendar.User{}, calendar.ErrNotFound
	}
	return us[0], nil
}

func (s *sqliteStore) PutUser(ctx context.Context, u calendar.User) (calendar.User, error) {
	r := rowFromUser(u)
	if u.ID == 0 {
		res, err := s.db.NamedExecContext(ctx, `INSERT INTO users
			(name, created_at, remote_enabled, remote_username, remote_password, remote_subdomain,
			 notify_enabled, telegram_chat_id, push_subscription)
			VALUES (:name, :created_at, :remote_enabled, :remote_username, :remote_password, :remote_subdomain,
			 :notify_enabled, :telegram_chat_id, :push_subscription)`, r)
		if err != nil {
			return u, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return u, err
		}
		return s.GetUser(ctx, id)
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO users (`+userCols+`)
		VALUES (:id, :name, :created_at, :remote_enabled, :remote_username, :remote_password, :remote_subdomain,
		 :notify_enabled, :telegram_chat_id, :push_subscription)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			remote_enabled = excluded.remote_enabled,
			remote_username = excluded.remote_username,
			remote_password = excluded.remote_password,
			remote_subdomain = excluded.remote_subdomain,
			notify_enabled = excluded.notify_enabled,
			telegram_chat_id = excluded.telegram_chat_id,
			push_subscription = excluded.push_subscription`, r)
	if err != nil {
		return u, err
	}
	return s.GetUser(ctx, u.ID)
}

func (s *sqliteStore) GetHoliday(ctx context.Context, userID int64, d calendar.Date) (calendar.Holiday, error) {
	var r holidayRow
	err := s.db.GetContext(ctx, &r, `SELECT user_id, date, description FROM holidays WHERE user_id = ? AND date = ?`, userID, d.String())
	if err != nil {
		return calendar.Holiday{}, notFound(err)
	}
	return calendar.Holiday{UserID: r.UserID, Date: d, Description: r.Description}, nil
}

func (s *sqliteStore) AddHoliday(ctx context.Context, h calendar.Holiday) error {
	if h.UserID == 0 || h.Date.IsZero() {
		return calendar.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO holidays (user_id, date, description) VALUES (?, ?, ?)`,
		h.UserID, h.Date.String(), h.Description)
	if isUniqueViolation(err) {
		return calendar.ErrConflict
	}
	return err
}

func (s *sqliteStore) DeleteHoliday(ctx context.Context, userID int64, d calendar.Date) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM holidays WHERE user_id = ? AND date = ?`, userID, d.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calendar.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListHolidays(ctx context.Context, userID int64) ([]calendar.Holiday, error) {
	var rows []holidayRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT user_id, date, description FROM holidays WHERE user_id = ? ORDER BY date`, userID); err != nil {
		return nil, err
	}
	out := make([]calendar.Holiday, 0, len(rows))
	for _, r := range rows {
		d, err := calendar.ParseDate(r.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, calendar.Holiday{UserID: r.UserID, Date: d, Description: r.Description})
	}
	return out, nil
}

func (s *sqliteStore) GetOverride(ctx context.Context, userID int64, d calendar.Date) (calendar.DayOverride, error) {
	var r overrideRow
	err := s.db.GetContext(ctx, &r, `SELECT user_id, date, check_in, check_out, description
		FROM day_overrides WHERE user_id = ? AND date = ?`, userID, d.String())
	if err != nil {
		return calendar.DayOverride{}, notFound(err)
	}
	in, out, err := parseClocks(r.CheckIn, r.CheckOut)
	if err != nil {
		return calendar.DayOverride{}, err
	}
	return calendar.DayOverride{UserID: r.UserID, Date: d, CheckIn: in, CheckOut: out, Description: r.Description}, nil
}

func (s *sqliteStore) PutOverride(ctx context.Context, o calendar.DayOverride) error {
	if o.UserID == 0 || o.Date.IsZero() {
		return calendar.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO day_overrides (user_id, date, check_in, check_out, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			check_in = excluded.check_in, check_out = excluded.check_out, description = excluded.description`,
		o.UserID, o.Date.String(), o.CheckIn.String(), o.CheckOut.String(), o.Description)
	return err
}

const periodCols = `id, user_id, name, start_date, end_date, is_active, created_at`

func (s *sqliteStore) ActivePeriods(ctx context.Context, userID int64, d calendar.Date) ([]calendar.SchedulePeriod, error) {
	var rows []periodRow
	day := d.String()
	err := s.db.SelectContext(ctx, &rows, `SELECT `+periodCols+` FROM schedule_periods
		WHERE user_id = ? AND is_active = 1 AND start_date <= ? AND end_date >= ? ORDER BY id`, userID, day, day)
	if err != nil {
		return nil, err
	}
	out := make([]calendar.SchedulePeriod, 0, len(rows))
	for _, r := range rows {
		p, err := r.period()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *sqliteStore) AddPeriod(ctx context.Context, p calendar.SchedulePeriod) (calendar.SchedulePeriod, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer func() { _ = tx.Rollback() }()

	if p.Active {
		var n int
		err := tx.GetContext(ctx, &n, `SELECT COUNT(1) FROM schedule_periods
			WHERE user_id = ? AND is_active = 1 AND start_date <= ? AND end_date >= ?`,
			p.UserID, p.End.String(), p.Start.String())
		if err != nil {
			return p, err
		}
		if n > 0 {
			return p, calendar.ErrPeriodOverlap
		}
	}
	r := periodRow{UserID: p.UserID, Name: p.Name, StartDate: p.Start.String(), EndDate: p.End.String(),
		IsActive: p.Active, CreatedAt: stamp(p.CreatedAt)}
	res, err := tx.NamedExecContext(ctx, `INSERT INTO schedule_periods (user_id, name, start_date, end_date, is_active, created_at)
		VALUES (:user_id, :name, :start_date, :end_date, :is_active, :created_at)`, r)
	if err != nil {
		return p, err
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.CreatedAt = parseStamp(r.CreatedAt)
	return p, nil
}

func (s *sqliteStore) GetDaySchedule(ctx context.Context, periodID int64, weekday int) (calendar.DaySchedule, error) {
	var r dayRow
	err := s.db.GetContext(ctx, &r, `SELECT period_id, day_of_week, check_in, check_out
		FROM day_schedules WHERE period_id = ? AND day_of_week = ?`, periodID, weekday)
	if err != nil {
		return calendar.DaySchedule{}, notFound(err)
	}
	in, out, err := parseClocks(r.CheckIn, r.CheckOut)
	if err != nil {
		return calendar.DaySchedule{}, err
	}
	return calendar.DaySchedule{PeriodID: r.PeriodID, Weekday: r.DayOfWeek, CheckIn: in, CheckOut: out}, nil
}

func (s *sqliteStore) PutDaySchedule(ctx context.Context, ds calendar.DaySchedule) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM schedule_periods WHERE id = ?`, ds.PeriodID); err != nil {
		return err
	}
	if n == 0 {
		return calendar.ErrNotFound
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO day_schedules (period_id, day_of_week, check_in, check_out)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(period_id, day_of_week) DO UPDATE SET check_in = excluded.check_in, check_out = excluded.check_out`,
		ds.PeriodID, ds.Weekday, ds.CheckIn.String(), ds.CheckOut.String())
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	r := auditRow{
		At: stamp(e.At), DispatchID: e.DispatchID, UserID: e.UserID, Action: e.Action, State: e.State,
		Kind:   sql.NullString{String: e.Kind, Valid: e.Kind != ""},
		Detail: sql.NullString{String: e.Detail, Valid: e.Detail != ""},
		TookMS: e.TookMS,
	}
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO audit (at, dispatch_id, user_id, action, state, kind, detail, took_ms)
		VALUES (:at, :dispatch_id, :user_id, :action, :state, :kind, :detail, :took_ms)`, r)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil && id%500 == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE id <= ?`, id-auditKeep); err != nil {
			s.log.Warn("audit prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) RecentAudit(ctx context.Context, userID int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT at, dispatch_id, user_id, action, state, kind, detail, took_ms FROM audit`
	args := []any{}
	if userID != 0 {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}
