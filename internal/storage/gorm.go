package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checktime/internal/calendar"
	logx "checktime/pkg/logx"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type gormUser struct {
	ID               int64 `gorm:"primaryKey;autoIncrement"`
	Name             string
	CreatedAt        time.Time `gorm:"not null"`
	RemoteEnabled    bool      `gorm:"index;not null"`
	RemoteUsername   *string
	RemotePassword   *string
	RemoteSubdomain  *string
	NotifyEnabled    *bool
	TelegramChatID   *int64 `gorm:"index"`
	PushSubscription *string
}

func (gormUser) TableName() string { return "users" }

type gormHoliday struct {
	UserID      int64  `gorm:"primaryKey;autoIncrement:false"`
	Date        string `gorm:"primaryKey;size:10"`
	Description string
}

func (gormHoliday) TableName() string { return "holidays" }

type gormPeriod struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	UserID    int64 `gorm:"index:idx_periods_user;not null"`
	Name      string
	StartDate string    `gorm:"size:10;not null"`
	EndDate   string    `gorm:"size:10;not null"`
	IsActive  bool      `gorm:"index:idx_periods_user;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (gormPeriod) TableName() string { return "schedule_periods" }

type gormDaySchedule struct {
	PeriodID  int64  `gorm:"primaryKey;autoIncrement:false"`
	DayOfWeek int    `gorm:"primaryKey;autoIncrement:false"`
	CheckIn   string `gorm:"size:5;not null"`
	CheckOut  string `gorm:"size:5;not null"`
}

func (gormDaySchedule) TableName() string { return "day_schedules" }

type gormOverride struct {
	UserID      int64  `gorm:"primaryKey;autoIncrement:false"`
	Date        string `gorm:"primaryKey;size:10"`
	CheckIn     string `gorm:"size:5;not null"`
	CheckOut    string `gorm:"size:5;not null"`
	Description string
}

func (gormOverride) TableName() string { return "day_overrides" }

type gormAudit struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	At         time.Time `gorm:"not null"`
	DispatchID string    `gorm:"not null"`
	UserID     int64     `gorm:"index;not null"`
	Action     string    `gorm:"not null"`
	State      string    `gorm:"not null"`
	Kind       string
	Detail     string
	TookMS     int64
}

func (gormAudit) TableName() string { return "audit" }

type gormStore struct {
	db *gorm.DB
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	st, err := NewGorm(db)
	if err != nil {
		if sqlDB, e := db.DB(); e == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	log.Debug("postgres store ready")
	return st, nil
}

// NewGorm wraps an open gorm connection and migrates the schema.
func NewGorm(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(
		&gormUser{},
		&gormHoliday{},
		&gormPeriod{},
		&gormDaySchedule{},
		&gormOverride{},
		&gormAudit{},
	); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return calendar.ErrNotFound
	}
	return err
}

func ptr[T any](v T, ok bool) *T {
	if !ok {
		return nil
	}
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (m gormUser) user() calendar.User {
	u := calendar.User{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt, RemoteEnabled: m.RemoteEnabled}
	if m.RemoteUsername != nil || m.RemotePassword != nil || m.RemoteSubdomain != nil {
		u.Remote = &calendar.RemoteAccount{
			Username:       deref(m.RemoteUsername),
			SealedPassword: deref(m.RemotePassword),
			Subdomain:      deref(m.RemoteSubdomain),
		}
	}
	if m.NotifyEnabled != nil {
		u.Notify = &calendar.NotifyAddress{
			Enabled:          *m.NotifyEnabled,
			TelegramChatID:   deref(m.TelegramChatID),
			PushSubscription: deref(m.PushSubscription),
		}
	}
	return u
}

func gormUserOf(u calendar.User) gormUser {
	m := gormUser{ID: u.ID, Name: u.Name, CreatedAt: u.CreatedAt, RemoteEnabled: u.RemoteEnabled}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if a := u.Remote; a != nil {
		m.RemoteUsername = ptr(a.Username, true)
		m.RemotePassword = ptr(a.SealedPassword, true)
		m.RemoteSubdomain = ptr(a.Subdomain, true)
	}
	if n := u.Notify; n != nil {
		m.NotifyEnabled = ptr(n.Enabled, true)
		m.TelegramChatID = ptr(n.TelegramChatID, n.TelegramChatID != 0)
		m.PushSubscription = ptr(n.PushSubscription, n.PushSubscription != "")
	}
	return m
}

func (s *gormStore) GetUser(ctx context.Context, id int64) (calendar.User, error) {
	var m gormUser
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return calendar.User{}, gormNotFound(err)
	}
	return m.user(), nil
}

func (s *gormStore) listUsers(q *gorm.DB) ([]calendar.User, error) {
	var ms []gormUser
	if err := q.Order("id").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]calendar.User, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.user())
	}
	return out, nil
}

func (s *gormStore) ListUsers(ctx context.Context) ([]calendar.User, error) {
	return s.listUsers(s.db.WithContext(ctx))
}

func (s *gormStore) ListUsersWithActionEnabled(ctx context.Context) ([]calendar.User, error) {
	return s.listUsers(s.db.WithContext(ctx).Where("remote_enabled = ?", true))
}

func (s *gormStore) FindUserByChatID(ctx context.Context, chatID int64) (calendar.User, error) {
	if chatID == 0 {
		return calendar.User{}, calendar.ErrNotFound
	}
	var m gormUser
	if err := s.db.WithContext(ctx).Where("telegram_chat_id = ?", chatID).Order("id").First(&m).Error; err != nil {
		return calendar.User{}, gormNotFound(err)
	}
	return m.user(), nil
}

func (s *gormStore) PutUser(ctx context.Context, u calendar.User) (calendar.User, error) {
	m := gormUserOf(u)
	q := s.db.WithContext(ctx)
	if m.ID != 0 {
		q = q.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "remote_enabled", "remote_username", "remote_password", "remote_subdomain",
				"notify_enabled", "telegram_chat_id", "push_subscription",
			}),
		})
	}
	if err := q.Create(&m).Error; err != nil {
		return u, err
	}
	return s.GetUser(ctx, m.ID)
}

func (s *gormStore) GetHoliday(ctx context.Context, userID int64, d calendar.Date) (calendar.Holiday, error) {
	var m gormHoliday
	err := s.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, d.String()).First(&m).Error
	if err != nil {
		return calendar.Holiday{}, gormNotFound(err)
	}
	return calendar.Holiday{UserID: m.UserID, Date: d, Description: m.Description}, nil
}

func (s *gormStore) AddHoliday(ctx context.Context, h calendar.Holiday) error {
	if h.UserID == 0 || h.Date.IsZero() {
		return calendar.ErrInvalid
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&gormHoliday{}).Where("user_id = ? AND date = ?", h.UserID, h.Date.String()).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return calendar.ErrConflict
		}
		return tx.Create(&gormHoliday{UserID: h.UserID, Date: h.Date.String(), Description: h.Description}).Error
	})
}

func (s *gormStore) DeleteHoliday(ctx context.Context, userID int64, d calendar.Date) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, d.String()).Delete(&gormHoliday{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return calendar.ErrNotFound
	}
	return nil
}

func (s *gormStore) ListHolidays(ctx context.Context, userID int64) ([]calendar.Holiday, error) {
	var ms []gormHoliday
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("date").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]calendar.Holiday, 0, len(ms))
	for _, m := range ms {
		d, err := calendar.ParseDate(m.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, calendar.Holiday{UserID: m.UserID, Date: d, Description: m.Description})
	}
	return out, nil
}

func (s *gormStore) GetOverride(ctx context.Context, userID int64, d calendar.Date) (calendar.DayOverride, error) {
	var m gormOverride
	err := s.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, d.String()).First(&m).Error
	if err != nil {
		return calendar.DayOverride{}, gormNotFound(err)
	}
	in, out, err := parseClocks(m.CheckIn, m.CheckOut)
	if err != nil {
		return calendar.DayOverride{}, err
	}
	return calendar.DayOverride{UserID: m.UserID, Date: d, CheckIn: in, CheckOut: out, Description: m.Description}, nil
}

func (s *gormStore) PutOverride(ctx context.Context, o calendar.DayOverride) error {
	if o.UserID == 0 || o.Date.IsZero() {
		return calendar.ErrInvalid
	}
	m := gormOverride{UserID: o.UserID, Date: o.Date.String(), CheckIn: o.CheckIn.String(), CheckOut: o.CheckOut.String(), Description: o.Description}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"check_in", "check_out", "description"}),
	}).Create(&m).Error
}

func (m gormPeriod) period() (calendar.SchedulePeriod, error) {
	start, err := calendar.ParseDate(m.StartDate)
	if err != nil {
		return calendar.SchedulePeriod{}, err
	}
	end, err := calendar.ParseDate(m.EndDate)
	if err != nil {
		return calendar.SchedulePeriod{}, err
	}
	return calendar.SchedulePeriod{ID: m.ID, UserID: m.UserID, Name: m.Name, Start: start, End: end, Active: m.IsActive, CreatedAt: m.CreatedAt}, nil
}

func (s *gormStore) ActivePeriods(ctx context.Context, userID int64, d calendar.Date) ([]calendar.SchedulePeriod, error) {
	var ms []gormPeriod
	day := d.String()
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND start_date <= ? AND end_date >= ?", userID, true, day, day).
		Order("id").Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]calendar.SchedulePeriod, 0, len(ms))
	for _, m := range ms {
		p, err := m.period()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *gormStore) AddPeriod(ctx context.Context, p calendar.SchedulePeriod) (calendar.SchedulePeriod, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	m := gormPeriod{UserID: p.UserID, Name: p.Name, StartDate: p.Start.String(), EndDate: p.End.String(), IsActive: p.Active, CreatedAt: p.CreatedAt}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.Active {
			var n int64
			err := tx.Model(&gormPeriod{}).
				Where("user_id = ? AND is_active = ? AND start_date <= ? AND end_date >= ?", p.UserID, true, m.EndDate, m.StartDate).
				Count(&n).Error
			if err != nil {
				return err
			}
			if n > 0 {
				return calendar.ErrPeriodOverlap
			}
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		return p, err
	}
	p.ID, p.CreatedAt = m.ID, m.CreatedAt
	return p, nil
}

func (s *gormStore) GetDaySchedule(ctx context.Context, periodID int64, weekday int) (calendar.DaySchedule, error) {
	var m gormDaySchedule
	err := s.db.WithContext(ctx).Where("period_id = ? AND day_of_week = ?", periodID, weekday).First(&m).Error
	if err != nil {
		return calendar.DaySchedule{}, gormNotFound(err)
	}
	in, out, err := parseClocks(m.CheckIn, m.CheckOut)
	if err != nil {
		return calendar.DaySchedule{}, err
	}
	return calendar.DaySchedule{PeriodID: m.PeriodID, Weekday: m.DayOfWeek, CheckIn: in, CheckOut: out}, nil
}

func (s *gormStore) PutDaySchedule(ctx context.Context, ds calendar.DaySchedule) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&gormPeriod{}).Where("id = ?", ds.PeriodID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return calendar.ErrNotFound
		}
		m := gormDaySchedule{PeriodID: ds.PeriodID, DayOfWeek: ds.Weekday, CheckIn: ds.CheckIn.String(), CheckOut: ds.CheckOut.String()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "period_id"}, {Name: "day_of_week"}},
			DoUpdates: clause.AssignmentColumns([]string{"check_in", "check_out"}),
		}).Create(&m).Error
	})
}

func (s *gormStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	m := gormAudit{At: e.At, DispatchID: e.DispatchID, UserID: e.UserID, Action: e.Action, State: e.State, Kind: e.Kind, Detail: e.Detail, TookMS: e.TookMS}
	if m.At.IsZero() {
		m.At = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *gormStore) RecentAudit(ctx context.Context, userID int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	var ms []gormAudit
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(ms))
	for _, m := range ms {
		out = append(out, AuditEntry{At: m.At, DispatchID: m.DispatchID, UserID: m.UserID, Action: m.Action, State: m.State, Kind: m.Kind, Detail: m.Detail, TookMS: m.TookMS})
	}
	return out, nil
}
