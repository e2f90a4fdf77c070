package calendar

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("calendar: not found")
	ErrConflict      = errors.New("calendar: already exists")
	ErrPeriodOverlap = errors.New("calendar: active period overlaps an existing one")
	ErrInvalid       = errors.New("calendar: invalid record")
)

// Reader is the read path used by the resolver and the eligibility provider.
// Lookups that find nothing return ErrNotFound.
type Reader interface {
	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersWithActionEnabled(ctx context.Context) ([]User, error)

	GetHoliday(ctx context.Context, userID int64, d Date) (Holiday, error)
	GetOverride(ctx context.Context, userID int64, d Date) (DayOverride, error)
	// ActivePeriods returns every active period covering d, so callers can
	// detect overlap. An empty slice is not an error.
	ActivePeriods(ctx context.Context, userID int64, d Date) ([]SchedulePeriod, error)
	GetDaySchedule(ctx context.Context, periodID int64, weekday int) (DaySchedule, error)
}

// Writer is the administrative write path.
type Writer interface {
	PutUser(ctx context.Context, u User) (User, error)
	FindUserByChatID(ctx context.Context, chatID int64) (User, error)

	AddHoliday(ctx context.Context, h Holiday) error
	DeleteHoliday(ctx context.Context, userID int64, d Date) error
	ListHolidays(ctx context.Context, userID int64) ([]Holiday, error)

	// AddPeriod rejects an active period overlapping another active one
	// with ErrPeriodOverlap.
	AddPeriod(ctx context.Context, p SchedulePeriod) (SchedulePeriod, error)
	PutDaySchedule(ctx context.Context, ds DaySchedule) error
	PutOverride(ctx context.Context, o DayOverride) error
}

type Store interface {
	Reader
	Writer
	Close() error
}

// Validate checks the invariants a single record must hold on write.
func (p SchedulePeriod) Validate() error {
	if p.UserID == 0 || p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalid
	}
	return nil
}

func (ds DaySchedule) Validate() error {
	if ds.PeriodID == 0 || ds.Weekday < 0 || ds.Weekday > 6 {
		return ErrInvalid
	}
	return nil
}
