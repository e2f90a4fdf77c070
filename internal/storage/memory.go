package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"checktime/internal/calendar"
)

type dateKey struct {
	user int64
	date calendar.Date
}

type dayKey struct {
	period  int64
	weekday int
}

// Memory is a process-local store.
type Memory struct {
	mu        sync.RWMutex
	seq       int64
	users     map[int64]calendar.User
	holidays  map[dateKey]calendar.Holiday
	overrides map[dateKey]calendar.DayOverride
	periods   map[int64]calendar.SchedulePeriod
	days      map[dayKey]calendar.DaySchedule
	audit     []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		users:     map[int64]calendar.User{},
		holidays:  map[dateKey]calendar.Holiday{},
		overrides: map[dateKey]calendar.DayOverride{},
		periods:   map[int64]calendar.SchedulePeriod{},
		days:      map[dayKey]calendar.DaySchedule{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *Memory) GetUser(_ context.Context, id int64) (calendar.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return calendar.User{}, calendar.ErrNotFound
	}
	return u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]calendar.User, error) {
	m.mu.RLock()
	out := make([]calendar.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListUsersWithActionEnabled(ctx context.Context) ([]calendar.User, error) {
	all, _ := m.ListUsers(ctx)
	out := all[:0]
	for _, u := range all {
		if u.RemoteEnabled {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Memory) FindUserByChatID(_ context.Context, chatID int64) (calendar.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Notify != nil && u.Notify.TelegramChatID == chatID && chatID != 0 {
			return u, nil
		}
	}
	return calendar.User{}, calendar.ErrNotFound
}

func (m *Memory) PutUser(_ context.Context, u calendar.User) (calendar.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.nextID()
	} else if u.ID > m.seq {
		m.seq = u.ID
	}
	if prev, ok := m.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetHoliday(_ context.Context, userID int64, d calendar.Date) (calendar.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holidays[dateKey{userID, d}]
	if !ok {
		return calendar.Holiday{}, calendar.ErrNotFound
	}
	return h, nil
}

func (m *Memory) AddHoliday(_ context.Context, h calendar.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dateKey{h.UserID, h.Date}
	if _, ok := m.holidays[k]; ok {
		return calendar.ErrConflict
	}
	m.holidays[k] = h
	return nil
}

func (m *Memory) DeleteHoliday(_ context.Context, userID int64, d calendar.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dateKey{userID, d}
	if _, ok := m.holidays[k]; !ok {
		return calendar.ErrNotFound
	}
	delete(m.holidays, k)
	return nil
}

func (m *Memory) ListHolidays(_ context.Context, userID int64) ([]calendar.Holiday, error) {
	m.mu.RLock()
	var out []calendar.Holiday
	for k, h := range m.holidays {
		if k.user == userID {
			out = append(out, h)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) GetOverride(_ context.Context, userID int64, d calendar.Date) (calendar.DayOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.overrides[dateKey{userID, d}]
	if !ok {
		return calendar.DayOverride{}, calendar.ErrNotFound
	}
	return o, nil
}

func (m *Memory) PutOverride(_ context.Context, o calendar.DayOverride) error {
	m.mu.Lock()
	m.overrides[dateKey{o.UserID, o.Date}] = o
	m.mu.Unlock()
	return nil
}

func (m *Memory) ActivePeriods(_ context.Context, userID int64, d calendar.Date) ([]calendar.SchedulePeriod, error) {
	m.mu.RLock()
	var out []calendar.SchedulePeriod
	for _, p := range m.periods {
		if p.UserID == userID && p.Active && p.Covers(d) {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AddPeriod(_ context.Context, p calendar.SchedulePeriod) (calendar.SchedulePeriod, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Active {
		for _, q := range m.periods {
			if q.UserID == p.UserID && q.Active && q.Overlaps(p) {
				return p, calendar.ErrPeriodOverlap
			}
		}
	}
	p.ID = m.nextID()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.periods[p.ID] = p
	return p, nil
}

// InsertPeriodUnchecked stores p without the overlap check. It exists to
// reproduce data written by older tooling that did not enforce it.
func (m *Memory) InsertPeriodUnchecked(p calendar.SchedulePeriod) calendar.SchedulePeriod {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID()
	m.periods[p.ID] = p
	return p
}

func (m *Memory) GetDaySchedule(_ context.Context, periodID int64, weekday int) (calendar.DaySchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.days[dayKey{periodID, weekday}]
	if !ok {
		return calendar.DaySchedule{}, calendar.ErrNotFound
	}
	return ds, nil
}

func (m *Memory) PutDaySchedule(_ context.Context, ds calendar.DaySchedule) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.periods[ds.PeriodID]; !ok {
		return calendar.ErrNotFound
	}
	m.days[dayKey{ds.PeriodID, ds.Weekday}] = ds
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.audit = append(m.audit, e)
	if len(m.audit) > 1000 {
		m.audit = m.audit[len(m.audit)-1000:]
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) RecentAudit(_ context.Context, userID int64, limit int) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuditEntry
	if limit <= 0 {
		limit = 50
	}
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if userID == 0 || m.audit[i].UserID == userID {
			out = append(out, m.audit[i])
		}
	}
	return out, nil
}
