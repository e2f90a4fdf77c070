package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Sealer encrypts a remote password before it is stored.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

// SeedDoc is the YAML calendar import format.
type SeedDoc struct {
	Users []SeedUser `yaml:"users"`
}

type SeedUser struct {
	ID     int64  `yaml:"id"`
	Name   string `yaml:"name"`
	Remote *struct {
		Enabled   bool   `yaml:"enabled"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		Subdomain string `yaml:"subdomain"`
	} `yaml:"remote"`
	Notify *struct {
		Enabled          bool   `yaml:"enabled"`
		TelegramChatID   int64  `yaml:"telegram_chat_id"`
		PushSubscription string `yaml:"push_subscription"`
	} `yaml:"notify"`
	Holidays []struct {
		Date        string `yaml:"date"`
		Description string `yaml:"description"`
	} `yaml:"holidays"`
	Periods []struct {
		Name   string `yaml:"name"`
		Start  string `yaml:"start"`
		End    string `yaml:"end"`
		Active *bool  `yaml:"active"`
		Days   []struct {
			Day      string `yaml:"day"`
			CheckIn  string `yaml:"check_in"`
			CheckOut string `yaml:"check_out"`
		} `yaml:"days"`
	} `yaml:"periods"`
	Overrides []struct {
		Date        string `yaml:"date"`
		CheckIn     string `yaml:"check_in"`
		CheckOut    string `yaml:"check_out"`
		Description string `yaml:"description"`
	} `yaml:"overrides"`
}

// SeedReport counts what an import wrote and collects per-record failures.
type SeedReport struct {
	Users, Holidays, Periods, Days, Overrides int
	Errors                                    []error
}

func LoadSeedFile(path string) (SeedDoc, error) {
	var doc SeedDoc
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return doc, fmt.Errorf("seed %s: %w", path, err)
	}
	return doc, nil
}

// Seed writes doc through w. A conflict on one record does not stop the
// import; it is reported and the next record is tried.
func Seed(ctx context.Context, w Writer, sealer Sealer, doc SeedDoc) (SeedReport, error) {
	var rep SeedReport
	for _, su := range doc.Users {
		u := User{ID: su.ID, Name: strings.TrimSpace(su.Name)}
		if su.Remote != nil {
			u.RemoteEnabled = su.Remote.Enabled
			acct := &RemoteAccount{Username: su.Remote.Username, Subdomain: su.Remote.Subdomain}
			if su.Remote.Password != "" {
				if sealer == nil {
					return rep, errors.New("seed: remote password given but no vault key configured")
				}
				sealed, err := sealer.Seal(su.Remote.Password)
				if err != nil {
					return rep, fmt.Errorf("seed user %q: seal password: %w", u.Name, err)
				}
				acct.SealedPassword = sealed
			}
			u.Remote = acct
		}
		if su.Notify != nil {
			u.Notify = &NotifyAddress{
				Enabled:          su.Notify.Enabled,
				TelegramChatID:   su.Notify.TelegramChatID,
				PushSubscription: su.Notify.PushSubscription,
			}
		}
		saved, err := w.PutUser(ctx, u)
		if err != nil {
			return rep, fmt.Errorf("seed user %q: %w", u.Name, err)
		}
		rep.Users++
		uid := saved.ID
		note := func(kind, key string, err error) {
			rep.Errors = append(rep.Errors, fmt.Errorf("user %d %s %s: %w", uid, kind, key, err))
		}

		for _, h := range su.Holidays {
			d, err := ParseDate(h.Date)
			if err != nil {
				note("holiday", h.Date, err)
				continue
			}
			if err := w.AddHoliday(ctx, Holiday{UserID: uid, Date: d, Description: h.Description}); err != nil {
				note("holiday", h.Date, err)
				continue
			}
			rep.Holidays++
		}

		for _, sp := range su.Periods {
			start, err1 := ParseDate(sp.Start)
			end, err2 := ParseDate(sp.End)
			if err := errors.Join(err1, err2); err != nil {
				note("period", sp.Name, err)
				continue
			}
			active := sp.Active == nil || *sp.Active
			p, err := w.AddPeriod(ctx, SchedulePeriod{UserID: uid, Name: sp.Name, Start: start, End: end, Active: active})
			if err != nil {
				note("period", sp.Name, err)
				continue
			}
			rep.Periods++
			for _, sd := range sp.Days {
				wd, err := ParseWeekday(sd.Day)
				if err != nil {
					note("day", sd.Day, err)
					continue
				}
				in, err1 := ParseClock(sd.CheckIn)
				out, err2 := ParseClock(sd.CheckOut)
				if err := errors.Join(err1, err2); err != nil {
					note("day", sd.Day, err)
					continue
				}
				if err := w.PutDaySchedule(ctx, DaySchedule{PeriodID: p.ID, Weekday: wd, CheckIn: in, CheckOut: out}); err != nil {
					note("day", sd.Day, err)
					continue
				}
				rep.Days++
			}
		}

		for _, so := range su.Overrides {
			d, err := ParseDate(so.Date)
			if err != nil {
				note("override", so.Date, err)
				continue
			}
			in, err1 := ParseClock(so.CheckIn)
			out, err2 := ParseClock(so.CheckOut)
			if err := errors.Join(err1, err2); err != nil {
				note("override", so.Date, err)
				continue
			}
			if err := w.PutOverride(ctx, DayOverride{UserID: uid, Date: d, CheckIn: in, CheckOut: out, Description: so.Description}); err != nil {
				note("override", so.Date, err)
				continue
			}
			rep.Overrides++
		}
	}
	return rep, nil
}

var weekdayNames = map[string]int{
	"mon": 0, "monday": 0,
	"tue": 1, "tuesday": 1,
	"wed": 2, "wednesday": 2,
	"thu": 3, "thursday": 3,
	"fri": 4, "friday": 4,
	"sat": 5, "saturday": 5,
	"sun": 6, "sunday": 6,
}

// ParseWeekday accepts a Monday-based index (0..6) or an English day name.
func ParseWeekday(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, ok := weekdayNames[s]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 6 {
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
	return n, nil
}
