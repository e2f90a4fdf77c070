package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"checktime/internal/calendar"
	logx "checktime/pkg/logx"
)

type Source int

const (
	SourceNone Source = iota
	SourceOverride
	SourcePeriod
)

func (s Source) String() string {
	switch s {
	case SourceOverride:
		return "override"
	case SourcePeriod:
		return "period"
	default:
		return "none"
	}
}

const (
	ReasonHoliday       = "holiday"
	ReasonNoPeriod      = "no_period"
	ReasonNoDaySchedule = "no_day_schedule"
	ReasonOverride      = "override"
	ReasonPeriod        = "period"
)

// Result is the resolved plan for one user and date. CheckIn and CheckOut
// are meaningful only when Working is true.
type Result struct {
	Working  bool
	CheckIn  calendar.Clock
	CheckOut calendar.Clock
	Source   Source
	Reason   string
	PeriodID int64
}

func (r Result) String() string {
	if !r.Working {
		return "not working (" + r.Reason + ")"
	}
	return fmt.Sprintf("working %s-%s (%s)", r.CheckIn, r.CheckOut, r.Source)
}

func notWorking(reason string) Result { return Result{Source: SourceNone, Reason: reason} }

// Resolver maps (user, date) to a Result. It keeps no per-call state; the
// policy is swapped atomically on config reload.
type Resolver struct {
	store  calendar.Reader
	log    logx.Logger
	policy atomic.Pointer[Policy]
}

func NewResolver(store calendar.Reader, policy Policy, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resolver{store: store, log: log.With(logx.String("comp", "resolver"))}
	r.SetPolicy(policy)
	return r
}

func (r *Resolver) SetPolicy(p Policy) {
	if p.Precedence == "" {
		p.Precedence = HolidayFirst
	}
	if p.OnOverlap == "" {
		p.OnOverlap = OverlapLatest
	}
	r.policy.Store(&p)
}

func (r *Resolver) Policy() Policy { return *r.policy.Load() }

func (r *Resolver) Resolve(ctx context.Context, userID int64, d calendar.Date) (Result, error) {
	pol := r.Policy()

	if pol.Precedence == OverrideFirst {
		if res, ok, err := r.override(ctx, userID, d); err != nil || ok {
			return res, err
		}
		if holiday, err := r.holiday(ctx, userID, d); err != nil || holiday {
			return notWorking(ReasonHoliday), err
		}
	} else {
		if holiday, err := r.holiday(ctx, userID, d); err != nil || holiday {
			return notWorking(ReasonHoliday), err
		}
		if res, ok, err := r.override(ctx, userID, d); err != nil || ok {
			return res, err
		}
	}

	periods, err := r.store.ActivePeriods(ctx, userID, d)
	if err != nil {
		return Result{}, r.readErr(userID, d, "active periods", err)
	}
	if len(periods) == 0 {
		return notWorking(ReasonNoPeriod), nil
	}
	period := periods[0]
	if len(periods) > 1 {
		if pol.OnOverlap == OverlapSkip {
			return Result{}, &ResolutionError{UserID: userID, Date: d,
				Reason: fmt.Sprintf("%d active periods overlap", len(periods))}
		}
		period = latest(periods)
		r.log.Warn("overlapping active periods; using most recent",
			logx.User(userID),
			logx.Date(d),
			logx.Int("count", len(periods)),
			logx.Int64("period_id", period.ID),
		)
	}

	ds, err := r.store.GetDaySchedule(ctx, period.ID, d.Weekday())
	if errors.Is(err, calendar.ErrNotFound) {
		return notWorking(ReasonNoDaySchedule), nil
	}
	if err != nil {
		return Result{}, r.readErr(userID, d, "day schedule", err)
	}
	return Result{
		Working:  true,
		CheckIn:  ds.CheckIn,
		CheckOut: ds.CheckOut,
		Source:   SourcePeriod,
		Reason:   ReasonPeriod,
		PeriodID: period.ID,
	}, nil
}

func (r *Resolver) holiday(ctx context.Context, userID int64, d calendar.Date) (bool, error) {
	_, err := r.store.GetHoliday(ctx, userID, d)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, calendar.ErrNotFound):
		return false, nil
	default:
		return false, r.readErr(userID, d, "holiday", err)
	}
}

func (r *Resolver) override(ctx context.Context, userID int64, d calendar.Date) (Result, bool, error) {
	o, err := r.store.GetOverride(ctx, userID, d)
	switch {
	case err == nil:
		return Result{
			Working:  true,
			CheckIn:  o.CheckIn,
			CheckOut: o.CheckOut,
			Source:   SourceOverride,
			Reason:   ReasonOverride,
		}, true, nil
	case errors.Is(err, calendar.ErrNotFound):
		return Result{}, false, nil
	default:
		return Result{}, false, r.readErr(userID, d, "override", err)
	}
}

func (r *Resolver) readErr(userID int64, d calendar.Date, what string, err error) error {
	return &ResolutionError{UserID: userID, Date: d, Reason: "read " + what, Err: err}
}

// latest picks the most recently created period, breaking ties by ID.
func latest(ps []calendar.SchedulePeriod) calendar.SchedulePeriod {
	best := ps[0]
	for _, p := range ps[1:] {
		if p.CreatedAt.After(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID > best.ID) {
			best = p
		}
	}
	return best
}
