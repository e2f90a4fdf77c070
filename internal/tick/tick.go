package tick

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checktime/internal/calendar"
	"checktime/internal/dispatch"
	"checktime/internal/eventbus"
	logx "checktime/pkg/logx"
)

// Tick evaluates the minute containing now. The scheduler calls it once per
// trigger; tests call it directly.
func (s *Service) Tick(ctx context.Context, now time.Time) Report {
	s.running.Store(true)
	defer s.running.Store(false)

	s.mu.Lock()
	loc, cfg := s.loc, s.cfg
	s.mu.Unlock()

	start := time.Now()
	now = now.In(loc).Truncate(time.Minute)
	rep := Report{At: now}
	defer func() {
		rep.Took = time.Since(start)
		s.ticks.Add(1)
		s.lastMu.Lock()
		s.last = rep
		s.lastMu.Unlock()
	}()

	if open, until := s.backoff.isOpen(now); open {
		rep.BackedOff = true
		s.backedOff.Add(1)
		s.log.Debug("tick suppressed by backoff", logx.Time("until", until))
		s.publish(eventbus.TickSkipped, map[string]any{"reason": "backoff", "until": until})
		return rep
	}

	users, problems, err := s.users.ListEligibleUsers(ctx)
	if err != nil {
		rep.Fatal = err
		s.onFatal(ctx, now, cfg, err)
		return rep
	}
	if s.backoff.recordSuccess() {
		s.log.Info("tick recovered from fatal backoff")
	}
	rep.Errors = append(rep.Errors, problems...)

	date := calendar.DateOf(now)
	minute := calendar.ClockOf(now)
	for i := range users {
		if ctx.Err() != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("tick aborted: %w", ctx.Err()))
			break
		}
		u := users[i]
		rep.Evaluated++

		res, err := s.resolver.Resolve(ctx, u.ID, date)
		if err != nil {
			rep.Skipped++
			rep.Errors = append(rep.Errors, err)
			s.log.Warn("resolve failed; user skipped", logx.User(u.ID), logx.Err(err))
			continue
		}
		if !res.Working {
			continue
		}

		var action calendar.Action
		switch minute {
		case res.CheckIn:
			action = calendar.CheckIn
		case res.CheckOut:
			action = calendar.CheckOut
		default:
			continue
		}

		id, err := s.dispatch.Dispatch(ctx, u, action)
		if err != nil {
			rep.Skipped++
			if !errors.Is(err, dispatch.ErrInFlight) {
				rep.Errors = append(rep.Errors, err)
			}
			continue
		}
		rep.Dispatched = append(rep.Dispatched, Dispatched{UserID: u.ID, Action: action, ID: id})
		s.log.Info("action dispatched",
			logx.User(u.ID),
			logx.Action(action),
			logx.DispatchID(id),
			logx.String("source", res.Source.String()),
		)
	}

	s.publish(eventbus.TickCompleted, rep.Summary())
	if len(rep.Dispatched) > 0 || len(rep.Errors) > 0 {
		s.log.Debug("tick done",
			logx.Time("at", now),
			logx.Int("evaluated", rep.Evaluated),
			logx.Int("dispatched", len(rep.Dispatched)),
			logx.Int("errors", len(rep.Errors)),
		)
	}
	return rep
}

func (s *Service) onFatal(ctx context.Context, now time.Time, cfg Config, err error) {
	s.fatal.Add(1)
	first, until := s.backoff.recordFailure(now, cfg.FatalBackoff, cfg.FatalBackoffMax)
	s.log.Error("tick failed; backing off", logx.Err(err), logx.Time("until", until))
	s.publish(eventbus.TickFailed, map[string]any{"err": err.Error(), "until": until})
	if first && s.alert != nil {
		msg := fmt.Sprintf("Scheduler cannot list users: %v\nTicks paused until %s.", err, until.Format("15:04"))
		if aerr := s.alert.NotifyOperator(ctx, msg); aerr != nil {
			s.log.Warn("operator alert failed", logx.Err(aerr))
		}
	}
}
