// Package scheduler fires the reservation attempt at each configured
// time of day, as close to the instant as the clock allows.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/internaltypes"
)

// FireFunc runs one attempt. at is the scheduled instant, not the moment the
// call was made.
type FireFunc func(ctx context.Context, at time.Time, entry reservation.ScheduleEntry)

// Scheduler sleeps coarsely until SpinWindow before the next instant, polls
// every SpinInterval until the instant passes, waits GraceDelay and fires.
// Fires run inline, so there is never more than one attempt at a time.
type Scheduler struct {
	Entries  []reservation.ScheduleEntry
	Location *time.Location
	Clock    clock.Clock
	Log      *zap.Logger
	Fire     FireFunc

	GraceDelay   time.Duration
	SpinWindow   time.Duration
	SpinInterval time.Duration

	// Idle, if set, runs every IdleEvery while waiting for the next
	// instant. It never runs inside the spin window.
	Idle      func(ctx context.Context)
	IdleEvery time.Duration

	// OnNext is told each newly computed instant.
	OnNext func(at time.Time)

	last time.Time
}

// Next returns the earliest instant among entries strictly after now, in
// now's location, and the entry it belongs to. entries must not be empty.
func Next(entries []reservation.ScheduleEntry, now time.Time) (time.Time, reservation.ScheduleEntry) {
	var (
		best      time.Time
		bestEntry reservation.ScheduleEntry
	)
	y, m, d := now.Date()
	for _, e := range entries {
		at := time.Date(y, m, d, e.Hour, e.Minute, 0, 0, now.Location())
		if !at.After(now) {
			at = time.Date(y, m, d+1, e.Hour, e.Minute, 0, 0, now.Location())
		}
		if best.IsZero() || at.Before(best) {
			best, bestEntry = at, e
		}
	}
	return best, bestEntry
}

// Run fires until ctx is cancelled, returning ctx.Err(). An attempt already
// running when ctx is cancelled finishes first.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.Entries) == 0 {
		return fmt.Errorf("%w: no schedule entries", internaltypes.ErrConfiguration)
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}

	for {
		from := s.Clock.Now().In(loc)
		if s.last.After(from) {
			from = s.last
		}
		at, entry := Next(s.Entries, from)
		if s.OnNext != nil {
			s.OnNext(at)
		}
		s.Log.Info("next fire scheduled", zap.Time("at", at), zap.Stringer("entry", entry),
			zap.Duration("in", at.Sub(s.Clock.Now())))

		if err := s.waitUntil(ctx, at); err != nil {
			return err
		}
		if err := clock.Sleep(ctx, s.Clock, s.GraceDelay); err != nil {
			return err
		}

		s.last = at
		s.Log.Info("firing", zap.Time("at", at),
			zap.Duration("late_by", s.Clock.Now().Sub(at)))
		s.fire(ctx, at, entry)
	}
}

func (s *Scheduler) fire(ctx context.Context, at time.Time, entry reservation.ScheduleEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("attempt panicked", zap.Any("panic", r), zap.Time("at", at))
		}
	}()
	s.Fire(ctx, at, entry)
}

// waitUntil blocks until the clock reaches at.
func (s *Scheduler) waitUntil(ctx context.Context, at time.Time) error {
	for {
		remaining := at.Sub(s.Clock.Now())
		if remaining <= 0 {
			return ctx.Err()
		}

		if remaining > s.SpinWindow {
			coarse := remaining - s.SpinWindow
			if s.Idle != nil && s.IdleEvery > 0 && coarse > s.IdleEvery {
				if err := clock.Sleep(ctx, s.Clock, s.IdleEvery); err != nil {
					return err
				}
				s.idle(ctx, at)
				continue
			}
			if err := clock.Sleep(ctx, s.Clock, coarse); err != nil {
				return err
			}
			continue
		}

		step := s.SpinInterval
		if step <= 0 || step > remaining {
			step = remaining
		}
		if err := clock.Sleep(ctx, s.Clock, step); err != nil {
			return err
		}
	}
}

// idle runs Idle with a deadline at the start of the spin window.
func (s *Scheduler) idle(ctx context.Context, at time.Time) {
	budget := at.Add(-s.SpinWindow).Sub(s.Clock.Now())
	if budget <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	s.Idle(ctx)
}
