// Package agent runs one reservation attempt end to end: authenticate,
// resolve candidates, book the best one that can be had, report.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/auth"
	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/internaltypes"
)

type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) (auth.State, error)
	State() auth.State
}

type SlotResolver interface {
	Resolve(ctx context.Context, w reservation.TargetWindow, preference []string) ([]reservation.Candidate, error)
}

type Reserver interface {
	Reserve(ctx context.Context, w reservation.TargetWindow, c reservation.Candidate) error
}

type Reporter interface {
	Report(ctx context.Context, r reservation.AttemptResult)
}

// Override pins the attempt to one window and, optionally, one court.
type Override struct {
	Window reservation.TargetWindow
	Court  string
}

type Agent struct {
	Auth     Authenticator
	Resolver SlotResolver
	Executor Reserver
	Reporter Reporter
	Clock    clock.Clock
	Log      *zap.Logger

	OffsetDays int
	Preference []string
	// PerAttempt caps one attempt. Zero means no cap.
	PerAttempt time.Duration
	Override   *Override

	mu       sync.Mutex
	inFlight bool
	nextFire *time.Time
	last     *reservation.AttemptResult
	attempts int
}

// Attempt runs one attempt for a fire at fired of entry and returns its
// result, which has already been reported. Cancelling ctx does not
// interrupt the attempt; only PerAttempt bounds it.
func (a *Agent) Attempt(ctx context.Context, fired time.Time, entry reservation.ScheduleEntry) reservation.AttemptResult {
	detached := context.WithoutCancel(ctx)
	attemptCtx := detached
	if a.PerAttempt > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(detached, a.PerAttempt)
		defer cancel()
	}

	a.mu.Lock()
	a.inFlight = true
	a.mu.Unlock()

	id := uuid.NewString()
	log := a.Log.With(zap.String("attempt_id", id), zap.Time("fired_at", fired), zap.Stringer("entry", entry))
	log.Info("attempt started")

	res := a.run(attemptCtx, log, fired, entry)
	res.ID = id
	res.FiredAt = fired
	res.At = a.Clock.Now()

	a.mu.Lock()
	a.inFlight = false
	a.last = &res
	a.attempts++
	a.mu.Unlock()

	if a.Reporter != nil {
		a.Reporter.Report(detached, res)
	}
	return res
}

func (a *Agent) run(ctx context.Context, log *zap.Logger, fired time.Time, entry reservation.ScheduleEntry) reservation.AttemptResult {
	w := reservation.NewTargetWindow(fired, entry, a.OffsetDays)
	preference := a.Preference
	if a.Override != nil {
		w = a.Override.Window
		if a.Override.Court != "" {
			preference = []string{a.Override.Court}
		}
	}
	res := reservation.AttemptResult{Target: w}

	if _, err := a.Auth.EnsureAuthenticated(ctx); err != nil {
		if ctx.Err() != nil {
			res.Outcome = reservation.OutcomeTransientError
			res.Detail = fmt.Sprintf("attempt abandoned during authentication after %s: %v", a.PerAttempt, err)
			log.Error("attempt timed out", zap.Error(err))
			return res
		}
		res.Outcome = reservation.OutcomeAuthFailure
		res.Detail = fmt.Sprintf("manual re-authentication required: %v", err)
		log.Error("attempt skipped", zap.Error(err))
		return res
	}

	candidates, err := a.Resolver.Resolve(ctx, w, preference)
	if err != nil {
		res.Outcome = reservation.OutcomeTransientError
		res.Detail = fmt.Sprintf("resolve %s: %v", w, err)
		log.Error("could not read availability", zap.Error(err))
		return res
	}
	if a.Override != nil && a.Override.Court != "" {
		candidates = only(candidates, a.Override.Court)
	}
	if len(candidates) == 0 {
		res.Outcome = reservation.OutcomeNoSlotAvailable
		res.Detail = fmt.Sprintf("no open court for %s", w)
		log.Info("no slot available", zap.Stringer("target", w))
		return res
	}

	var failures []string
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			break
		}
		err := a.Executor.Reserve(ctx, w, c)
		if err == nil {
			chosen := c
			res.Outcome = reservation.OutcomeSuccess
			res.Chosen = &chosen
			res.Detail = fmt.Sprintf("booked %s for %s", c.Name, w)
			log.Info("reservation confirmed", zap.String("court", c.Name), zap.Stringer("target", w))
			return res
		}
		kind := "transient"
		if errors.Is(err, internaltypes.ErrConflict) {
			kind = "conflict"
		}
		failures = append(failures, fmt.Sprintf("%s: %s", c.Name, kind))
		log.Warn("candidate failed, advancing", zap.String("court", c.Name), zap.Int("rank", c.Rank), zap.Error(err))
	}

	if err := ctx.Err(); err != nil {
		res.Outcome = reservation.OutcomeTransientError
		res.Detail = fmt.Sprintf("attempt abandoned after %s (%s)", a.PerAttempt, strings.Join(failures, ", "))
		log.Error("attempt timed out", zap.Error(err))
		return res
	}
	res.Outcome = reservation.OutcomeNoSlotAvailable
	res.Detail = fmt.Sprintf("all %d candidates failed (%s)", len(candidates), strings.Join(failures, ", "))
	log.Info("candidates exhausted", zap.Strings("failures", failures))
	return res
}

func only(cs []reservation.Candidate, court string) []reservation.Candidate {
	var out []reservation.Candidate
	for _, c := range cs {
		if c.Name == court {
			out = append(out, c)
		}
	}
	return out
}

// KeepAlive refreshes the session between fires. It is skipped while an
// attempt is running.
func (a *Agent) KeepAlive(ctx context.Context) {
	a.mu.Lock()
	busy := a.inFlight
	a.mu.Unlock()
	if busy {
		return
	}
	if _, err := a.Auth.EnsureAuthenticated(ctx); err != nil {
		a.Log.Warn("keep-alive failed", zap.Error(err))
		return
	}
	a.Log.Debug("keep-alive ok")
}

// SetNextFire records the scheduler's next instant for Status.
func (a *Agent) SetNextFire(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextFire = &t
}

type Status struct {
	Auth     auth.State                 `json:"auth"`
	InFlight bool                       `json:"in_flight"`
	NextFire *time.Time                 `json:"next_fire,omitempty"`
	Last     *reservation.AttemptResult `json:"last,omitempty"`
	Attempts int                        `json:"attempts"`
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Status{
		Auth:     a.Auth.State(),
		InFlight: a.inFlight,
		NextFire: a.nextFire,
		Attempts: a.attempts,
	}
	if a.last != nil {
		last := *a.last
		s.Last = &last
	}
	return s
}
