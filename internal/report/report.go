// Package report hands attempt results to the configured notifiers without
// letting any of them hold up or crash the scheduler.
package report

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/domain/reservation"
)

type Notifier interface {
	Notify(ctx context.Context, r reservation.AttemptResult) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r reservation.AttemptResult) error

func (f NotifierFunc) Notify(ctx context.Context, r reservation.AttemptResult) error {
	return f(ctx, r)
}

type Reporter struct {
	Notifiers []Notifier
	Timeout   time.Duration
	Log       *zap.Logger
}

// Report runs every notifier concurrently and returns once they have all
// finished or Timeout has passed. Notifier errors and panics are logged.
func (r *Reporter) Report(ctx context.Context, res reservation.AttemptResult) {
	if len(r.Notifiers) == 0 {
		return
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	done := make(chan struct{}, len(r.Notifiers))
	for _, n := range r.Notifiers {
		go func(n Notifier) {
			defer func() { done <- struct{}{} }()
			if err := r.notify(ctx, n, res); err != nil {
				r.Log.Warn("notifier failed", zap.String("notifier", fmt.Sprintf("%T", n)),
					zap.String("attempt_id", res.ID), zap.Error(err))
			}
		}(n)
	}

	for range r.Notifiers {
		select {
		case <-done:
		case <-ctx.Done():
			r.Log.Warn("reporting cut short", zap.String("attempt_id", res.ID), zap.Error(ctx.Err()))
			return
		}
	}
}

func (r *Reporter) notify(ctx context.Context, n Notifier, res reservation.AttemptResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return n.Notify(ctx, res)
}
