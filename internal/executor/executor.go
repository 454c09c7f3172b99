// Package executor books one candidate: select its slot, confirm the
// checkout, then verify the booking exists before calling it a success.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/browser"
	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/internaltypes"
	"github.com/example/court-scheduler/internal/resolver"
)

type step int

const (
	stepSelect step = iota
	stepConfirm
	stepVerify
)

func (s step) String() string {
	switch s {
	case stepSelect:
		return "select"
	case stepConfirm:
		return "confirm"
	case stepVerify:
		return "verify"
	}
	return "unknown"
}

type Executor struct {
	Surface browser.Surface
	Site    config.Site
	Clock   clock.Clock
	Log     *zap.Logger

	// Retries bounds how many transient failures one candidate may absorb.
	Retries    int
	RetryDelay time.Duration
}

// Reserve books c for w. It returns nil only after the booking has been
// seen on the bookings page. Other results wrap internaltypes.ErrConflict
// (someone else has the slot, move on) or internaltypes.ErrTransient (the
// retry budget ran out).
func (e *Executor) Reserve(ctx context.Context, w reservation.TargetWindow, c reservation.Candidate) error {
	log := e.Log.With(zap.String("court", c.Name), zap.Int("position", c.Position), zap.Stringer("target", w))

	st := stepSelect
	failures := 0
	// recheck is set when Confirm failed without an answer; the booking may
	// or may not exist.
	recheck := false

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s: %w", internaltypes.ErrTransient, st, err)
		}

		var err error
		switch st {
		case stepSelect:
			if err = e.selectSlot(ctx, w, c); err == nil {
				st = stepConfirm
				continue
			}
		case stepConfirm:
			if err = e.confirm(ctx); err == nil {
				st = stepVerify
				continue
			}
			if !errors.Is(err, internaltypes.ErrConflict) {
				log.Warn("confirm failed, checking bookings before trying again", zap.Error(err))
				st, recheck = stepVerify, true
				continue
			}
		case stepVerify:
			var booked bool
			booked, err = e.verify(ctx, w, c)
			if err == nil && booked {
				log.Info("booking verified")
				return nil
			}
			if err == nil {
				err = errors.New("booking not found after checkout")
				if recheck {
					err = errors.New("booking not found after interrupted checkout")
				}
				st, recheck = stepSelect, false
			}
		}

		if errors.Is(err, internaltypes.ErrConflict) {
			log.Warn("lost the slot", zap.Error(err))
			return err
		}

		failures++
		if failures > e.Retries {
			return fmt.Errorf("%w: %s: %w", internaltypes.ErrTransient, st, err)
		}
		log.Warn("transient failure, retrying", zap.Stringer("step", st), zap.Int("failure", failures), zap.Error(err))
		if err := clock.Sleep(ctx, e.Clock, e.RetryDelay); err != nil {
			return fmt.Errorf("%w: %w", internaltypes.ErrTransient, err)
		}
	}
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", internaltypes.ErrConflict, fmt.Sprintf(format, args...))
}

// selectSlot reopens the day, checks the candidate's card is still the slot
// it was resolved as and still open, and clicks its select button.
func (e *Executor) selectSlot(ctx context.Context, w reservation.TargetWindow, c reservation.Candidate) error {
	sel := e.Site.Selectors
	if err := e.Surface.Navigate(ctx, e.Site.ProgramURL); err != nil {
		return err
	}
	if err := e.Surface.Click(ctx, resolver.DateButton(sel, w.Date)); err != nil {
		return fmt.Errorf("select date: %w", err)
	}
	cards, err := e.Surface.ExtractTexts(ctx, sel.SlotCard)
	if err != nil {
		return fmt.Errorf("read slot cards: %w", err)
	}
	if c.Position < 1 || c.Position > len(cards) {
		return fmt.Errorf("slot card %d missing, %d on page", c.Position, len(cards))
	}

	card, ok := resolver.ParseCard(cards[c.Position-1], e.Site.Markers)
	if !ok || card.Start != w.Entry || card.Court != c.Name {
		return fmt.Errorf("slot card %d changed: %q", c.Position, cards[c.Position-1])
	}
	if !card.Open {
		return conflict("%s at %s is no longer open: %s", c.Name, card.TimeLabel, card.Status)
	}

	if err := e.Surface.Click(ctx, fmt.Sprintf(sel.SelectButton, c.Position)); err != nil {
		return fmt.Errorf("select slot: %w", err)
	}
	return nil
}

// confirm walks the checkout and reads the result banner, if the site shows
// one.
func (e *Executor) confirm(ctx context.Context) error {
	sel := e.Site.Selectors
	for _, target := range []string{sel.Register, sel.ProceedToCheckout, sel.Checkout, sel.FinalCheckout} {
		if target == "" {
			continue
		}
		if err := e.Surface.Click(ctx, target); err != nil {
			return fmt.Errorf("checkout step %s: %w", target, err)
		}
	}

	if sel.Alert == "" {
		return nil
	}
	alert, err := e.Surface.ExtractText(ctx, sel.Alert)
	if err != nil {
		return nil
	}
	if resolver.ContainsAny(alert, e.Site.Markers.Conflict) {
		return conflict("checkout refused: %s", alert)
	}
	return nil
}

// verify looks for the booking on the bookings page. It only reads.
func (e *Executor) verify(ctx context.Context, w reservation.TargetWindow, c reservation.Candidate) (bool, error) {
	bookings, err := resolver.ReadBookings(ctx, e.Surface, e.Site)
	if err != nil {
		return false, err
	}
	for _, b := range bookings {
		if b.Matches(c.Name, w) {
			return true, nil
		}
	}
	return false, nil
}
