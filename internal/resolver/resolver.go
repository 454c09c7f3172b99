// Package resolver reads the site's availability view for a target window
// and turns it into a ranked candidate list.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/browser"
	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/internaltypes"
)

const locationPrefix = "location_on"

var timeRange = regexp.MustCompile(`(?i)(\d{1,2}:\d{2}\s*[AP]M)\s*[-–]\s*(\d{1,2}:\d{2}\s*[AP]M)`)

type Resolver struct {
	Surface browser.Surface
	Site    config.Site
	Clock   clock.Clock
	Log     *zap.Logger

	// Retries is how many more times a failed read of the view is tried.
	Retries    int
	RetryDelay time.Duration
}

// Resolve returns the open candidates for w, most preferred first. An empty
// result with a nil error means nothing is open. Errors wrap
// internaltypes.ErrTransient.
func (r *Resolver) Resolve(ctx context.Context, w reservation.TargetWindow, preference []string) ([]reservation.Candidate, error) {
	var (
		presented []reservation.Candidate
		err       error
	)
	for try := 0; try <= r.Retries; try++ {
		if try > 0 {
			r.Log.Warn("retrying availability read", zap.Int("try", try), zap.Error(err))
			if serr := clock.Sleep(ctx, r.Clock, r.RetryDelay); serr != nil {
				return nil, fmt.Errorf("%w: %w", internaltypes.ErrTransient, serr)
			}
		}
		presented, err = r.read(ctx, w)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read availability for %s: %w", internaltypes.ErrTransient, w, err)
	}

	ranked := reservation.Rank(presented, preference)
	r.Log.Info("resolved candidates",
		zap.Stringer("target", w),
		zap.Int("presented", len(presented)),
		zap.Int("open", len(ranked)))
	return ranked, nil
}

// read loads the day's cards and keeps those starting at the window's time.
func (r *Resolver) read(ctx context.Context, w reservation.TargetWindow) ([]reservation.Candidate, error) {
	cards, err := r.day(ctx, w.Date)
	if err != nil {
		return nil, err
	}
	var out []reservation.Candidate
	for _, card := range cards {
		if card.Start != w.Entry {
			continue
		}
		out = append(out, reservation.Candidate{
			Name:      card.Court,
			Open:      card.Open,
			Position:  card.Position,
			TimeLabel: card.TimeLabel,
			Status:    card.Status,
		})
	}
	return out, nil
}

// Slots returns every slot card listed for day, open or not, in page order.
func (r *Resolver) Slots(ctx context.Context, day time.Time) ([]Card, error) {
	cards, err := r.day(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("%w: read slots for %s: %w", internaltypes.ErrTransient, day.Format(time.DateOnly), err)
	}
	return cards, nil
}

// Bookings returns the signed-in user's upcoming bookings.
func (r *Resolver) Bookings(ctx context.Context) ([]Booking, error) {
	bookings, err := ReadBookings(ctx, r.Surface, r.Site)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internaltypes.ErrTransient, err)
	}
	return bookings, nil
}

// day opens the program page on day and parses its slot cards.
func (r *Resolver) day(ctx context.Context, day time.Time) ([]Card, error) {
	if err := r.Surface.Navigate(ctx, r.Site.ProgramURL); err != nil {
		return nil, err
	}
	if c := r.Site.Selectors.CookieConsent; c != "" {
		_ = r.Surface.Click(ctx, c)
	}
	if err := r.Surface.Click(ctx, DateButton(r.Site.Selectors, day)); err != nil {
		return nil, fmt.Errorf("select date: %w", err)
	}
	texts, err := r.Surface.ExtractTexts(ctx, r.Site.Selectors.SlotCard)
	if err != nil {
		return nil, fmt.Errorf("read slot cards: %w", err)
	}

	var out []Card
	for i, text := range texts {
		card, ok := ParseCard(text, r.Site.Markers)
		if !ok {
			r.Log.Debug("unparseable slot card", zap.Int("position", i+1), zap.String("text", text))
			continue
		}
		card.Position = i + 1
		out = append(out, card)
	}
	return out, nil
}

// DateButton formats the selector of the day's button in the date picker.
func DateButton(sel config.Selectors, day time.Time) string {
	return fmt.Sprintf(sel.DateButton, day.Year(), int(day.Month()), day.Day())
}

// Card is one slot card from the availability view.
type Card struct {
	Court     string
	Start     reservation.ScheduleEntry
	TimeLabel string // e.g. "7:00 AM - 8:00 AM"
	StartText string // e.g. "7:00 AM"
	Status    string
	Open      bool
	// Position is the 1-based place in the availability view; ParseCard
	// leaves it zero.
	Position int
}

// ParseCard reads a slot card's text. ok is false when the card has no
// recognisable time range.
func ParseCard(text string, markers config.Markers) (Card, bool) {
	m := timeRange.FindStringSubmatch(text)
	if m == nil {
		return Card{}, false
	}
	start, err := time.Parse("3:04 PM", normalizeClock(m[1]))
	if err != nil {
		return Card{}, false
	}

	c := Card{
		Start:     reservation.ScheduleEntry{Hour: start.Hour(), Minute: start.Minute()},
		TimeLabel: strings.TrimSpace(m[0]),
		StartText: start.Format("3:04 PM"),
		Court:     "Unknown",
		Open:      true,
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, locationPrefix):
			c.Court = strings.TrimSpace(strings.TrimPrefix(line, locationPrefix))
		case line != "" && !timeRange.MatchString(line):
			c.Status = line
		}
	}
	if ContainsAny(text, markers.Closed) || ContainsAny(text, markers.Conflict) {
		c.Open = false
	}
	return c, true
}

// normalizeClock turns "7:00am" or "7:00  AM" into "7:00 AM".
func normalizeClock(s string) string {
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if n := len(s); n > 2 {
		return s[:n-2] + " " + s[n-2:]
	}
	return s
}

// ContainsAny reports whether text contains any marker, ignoring case.
func ContainsAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
