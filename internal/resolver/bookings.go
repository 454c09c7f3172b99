package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/example/court-scheduler/internal/browser"
	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/domain/reservation"
)

// bookingTime also accepts ranges whose start has no meridiem, as the
// bookings page prints them ("6:00 - 7:00 PM").
var bookingTime = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*([AP]M)?\s*[-–]\s*(\d{1,2}):(\d{2})\s*([AP]M)`)

// Booking is one card from the bookings page.
type Booking struct {
	Court     string // first line that is neither time nor date
	Start     reservation.ScheduleEntry
	TimeLabel string
	Month     time.Month
	Day       int

	lines []string
}

// ParseBooking reads a booking card. dateLayout parses the card's date line
// ("Jan 2" by default). ok is false when the card has no time range or date.
func ParseBooking(text, dateLayout string) (Booking, bool) {
	if dateLayout == "" {
		dateLayout = "Jan 2"
	}
	m := bookingTime.FindStringSubmatch(text)
	if m == nil {
		return Booking{}, false
	}
	start, ok := rangeStart(m[1], m[2], m[3], m[4], m[6])
	if !ok {
		return Booking{}, false
	}

	b := Booking{Start: start, TimeLabel: strings.TrimSpace(m[0])}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), locationPrefix))
		if line == "" {
			continue
		}
		b.lines = append(b.lines, line)
		if bookingTime.MatchString(line) {
			continue
		}
		if b.Month == 0 {
			if d, err := time.Parse(dateLayout, line); err == nil {
				b.Month, b.Day = d.Month(), d.Day()
				continue
			}
		}
		if b.Court == "" {
			b.Court = line
		}
	}
	if b.Month == 0 {
		return Booking{}, false
	}
	return b, true
}

// rangeStart resolves a range's start time. A start without a meridiem
// takes the end's, unless that would put it after the end
// ("11:00 - 12:00 PM" starts in the morning).
func rangeStart(hh, mm, meridiem, endHH, endMeridiem string) (reservation.ScheduleEntry, bool) {
	h, err := strconv.Atoi(hh)
	if err != nil || h < 1 || h > 12 {
		return reservation.ScheduleEntry{}, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m > 59 {
		return reservation.ScheduleEntry{}, false
	}
	end, err := strconv.Atoi(endHH)
	if err != nil {
		return reservation.ScheduleEntry{}, false
	}

	pm := strings.EqualFold(meridiem, "PM")
	if meridiem == "" {
		pm = strings.EqualFold(endMeridiem, "PM")
		if h%12 > end%12 {
			pm = !pm
		}
	}
	h %= 12
	if pm {
		h += 12
	}
	return reservation.ScheduleEntry{Hour: h, Minute: m}, true
}

// Matches reports whether b is for court at w's start time on w's day.
func (b Booking) Matches(court string, w reservation.TargetWindow) bool {
	if b.Start != w.Entry || b.Month != w.Date.Month() || b.Day != w.Date.Day() {
		return false
	}
	for _, line := range b.lines {
		if sameCourt(line, court) {
			return true
		}
	}
	return false
}

// sameCourt compares one card line with a court name. Headings like
// "Murr Tennis: Court 2" are compared on the part after the last colon.
func sameCourt(line, court string) bool {
	if strings.EqualFold(line, court) {
		return true
	}
	if i := strings.LastIndex(line, ":"); i >= 0 {
		return strings.EqualFold(strings.TrimSpace(line[i+1:]), court)
	}
	return false
}

// ReadBookings loads the bookings page and parses every card on it. Cards
// that do not parse are skipped.
func ReadBookings(ctx context.Context, s browser.Surface, site config.Site) ([]Booking, error) {
	if err := s.Navigate(ctx, site.BookingsURL); err != nil {
		return nil, err
	}
	cards, err := s.ExtractTexts(ctx, site.Selectors.BookingCard)
	if err != nil {
		return nil, fmt.Errorf("read bookings: %w", err)
	}
	var out []Booking
	for _, text := range cards {
		if b, ok := ParseBooking(text, site.Markers.BookingDateLayout); ok {
			out = append(out, b)
		}
	}
	return out, nil
}
