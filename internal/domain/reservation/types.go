package reservation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ScheduleEntry is a weekday-agnostic wall-clock time: "fire every day at
// Hour:Minute local time".
type ScheduleEntry struct {
	Hour   int
	Minute int
}

func (e ScheduleEntry) String() string { return fmt.Sprintf("%02d:%02d", e.Hour, e.Minute) }

// On returns the instant of this entry on the calendar day of day, in
// day's location.
func (e ScheduleEntry) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, e.Hour, e.Minute, 0, 0, day.Location())
}

// ParseScheduleEntry parses "HH:MM" (24h). "7:00" is accepted.
func ParseScheduleEntry(s string) (ScheduleEntry, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return ScheduleEntry{}, fmt.Errorf("schedule entry %q: want HH:MM", s)
	}
	if len(hh) < 1 || len(hh) > 2 || !digits(hh) {
		return ScheduleEntry{}, fmt.Errorf("schedule entry %q: invalid hour", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h > 23 {
		return ScheduleEntry{}, fmt.Errorf("schedule entry %q: invalid hour", s)
	}
	if len(mm) != 2 || !digits(mm) {
		return ScheduleEntry{}, fmt.Errorf("schedule entry %q: want two-digit minute", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return ScheduleEntry{}, fmt.Errorf("schedule entry %q: invalid minute", s)
	}
	return ScheduleEntry{Hour: h, Minute: m}, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseSchedule parses every entry, collapses duplicates and returns the
// set in time-of-day order.
func ParseSchedule(raw []string) ([]ScheduleEntry, error) {
	seen := make(map[ScheduleEntry]bool, len(raw))
	var out []ScheduleEntry
	for _, r := range raw {
		e, err := ParseScheduleEntry(r)
		if err != nil {
			return nil, err
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		return out[i].Minute < out[j].Minute
	})
	return out, nil
}

// TargetWindow is the future slot an attempt tries to reserve: the fire
// day plus a fixed offset, at the fired entry's time of day.
type TargetWindow struct {
	Date  time.Time // midnight, local
	Entry ScheduleEntry
}

// NewTargetWindow derives the window for a fire at fired.
func NewTargetWindow(fired time.Time, entry ScheduleEntry, offsetDays int) TargetWindow {
	y, m, d := fired.Date()
	day := time.Date(y, m, d+offsetDays, 0, 0, 0, 0, fired.Location())
	return TargetWindow{Date: day, Entry: entry}
}

// Start is the reserved slot's start instant.
func (w TargetWindow) Start() time.Time { return w.Entry.On(w.Date) }

func (w TargetWindow) String() string {
	return w.Date.Format("2006-01-02") + " " + w.Entry.String()
}

func (w TargetWindow) MarshalJSON() ([]byte, error) {
	if w.Date.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Date  string    `json:"date"`
		Time  string    `json:"time"`
		Start time.Time `json:"start"`
	}{w.Date.Format("2006-01-02"), w.Entry.String(), w.Start()})
}

// Candidate is one bookable resource instance (a court) matched to the
// TargetWindow. It only lives for the duration of one attempt.
type Candidate struct {
	Name      string `json:"name"`
	Rank      int    `json:"rank"` // lower is more preferred
	Open      bool   `json:"open"`
	Position  int    `json:"position"` // 1-based position in the availability view
	TimeLabel string `json:"time_label"`
	Status    string `json:"status,omitempty"`
}

// Outcome is the terminal classification of one attempt.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeNoSlotAvailable Outcome = "no_slot_available"
	OutcomeAuthFailure     Outcome = "auth_failure"
	OutcomeTransientError  Outcome = "transient_error"
)

// AttemptResult is produced exactly once per scheduled fire.
type AttemptResult struct {
	ID      string       `json:"id"`
	Outcome Outcome      `json:"outcome"`
	Target  TargetWindow `json:"target"`
	Chosen  *Candidate   `json:"chosen,omitempty"`
	Detail  string       `json:"detail"`
	FiredAt time.Time    `json:"fired_at"`
	At      time.Time    `json:"at"`
}

// Failed reports whether the outcome should make a one-shot run exit non-zero.
func (r AttemptResult) Failed() bool {
	return r.Outcome == OutcomeAuthFailure || r.Outcome == OutcomeTransientError
}
