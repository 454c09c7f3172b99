package agent

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/example/court-scheduler/internal/auth"
	"github.com/example/court-scheduler/internal/browser"
	"github.com/example/court-scheduler/internal/browser/browsertest"
	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/executor"
	"github.com/example/court-scheduler/internal/resolver"
	"github.com/example/court-scheduler/internal/session"
)

// wire builds an agent over the fake site with the real coordinator,
// resolver and executor.
func wire(t *testing.T, site *browsertest.Site, store session.Store) (*Agent, *recReporter) {
	t.Helper()
	cfg := browsertest.DefaultSite()
	clk := clock.Fake(fired)
	log := zaptest.NewLogger(t)
	rep := &recReporter{}
	return &Agent{
		Auth: &auth.Coordinator{
			Store: store, Surface: site, Site: cfg, Clock: clk, Log: log,
			RenewSettle: time.Second,
		},
		Resolver: &resolver.Resolver{
			Surface: site, Site: cfg, Clock: clk, Log: log,
			Retries: 2, RetryDelay: time.Second,
		},
		Executor: &executor.Executor{
			Surface: site, Site: cfg, Clock: clk, Log: log,
			Retries: 2, RetryDelay: time.Second,
		},
		Reporter:   rep,
		Clock:      clk,
		Log:        log,
		OffsetDays: 7,
		Preference: []string{"Court A", "Court B"},
		PerAttempt: time.Minute,
	}, rep
}

func bookableSite(t *testing.T) (*browsertest.Site, session.Store) {
	t.Helper()
	site := browsertest.New(browsertest.DefaultSite())
	site.AcceptSession("saved")
	store := session.NewMemoryStore()
	if err := store.Save(context.Background(), session.Session{State: []byte("saved")}); err != nil {
		t.Fatal(err)
	}
	target := time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC)
	site.AddSlots(target,
		browsertest.Slot{Court: "Court B", Hour: 7, Full: true},
		browsertest.Slot{Court: "Court A", Hour: 7},
		browsertest.Slot{Court: "Court C", Hour: 8},
	)
	return site, store
}

func TestEndToEndBooksPreferredCourt(t *testing.T) {
	site, store := bookableSite(t)
	a, rep := wire(t, site, store)

	got := a.Attempt(context.Background(), fired, reservation.ScheduleEntry{Hour: 7})

	if got.Outcome != reservation.OutcomeSuccess {
		t.Fatalf("outcome = %s: %s", got.Outcome, got.Detail)
	}
	if got.Chosen == nil || got.Chosen.Name != "Court A" {
		t.Fatalf("chosen = %+v, want Court A", got.Chosen)
	}
	bookings := site.Bookings()
	if len(bookings) != 1 || bookings[0].Court != "Court A" || bookings[0].Hour != 7 {
		t.Fatalf("bookings = %+v", bookings)
	}
	if !bookings[0].Date.Equal(time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("booked date = %v", bookings[0].Date)
	}
	if len(rep.results) != 1 {
		t.Errorf("reported %d results", len(rep.results))
	}
}

func TestEndToEndSecondAttemptDoesNotDuplicate(t *testing.T) {
	site, store := bookableSite(t)
	a, _ := wire(t, site, store)

	first := a.Attempt(context.Background(), fired, reservation.ScheduleEntry{Hour: 7})
	if first.Outcome != reservation.OutcomeSuccess {
		t.Fatalf("first outcome = %s: %s", first.Outcome, first.Detail)
	}
	second := a.Attempt(context.Background(), fired, reservation.ScheduleEntry{Hour: 7})
	if second.Outcome != reservation.OutcomeNoSlotAvailable {
		t.Fatalf("second outcome = %s: %s", second.Outcome, second.Detail)
	}
	if n := len(site.Bookings()); n != 1 {
		t.Fatalf("bookings = %d, want 1", n)
	}
}

func TestEndToEndDegradedSessionSkipsAttempt(t *testing.T) {
	site, store := bookableSite(t)
	site.ExpireSessions()
	a, _ := wire(t, site, store)

	got := a.Attempt(context.Background(), fired, reservation.ScheduleEntry{Hour: 7})

	if got.Outcome != reservation.OutcomeAuthFailure {
		t.Fatalf("outcome = %s: %s", got.Outcome, got.Detail)
	}
	for _, c := range site.Calls() {
		if c == "ExtractTexts "+browsertest.DefaultSite().Selectors.SlotCard {
			t.Fatal("read availability without a session")
		}
	}
	if len(site.Bookings()) != 0 {
		t.Error("booked without a session")
	}
}

func TestEndToEndRenewsThenBooks(t *testing.T) {
	site, store := bookableSite(t)
	site.ExpireSessions()
	site.SetRenewable(true)
	a, _ := wire(t, site, store)

	got := a.Attempt(context.Background(), fired, reservation.ScheduleEntry{Hour: 7})

	if got.Outcome != reservation.OutcomeSuccess {
		t.Fatalf("outcome = %s: %s", got.Outcome, got.Detail)
	}
	s, err := store.Load(context.Background())
	if err != nil || string(s.State) != "renewed-1" {
		t.Fatalf("stored session = %q, %v", s.State, err)
	}
}

// stalledNavigation never finishes loading a page before ctx ends.
type stalledNavigation struct {
	browser.Surface
}

func (stalledNavigation) Navigate(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEndToEndTimeoutDuringAuthIsTransient(t *testing.T) {
	site, store := bookableSite(t)
	a, rep := wire(t, site, store)
	coord := a.Auth.(*auth.Coordinator)
	coord.Surface = stalledNavigation{Surface: site}
	a.PerAttempt = 30 * time.Millisecond

	got := a.Attempt(context.Background(), fired, reservation.ScheduleEntry{Hour: 7})

	if got.Outcome != reservation.OutcomeTransientError {
		t.Fatalf("outcome = %s: %s", got.Outcome, got.Detail)
	}
	if coord.State() == auth.Degraded {
		t.Errorf("coordinator degraded by a timeout: %v", coord.LastError())
	}
	if len(rep.results) != 1 {
		t.Errorf("reported %d results", len(rep.results))
	}
	if len(site.Bookings()) != 0 {
		t.Error("booked after the attempt timed out")
	}
}
