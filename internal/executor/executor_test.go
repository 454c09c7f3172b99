package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/example/court-scheduler/internal/browser/browsertest"
	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/internaltypes"
)

var (
	day    = time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC)
	window = reservation.TargetWindow{Date: day, Entry: reservation.ScheduleEntry{Hour: 7}}
	courtA = reservation.Candidate{Name: "Court A", Open: true, Position: 1, TimeLabel: "7:00 AM - 8:00 AM"}
)

func setup(t *testing.T) (*Executor, *browsertest.Site, *clock.FakeClock) {
	t.Helper()
	cfg := browsertest.DefaultSite()
	site := browsertest.New(cfg)
	site.SignIn("s")
	site.AddSlots(day,
		browsertest.Slot{Court: "Court A", Hour: 7},
		browsertest.Slot{Court: "Court B", Hour: 7},
	)
	clk := clock.Fake(day.Add(-7 * 24 * time.Hour))
	return &Executor{
		Surface:    site,
		Site:       cfg,
		Clock:      clk,
		Log:        zaptest.NewLogger(t),
		Retries:    2,
		RetryDelay: time.Second,
	}, site, clk
}

func TestReserveSuccess(t *testing.T) {
	e, site, clk := setup(t)

	if err := e.Reserve(context.Background(), window, courtA); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	bookings := site.Bookings()
	if len(bookings) != 1 || bookings[0].Court != "Court A" || !bookings[0].Date.Equal(day) {
		t.Fatalf("bookings = %+v", bookings)
	}
	if site.Count("Navigate "+e.Site.BookingsURL) != 1 {
		t.Error("booking was not verified on the bookings page")
	}
	if len(clk.Waits()) != 0 {
		t.Errorf("unexpected retries: %v", clk.Waits())
	}
}

func TestReserveConflictAtSelect(t *testing.T) {
	e, site, _ := setup(t)
	site.SetFull(day, "Court A", 7, 0)

	err := e.Reserve(context.Background(), window, courtA)
	if !errors.Is(err, internaltypes.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if n := site.Count("Click " + e.Site.Selectors.Register); n != 0 {
		t.Errorf("register clicked %d times on a full slot", n)
	}
}

func TestReserveConflictAtConfirm(t *testing.T) {
	e, site, _ := setup(t)
	site.OnFinalCheckout = func(s *browsertest.Site) { s.SetFull(day, "Court A", 7, 0) }

	err := e.Reserve(context.Background(), window, courtA)
	if !errors.Is(err, internaltypes.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if len(site.Bookings()) != 0 {
		t.Errorf("bookings = %+v", site.Bookings())
	}
	if n := site.Count("Click " + e.Site.Selectors.FinalCheckout); n != 1 {
		t.Errorf("final checkout clicked %d times, a conflict must not be retried", n)
	}
}

func TestReserveRecoversFromTransientSelect(t *testing.T) {
	e, site, clk := setup(t)
	site.Inject("Click "+fmt.Sprintf(e.Site.Selectors.SelectButton, 1), browsertest.Fault{})

	if err := e.Reserve(context.Background(), window, courtA); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if waits := clk.Waits(); len(waits) != 1 || waits[0] != time.Second {
		t.Errorf("waits = %v, want one retry delay", waits)
	}
}

func TestReserveTransientBudgetExhausted(t *testing.T) {
	e, site, clk := setup(t)
	site.Inject("Click "+e.Site.Selectors.Register, browsertest.Fault{Times: 100})

	err := e.Reserve(context.Background(), window, courtA)
	if !errors.Is(err, internaltypes.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
	if n := site.Count("Click " + e.Site.Selectors.Register); n != e.Retries+1 {
		t.Errorf("register tried %d times, want %d", n, e.Retries+1)
	}
	if got := len(clk.Waits()); got != e.Retries {
		t.Errorf("retry delays = %d, want %d", got, e.Retries)
	}
	if len(site.Bookings()) != 0 {
		t.Errorf("bookings = %+v", site.Bookings())
	}
}

func TestReserveAmbiguousConfirmIsVerifiedNotRepeated(t *testing.T) {
	e, site, _ := setup(t)
	// The checkout goes through but the response is lost.
	site.Inject("Click "+e.Site.Selectors.FinalCheckout, browsertest.Fault{After: true})

	if err := e.Reserve(context.Background(), window, courtA); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if n := site.Count("Click " + e.Site.Selectors.FinalCheckout); n != 1 {
		t.Errorf("final checkout clicked %d times", n)
	}
	if len(site.Bookings()) != 1 {
		t.Errorf("bookings = %+v, want exactly one", site.Bookings())
	}
}

func TestReserveCancelled(t *testing.T) {
	e, site, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Reserve(ctx, window, courtA)
	if !errors.Is(err, internaltypes.ErrTransient) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(site.Calls()) != 0 {
		t.Errorf("calls after cancel: %v", site.Calls())
	}
}

func TestReserveCardMovedIsTransient(t *testing.T) {
	e, _, _ := setup(t)
	moved := courtA
	moved.Position = 2 // Court B's card

	err := e.Reserve(context.Background(), window, moved)
	if !errors.Is(err, internaltypes.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}

func TestReserveNeighbouringBookingDoesNotVerify(t *testing.T) {
	cfg := browsertest.DefaultSite()
	site := browsertest.New(cfg)
	site.SignIn("s")
	target := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)
	site.AddSlots(target, browsertest.Slot{Court: "Court 1", Hour: 13})
	// Held already: one digit off on court, hour and day.
	site.AddBooking(browsertest.Booking{Court: "Court 12", Date: time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC), Hour: 23})
	e := &Executor{
		Surface: site, Site: cfg, Clock: clock.Fake(target.Add(-7 * 24 * time.Hour)),
		Log: zaptest.NewLogger(t), Retries: 1, RetryDelay: time.Second,
	}
	site.Inject("Click "+cfg.Selectors.FinalCheckout, browsertest.Fault{Times: 100})

	w := reservation.TargetWindow{Date: target, Entry: reservation.ScheduleEntry{Hour: 13}}
	c := reservation.Candidate{Name: "Court 1", Open: true, Position: 1}
	err := e.Reserve(context.Background(), w, c)
	if !errors.Is(err, internaltypes.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient: the checkout never went through", err)
	}
	if n := len(site.Bookings()); n != 1 {
		t.Errorf("bookings = %d, want only the existing one", n)
	}
}
