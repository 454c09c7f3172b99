package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/example/court-scheduler/internal/browser"
	"github.com/example/court-scheduler/internal/browser/browsertest"
	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/internaltypes"
	"github.com/example/court-scheduler/internal/session"
)

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"version", "keys", "book", "schedule", "auth", "session", "attempts", "slots", "bookings"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q not registered (err=%v)", name, err)
		}
	}
}

func TestBookEntry(t *testing.T) {
	schedule := []reservation.ScheduleEntry{{Hour: 7}, {Hour: 8}}

	tests := []struct {
		name     string
		flag     string
		schedule []reservation.ScheduleEntry
		want     reservation.ScheduleEntry
		wantErr  bool
	}{
		{name: "flag wins", flag: "09:30", schedule: schedule, want: reservation.ScheduleEntry{Hour: 9, Minute: 30}},
		{name: "earliest entry", schedule: schedule, want: reservation.ScheduleEntry{Hour: 7}},
		{name: "bad flag", flag: "9h", schedule: schedule, wantErr: true},
		{name: "nothing to book", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bookEntry(tt.flag, tt.schedule)
			if tt.wantErr {
				if !errors.Is(err, internaltypes.ErrConfiguration) {
					t.Fatalf("err = %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTestOverride(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	cfg := config.Default()
	cfg.Location = ny
	cfg.TestMode = config.TestMode{Enabled: true, TargetDate: "2026-11-02", TargetTime: "07:00", TargetCourt: "Court 2"}

	o, err := testOverride(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if o.Court != "Court 2" {
		t.Errorf("court = %q", o.Court)
	}
	want := time.Date(2026, 11, 2, 7, 0, 0, 0, ny)
	if got := o.Window.Start(); !got.Equal(want) {
		t.Errorf("start = %v, want %v", got, want)
	}

	cfg.TestMode.TargetDate = "next monday"
	if _, err := testOverride(cfg); !errors.Is(err, internaltypes.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

// launchBound serves only while the context it was launched with is live,
// the way a browser dies with its allocator context.
type launchBound struct {
	browser.Surface
	launched context.Context
}

func (s launchBound) Navigate(ctx context.Context, url string) error {
	if err := s.launched.Err(); err != nil {
		return err
	}
	return s.Surface.Navigate(ctx, url)
}

func (s launchBound) Click(ctx context.Context, target string) error {
	if err := s.launched.Err(); err != nil {
		return err
	}
	return s.Surface.Click(ctx, target)
}

func (s launchBound) ExtractText(ctx context.Context, target string) (string, error) {
	if err := s.launched.Err(); err != nil {
		return "", err
	}
	return s.Surface.ExtractText(ctx, target)
}

func (s launchBound) ExtractTexts(ctx context.Context, target string) ([]string, error) {
	if err := s.launched.Err(); err != nil {
		return nil, err
	}
	return s.Surface.ExtractTexts(ctx, target)
}

func TestBrowserOutlivesShutdownDuringAttempt(t *testing.T) {
	fired := time.Date(2026, 10, 16, 7, 0, 2, 0, time.UTC)
	site := browsertest.New(browsertest.DefaultSite())
	site.AcceptSession("saved")
	site.AddSlots(time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC), browsertest.Slot{Court: "Court A", Hour: 7})
	store := session.NewMemoryStore()
	if err := store.Save(context.Background(), session.Session{State: []byte("saved")}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Site = browsertest.DefaultSite()
	cfg.Location = time.UTC
	cfg.CourtPreference = []string{"Court A"}

	closed := false
	a := &app{
		cfg:   cfg,
		log:   zaptest.NewLogger(t),
		store: store,
		clock: clock.Fake(fired),
		launch: func(ctx context.Context, _ browser.ChromeOptions, _ *zap.Logger) (browser.Surface, func(), error) {
			return launchBound{Surface: site, launched: ctx}, func() { closed = true }, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	surface, err := a.openBrowser(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	ag, err := a.agent(surface)
	if err != nil {
		t.Fatal(err)
	}

	// The shutdown signal lands while the checkout is being submitted.
	site.OnFinalCheckout = func(*browsertest.Site) { cancel() }
	res := ag.Attempt(ctx, fired, reservation.ScheduleEntry{Hour: 7})

	if res.Outcome != reservation.OutcomeSuccess {
		t.Fatalf("outcome = %s: %s", res.Outcome, res.Detail)
	}
	if n := len(site.Bookings()); n != 1 {
		t.Fatalf("bookings = %d, want 1", n)
	}
	if ctx.Err() == nil {
		t.Fatal("shutdown never arrived")
	}
	if closed {
		t.Fatal("browser closed before the app was")
	}
	a.close()
	if !closed {
		t.Error("browser not closed by app.close")
	}
}

func TestSlotsAndBookingsRequireSession(t *testing.T) {
	day := time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC)
	site := browsertest.New(browsertest.DefaultSite())
	site.AddSlots(day,
		browsertest.Slot{Court: "Court A", Hour: 7},
		browsertest.Slot{Court: "Court B", Hour: 7, Full: true},
	)
	site.AddBooking(browsertest.Booking{Court: "Court C", Date: day, Hour: 9})
	store := session.NewMemoryStore()

	cfg := config.Default()
	cfg.Site = browsertest.DefaultSite()
	cfg.Location = time.UTC
	a := &app{
		cfg:   cfg,
		log:   zaptest.NewLogger(t),
		store: store,
		clock: clock.Fake(day),
		launch: func(context.Context, browser.ChromeOptions, *zap.Logger) (browser.Surface, func(), error) {
			return site, func() {}, nil
		},
	}
	defer a.close()
	ctx := context.Background()

	if _, err := a.signedIn(ctx); !errors.Is(err, internaltypes.ErrAuth) {
		t.Fatalf("without a session: err = %v, want ErrAuth", err)
	}

	site.AcceptSession("saved")
	if err := store.Save(ctx, session.Session{State: []byte("saved")}); err != nil {
		t.Fatal(err)
	}
	surface, err := a.signedIn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	r := a.newResolver(surface)

	slots, err := r.Slots(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 2 || !slots[0].Open || slots[1].Open {
		t.Errorf("slots = %+v", slots)
	}
	bookings, err := r.Bookings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(bookings) != 1 || bookings[0].Court != "Court C" {
		t.Errorf("bookings = %+v", bookings)
	}
}
