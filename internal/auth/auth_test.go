package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/example/court-scheduler/internal/browser"
	"github.com/example/court-scheduler/internal/browser/browsertest"
	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/internaltypes"
	"github.com/example/court-scheduler/internal/session"
)

type fixture struct {
	site  *browsertest.Site
	store *session.MemoryStore
	coord *Coordinator
	clock *clock.FakeClock
}

func newFixture(t *testing.T, stored string) *fixture {
	t.Helper()
	siteCfg := browsertest.DefaultSite()
	site := browsertest.New(siteCfg)
	store := session.NewMemoryStore()
	if stored != "" {
		if err := store.Save(context.Background(), session.Session{State: []byte(stored)}); err != nil {
			t.Fatal(err)
		}
	}
	clk := clock.Fake(time.Date(2026, 10, 16, 6, 59, 0, 0, time.UTC))
	return &fixture{
		site:  site,
		store: store,
		clock: clk,
		coord: &Coordinator{
			Store:             store,
			Surface:           site,
			Site:              siteCfg,
			Clock:             clk,
			Log:               zaptest.NewLogger(t),
			RenewSettle:       3 * time.Second,
			FirstLoginTimeout: 5 * time.Minute,
			FirstLoginPoll:    3 * time.Second,
		},
	}
}

func (f *fixture) storedState(t *testing.T) string {
	t.Helper()
	s, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return string(s.State)
}

func TestEnsureAuthenticatedProbeOK(t *testing.T) {
	f := newFixture(t, "live")
	f.site.AcceptSession("live")

	state, err := f.coord.EnsureAuthenticated(context.Background())
	if err != nil || state != Authenticated {
		t.Fatalf("EnsureAuthenticated = %v, %v", state, err)
	}
	if f.site.Renewals() != 0 {
		t.Errorf("renewed a live session")
	}
	if got := f.storedState(t); got != "live" {
		t.Errorf("stored state = %q", got)
	}
	if f.coord.State() != Authenticated {
		t.Errorf("State() = %v", f.coord.State())
	}
}

func TestEnsureAuthenticatedSilentRenewal(t *testing.T) {
	f := newFixture(t, "stale")
	f.site.SetRenewable(true)
	savesBefore := f.store.Saves()

	state, err := f.coord.EnsureAuthenticated(context.Background())
	if err != nil || state != Authenticated {
		t.Fatalf("EnsureAuthenticated = %v, %v", state, err)
	}
	if f.site.Renewals() != 1 {
		t.Errorf("renewals = %d, want 1", f.site.Renewals())
	}
	if got := f.store.Saves() - savesBefore; got != 1 {
		t.Errorf("saves = %d, want exactly 1", got)
	}
	if got := f.storedState(t); got != "renewed-1" {
		t.Errorf("stored state = %q, want the renewed session", got)
	}
	if waits := f.clock.Waits(); len(waits) != 1 || waits[0] != 3*time.Second {
		t.Errorf("waits = %v, want one settle wait", waits)
	}
}

func TestEnsureAuthenticatedDegraded(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		setup   func(*fixture)
		wantErr error
	}{
		{name: "probe and renewal fail", stored: "stale", wantErr: internaltypes.ErrAuth},
		{name: "no stored session", wantErr: internaltypes.ErrAuth},
		{
			name:    "store unreadable",
			stored:  "live",
			setup:   func(f *fixture) { f.store.LoadErr = errors.New("disk gone") },
			wantErr: internaltypes.ErrPersistence,
		},
		{
			name:   "wrong identity",
			stored: "live",
			setup: func(f *fixture) {
				f.site.AcceptSession("live")
				f.site.SetIdentity("Somebody Else")
				f.coord.Site.IdentityMarker = "Pat Member"
			},
			wantErr: internaltypes.ErrAuth,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.stored)
			if tt.setup != nil {
				tt.setup(f)
			}
			savesBefore := f.store.Saves()

			state, err := f.coord.EnsureAuthenticated(context.Background())
			if state != Degraded {
				t.Fatalf("state = %v, want Degraded", state)
			}
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, internaltypes.ErrAuth) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if f.store.Saves() != savesBefore {
				t.Error("degraded session was persisted")
			}
			if f.coord.LastError() == nil {
				t.Error("LastError not recorded")
			}
		})
	}
}

// cancelOnClick cancels the caller's context as target is clicked.
type cancelOnClick struct {
	browser.Surface
	target string
	cancel context.CancelFunc
}

func (c cancelOnClick) Click(ctx context.Context, target string) error {
	if target == c.target {
		c.cancel()
	}
	return c.Surface.Click(ctx, target)
}

func TestEnsureAuthenticatedInterruptedIsNotDegraded(t *testing.T) {
	f := newFixture(t, "live")
	f.site.AcceptSession("live")
	if state, err := f.coord.EnsureAuthenticated(context.Background()); err != nil || state != Authenticated {
		t.Fatalf("first check = %v, %v", state, err)
	}
	f.site.ExpireSessions()
	savesBefore := f.store.Saves()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.coord.Surface = cancelOnClick{Surface: f.site, target: f.coord.Site.Selectors.SignIn, cancel: cancel}

	state, err := f.coord.EnsureAuthenticated(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, internaltypes.ErrAuth) {
		t.Fatalf("interrupted check reported as auth failure: %v", err)
	}
	if state != Authenticated || f.coord.State() != Authenticated {
		t.Errorf("state = %v (coordinator %v), want the previous Authenticated", state, f.coord.State())
	}
	if f.store.Saves() != savesBefore {
		t.Error("session persisted after an interrupted check")
	}
}

func TestFirstLogin(t *testing.T) {
	f := newFixture(t, "")
	f.site.SignIn("manual")

	if err := f.coord.FirstLogin(context.Background()); err != nil {
		t.Fatalf("FirstLogin: %v", err)
	}
	if got := f.storedState(t); got != "manual" {
		t.Errorf("stored state = %q", got)
	}
	if f.coord.State() != Authenticated {
		t.Errorf("State() = %v", f.coord.State())
	}
}

func TestFirstLoginTimesOut(t *testing.T) {
	f := newFixture(t, "")
	start := f.clock.Now()

	err := f.coord.FirstLogin(context.Background())
	if !errors.Is(err, internaltypes.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if elapsed := f.clock.Now().Sub(start); elapsed < 5*time.Minute || elapsed > 5*time.Minute+3*time.Second {
		t.Errorf("gave up after %s", elapsed)
	}
	if _, err := f.store.Load(context.Background()); !errors.Is(err, internaltypes.ErrNotFound) {
		t.Errorf("a session was saved: %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Unauthenticated: "unauthenticated",
		Validating:      "validating",
		Authenticated:   "authenticated",
		Degraded:        "degraded",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
