// Package auth keeps the browser signed in to the booking site. Before every
// attempt it probes the stored session, renews it silently when the probe
// fails, and reports Degraded when neither works so the operator can sign
// in again.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/browser"
	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/internaltypes"
	"github.com/example/court-scheduler/internal/session"
)

type State int

const (
	Unauthenticated State = iota
	Validating
	Authenticated
	Degraded
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Validating:
		return "validating"
	case Authenticated:
		return "authenticated"
	case Degraded:
		return "degraded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText lets State appear by name in status JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Coordinator struct {
	Store   session.Store
	Surface browser.Surface
	Site    config.Site
	Clock   clock.Clock
	Log     *zap.Logger

	// RenewSettle is how long to wait after clicking sign-in for the site
	// to restore the session from its long-lived cookies.
	RenewSettle       time.Duration
	FirstLoginTimeout time.Duration
	FirstLoginPoll    time.Duration

	// Expiry extracts an explicit expiry from a captured state, if the
	// surface's state format has one. Optional.
	Expiry func(state []byte) *time.Time

	mu      sync.Mutex
	state   State
	lastErr error
}

func NewCoordinator(store session.Store, surface browser.Surface, cfg config.Config, clk clock.Clock, log *zap.Logger) *Coordinator {
	return &Coordinator{
		Store:             store,
		Surface:           surface,
		Site:              cfg.Site,
		Clock:             clk,
		Log:               log,
		RenewSettle:       cfg.Auth.RenewSettle,
		FirstLoginTimeout: cfg.Auth.FirstLoginTimeout,
		FirstLoginPoll:    cfg.Auth.FirstLoginPoll,
	}
}

// State returns the state reached by the last operation.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns why the coordinator last became Degraded.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coordinator) set(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, c.lastErr = s, err
}

// fail degrades on err unless ctx has ended. Running out of time says
// nothing about the session, so the previous state is kept and the plain
// context error is returned instead.
func (c *Coordinator) fail(ctx context.Context, prev State, prevErr error, err error) (State, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.set(prev, prevErr)
		c.Log.Warn("authentication check interrupted", zap.Error(err))
		return prev, fmt.Errorf("authentication interrupted: %w", ctxErr)
	}
	return c.degrade(err)
}

func (c *Coordinator) degrade(err error) (State, error) {
	err = fmt.Errorf("%w: %w", internaltypes.ErrAuth, err)
	c.set(Degraded, err)
	c.Log.Warn("authentication degraded, manual sign-in required", zap.Error(err))
	return Degraded, err
}

// EnsureAuthenticated leaves the surface signed in with the stored session,
// renewing and re-persisting it if needed. On Degraded the returned error
// wraps internaltypes.ErrAuth and the caller must skip the attempt.
func (c *Coordinator) EnsureAuthenticated(ctx context.Context) (State, error) {
	c.mu.Lock()
	prev, prevErr := c.state, c.lastErr
	c.mu.Unlock()
	c.set(Validating, nil)

	sess, err := c.Store.Load(ctx)
	if errors.Is(err, internaltypes.ErrNotFound) {
		return c.degrade(errors.New("no stored session, run `courtsched auth`"))
	}
	if err != nil {
		return c.fail(ctx, prev, prevErr, err)
	}
	if sess.Expired(c.Clock.Now()) {
		c.Log.Info("stored session is past its declared expiry, probing anyway",
			zap.Time("expires_at", *sess.ExpiresAt))
	}

	if err := c.Surface.LoadSessionState(ctx, sess.State); err != nil {
		return c.fail(ctx, prev, prevErr, fmt.Errorf("restore session: %w", err))
	}

	if c.probe(ctx) {
		c.refresh(ctx)
		c.set(Authenticated, nil)
		c.Log.Debug("session probe ok")
		return Authenticated, nil
	}

	c.Log.Info("session probe failed, attempting silent renewal")
	if err := c.renew(ctx); err != nil {
		return c.fail(ctx, prev, prevErr, err)
	}
	c.refresh(ctx)
	c.set(Authenticated, nil)
	c.Log.Info("session renewed")
	return Authenticated, nil
}

// probe loads the program page and looks for the signed-in identity marker.
func (c *Coordinator) probe(ctx context.Context) bool {
	if err := c.Surface.Navigate(ctx, c.Site.ProgramURL); err != nil {
		c.Log.Debug("probe navigation failed", zap.Error(err))
		return false
	}
	c.dismissConsent(ctx)

	text, err := c.Surface.ExtractText(ctx, c.Site.Selectors.Profile)
	if err != nil {
		return false
	}
	if c.Site.IdentityMarker != "" && !strings.Contains(text, c.Site.IdentityMarker) {
		c.Log.Warn("signed in as an unexpected identity", zap.String("profile", text))
		return false
	}
	return true
}

// renew clicks sign-in, which the site answers by restoring the session
// from the long-lived remember-me cookies when they are still good.
func (c *Coordinator) renew(ctx context.Context) error {
	if err := c.Surface.Click(ctx, c.Site.Selectors.SignIn); err != nil {
		return fmt.Errorf("silent renewal: %w", err)
	}
	if err := clock.Sleep(ctx, c.Clock, c.RenewSettle); err != nil {
		return err
	}
	if !c.probe(ctx) {
		return errors.New("silent renewal: still signed out")
	}
	return nil
}

func (c *Coordinator) dismissConsent(ctx context.Context) {
	if c.Site.Selectors.CookieConsent == "" {
		return
	}
	if err := c.Surface.Click(ctx, c.Site.Selectors.CookieConsent); err != nil {
		c.Log.Debug("no cookie consent banner", zap.Error(err))
	}
}

// refresh re-persists the live session. The surface is already signed in,
// so a failure here only costs the next attempt a renewal.
func (c *Coordinator) refresh(ctx context.Context) {
	if err := c.save(ctx); err != nil {
		c.Log.Error("persist refreshed session", zap.Error(err))
	}
}

func (c *Coordinator) save(ctx context.Context) error {
	state, err := c.Surface.CurrentSessionState(ctx)
	if err != nil {
		return fmt.Errorf("capture session: %w", err)
	}
	s := session.Session{State: state, CapturedAt: c.Clock.Now().UTC()}
	if c.Expiry != nil {
		s.ExpiresAt = c.Expiry(state)
	}
	return c.Store.Save(ctx, s)
}

// FirstLogin opens the site for an operator to sign in by hand and waits,
// polling, until the identity marker shows up. The resulting session is
// saved.
func (c *Coordinator) FirstLogin(ctx context.Context) error {
	c.set(Validating, nil)
	if err := c.Surface.Navigate(ctx, c.Site.ProgramURL); err != nil {
		_, err = c.degrade(fmt.Errorf("open site: %w", err))
		return err
	}
	c.Log.Info("waiting for manual sign-in", zap.Duration("timeout", c.FirstLoginTimeout))

	poll := c.FirstLoginPoll
	if poll <= 0 {
		poll = 3 * time.Second
	}
	deadline := c.Clock.Now().Add(c.FirstLoginTimeout)
	for {
		text, err := c.Surface.ExtractText(ctx, c.Site.Selectors.Profile)
		if err == nil && (c.Site.IdentityMarker == "" || strings.Contains(text, c.Site.IdentityMarker)) {
			break
		}
		if !c.Clock.Now().Before(deadline) {
			_, err := c.degrade(fmt.Errorf("no sign-in within %s", c.FirstLoginTimeout))
			return err
		}
		if err := clock.Sleep(ctx, c.Clock, poll); err != nil {
			return err
		}
	}

	if err := c.save(ctx); err != nil {
		c.set(Degraded, err)
		return err
	}
	c.set(Authenticated, nil)
	c.Log.Info("sign-in captured")
	return nil
}
