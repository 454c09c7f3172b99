package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/agent"
	"github.com/example/court-scheduler/internal/attempts"
	"github.com/example/court-scheduler/internal/auth"
	"github.com/example/court-scheduler/internal/browser"
	"github.com/example/court-scheduler/internal/clock"
	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/executor"
	"github.com/example/court-scheduler/internal/internaltypes"
	"github.com/example/court-scheduler/internal/logger"
	"github.com/example/court-scheduler/internal/migrate"
	"github.com/example/court-scheduler/internal/report"
	"github.com/example/court-scheduler/internal/resolver"
	"github.com/example/court-scheduler/internal/session"
)

// app holds what every command needs: config, logger, the session store
// and whichever backing services the config asks for.
type app struct {
	cfg   config.Config
	log   *zap.Logger
	db    *db.DB
	redis *redis.Client
	store session.Store
	clock clock.Clock
	// launch starts the browser; nil means launchChrome.
	launch launcher

	closers []func()
}

type launcher func(ctx context.Context, opts browser.ChromeOptions, log *zap.Logger) (browser.Surface, func(), error)

func launchChrome(ctx context.Context, opts browser.ChromeOptions, log *zap.Logger) (browser.Surface, func(), error) {
	c, err := browser.NewChrome(ctx, opts, log)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

func loadApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := config.Load(config.ResolvePath(flags.configPath))
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internaltypes.ErrConfiguration, err)
	}

	a := &app{cfg: cfg, log: log, clock: clock.Real()}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	if cfg.Database.URL != "" {
		d, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = d
		a.closers = append(a.closers, d.Close)

		if flags.migrate {
			if err := migrate.Up(ctx, d, log.Named("migrate")); err != nil {
				a.close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
	}

	if cfg.Session.Backend == "redis" {
		rc, err := session.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = rc
		a.closers = append(a.closers, func() { _ = rc.Close() })
	}

	store, err := a.buildStore()
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	return a, nil
}

func (a *app) buildStore() (session.Store, error) {
	var codec session.Codec = session.JSONCodec{}
	if a.cfg.Session.Secret != "" {
		sealed, err := session.NewSealedCodec(a.cfg.Session.Name, []byte(a.cfg.Session.Secret))
		if err != nil {
			return nil, err
		}
		codec = sealed
	}

	switch a.cfg.Session.Backend {
	case "postgres":
		return session.NewPostgresStore(a.db, a.cfg.Session.Name, codec), nil
	case "redis":
		return session.NewRedisStore(a.redis, a.cfg.Session.Name, codec), nil
	default:
		return session.NewFileStore(a.cfg.Session.Path, codec), nil
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openBrowser starts Chrome and returns it with every call bounded by the
// per-step timeout. The browser outlives ctx: an attempt in flight at
// shutdown keeps its browser until a.close.
func (a *app) openBrowser(ctx context.Context, headless bool) (browser.Surface, error) {
	launch := a.launch
	if launch == nil {
		launch = launchChrome
	}
	surface, closeBrowser, err := launch(context.WithoutCancel(ctx), browser.ChromeOptions{
		Headless:  headless,
		ExecPath:  a.cfg.Browser.ExecPath,
		UserAgent: a.cfg.Browser.UserAgent,
	}, a.log.Named("browser"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeBrowser)
	return browser.WithTimeout(surface, a.cfg.Timeouts.PerStep), nil
}

func (a *app) coordinator(surface browser.Surface) *auth.Coordinator {
	c := auth.NewCoordinator(a.store, surface, a.cfg, a.clock, a.log.Named("auth"))
	c.Expiry = browser.StateExpiry
	return c
}

func (a *app) reporter() *report.Reporter {
	notifiers := []report.Notifier{report.LogNotifier{Log: a.log.Named("report")}}
	if a.cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, report.WebhookNotifier{
			URL:    a.cfg.Notify.WebhookURL,
			Client: &http.Client{Timeout: a.cfg.Timeouts.Report},
		})
	}
	if a.cfg.Notify.Ledger && a.db != nil {
		notifiers = append(notifiers, report.LedgerNotifier{Repo: attempts.NewRepo(a.db)})
	}
	return &report.Reporter{Notifiers: notifiers, Timeout: a.cfg.Timeouts.Report, Log: a.log.Named("report")}
}

func (a *app) newResolver(surface browser.Surface) *resolver.Resolver {
	return &resolver.Resolver{
		Surface:    surface,
		Site:       a.cfg.Site,
		Clock:      a.clock,
		Log:        a.log.Named("resolver"),
		Retries:    a.cfg.RetryLimits.Transient,
		RetryDelay: a.cfg.RetryLimits.Delay,
	}
}

// signedIn opens the browser and restores the stored session, for commands
// that only read the site.
func (a *app) signedIn(ctx context.Context) (browser.Surface, error) {
	surface, err := a.openBrowser(ctx, a.cfg.Browser.Headless)
	if err != nil {
		return nil, err
	}
	if _, err := a.coordinator(surface).EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	return surface, nil
}

func (a *app) agent(surface browser.Surface) (*agent.Agent, error) {
	cfg := a.cfg
	ag := &agent.Agent{
		Auth: a.coordinator(surface),
		Resolver: a.newResolver(surface),
		Executor: &executor.Executor{
			Surface:    surface,
			Site:       cfg.Site,
			Clock:      a.clock,
			Log:        a.log.Named("executor"),
			Retries:    cfg.RetryLimits.Transient,
			RetryDelay: cfg.RetryLimits.Delay,
		},
		Reporter:   a.reporter(),
		Clock:      a.clock,
		Log:        a.log.Named("agent"),
		OffsetDays: cfg.BookingOffsetDays,
		Preference: cfg.CourtPreference,
		PerAttempt: cfg.Timeouts.PerAttempt,
	}

	if cfg.TestMode.Enabled {
		o, err := testOverride(cfg)
		if err != nil {
			return nil, err
		}
		ag.Override = o
		a.log.Warn("test mode: attempts are pinned",
			zap.Stringer("target", o.Window), zap.String("court", o.Court))
	}
	return ag, nil
}

func testOverride(cfg config.Config) (*agent.Override, error) {
	day, err := time.ParseInLocation(time.DateOnly, cfg.TestMode.TargetDate, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: testMode.targetDate: %v", internaltypes.ErrConfiguration, err)
	}
	entry, err := reservation.ParseScheduleEntry(cfg.TestMode.TargetTime)
	if err != nil {
		return nil, fmt.Errorf("%w: testMode.targetTime: %v", internaltypes.ErrConfiguration, err)
	}
	return &agent.Override{
		Window: reservation.TargetWindow{Date: day, Entry: entry},
		Court:  cfg.TestMode.TargetCourt,
	}, nil
}
