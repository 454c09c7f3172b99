// Package config loads the agent's configuration from a YAML file, an
// optional .env file and environment overrides, and validates it before
// anything is scheduled.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/court-scheduler/internal/domain/reservation"
	"github.com/example/court-scheduler/internal/internaltypes"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Schedule          []string        `yaml:"schedule"`
	BookingOffsetDays int             `yaml:"bookingOffsetDays"`
	CourtPreference   []string        `yaml:"courtPreference"`
	RetryLimits       RetryLimits     `yaml:"retryLimits"`
	Timeouts          Timeouts        `yaml:"timeouts"`
	Scheduler         SchedulerConfig `yaml:"scheduler"`
	Timezone          string          `yaml:"timezone"`

	Site     Site           `yaml:"site"`
	Session  SessionConfig  `yaml:"session"`
	Auth     AuthConfig     `yaml:"auth"`
	Browser  BrowserConfig  `yaml:"browser"`
	Notify   NotifyConfig   `yaml:"notify"`
	Status   StatusConfig   `yaml:"status"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	TestMode TestMode       `yaml:"testMode"`

	// Derived by Validate.
	Entries  []reservation.ScheduleEntry `yaml:"-"`
	Location *time.Location              `yaml:"-"`
}

type RetryLimits struct {
	Transient int           `yaml:"transient"`
	Delay     time.Duration `yaml:"delay"`
}

type Timeouts struct {
	PerStep    time.Duration `yaml:"perStep"`
	PerAttempt time.Duration `yaml:"perAttempt"`
	Report     time.Duration `yaml:"report"`
}

type SchedulerConfig struct {
	GraceDelay   time.Duration `yaml:"graceDelay"`
	SpinWindow   time.Duration `yaml:"spinWindow"`
	SpinInterval time.Duration `yaml:"spinInterval"`
	KeepAlive    time.Duration `yaml:"keepAlive"`
}

// Site describes the remote booking front end: where its pages live and how
// to find things on them.
type Site struct {
	BaseURL        string    `yaml:"baseURL"`
	ProgramURL     string    `yaml:"programURL"`
	BookingsURL    string    `yaml:"bookingsURL"`
	IdentityMarker string    `yaml:"identityMarker"`
	Selectors      Selectors `yaml:"selectors"`
	Markers        Markers   `yaml:"markers"`
}

type Selectors struct {
	CookieConsent string `yaml:"cookieConsent"`
	Profile       string `yaml:"profile"`
	SignIn        string `yaml:"signIn"`
	// DateButton is a format string taking year, month and day.
	DateButton string `yaml:"dateButton"`
	SlotCard   string `yaml:"slotCard"`
	// SelectButton is a format string taking the 1-based card position.
	SelectButton      string `yaml:"selectButton"`
	Register          string `yaml:"register"`
	ProceedToCheckout string `yaml:"proceedToCheckout"`
	Checkout          string `yaml:"checkout"`
	FinalCheckout     string `yaml:"finalCheckout"`
	Alert             string `yaml:"alert"`
	BookingCard       string `yaml:"bookingCard"`
}

type Markers struct {
	Closed            []string `yaml:"closed"`
	Conflict          []string `yaml:"conflict"`
	BookingDateLayout string   `yaml:"bookingDateLayout"`
}

type SessionConfig struct {
	Backend string `yaml:"backend"` // file | postgres | redis
	Path    string `yaml:"path"`
	Name    string `yaml:"name"`
	Secret  string `yaml:"secret"`
}

type AuthConfig struct {
	FirstLoginTimeout time.Duration `yaml:"firstLoginTimeout"`
	FirstLoginPoll    time.Duration `yaml:"firstLoginPoll"`
	RenewSettle       time.Duration `yaml:"renewSettle"`
}

type BrowserConfig struct {
	Headless  bool   `yaml:"headless"`
	ExecPath  string `yaml:"execPath"`
	UserAgent string `yaml:"userAgent"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhookURL"`
	Ledger     bool   `yaml:"ledger"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TestMode pins the attempt to one date, time and court.
type TestMode struct {
	Enabled     bool   `yaml:"enabled"`
	TargetDate  string `yaml:"targetDate"`
	TargetTime  string `yaml:"targetTime"`
	TargetCourt string `yaml:"targetCourt"`
}

// Default returns the configuration every file is layered onto.
func Default() Config {
	return Config{
		BookingOffsetDays: 7,
		RetryLimits:       RetryLimits{Transient: 2, Delay: 2 * time.Second},
		Timeouts:          Timeouts{PerStep: 15 * time.Second, PerAttempt: 3 * time.Minute, Report: 10 * time.Second},
		Scheduler: SchedulerConfig{
			GraceDelay:   2 * time.Second,
			SpinWindow:   2 * time.Second,
			SpinInterval: 10 * time.Millisecond,
		},
		Timezone: "America/New_York",
		Site: Site{
			Selectors: Selectors{
				CookieConsent:     "#onetrust-accept-btn-handler",
				Profile:           "#btnProfile",
				SignIn:            "#btnSignIn",
				DateButton:        `button[data-year="%d"][data-month="%d"][data-day="%d"]:not(.single-date-select-mobile)`,
				SlotCard:          ".time-slot-card",
				SelectButton:      ".time-slot-card:nth-of-type(%d) button.btn-select",
				Register:          "#btnRegister",
				ProceedToCheckout: "#btnProceedToCheckout",
				Checkout:          "#btnCheckout",
				FinalCheckout:     "#btnFinalCheckout",
				Alert:             ".alert",
				BookingCard:       ".upcoming-event-card",
			},
			Markers: Markers{
				Closed:            []string{"No Spots Left"},
				Conflict:          []string{"No Spots Left", "already registered", "is full"},
				BookingDateLayout: "Jan 2",
			},
		},
		Session: SessionConfig{Backend: "file", Path: "data/session.json", Name: "default"},
		Auth: AuthConfig{
			FirstLoginTimeout: 5 * time.Minute,
			FirstLoginPoll:    3 * time.Second,
			RenewSettle:       3 * time.Second,
		},
		Browser: BrowserConfig{Headless: true},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// ResolvePath picks the config file: explicit flag, then COURTSCHED_CONFIG,
// then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := strings.TrimSpace(os.Getenv("COURTSCHED_CONFIG")); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads path, applies .env and environment overrides and validates
// the result. Every failure wraps internaltypes.ErrConfiguration.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: .env: %v", internaltypes.ErrConfiguration, err)
	}

	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", internaltypes.ErrConfiguration, path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", internaltypes.ErrConfiguration, path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Site.ProgramURL, "BOOKING_URL")
	setString(&c.Timezone, "TIMEZONE")
	setString(&c.Session.Path, "SESSION_PATH")
	setString(&c.Session.Backend, "SESSION_BACKEND")
	setString(&c.Session.Secret, "SESSION_SECRET")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Notify.WebhookURL, "WEBHOOK_URL")
	setString(&c.Status.Addr, "STATUS_ADDR")
	if v := strings.TrimSpace(os.Getenv("HEADLESS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: HEADLESS: %v", internaltypes.ErrConfiguration, err)
		}
		c.Browser.Headless = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks the configuration and fills the derived fields.
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", internaltypes.ErrConfiguration, fmt.Sprintf(format, args...))
	}

	entries, err := reservation.ParseSchedule(c.Schedule)
	if err != nil {
		return bad("schedule: %v", err)
	}
	c.Entries = entries

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return bad("timezone %q: %v", c.Timezone, err)
	}
	c.Location = loc

	switch {
	case c.BookingOffsetDays < 0:
		return bad("bookingOffsetDays must be >= 0")
	case c.RetryLimits.Transient < 0:
		return bad("retryLimits.transient must be >= 0")
	case c.RetryLimits.Delay < 0:
		return bad("retryLimits.delay must be >= 0")
	case c.Timeouts.PerStep <= 0 || c.Timeouts.PerAttempt <= 0 || c.Timeouts.Report <= 0:
		return bad("timeouts must be positive")
	case c.Timeouts.PerStep > c.Timeouts.PerAttempt:
		return bad("timeouts.perStep must not exceed timeouts.perAttempt")
	case c.Scheduler.GraceDelay < 0 || c.Scheduler.SpinWindow < 0:
		return bad("scheduler durations must be >= 0")
	case c.Scheduler.SpinInterval <= 0:
		return bad("scheduler.spinInterval must be positive")
	case c.Site.ProgramURL == "":
		return bad("site.programURL is required")
	case c.Site.BookingsURL == "":
		return bad("site.bookingsURL is required")
	}

	for _, name := range c.CourtPreference {
		if strings.TrimSpace(name) == "" {
			return bad("courtPreference contains an empty name")
		}
	}

	switch c.Session.Backend {
	case "file":
		if c.Session.Path == "" {
			return bad("session.path is required for the file backend")
		}
	case "postgres":
		if c.Database.URL == "" {
			return bad("database.url is required for the postgres session backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return bad("redis.addr is required for the redis session backend")
		}
	default:
		return bad("session.backend %q: want file, postgres or redis", c.Session.Backend)
	}
	if c.Notify.Ledger && c.Database.URL == "" {
		return bad("database.url is required when notify.ledger is set")
	}

	if c.TestMode.Enabled {
		if _, err := time.Parse("2006-01-02", c.TestMode.TargetDate); err != nil {
			return bad("testMode.targetDate: %v", err)
		}
		if _, err := reservation.ParseScheduleEntry(c.TestMode.TargetTime); err != nil {
			return bad("testMode.targetTime: %v", err)
		}
	}
	return nil
}

// RequireSchedule is the extra check for the continuous scheduler mode.
func (c *Config) RequireSchedule() error {
	if len(c.Entries) == 0 {
		return fmt.Errorf("%w: schedule is empty", internaltypes.ErrConfiguration)
	}
	return nil
}
