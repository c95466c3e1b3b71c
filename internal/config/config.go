package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"schedsync/internal/atomicfile"
	"schedsync/internal/model"
	"schedsync/internal/temporal"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// Team is a named group of schedule sources. Each team gets its own feed.
type Team struct {
	// ID names the feed file ({feeds_dir}/{id}.ics); keep it URL-safe.
	ID   string   `yaml:"id" json:"id" validate:"required,excludesall=/\\"`
	Name string   `yaml:"name" json:"name" validate:"required"`
	URLs []string `yaml:"urls" json:"urls" validate:"dive,url"`
}

// Recipient is someone whose calendar receives synced events.
type Recipient struct {
	Name       string `yaml:"name" json:"name"`
	Email      string `yaml:"email" json:"email" validate:"omitempty,email"`
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
}

type NotifyConfig struct {
	// SummaryTo receives one summary message per pass listing all inserts.
	SummaryTo []string `yaml:"summary_to" json:"summary_to" validate:"dive,email"`
}

// VenueConfig collapses venue-specific location strings into one name.
type VenueConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

type CalendarConfig struct {
	// Dir holds one .ics file per calendar target.
	Dir string `yaml:"dir" json:"dir" validate:"required"`
	// DefaultID is the shared calendar used for recipients without their
	// own calendar_id. Recipients are then added as attendees.
	DefaultID string `yaml:"default_id" json:"default_id"`
}

type LedgerConfig struct {
	// Driver is "file" or "postgres".
	Driver string `yaml:"driver" json:"driver" validate:"oneof=file postgres"`
	DSN    string `yaml:"dsn,omitempty" json:"-" validate:"required_if=Driver postgres"`
}

type SMTPConfig struct {
	Server   string `yaml:"server" json:"server"`
	Port     int    `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password,omitempty" json:"-"`
	From     string `yaml:"from" json:"from" validate:"required_with=Server"`
	// UseTLS selects STARTTLS; false means implicit TLS.
	UseTLS bool `yaml:"use_tls" json:"use_tls"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

type BrowserConfig struct {
	// TimeoutSeconds bounds one headless render.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gte=0"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for feeds and the API.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Timezone is the IANA timezone events are expressed in (e.g. "America/New_York").
	Timezone string `yaml:"timezone" json:"timezone" validate:"required,timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *")
	// used for periodic passes in daemon mode.
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"required"`

	// URLs are scraped without team context.
	URLs  []string `yaml:"urls" json:"urls" validate:"dive,url"`
	Teams []Team   `yaml:"teams" json:"teams" validate:"dive"`

	Recipients []Recipient  `yaml:"recipients" json:"recipients" validate:"dive"`
	Notify     NotifyConfig `yaml:"notify" json:"notify"`
	Venue      VenueConfig  `yaml:"venue" json:"venue"`

	// DefaultDurationMinutes is applied when a source has no end time.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes" validate:"gt=0"`
	// DefaultStart ("HH:MM") is assumed for date-only rows.
	DefaultStart string `yaml:"default_start" json:"default_start" validate:"datetime=15:04"`
	// RolloverThresholdDays tunes year-rollover correction of yearless dates.
	RolloverThresholdDays int `yaml:"rollover_threshold_days" json:"rollover_threshold_days" validate:"gt=0"`
	// HorizonDays bounds recurring-event expansion for ICS sources.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" validate:"gt=0"`

	StatePath string `yaml:"state_path" json:"state_path" validate:"required"`
	FeedsDir  string `yaml:"feeds_dir" json:"feeds_dir" validate:"required"`
	CacheDir  string `yaml:"cache_dir" json:"cache_dir"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Ledger   LedgerConfig   `yaml:"ledger" json:"ledger"`
	SMTP     SMTPConfig     `yaml:"smtp" json:"smtp"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Browser  BrowserConfig  `yaml:"browser" json:"browser"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "America/New_York"
	defaultRefresh      = "0 */6 * * *"
	defaultDurationMin  = 75
	defaultStart        = "21:00"
	defaultRolloverDays = 180
	defaultHorizonDays  = 180
	defaultStatePath    = "/var/lib/schedsync/ledger.json"
	defaultFeedsDir     = "/var/lib/schedsync/feeds"
	defaultCacheDir     = "/var/lib/schedsync/cache"
	defaultCalendarDir  = "/var/lib/schedsync/calendars"
	defaultBrowserSecs  = 45
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 defaultListen,
		Timezone:               defaultTimezone,
		RefreshCron:            defaultRefresh,
		URLs:                   []string{},
		Teams:                  []Team{},
		Recipients:             []Recipient{},
		Notify:                 NotifyConfig{SummaryTo: []string{}},
		DefaultDurationMinutes: defaultDurationMin,
		DefaultStart:           defaultStart,
		RolloverThresholdDays:  defaultRolloverDays,
		HorizonDays:            defaultHorizonDays,
		StatePath:              defaultStatePath,
		FeedsDir:               defaultFeedsDir,
		CacheDir:               defaultCacheDir,
		Calendar:               CalendarConfig{Dir: defaultCalendarDir},
		Ledger:                 LedgerConfig{Driver: "file"},
		SMTP:                   SMTPConfig{Port: 587, UseTLS: true},
		Log:                    LogConfig{Level: "info", Format: "console"},
		Browser:                BrowserConfig{TimeoutSeconds: defaultBrowserSecs},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.URLs == nil {
		c.URLs = []string{}
	}
	if c.Teams == nil {
		c.Teams = []Team{}
	}
	if c.Recipients == nil {
		c.Recipients = []Recipient{}
	}
	if c.Notify.SummaryTo == nil {
		c.Notify.SummaryTo = []string{}
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = defaultDurationMin
	}
	if strings.TrimSpace(c.DefaultStart) == "" {
		c.DefaultStart = defaultStart
	}
	if c.RolloverThresholdDays <= 0 {
		c.RolloverThresholdDays = defaultRolloverDays
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.StatePath == "" {
		c.StatePath = defaultStatePath
	}
	if c.FeedsDir == "" {
		c.FeedsDir = defaultFeedsDir
	}
	if c.Calendar.Dir == "" {
		c.Calendar.Dir = defaultCalendarDir
	}
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "file"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Browser.TimeoutSeconds <= 0 {
		c.Browser.TimeoutSeconds = defaultBrowserSecs
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules that tags cannot
// express (cron syntax, unique team IDs).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("invalid config: refresh %q: %w", c.RefreshCron, err)
	}
	seen := make(map[string]bool, len(c.Teams))
	for _, t := range c.Teams {
		if seen[t.ID] {
			return fmt.Errorf("invalid config: duplicate team id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// envOverrides maps environment variables to the secret fields they replace.
var envOverrides = []struct {
	name string
	set  func(*Config, string)
}{
	{"SCHEDSYNC_SMTP_USERNAME", func(c *Config, v string) { c.SMTP.Username = v }},
	{"SCHEDSYNC_SMTP_PASSWORD", func(c *Config, v string) { c.SMTP.Password = v }},
	{"SCHEDSYNC_LEDGER_DSN", func(c *Config, v string) { c.Ledger.DSN = v }},
}

// ApplyEnv overrides secrets from the environment when set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, o := range envOverrides {
		if v, ok := lookup(o.name); ok && v != "" {
			o.set(c, v)
		}
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c *Config) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationMinutes) * time.Minute
}

func (c *Config) RolloverThreshold() time.Duration {
	return time.Duration(c.RolloverThresholdDays) * 24 * time.Hour
}

func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

func (c *Config) BrowserTimeout() time.Duration {
	return time.Duration(c.Browser.TimeoutSeconds) * time.Second
}

// DefaultStartClock parses DefaultStart.
func (c *Config) DefaultStartClock() (temporal.Clock, error) {
	return temporal.ParseClock(c.DefaultStart)
}

// RecipientList converts configured recipients to model recipients,
// preserving config order.
func (c *Config) RecipientList() []model.Recipient {
	out := make([]model.Recipient, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		out = append(out, model.Recipient{
			Name:       strings.TrimSpace(r.Name),
			Email:      strings.TrimSpace(r.Email),
			CalendarID: strings.TrimSpace(r.CalendarID),
		})
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
//
// Secrets from the environment are applied after the first-run write so
// they never end up on disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv(nil)
				return cfg, err
			}
			cfg.ApplyEnv(nil)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv(nil)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return atomicfile.Write(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
