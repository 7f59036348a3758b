package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"lunchcal/internal/calendar"
	"lunchcal/internal/model"
)

// Range modes.
const (
	RangeCurrentMonth = "current_month"
	RangePublished    = "published"
)

// APIConfig describes the upstream menu API.
type APIConfig struct {
	// BaseURL is the API root without trailing slash.
	BaseURL string `yaml:"base_url" json:"base_url"`
	OrgID   string `yaml:"org_id" json:"org_id"`
	MenuID  string `yaml:"menu_id" json:"menu_id"`

	// TimeoutSeconds bounds each HTTP request.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	// RequestIntervalMillis spaces consecutive requests. 0 disables pacing.
	RequestIntervalMillis int `yaml:"request_interval_ms" json:"request_interval_ms"`
}

// CalendarConfig holds calendar-level properties of the generated file.
type CalendarConfig struct {
	Name      string `yaml:"name" json:"name"`
	ProductID string `yaml:"product_id" json:"product_id"`
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`
}

// RangeConfig selects the dates to fetch. Start/End, when both set,
// override Mode.
type RangeConfig struct {
	// Mode is "current_month" (default) or "published".
	Mode  string `yaml:"mode" json:"mode"`
	Start string `yaml:"start,omitempty" json:"start,omitempty"`
	End   string `yaml:"end,omitempty" json:"end,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	API APIConfig `yaml:"api" json:"api"`

	// DisplayMode is "entree_only" or "full_meal". It has no default and must
	// be chosen by the operator.
	DisplayMode string `yaml:"display_mode" json:"display_mode"`

	// Output is the fixed path of the published calendar file.
	Output string `yaml:"output" json:"output"`

	// Timezone is the IANA zone that decides what "the current month" is.
	Timezone string `yaml:"timezone" json:"timezone"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Range    RangeConfig    `yaml:"range" json:"range"`

	// RefreshCron is the schedule used in daemon mode (e.g. "0 6 * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Listen, if set, serves the calendar and status API in daemon mode.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, protects /api/* and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultBaseURL   = "https://menus.healthepro.com/api"
	defaultOrgID     = "1229"
	defaultMenuID    = "109815"
	defaultOutput    = "docs/lunch.ics"
	defaultTimezone  = "America/New_York"
	defaultRefresh   = "0 6 * * *"
	defaultCalName   = "Bay MS Lunch"
	defaultProductID = "-//Bay Middle School Lunch Menu//"
	defaultUIDDomain = "bayms-lunch"
	defaultTimeout   = 15
	defaultInterval  = 250
)

// DefaultConfig returns an in-memory default configuration. DisplayMode is
// deliberately left empty.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:               defaultBaseURL,
			OrgID:                 defaultOrgID,
			MenuID:                defaultMenuID,
			TimeoutSeconds:        defaultTimeout,
			RequestIntervalMillis: defaultInterval,
		},
		Output:   defaultOutput,
		Timezone: defaultTimezone,
		Calendar: CalendarConfig{
			Name:      defaultCalName,
			ProductID: defaultProductID,
			UIDDomain: defaultUIDDomain,
		},
		Range:       RangeConfig{Mode: RangeCurrentMonth},
		RefreshCron: defaultRefresh,
		LogLevel:    "info",
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultBaseURL
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = defaultTimeout
	}
	if c.API.RequestIntervalMillis < 0 {
		c.API.RequestIntervalMillis = 0
	}
	if c.Output == "" {
		c.Output = defaultOutput
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Calendar.Name == "" {
		c.Calendar.Name = defaultCalName
	}
	if c.Calendar.ProductID == "" {
		c.Calendar.ProductID = defaultProductID
	}
	if c.Calendar.UIDDomain == "" {
		c.Calendar.UIDDomain = defaultUIDDomain
	}
	if c.Range.Mode == "" {
		c.Range.Mode = RangeCurrentMonth
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.DisplayMode = strings.TrimSpace(c.DisplayMode)
}

// Validate checks the config for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if _, err := calendar.ParseMode(c.DisplayMode); err != nil {
		errs = append(errs, fmt.Errorf("display_mode: %w", err))
	}
	if c.API.OrgID == "" {
		errs = append(errs, errors.New("api.org_id is empty"))
	}
	if c.API.MenuID == "" {
		errs = append(errs, errors.New("api.menu_id is empty"))
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an http(s) URL", c.API.BaseURL))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("output is empty"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh: %w", err))
	}
	switch c.Range.Mode {
	case RangeCurrentMonth, RangePublished:
	default:
		errs = append(errs, fmt.Errorf("range.mode: unknown value %q", c.Range.Mode))
	}
	if _, _, err := c.ExplicitRange(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Location returns the configured timezone, or time.Local when invalid.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Mode returns the parsed display mode.
func (c *Config) Mode() (calendar.Mode, error) {
	return calendar.ParseMode(c.DisplayMode)
}

// Timeout returns the per-request HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// RequestInterval returns the spacing between upstream requests.
func (c *Config) RequestInterval() time.Duration {
	return time.Duration(c.API.RequestIntervalMillis) * time.Millisecond
}

// ExplicitRange returns the range.start/range.end override. ok is false when
// neither is set.
func (c *Config) ExplicitRange() (r model.DateRange, ok bool, err error) {
	if c.Range.Start == "" && c.Range.End == "" {
		return model.DateRange{}, false, nil
	}
	if c.Range.Start == "" || c.Range.End == "" {
		return model.DateRange{}, false, errors.New("range: start and end must be set together")
	}
	start, err := model.ParseDate(c.Range.Start)
	if err != nil {
		return model.DateRange{}, false, fmt.Errorf("range.start: %w", err)
	}
	end, err := model.ParseDate(c.Range.End)
	if err != nil {
		return model.DateRange{}, false, fmt.Errorf("range.end: %w", err)
	}
	r = model.DateRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return model.DateRange{}, false, fmt.Errorf("range: %w", err)
	}
	return r, true, nil
}

// Environment variables that override file values.
const (
	EnvDisplayMode = "LUNCHCAL_DISPLAY_MODE"
	EnvOutput      = "LUNCHCAL_OUTPUT"
	EnvOrgID       = "LUNCHCAL_ORG_ID"
	EnvMenuID      = "LUNCHCAL_MENU_ID"
	EnvBaseURL     = "LUNCHCAL_BASE_URL"
	EnvTimezone    = "LUNCHCAL_TIMEZONE"
	EnvLogLevel    = "LUNCHCAL_LOG_LEVEL"
	EnvTimeout     = "LUNCHCAL_TIMEOUT_SECONDS"
)

// LoadDotEnv loads .env files into the process environment. Missing files
// are not an error.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides fields from environment variables. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.DisplayMode, EnvDisplayMode)
	set(&c.Output, EnvOutput)
	set(&c.API.OrgID, EnvOrgID)
	set(&c.API.MenuID, EnvMenuID)
	set(&c.API.BaseURL, EnvBaseURL)
	set(&c.Timezone, EnvTimezone)
	set(&c.LogLevel, EnvLogLevel)

	if v := strings.TrimSpace(getenv(EnvTimeout)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		c.API.TimeoutSeconds = n
	}
	c.Normalize()
	return nil
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
//   - normalize defaults
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
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".lunchcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
