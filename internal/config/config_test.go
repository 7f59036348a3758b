package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunchcal/internal/calendar"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "lunchcal.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// The default has no display mode, so it cannot run as is.
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display_mode")
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lunchcal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
display_mode: full_meal
output: /srv/www/lunch.ics
api:
  org_id: "42"
  base_url: https://example.test/api/
range:
  start: "2024-03-01"
  end: "2024-03-15"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full_meal", cfg.DisplayMode)
	assert.Equal(t, "/srv/www/lunch.ics", cfg.Output)
	assert.Equal(t, "42", cfg.API.OrgID)
	assert.Equal(t, defaultMenuID, cfg.API.MenuID)
	assert.Equal(t, "https://example.test/api", cfg.API.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Timeout())
	assert.Equal(t, defaultTimezone, cfg.Timezone)

	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, calendar.ModeFullMeal, mode)

	r, ok, err := cfg.ExplicitRange()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-03-01..2024-03-15", r.String())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lunchcal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("display_mode: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lunchcal.yaml")
	cfg := DefaultConfig()
	cfg.DisplayMode = "entree_only"
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}

	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.DisplayMode = "entree_only"
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.DisplayMode = "entree" }, "display_mode"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad cron", func(c *Config) { c.RefreshCron = "every day" }, "refresh"},
		{"bad range mode", func(c *Config) { c.Range.Mode = "year" }, "range.mode"},
		{"half range", func(c *Config) { c.Range.Start = "2024-03-01" }, "together"},
		{"inverted range", func(c *Config) { c.Range.Start, c.Range.End = "2024-03-02", "2024-03-01" }, "range"},
		{"bad range date", func(c *Config) { c.Range.Start, c.Range.End = "march", "2024-03-01" }, "range.start"},
		{"empty org", func(c *Config) { c.API.OrgID = "" }, "org_id"},
		{"bad base url", func(c *Config) { c.API.BaseURL = "menus.example" }, "base_url"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDisplayMode: "full_meal",
		EnvOutput:      "/tmp/out.ics",
		EnvMenuID:      "7",
		EnvTimeout:     "3",
	}
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "full_meal", cfg.DisplayMode)
	assert.Equal(t, "/tmp/out.ics", cfg.Output)
	assert.Equal(t, "7", cfg.API.MenuID)
	assert.Equal(t, defaultOrgID, cfg.API.OrgID)
	assert.Equal(t, 3*time.Second, cfg.Timeout())

	env[EnvTimeout] = "soon"
	assert.Error(t, DefaultConfig().ApplyEnv(func(k string) string { return env[k] }))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LUNCHCAL_TEST_DOTENV=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LUNCHCAL_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("LUNCHCAL_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
