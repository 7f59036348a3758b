package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunchcal/internal/calendar"
	"lunchcal/internal/menu"
	"lunchcal/internal/menu/menutest"
	"lunchcal/internal/pipeline"
	"lunchcal/internal/publish"
)

type cliEnv struct {
	api    *menutest.API
	dir    string
	config string
	output string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	api := &menutest.API{
		OrgID:           "1229",
		MenuID:          "109815",
		PublishedMonths: []string{"2024-03-01"},
		Months: map[string][]menutest.Day{
			"2024-3": {
				{Date: "2024-03-04", Rows: []menutest.Row{
					menutest.Category("Entree"),
					menutest.Recipe("Popcorn Chicken"),
					menutest.Category("Sides"),
					menutest.Recipe("Green Beans"),
				}},
			},
		},
	}
	srv := menutest.NewServer(t, api)

	dir := t.TempDir()
	env := &cliEnv{
		api:    api,
		dir:    dir,
		config: filepath.Join(dir, "lunchcal.yaml"),
		output: filepath.Join(dir, "docs", "lunch.ics"),
	}
	yaml := fmt.Sprintf(`
display_mode: entree_only
output: %s
api:
  base_url: %s
  org_id: "1229"
  menu_id: "109815"
  request_interval_ms: 0
range:
  start: "2024-03-01"
  end: "2024-03-31"
`, env.output, srv.URL)
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o600))
	return env
}

func (e *cliEnv) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	base := []string{"--config", e.config, "--env-file", filepath.Join(e.dir, "none.env")}
	code := run(context.Background(), append(base, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunOncePublishes(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, stderr := env.run()
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "published 1 events")

	data, err := os.ReadFile(env.output)
	require.NoError(t, err)
	got, err := calendar.Decode(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Popcorn Chicken", got[0].Summary)
}

func TestRunModeFlagOverridesConfig(t *testing.T) {
	env := newCLIEnv(t)

	code, stdout, stderr := env.run("--mode", "full_meal", "--stdout")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "SUMMARY:Popcorn Chicken with Green Beans")

	_, err := os.Stat(env.output)
	assert.True(t, os.IsNotExist(err), "--stdout must not publish")
}

func TestRunFetchFailureExitCode(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run()
	require.Equal(t, exitOK, code)
	before, err := os.ReadFile(env.output)
	require.NoError(t, err)

	env.api.SetMonthStatus(http.StatusInternalServerError)
	code, _, stderr := env.run()
	assert.Equal(t, exitFetch, code)
	assert.Contains(t, stderr, "fetch stage failed")

	after, err := os.ReadFile(env.output)
	require.NoError(t, err)
	assert.Equal(t, publish.Checksum(before), publish.Checksum(after))
}

func TestRunInvalidConfig(t *testing.T) {
	env := newCLIEnv(t)

	code, _, stderr := env.run("--mode", "chef_choice")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "display_mode")

	code, _, _ = env.run("--start", "2024-03-05")
	assert.Equal(t, exitConfig, code)

	code, _, _ = env.run("--daemon", "--stdout")
	assert.Equal(t, exitConfig, code)

	code, _, _ = env.run("extra")
	assert.Equal(t, exitConfig, code)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{&pipeline.StageError{Stage: pipeline.StageFetch, Err: &menu.FetchError{URL: "u", StatusCode: 500, Err: errors.New("500")}}, exitFetch},
		{&pipeline.StageError{Stage: pipeline.StageFetch, Err: &menu.ParseError{URL: "u", Err: errors.New("bad")}}, exitParse},
		{&pipeline.StageError{Stage: pipeline.StagePublish, Err: &publish.PublishError{Path: "p", Op: "rename", Err: errors.New("denied")}}, exitPublish},
		{&pipeline.StageError{Stage: pipeline.StageEncode, Err: errors.New("x")}, exitOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}
