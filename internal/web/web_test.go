package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunchcal/internal/config"
	"lunchcal/internal/metrics"
	"lunchcal/internal/pipeline"
	"lunchcal/internal/publish"
)

const calendarBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

func newTestServer(t *testing.T, auth *config.BasicAuthConfig) (*Server, *ReportStore, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Output = filepath.Join(t.TempDir(), "lunch.ics")
	cfg.BasicAuth = auth

	reg := prometheus.NewRegistry()
	metrics.New(reg).ObserveRun("ok", 0)

	store := &ReportStore{}
	return NewServer(cfg, store, reg), store, cfg.Output
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestCalendarServedWithETag(t *testing.T) {
	s, _, output := newTestServer(t, nil)
	assert.Equal(t, "/lunch.ics", s.CalendarPath())

	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/lunch.ics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "nothing published yet")

	require.NoError(t, os.WriteFile(output, []byte(calendarBody), 0o644))

	rr = do(t, s, httptest.NewRequest(http.MethodGet, "/lunch.ics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, calendarBody, rr.Body.String())
	assert.Equal(t, "text/calendar; charset=utf-8", rr.Header().Get("Content-Type"))

	etag := rr.Header().Get("ETag")
	assert.Equal(t, `"`+publish.Checksum([]byte(calendarBody))+`"`, etag)

	req := httptest.NewRequest(http.MethodGet, "/lunch.ics", nil)
	req.Header.Set("If-None-Match", etag)
	rr = do(t, s, req)
	assert.Equal(t, http.StatusNotModified, rr.Code)
}

func TestStatus(t *testing.T) {
	s, store, _ := newTestServer(t, nil)

	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	store.Set(pipeline.Report{Result: "ok", Events: 12, RangeStart: "2024-03-01", RangeEnd: "2024-03-31"})

	rr = do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got pipeline.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Result)
	assert.Equal(t, 12, got.Events)
	assert.Equal(t, "2024-03-01", got.RangeStart)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `lunchcal_runs_total{result="ok"} 1`)
}

func TestBasicAuth(t *testing.T) {
	s, _, output := newTestServer(t, &config.BasicAuthConfig{Username: "admin", Password: "s3cret"})
	require.NoError(t, os.WriteFile(output, []byte(calendarBody), 0o644))

	for _, path := range []string{"/api/status", "/metrics"} {
		rr := do(t, s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
		assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth("admin", "wrong")
		assert.Equal(t, http.StatusUnauthorized, do(t, s, req).Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "s3cret")
	assert.Equal(t, http.StatusOK, do(t, s, req).Code)

	// Calendar and health stay public.
	assert.Equal(t, http.StatusOK, do(t, s, httptest.NewRequest(http.MethodGet, "/lunch.ics", nil)).Code)
	assert.Equal(t, http.StatusOK, do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rr := do(t, s, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
