package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lunchcal/internal/config"
	appLog "lunchcal/internal/log"
	"lunchcal/internal/pipeline"
	"lunchcal/internal/publish"
)

// ReportStore keeps the most recent pipeline report for /api/status.
type ReportStore struct {
	mu   sync.RWMutex
	last *pipeline.Report
}

func (s *ReportStore) Set(rep pipeline.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &rep
}

func (s *ReportStore) Get() (pipeline.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return pipeline.Report{}, false
	}
	return *s.last, true
}

// Server exposes the published calendar, the last run report and metrics.
// It is a local convenience for daemon mode; production subscribers read the
// file from static hosting.
type Server struct {
	cfg      *config.Config
	reports  *ReportStore
	gatherer prometheus.Gatherer
	router   *mux.Router
}

// NewServer constructs a new Server. gatherer may be nil to disable /metrics.
func NewServer(cfg *config.Config, reports *ReportStore, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:      cfg,
		reports:  reports,
		gatherer: gatherer,
		router:   mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with panic recovery and compression.
func (s *Server) Handler() http.Handler {
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(
		handlers.CompressHandler(s.router),
	)
}

// CalendarPath is the URL path the published file is served under.
func (s *Server) CalendarPath() string {
	return "/" + filepath.Base(s.cfg.Output)
}

func (s *Server) registerRoutes() {
	s.router.Use(accessLog)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc(s.CalendarPath(), s.handleCalendar).Methods(http.MethodGet, http.MethodHead)
	s.router.Handle("/api/status", s.protect(http.HandlerFunc(s.handleStatus))).Methods(http.MethodGet)
	if s.gatherer != nil {
		s.router.Handle("/metrics", s.protect(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))).Methods(http.MethodGet)
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start).Round(time.Microsecond))
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// protect wraps a handler with HTTP Basic Auth when configured. The
// calendar itself and /health stay public so calendar clients can poll.
func (s *Server) protect(next http.Handler) http.Handler {
	if !s.basicAuthEnabled() {
		return next
	}
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="lunchcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the published file with an ETag so polling clients
// can use conditional requests.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.cfg.Output)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		appLog.Error("calendar read failed", err, "path", s.cfg.Output)
		writeError(w, http.StatusInternalServerError, "failed to read calendar")
		return
	}

	var modTime time.Time
	if info, err := os.Stat(s.cfg.Output); err == nil {
		modTime = info.ModTime()
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("ETag", `"`+publish.Checksum(data)+`"`)
	http.ServeContent(w, r, filepath.Base(s.cfg.Output), modTime, bytes.NewReader(data))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	rep, ok := s.reports.Get()
	if !ok {
		writeError(w, http.StatusNotFound, "no run yet")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// StartServer serves h on listen until ctx is canceled, then shuts down
// gracefully.
func StartServer(ctx context.Context, listen string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
