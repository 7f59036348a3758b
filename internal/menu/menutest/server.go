// Package menutest provides an in-process fake of the menu API.
package menutest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// Row is one current_display entry.
type Row struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func Category(name string) Row { return Row{Type: "category", Name: name} }
func Text(name string) Row     { return Row{Type: "text", Name: name} }
func Recipe(name string) Row   { return Row{Type: "recipe", Name: name} }

// Day is one date_overwrites record. RawSetting, when non-empty, is sent
// verbatim instead of encoding Rows/Off.
type Day struct {
	Date       string
	Rows       []Row
	Off        bool
	OffReason  string
	RawSetting string
}

// API is the fake's fixture. Zero Status values mean 200.
type API struct {
	OrgID           string
	MenuID          string
	Name            string
	PublishedMonths []string
	// Months is keyed by "YYYY-M" (no zero padding, like the real paths).
	Months map[string][]Day

	MetadataStatus int
	MonthStatus    int
	// MetadataBody and MonthBody override the response bodies.
	MetadataBody string
	MonthBody    string

	mu       sync.Mutex
	requests []string
}

// Requests returns the request paths seen so far.
func (a *API) Requests() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.requests...)
}

// SetMonthStatus changes the month endpoint status between runs.
func (a *API) SetMonthStatus(code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.MonthStatus = code
}

// SetMetadataBody replaces the metadata response body between runs.
func (a *API) SetMetadataBody(body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.MetadataBody = body
}

// SetMonthBody replaces the month response body between runs.
func (a *API) SetMonthBody(body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.MonthBody = body
}

// NewServer starts the fake and registers its shutdown with t.
func NewServer(t testing.TB, api *API) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	base := fmt.Sprintf("/organizations/%s/menus/%s", api.OrgID, api.MenuID)
	r.HandleFunc(base, api.handleMetadata).Methods(http.MethodGet)
	r.HandleFunc(base+"/year/{year}/month/{month}/date_overwrites", api.handleMonth).Methods(http.MethodGet)

	srv := httptest.NewServer(api.record(r))
	t.Cleanup(srv.Close)
	return srv
}

func (a *API) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.requests = append(a.requests, r.URL.Path)
		a.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	status, body := a.MetadataStatus, a.MetadataBody
	a.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if body != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
		return
	}
	months := a.PublishedMonths
	if months == nil {
		months = []string{}
	}
	writeJSON(w, map[string]any{
		"data": map[string]any{
			"name":             a.Name,
			"published_months": months,
		},
	})
}

func (a *API) handleMonth(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	status, body := a.MonthStatus, a.MonthBody
	a.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if body != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
		return
	}

	vars := mux.Vars(r)
	key := vars["year"] + "-" + vars["month"]

	records := make([]map[string]any, 0)
	for _, d := range a.Months[key] {
		records = append(records, map[string]any{
			"day":     d.Date,
			"setting": d.setting(),
		})
	}
	writeJSON(w, map[string]any{"data": records})
}

func (d Day) setting() string {
	if d.RawSetting != "" {
		return d.RawSetting
	}
	s := map[string]any{
		"current_display": d.Rows,
		"days_off":        []any{},
	}
	if d.Rows == nil {
		s["current_display"] = []Row{}
	}
	if d.Off {
		s["days_off"] = map[string]any{"status": 1, "description": d.OffReason}
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
