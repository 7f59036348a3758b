package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appLog "lunchcal/internal/log"
	"lunchcal/internal/model"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "lunchcal/0.1"
	maxBodyBytes     = 8 << 20
)

// Options configures a Fetcher.
type Options struct {
	// BaseURL is the API root, e.g. "https://menus.healthepro.com/api".
	BaseURL string
	OrgID   string
	MenuID  string

	// Timeout bounds each HTTP request. Ignored when Client is set.
	Timeout time.Duration

	// RequestInterval is the minimum spacing between outbound requests.
	// Zero disables pacing.
	RequestInterval time.Duration

	UserAgent string

	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Fetcher retrieves menu metadata and per-day menu data from the menu API.
// It keeps no state between calls besides the request pacer.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	baseURL   string
	orgID     string
	menuID    string
	userAgent string
}

// NewFetcher creates a Fetcher from opts.
func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RequestInterval > 0 {
		limit = rate.Every(opts.RequestInterval)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Fetcher{
		client:    client,
		limiter:   rate.NewLimiter(limit, 1),
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		orgID:     opts.OrgID,
		menuID:    opts.MenuID,
		userAgent: ua,
	}
}

// Metadata describes the configured menu.
type Metadata struct {
	Name            string
	PublishedMonths []model.YearMonth
}

// Published reports whether ym has published menu data.
func (m Metadata) Published(ym model.YearMonth) bool {
	for _, p := range m.PublishedMonths {
		if p == ym {
			return true
		}
	}
	return false
}

// Range spans every published month. ok is false when nothing is published.
func (m Metadata) Range() (r model.DateRange, ok bool) {
	if len(m.PublishedMonths) == 0 {
		return model.DateRange{}, false
	}
	first, last := m.PublishedMonths[0], m.PublishedMonths[0]
	for _, p := range m.PublishedMonths[1:] {
		if p.First().Before(first.First()) {
			first = p
		}
		if p.First().After(last.First()) {
			last = p
		}
	}
	return model.MonthRange(first, last), true
}

// Metadata queries the menu metadata endpoint.
func (f *Fetcher) Metadata(ctx context.Context) (Metadata, error) {
	url := f.menuURL()

	var resp metadataResponse
	if err := f.getJSON(ctx, url, &resp); err != nil {
		return Metadata{}, err
	}

	if resp.Data == nil || resp.Data.PublishedMonths == nil {
		return Metadata{}, &ParseError{URL: url, Err: errors.New("missing data.published_months")}
	}

	meta := Metadata{Name: resp.Data.Name}
	for _, s := range *resp.Data.PublishedMonths {
		d, err := model.ParseDate(s)
		if err != nil {
			return Metadata{}, &ParseError{URL: url, Err: fmt.Errorf("published month %q: %w", s, err)}
		}
		meta.PublishedMonths = append(meta.PublishedMonths, model.YearMonth{Year: d.Year, Month: d.Month})
	}
	return meta, nil
}

// Fetch returns one MenuDay for every date in r. Dates the API has nothing
// for yield an empty item list. Records outside r are discarded.
//
// The metadata endpoint is queried once; each published month the range
// touches is then fetched with its own request.
func (f *Fetcher) Fetch(ctx context.Context, r model.DateRange) (model.Menu, error) {
	if err := r.Validate(); err != nil {
		return model.Menu{}, err
	}
	meta, err := f.Metadata(ctx)
	if err != nil {
		return model.Menu{}, err
	}
	return f.FetchWith(ctx, meta, r)
}

// FetchPublished fetches every published month. With nothing published it
// returns an empty Menu with a zero Range.
func (f *Fetcher) FetchPublished(ctx context.Context) (model.Menu, error) {
	meta, err := f.Metadata(ctx)
	if err != nil {
		return model.Menu{}, err
	}
	r, ok := meta.Range()
	if !ok {
		appLog.Info("menu has no published months", "org", f.orgID, "menu", f.menuID)
		return model.Menu{Days: map[model.Date]model.MenuDay{}}, nil
	}
	return f.FetchWith(ctx, meta, r)
}

// FetchWith is Fetch with already loaded metadata.
func (f *Fetcher) FetchWith(ctx context.Context, meta Metadata, r model.DateRange) (model.Menu, error) {
	dates, err := r.Days()
	if err != nil {
		return model.Menu{}, err
	}

	menu := model.Menu{Range: r, Days: make(map[model.Date]model.MenuDay, len(dates))}
	for _, d := range dates {
		menu.Days[d] = model.MenuDay{Date: d, Items: []model.MenuItem{}}
	}

	appLog.Info("menu fetch start", "org", f.orgID, "menu", f.menuID, "range", r.String(), "published_months", len(meta.PublishedMonths))

	for _, ym := range r.Months() {
		if !meta.Published(ym) {
			appLog.Info("menu month not published; leaving days empty", "month", ym.String())
			continue
		}

		days, err := f.fetchMonth(ctx, ym)
		if err != nil {
			return model.Menu{}, err
		}

		kept := 0
		for _, day := range days {
			if !r.Contains(day.Date) {
				continue
			}
			menu.Days[day.Date] = day
			kept++
		}
		appLog.Info("menu month fetched", "month", ym.String(), "days", len(days), "in_range", kept)
	}

	return menu, nil
}

func (f *Fetcher) fetchMonth(ctx context.Context, ym model.YearMonth) ([]model.MenuDay, error) {
	url := fmt.Sprintf("%s/year/%d/month/%d/date_overwrites", f.menuURL(), ym.Year, int(ym.Month))

	var resp monthResponse
	if err := f.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	if resp.Data == nil {
		return nil, &ParseError{URL: url, Err: errors.New("missing data")}
	}

	out := make([]model.MenuDay, 0, len(*resp.Data))
	for _, rec := range *resp.Data {
		if rec.Day == "" {
			appLog.Warn("menu record without day; skipping", "month", ym.String())
			continue
		}
		date, err := model.ParseDate(rec.Day)
		if err != nil {
			return nil, &ParseError{URL: url, Err: fmt.Errorf("day %q: %w", rec.Day, err)}
		}

		day, err := parseDay(date, rec.Setting)
		if err != nil {
			// One broken day must not blank out the month.
			appLog.Error("menu day setting unreadable; leaving day empty", err, "date", date.String())
			day = model.MenuDay{Date: date, Items: []model.MenuItem{}}
		}
		out = append(out, day)
	}
	return out, nil
}

func (f *Fetcher) menuURL() string {
	return fmt.Sprintf("%s/organizations/%s/menus/%s", f.baseURL, f.orgID, f.menuID)
}

// getJSON issues a paced GET and decodes the JSON body into v.
func (f *Fetcher) getJSON(ctx context.Context, url string, v any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return &FetchError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	appLog.Debug("menu api response", "url", url, "status", resp.StatusCode, "elapsed", time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return &FetchError{URL: url, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &FetchError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &ParseError{URL: url, Err: err}
	}
	return nil
}
