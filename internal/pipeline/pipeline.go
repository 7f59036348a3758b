package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lunchcal/internal/calendar"
	"lunchcal/internal/config"
	appLog "lunchcal/internal/log"
	"lunchcal/internal/metrics"
	"lunchcal/internal/model"
	"lunchcal/internal/publish"
)

// Stage names a pipeline step in errors, logs and metrics.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageBuild   Stage = "build"
	StageEncode  Stage = "encode"
	StagePublish Stage = "publish"
)

// StageError tags an error with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the failed stage recorded in err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Source provides menu data. *menu.Fetcher implements it.
type Source interface {
	Fetch(ctx context.Context, r model.DateRange) (model.Menu, error)
	FetchPublished(ctx context.Context) (model.Menu, error)
}

// Sink receives the encoded calendar. *publish.Publisher implements it.
type Sink interface {
	Publish(data []byte) (publish.Result, error)
}

// Window selects what to fetch: an explicit range, or all published months.
type Window struct {
	Range     model.DateRange
	Published bool
}

func (w Window) String() string {
	if w.Published {
		return "published"
	}
	return w.Range.String()
}

// WindowFor derives the fetch window from cfg: an explicit range wins, then
// range.mode decides between all published months and the month containing
// now in the configured timezone.
func WindowFor(cfg *config.Config, now time.Time) (Window, error) {
	r, ok, err := cfg.ExplicitRange()
	if err != nil {
		return Window{}, err
	}
	if ok {
		return Window{Range: r}, nil
	}
	if cfg.Range.Mode == config.RangePublished {
		return Window{Published: true}, nil
	}
	return Window{Range: model.CurrentMonth(now, cfg.Location())}, nil
}

// Report summarizes one run.
type Report struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Result     string        `json:"result"`
	Error      string        `json:"error,omitempty"`
	RangeStart string        `json:"range_start,omitempty"`
	RangeEnd   string        `json:"range_end,omitempty"`
	Days       int           `json:"days"`
	MenuDays   int           `json:"menu_days"`
	Items      int           `json:"items"`
	Events     int           `json:"events"`
	Warnings   []string      `json:"warnings,omitempty"`
	Output     string        `json:"output,omitempty"`
	SHA256     string        `json:"sha256,omitempty"`
	Bytes      int           `json:"bytes,omitempty"`
	Changed    bool          `json:"changed"`
}

// Runner composes Fetch → Build → Encode → Publish.
type Runner struct {
	Source  Source
	Sink    Sink
	Build   calendar.BuildOptions
	Meta    calendar.Meta
	Metrics *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Render runs every stage except Publish and returns the encoded calendar.
func (r *Runner) Render(ctx context.Context, w Window) ([]byte, Report, error) {
	rep := Report{StartedAt: r.now()}

	var (
		m   model.Menu
		err error
	)
	if w.Published {
		m, err = r.Source.FetchPublished(ctx)
	} else {
		m, err = r.Source.Fetch(ctx, w.Range)
	}
	if err != nil {
		return nil, rep, &StageError{Stage: StageFetch, Err: err}
	}
	if m.Range.Validate() == nil {
		rep.RangeStart = m.Range.Start.String()
		rep.RangeEnd = m.Range.End.String()
	}
	rep.Days = len(m.Days)
	rep.Items = m.ItemCount()
	for _, d := range m.Days {
		if len(d.Items) > 0 {
			rep.MenuDays++
		}
	}

	built, err := calendar.Build(m, r.Build)
	if err != nil {
		return nil, rep, &StageError{Stage: StageBuild, Err: err}
	}
	rep.Events = len(built.Events)
	for _, warn := range built.Warnings {
		rep.Warnings = append(rep.Warnings, warn.Error())
	}

	data, err := calendar.Encode(built.Events, r.Meta)
	if err != nil {
		return nil, rep, &StageError{Stage: StageEncode, Err: err}
	}
	return data, rep, nil
}

// Run executes the whole pipeline once. On any error nothing is published
// and the previous file stays in place.
func (r *Runner) Run(ctx context.Context, w Window) (Report, error) {
	appLog.Info("pipeline run start", "window", w.String(), "mode", string(r.Build.Mode))

	data, rep, err := r.Render(ctx, w)
	r.Metrics.ObserveDropped(len(rep.Warnings))
	if err == nil {
		var res publish.Result
		res, err = r.Sink.Publish(data)
		if err != nil {
			err = &StageError{Stage: StagePublish, Err: err}
		} else {
			rep.Output = res.Path
			rep.SHA256 = res.SHA256
			rep.Bytes = res.Bytes
			rep.Changed = res.Changed
		}
	}

	rep.Duration = r.now().Sub(rep.StartedAt)
	if err != nil {
		stage, _ := StageOf(err)
		rep.Result = string(stage)
		rep.Error = err.Error()
		r.Metrics.ObserveRun(rep.Result, rep.Duration)
		appLog.Error("pipeline run failed", err, "stage", string(stage), "window", w.String())
		return rep, err
	}

	rep.Result = "ok"
	r.Metrics.ObserveRun(rep.Result, rep.Duration)
	r.Metrics.ObservePublish(rep.Events, r.now())
	appLog.Info("pipeline run done",
		"range", rep.RangeStart+".."+rep.RangeEnd,
		"days", rep.Days,
		"menu_days", rep.MenuDays,
		"items", rep.Items,
		"events", rep.Events,
		"warnings", len(rep.Warnings),
		"output", rep.Output,
		"changed", rep.Changed,
		"elapsed", rep.Duration.Round(time.Millisecond),
	)
	return rep, nil
}
