package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	EventsPublished prometheus.Gauge
	ItemsDropped    prometheus.Counter
	LastSuccess     prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what one-shot runs use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunchcal_runs_total",
				Help: "Pipeline runs by result (ok, or the failed stage)",
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lunchcal_run_duration_seconds",
				Help:    "Duration of pipeline runs",
				Buckets: prometheus.DefBuckets,
			},
		),
		EventsPublished: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lunchcal_events_published",
				Help: "Number of events in the last published calendar",
			},
		),
		ItemsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lunchcal_items_dropped_total",
				Help: "Menu items dropped while building events, counted on every run that reaches the build stage",
			},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lunchcal_last_success_timestamp_seconds",
				Help: "Unix time of the last successful publish",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Runs, m.RunDuration, m.EventsPublished, m.ItemsDropped, m.LastSuccess)
	}
	return m
}

// ObserveRun records a finished run. result is "ok" or the failed stage.
func (m *Metrics) ObserveRun(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// ObserveDropped counts items dropped by a build, whatever the run outcome.
func (m *Metrics) ObserveDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsDropped.Add(float64(n))
}

// ObservePublish records a successful publish at t.
func (m *Metrics) ObservePublish(events int, t time.Time) {
	if m == nil {
		return
	}
	m.EventsPublished.Set(float64(events))
	m.LastSuccess.Set(float64(t.Unix()))
}
