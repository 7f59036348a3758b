package pipeline

import (
	"lunchcal/internal/calendar"
	"lunchcal/internal/config"
	"lunchcal/internal/menu"
	"lunchcal/internal/metrics"
	"lunchcal/internal/publish"
)

// FromConfig wires a Runner against the real menu API and the configured
// output path. cfg must already be validated.
func FromConfig(cfg *config.Config, m *metrics.Metrics) (*Runner, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	fetcher := menu.NewFetcher(menu.Options{
		BaseURL:         cfg.API.BaseURL,
		OrgID:           cfg.API.OrgID,
		MenuID:          cfg.API.MenuID,
		Timeout:         cfg.Timeout(),
		RequestInterval: cfg.RequestInterval(),
	})

	return &Runner{
		Source: fetcher,
		Sink:   &publish.Publisher{Path: cfg.Output},
		Build: calendar.BuildOptions{
			Mode:      mode,
			OrgID:     cfg.API.OrgID,
			MenuID:    cfg.API.MenuID,
			UIDDomain: cfg.Calendar.UIDDomain,
		},
		Meta: calendar.Meta{
			ProductID: cfg.Calendar.ProductID,
			Name:      cfg.Calendar.Name,
			Timezone:  cfg.Timezone,
		},
		Metrics: m,
	}, nil
}
