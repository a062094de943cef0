package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kithlabs/kith/internal/config"
	"github.com/kithlabs/kith/internal/registry"
	"github.com/kithlabs/kith/internal/storage"
)

// AnomalyEngine runs the three batch analyzers: communication gaps, sentiment
// drift, and meeting overload. Each analyzer processes people independently;
// one person's bad data is logged and skipped, never aborting the batch.
type AnomalyEngine struct {
	registry *registry.Registry
	store    storage.LedgerStore
	cfg      *config.AnomalyConfig
	log      zerolog.Logger
}

// NewAnomalyEngine creates an anomaly engine over the given registry and store.
func NewAnomalyEngine(reg *registry.Registry, store storage.LedgerStore, cfg *config.AnomalyConfig, log zerolog.Logger) *AnomalyEngine {
	return &AnomalyEngine{
		registry: reg,
		store:    store,
		cfg:      cfg,
		log:      log.With().Str("component", "anomaly").Logger(),
	}
}

// AnomalyReport bundles one full anomaly run.
type AnomalyReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Gaps        []GapFlag        `json:"communication_gaps"`
	Drifts      []DriftFlag      `json:"sentiment_drifts"`
	MeetingLoad *MeetingLoadFlag `json:"meeting_load,omitempty"`
}

// Report runs all three analyzers. Analyzer-level failures surface in the
// log, not as an error; the report carries whatever completed.
func (a *AnomalyEngine) Report(ctx context.Context, day time.Time) *AnomalyReport {
	report := &AnomalyReport{GeneratedAt: time.Now().UTC()}

	gaps, err := a.CommunicationGaps(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("communication-gap analysis failed")
	}
	report.Gaps = gaps

	drifts, err := a.SentimentDrift(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("sentiment-drift analysis failed")
	}
	report.Drifts = drifts

	load, err := a.MeetingLoad(ctx, day)
	if err != nil {
		a.log.Error().Err(err).Msg("meeting-load analysis failed")
	}
	report.MeetingLoad = load

	return report
}
