// Package engine implements the relationship-intelligence layer: strength
// scoring, co-occurrence discovery, anomaly analysis, and the merge
// coordinator, composed over the person registry and the interaction ledger.
//
// The Engine facade is built by explicit construction at startup; every
// dependency (registry, store, configuration, logger) is injected, so tests
// run against isolated instances and nothing lives in package-level state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kithlabs/kith/internal/config"
	"github.com/kithlabs/kith/internal/registry"
	"github.com/kithlabs/kith/internal/resolver"
	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/pkg/types"
)

// Engine ties the registry, ledger store, and analytics together behind the
// operations the connector and API layers consume.
type Engine struct {
	registry  *registry.Registry
	store     storage.LedgerStore
	resolver  resolver.IdentityResolver
	cfg       *config.Config
	log       zerolog.Logger
	discovery *Discoverer
	anomalies *AnomalyEngine
	merger    *MergeCoordinator
}

// New constructs an engine from its injected dependencies. res may be nil
// when no external identity resolver is configured; ResolvePerson then only
// consults the local indices.
func New(reg *registry.Registry, store storage.LedgerStore, res resolver.IdentityResolver, cfg *config.Config, log zerolog.Logger) *Engine {
	e := &Engine{
		registry: reg,
		store:    store,
		resolver: res,
		cfg:      cfg,
		log:      log.With().Str("component", "engine").Logger(),
	}
	e.discovery = NewDiscoverer(store, &cfg.Discovery, log)
	e.anomalies = NewAnomalyEngine(reg, store, &cfg.Anomaly, log)
	e.merger = NewMergeCoordinator(reg, store, func(ctx context.Context, personID string) (float64, error) {
		return e.Score(ctx, personID, true)
	}, log)
	return e
}

// Registry exposes the underlying person registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Store exposes the underlying ledger store.
func (e *Engine) Store() storage.LedgerStore { return e.store }

// RecordInteraction is the connectors' entry point for a new touchpoint. It
// deduplicates on the person's (source_type, source_id) key, and on a
// genuinely new row bumps
// the person's counters, seen range, and source list. The returned bool
// reports whether the interaction was newly added.
func (e *Engine) RecordInteraction(ctx context.Context, in *types.Interaction) (*types.Interaction, bool, error) {
	if in == nil {
		return nil, false, fmt.Errorf("%w: interaction is required", storage.ErrValidation)
	}
	if in.ID == "" {
		in.ID = "int:" + uuid.New().String()
	}

	stored, wasAdded, err := e.store.AddInteractionIfNotExists(ctx, in)
	if err != nil {
		return nil, false, err
	}
	if wasAdded {
		if _, err := e.registry.Touch(stored.PersonID, stored.CounterDelta(), stored.Timestamp, stored.SourceType); err != nil {
			e.log.Warn().Err(err).Str("person_id", stored.PersonID).Msg("interaction stored but counter update failed")
		}
	}
	return stored, wasAdded, nil
}

// RecordSentiment attaches a tone score to an interaction, upserting on the
// interaction id.
func (e *Engine) RecordSentiment(ctx context.Context, s *types.SentimentScore) error {
	return e.store.PutSentiment(ctx, s)
}

// ListInteractions returns a person's interactions newest-first per the filter.
func (e *Engine) ListInteractions(ctx context.Context, personID string, filter storage.InteractionFilter) ([]*types.Interaction, error) {
	return e.store.ListInteractions(ctx, personID, filter)
}

// RelationshipsFor returns every graph edge touching the person.
func (e *Engine) RelationshipsFor(ctx context.Context, personID string) ([]*types.Relationship, error) {
	if canonical, alive := e.registry.CanonicalID(personID); alive {
		personID = canonical
	}
	return e.store.RelationshipsFor(ctx, personID)
}

// LookupPerson finds a person by id, email, phone, or name, in that order.
// The ref's shape picks the index tried first; a name lookup falls back to
// substring search and takes the first match.
func (e *Engine) LookupPerson(ref string) (*types.PersonEntity, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	if strings.HasPrefix(ref, "per:") {
		return e.registry.GetByID(ref)
	}
	if strings.Contains(ref, "@") {
		return e.registry.GetByEmail(ref)
	}
	if p, ok := e.registry.GetByPhone(ref); ok {
		return p, true
	}
	if p, ok := e.registry.GetByName(ref); ok {
		return p, true
	}
	if matches := e.registry.Search(ref); len(matches) > 0 {
		return matches[0], true
	}
	return nil, false
}

// ErrNoResolver is returned by ResolvePerson when a hint matches nobody
// locally and no external resolver is configured.
var ErrNoResolver = errors.New("no identity resolver configured")

// ResolvePerson maps an observation hint to a canonical person. The local
// indices are consulted first (email, then phone, then name); only on a miss
// is the external resolver asked, and a person it answers with is added to
// the registry so the next hint for the same human stays local.
func (e *Engine) ResolvePerson(ctx context.Context, hint resolver.Hint) (*types.PersonEntity, error) {
	if hint.Email == "" && hint.Phone == "" && hint.Name == "" {
		return nil, fmt.Errorf("%w: hint must carry a name, email, or phone", storage.ErrValidation)
	}
	if hint.Email != "" {
		if p, ok := e.registry.GetByEmail(hint.Email); ok {
			return p, nil
		}
	}
	if hint.Phone != "" {
		if p, ok := e.registry.GetByPhone(hint.Phone); ok {
			return p, nil
		}
	}
	if hint.Name != "" {
		if p, ok := e.registry.GetByName(hint.Name); ok {
			return p, nil
		}
	}
	if e.resolver == nil {
		return nil, ErrNoResolver
	}

	res, err := e.resolver.Resolve(ctx, hint)
	if err != nil {
		return nil, err
	}
	if existing, ok := e.registry.GetByID(res.Person.ID); ok {
		return existing, nil
	}
	res.Person.Confidence = res.Confidence
	if err := e.registry.Add(res.Person); err != nil {
		return nil, fmt.Errorf("failed to store resolved person: %w", err)
	}
	e.log.Info().
		Str("person_id", res.Person.ID).
		Bool("created", res.Created).
		Float64("confidence", res.Confidence).
		Msg("person resolved remotely")
	return res.Person, nil
}

// Score returns the person's relationship strength. Unforced calls reuse a
// cached value younger than the configured TTL; otherwise the score is
// recomputed from the ledger and persisted back onto the person record.
func (e *Engine) Score(ctx context.Context, personID string, force bool) (float64, error) {
	person, ok := e.registry.GetByID(personID)
	if !ok {
		return 0, fmt.Errorf("%w: person %s", storage.ErrNotFound, personID)
	}

	if !force && person.StrengthUpdatedAt != nil {
		if time.Since(*person.StrengthUpdatedAt) < e.cfg.Scoring.CacheTTL {
			return person.RelationshipStrength, nil
		}
	}

	window := time.Duration(e.cfg.Scoring.RollingWindowDays) * 24 * time.Hour
	counts, err := e.store.InteractionCounts(ctx, person.ID, window)
	if err != nil {
		return 0, fmt.Errorf("failed to load interaction counts: %w", err)
	}

	breakdown := ComputeStrength(StrengthInputs{
		LastSeen:     person.LastSeen,
		Counts:       counts,
		KnownSources: types.ValidSourceTypes,
		Now:          time.Now().UTC(),
	}, &e.cfg.Scoring)

	if _, err := e.registry.SetStrength(person.ID, breakdown.Strength, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("failed to persist strength: %w", err)
	}
	return breakdown.Strength, nil
}

// RunDiscovery executes one co-occurrence discovery pass over the configured
// window and returns its stats.
func (e *Engine) RunDiscovery(ctx context.Context) (*DiscoveryStats, error) {
	return e.discovery.Run(ctx)
}

// Anomalies runs all three analyzers for the given meeting-load day.
func (e *Engine) Anomalies(ctx context.Context, day time.Time) *AnomalyReport {
	return e.anomalies.Report(ctx, day)
}

// Merge folds the secondary person into the primary across every store.
func (e *Engine) Merge(ctx context.Context, primaryID, secondaryID string) (*MergeStats, error) {
	return e.merger.Merge(ctx, primaryID, secondaryID)
}

// CheckIntegrity audits the ledger for person ids that no longer resolve.
// When orphans are found the report is returned together with an error
// wrapping storage.ErrDataIntegrity; the rows are surfaced for manual
// repair, never dropped.
func (e *Engine) CheckIntegrity(ctx context.Context) (*storage.OrphanReport, error) {
	report, err := e.store.CheckIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	if !report.Empty() {
		orphans := len(report.InteractionOrphans) + len(report.SentimentOrphans) + len(report.EdgeOrphans)
		return report, fmt.Errorf("%w: %d unresolvable person ids", storage.ErrDataIntegrity, orphans)
	}
	return report, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
