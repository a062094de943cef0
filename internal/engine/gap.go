package engine

import (
	"context"
	"sort"
	"time"

	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/pkg/types"
)

// GapFlag reports one person whose silence has outlasted their usual cadence.
type GapFlag struct {
	PersonID       string               `json:"person_id"`
	Name           string               `json:"name"`
	Category       types.PersonCategory `json:"category"`
	Tier           int                  `json:"tier"`             // Category tier, lower is closer
	LastContact    time.Time            `json:"last_contact"`     // Most recent interaction
	DaysSince      float64              `json:"days_since"`       // Days since last contact
	TypicalGapDays float64              `json:"typical_gap_days"` // Median gap between past interactions
	Severity       float64              `json:"severity"`         // DaysSince / TypicalGapDays
}

// CommunicationGaps flags every person whose days since last contact exceed
// their typical cadence by the configured multiplier. A person exactly at the
// boundary is not flagged. Results sort closest tier first, then most severe.
func (a *AnomalyEngine) CommunicationGaps(ctx context.Context) ([]GapFlag, error) {
	excluded := make(map[string]struct{}, len(a.cfg.Gap.ExcludedIDs))
	for _, id := range a.cfg.Gap.ExcludedIDs {
		excluded[id] = struct{}{}
	}

	now := time.Now().UTC()
	var flags []GapFlag

	for _, person := range a.registry.All() {
		if _, skip := excluded[person.ID]; skip {
			continue
		}
		if person.Category == types.CategorySelf {
			continue
		}

		flag, flagged, err := a.gapForPerson(ctx, person, now)
		if err != nil {
			a.log.Warn().Err(err).Str("person_id", person.ID).Msg("skipping person in gap analysis")
			continue
		}
		if flagged {
			flags = append(flags, flag)
		}
	}

	sort.Slice(flags, func(i, j int) bool {
		if flags[i].Tier != flags[j].Tier {
			return flags[i].Tier < flags[j].Tier
		}
		return flags[i].Severity > flags[j].Severity
	})
	return flags, nil
}

// gapForPerson evaluates one person's cadence against their recent history.
func (a *AnomalyEngine) gapForPerson(ctx context.Context, person *types.PersonEntity, now time.Time) (GapFlag, bool, error) {
	filter := storage.InteractionFilter{
		Window: time.Duration(a.cfg.Gap.LookbackDays) * 24 * time.Hour,
		Limit:  storage.MaxListLimit,
	}
	interactions, err := a.store.ListInteractions(ctx, person.ID, filter)
	if err != nil {
		return GapFlag{}, false, err
	}
	if len(interactions) < a.cfg.Gap.MinInteractions {
		return GapFlag{}, false, nil
	}

	// The list arrives newest-first; gaps are measured between consecutive
	// interactions in time order.
	gaps := make([]float64, 0, len(interactions)-1)
	for i := 0; i < len(interactions)-1; i++ {
		gap := interactions[i].Timestamp.Sub(interactions[i+1].Timestamp).Hours() / 24
		gaps = append(gaps, gap)
	}

	typical := median(gaps)
	if floor, ok := a.cfg.Gap.MinGapDays[person.Category]; ok && typical < floor {
		typical = floor
	}
	if typical <= 0 {
		return GapFlag{}, false, nil
	}

	last := interactions[0].Timestamp
	daysSince := now.Sub(last).Hours() / 24
	if daysSince <= typical*a.cfg.Gap.Multiplier {
		return GapFlag{}, false, nil
	}

	return GapFlag{
		PersonID:       person.ID,
		Name:           person.CanonicalName,
		Category:       person.Category,
		Tier:           types.CategoryTier(person.Category),
		LastContact:    last,
		DaysSince:      daysSince,
		TypicalGapDays: typical,
		Severity:       daysSince / typical,
	}, true, nil
}

// median returns the middle value of the data set, or the mean of the two
// middle values for an even count. Empty input returns 0.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
