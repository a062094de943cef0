package engine

import (
	"context"
	"sort"
	"time"

	"github.com/kithlabs/kith/pkg/types"
)

// Trend classifications for sentiment drift.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"

	// trendBand is the neutral zone around zero delta.
	trendBand = 0.1
)

// DriftFlag reports one person whose recent sentiment has declined.
type DriftFlag struct {
	PersonID   string  `json:"person_id"`
	Name       string  `json:"name"`
	Trend      string  `json:"trend"`
	Delta      float64 `json:"delta"`       // avg(recent half) - avg(older half)
	RecentAvg  float64 `json:"recent_avg"`  // Mean score of the recent half
	OlderAvg   float64 `json:"older_avg"`   // Mean score of the older half
	ScoreCount int     `json:"score_count"` // Scores considered in the window
}

// SentimentDrift flags people whose sentiment trend is declining past the
// configured threshold. The score list is split at its count midpoint, not by
// calendar time, so sparse and dense histories are treated alike. Results
// sort worst delta first.
func (a *AnomalyEngine) SentimentDrift(ctx context.Context) ([]DriftFlag, error) {
	window := time.Duration(a.cfg.Drift.WindowDays) * 24 * time.Hour
	var flags []DriftFlag

	for _, person := range a.registry.All() {
		if person.Category == types.CategorySelf {
			continue
		}

		scores, err := a.store.SentimentForPerson(ctx, person.ID, window)
		if err != nil {
			a.log.Warn().Err(err).Str("person_id", person.ID).Msg("skipping person in drift analysis")
			continue
		}
		if len(scores) < a.cfg.Drift.MinCount {
			continue
		}

		// Scores arrive newest-first. The first half is the recent half.
		mid := len(scores) / 2
		recentAvg := meanScore(scores[:mid])
		olderAvg := meanScore(scores[mid:])
		delta := recentAvg - olderAvg

		trend := TrendStable
		switch {
		case delta > trendBand:
			trend = TrendImproving
		case delta < -trendBand:
			trend = TrendDeclining
		}

		if trend != TrendDeclining || delta > a.cfg.Drift.DeclineThreshold {
			continue
		}

		flags = append(flags, DriftFlag{
			PersonID:   person.ID,
			Name:       person.CanonicalName,
			Trend:      trend,
			Delta:      delta,
			RecentAvg:  recentAvg,
			OlderAvg:   olderAvg,
			ScoreCount: len(scores),
		})
	}

	sort.Slice(flags, func(i, j int) bool {
		return flags[i].Delta < flags[j].Delta
	})
	return flags, nil
}

func meanScore(scores []*types.SentimentScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s.Score
	}
	return sum / float64(len(scores))
}
