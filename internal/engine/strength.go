package engine

import (
	"math"
	"time"

	"github.com/kithlabs/kith/internal/config"
	"github.com/kithlabs/kith/pkg/types"
)

// StrengthInputs carries everything the strength function needs. The function
// itself never touches storage; the Engine wrapper gathers these and calls it.
type StrengthInputs struct {
	// LastSeen is the most recent observation of the person. Zero means the
	// person has never been seen, which zeroes the recency component.
	LastSeen time.Time

	// Counts holds per-channel interaction counts within the rolling window.
	Counts map[types.SourceType]int

	// KnownSources is the full set of channels the system ingests from.
	// Diversity is measured against this set, not against the channels the
	// person happens to use.
	KnownSources []types.SourceType

	// Now anchors the recency calculation so repeated computation on
	// unchanged inputs is byte-identical.
	Now time.Time
}

// StrengthBreakdown is the computed score plus its components, useful for
// explaining why a score is what it is.
type StrengthBreakdown struct {
	Recency   float64 `json:"recency"`
	Frequency float64 `json:"frequency"`
	Diversity float64 `json:"diversity"`
	Strength  float64 `json:"strength"`
}

// ComputeStrength calculates a 0..1 relationship-strength score from weighted
// recency, frequency, and source diversity.
//
// recency decays linearly from 1 at the moment of last contact to 0 at
// RecencyWindowDays. frequency saturates at 1 once the source-weighted
// interaction count reaches FrequencyTarget. diversity is the fraction of
// known channels the person appears on. Missing signal (zero LastSeen, empty
// counts) produces a zero component, never an error.
func ComputeStrength(in StrengthInputs, cfg *config.ScoringConfig) StrengthBreakdown {
	var b StrengthBreakdown

	if !in.LastSeen.IsZero() && cfg.RecencyWindowDays > 0 {
		days := in.Now.Sub(in.LastSeen).Hours() / 24
		b.Recency = math.Max(0, 1-days/float64(cfg.RecencyWindowDays))
	}

	if cfg.FrequencyTarget > 0 {
		var weighted float64
		for st, count := range in.Counts {
			weight, ok := cfg.SourceWeights[st]
			if !ok {
				weight = 1.0
			}
			weighted += float64(count) * weight
		}
		b.Frequency = math.Min(1, weighted/cfg.FrequencyTarget)
	}

	if len(in.KnownSources) > 0 {
		used := 0
		for _, st := range in.KnownSources {
			if in.Counts[st] > 0 {
				used++
			}
		}
		b.Diversity = float64(used) / float64(len(in.KnownSources))
	}

	raw := b.Recency*cfg.RecencyWeight +
		b.Frequency*cfg.FrequencyWeight +
		b.Diversity*cfg.DiversityWeight

	b.Recency = round3(b.Recency)
	b.Frequency = round3(b.Frequency)
	b.Diversity = round3(b.Diversity)
	b.Strength = round3(raw)
	return b
}

// round3 rounds to 3 decimals so recomputation on unchanged inputs is stable.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
