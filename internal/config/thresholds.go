package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadThresholds overlays analytics thresholds from a YAML file onto the
// current configuration. Only the sections present in the file are replaced;
// unspecified sections keep their current values.
//
// Example file:
//
//	scoring:
//	  recency_window_days: 60
//	  recency_weight: 0.5
//	  frequency_weight: 0.3
//	  diversity_weight: 0.2
//	discovery:
//	  min_evidence:
//	    calendar: 2
//	    email: 3
//	anomaly:
//	  gap:
//	    multiplier: 2.5
func (c *Config) LoadThresholds(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read thresholds file: %w", err)
	}

	var overlay thresholdsFile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: thresholds file is not valid YAML: %w", err)
	}

	if overlay.Scoring != nil {
		applyScoring(&c.Scoring, overlay.Scoring)
	}
	if overlay.Discovery != nil {
		applyDiscovery(&c.Discovery, overlay.Discovery)
	}
	if overlay.Anomaly != nil {
		applyAnomaly(&c.Anomaly, overlay.Anomaly)
	}
	return nil
}

// applyScoring copies the non-zero fields of the overlay.
func applyScoring(dst, src *ScoringConfig) {
	if src.RecencyWindowDays > 0 {
		dst.RecencyWindowDays = src.RecencyWindowDays
	}
	if src.FrequencyTarget > 0 {
		dst.FrequencyTarget = src.FrequencyTarget
	}
	if src.RollingWindowDays > 0 {
		dst.RollingWindowDays = src.RollingWindowDays
	}
	// The three weights travel together: a file overriding one must
	// override all, otherwise the sum-to-1 validation fails anyway.
	if src.RecencyWeight > 0 || src.FrequencyWeight > 0 || src.DiversityWeight > 0 {
		dst.RecencyWeight = src.RecencyWeight
		dst.FrequencyWeight = src.FrequencyWeight
		dst.DiversityWeight = src.DiversityWeight
	}
	if len(src.SourceWeights) > 0 {
		for st, w := range src.SourceWeights {
			dst.SourceWeights[st] = w
		}
	}
	if src.CacheTTL > 0 {
		dst.CacheTTL = src.CacheTTL
	}
}

func applyDiscovery(dst, src *DiscoveryConfig) {
	if src.WindowDays > 0 {
		dst.WindowDays = src.WindowDays
	}
	if src.MaxGroupSize > 0 {
		dst.MaxGroupSize = src.MaxGroupSize
	}
	for st, minimum := range src.MinEvidence {
		dst.MinEvidence[st] = minimum
	}
}

func applyAnomaly(dst, src *AnomalyConfig) {
	if src.Gap.LookbackDays > 0 {
		dst.Gap.LookbackDays = src.Gap.LookbackDays
	}
	if src.Gap.MinInteractions > 0 {
		dst.Gap.MinInteractions = src.Gap.MinInteractions
	}
	if src.Gap.Multiplier > 0 {
		dst.Gap.Multiplier = src.Gap.Multiplier
	}
	for cat, days := range src.Gap.MinGapDays {
		dst.Gap.MinGapDays[cat] = days
	}
	if len(src.Gap.ExcludedIDs) > 0 {
		dst.Gap.ExcludedIDs = src.Gap.ExcludedIDs
	}

	if src.Drift.WindowDays > 0 {
		dst.Drift.WindowDays = src.Drift.WindowDays
	}
	if src.Drift.MinCount > 0 {
		dst.Drift.MinCount = src.Drift.MinCount
	}
	if src.Drift.DeclineThreshold < 0 {
		dst.Drift.DeclineThreshold = src.Drift.DeclineThreshold
	}

	if src.Meetings.ThresholdHours > 0 {
		dst.Meetings.ThresholdHours = src.Meetings.ThresholdHours
	}
}
