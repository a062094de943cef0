package types

import "time"

// MaxSentimentKeywords caps the keywords stored per sentiment score.
const MaxSentimentKeywords = 5

// SentimentScore holds the tone analysis for exactly one interaction.
// interaction_id is unique: re-analyzing an interaction replaces its row.
type SentimentScore struct {
	ID            string `json:"id"`             // Unique identifier (format: sen:uuid)
	InteractionID string `json:"interaction_id"` // The interaction this score belongs to
	PersonID      string `json:"person_id"`      // Denormalized person id for windowed queries

	Score     float64 `json:"score"`     // Polarity in [-1.0, 1.0]
	Magnitude float64 `json:"magnitude"` // Intensity in [0.0, 1.0]

	// Label is derived from Score via LabelForScore when not supplied
	// independently by the analyzer.
	Label SentimentLabel `json:"label"`

	Keywords []string `json:"keywords,omitempty"` // Up to MaxSentimentKeywords salient terms

	ExtractedAt time.Time `json:"extracted_at"` // When the analysis ran
}

// Normalize clamps score and magnitude to their ranges, derives a missing
// label, and truncates the keyword list to the cap.
func (s *SentimentScore) Normalize() {
	s.Score = clamp(s.Score, -1, 1)
	s.Magnitude = clamp(s.Magnitude, 0, 1)
	if s.Label == "" {
		s.Label = LabelForScore(s.Score)
	}
	if len(s.Keywords) > MaxSentimentKeywords {
		s.Keywords = s.Keywords[:MaxSentimentKeywords]
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
