package types

import "time"

// Interaction represents one timestamped touchpoint with a canonical person.
// Interactions are never mutated after creation; merges rewrite person_id in
// bulk and bulk cleanup may delete rows, but individual rows are append-only.
type Interaction struct {
	// Core identification fields
	ID       string `json:"id"`        // Unique identifier (format: int:uuid)
	PersonID string `json:"person_id"` // Canonical person this touchpoint belongs to

	Timestamp  time.Time  `json:"timestamp"`   // When the touchpoint occurred
	SourceType SourceType `json:"source_type"` // Channel the touchpoint was observed on

	// Content fields
	Title   string `json:"title"`                 // Subject line, event title, or note heading
	Snippet string `json:"snippet,omitempty"`     // Short content excerpt
	Link    string `json:"source_link,omitempty"` // Deep link back to the source record

	// SourceID, together with SourceType, forms the deduplication key.
	// Connectors importing the same email or event twice hit the
	// AddInteractionIfNotExists path and get the existing row back.
	SourceID string `json:"source_id,omitempty"`

	// DurationMinutes is the event length for calendar interactions.
	// Zero for non-calendar sources; negative values are rejected.
	DurationMinutes int `json:"duration_minutes,omitempty"`

	// AllDay marks calendar events without a concrete time span. All-day
	// events are excluded from meeting-load accounting.
	AllDay bool `json:"all_day,omitempty"`

	CreatedAt time.Time `json:"created_at"` // When the row was written
}

// CounterDelta returns the per-channel counter increment this interaction
// contributes to its person's additive counters.
func (i *Interaction) CounterDelta() InteractionCounters {
	switch i.SourceType {
	case SourceEmail:
		return InteractionCounters{Emails: 1}
	case SourceCalendar:
		return InteractionCounters{Meetings: 1}
	case SourceNote:
		return InteractionCounters{Mentions: 1}
	case SourceMessage:
		return InteractionCounters{Messages: 1}
	default:
		return InteractionCounters{}
	}
}
