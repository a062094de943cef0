package types

import (
	"time"
)

// InteractionCounters holds the additive per-channel counters on a person.
// Counters only ever increase, except when a person is deleted as the
// secondary side of a merge (they are summed into the primary first).
type InteractionCounters struct {
	Emails   int `json:"emails"`   // Email messages exchanged
	Meetings int `json:"meetings"` // Calendar events attended together
	Mentions int `json:"mentions"` // Mentions in notes
	Messages int `json:"messages"` // Instant messages exchanged
}

// Add sums another counter set into this one.
func (c *InteractionCounters) Add(other InteractionCounters) {
	c.Emails += other.Emails
	c.Meetings += other.Meetings
	c.Mentions += other.Mentions
	c.Messages += other.Messages
}

// PersonEntity is a canonical person record merged from many raw observations.
// The ID is stable and immutable once assigned; a person is destroyed only as
// the secondary side of a merge, after its data has been folded into the
// surviving primary.
type PersonEntity struct {
	// Core identification fields
	ID            string   `json:"id"`                     // Unique identifier (format: per:uuid)
	CanonicalName string   `json:"canonical_name"`         // Normalized full name
	DisplayName   string   `json:"display_name,omitempty"` // Preferred display name
	Aliases       []string `json:"aliases,omitempty"`      // Alternative names, including names from merged-away records

	// Contact points (emails deduped case-insensitively)
	Emails       []string `json:"emails,omitempty"`        // All known email addresses
	PhoneNumbers []string `json:"phone_numbers,omitempty"` // All known phone numbers
	PrimaryPhone string   `json:"primary_phone,omitempty"` // Designated primary phone

	// Profile fields (first non-empty value wins on merge)
	Company          string `json:"company,omitempty"`            // Current employer
	Position         string `json:"position,omitempty"`           // Role or title
	SocialProfileURL string `json:"social_profile_url,omitempty"` // Link to a social profile

	// Classification and organization
	Category PersonCategory `json:"category"`           // Closed-set category (self/family/work/personal/unknown)
	Contexts []string       `json:"contexts,omitempty"` // Vault/context tags
	Tags     []string       `json:"tags,omitempty"`     // User-defined tags
	Sources  []SourceType   `json:"sources,omitempty"`  // Channels that have contributed observations

	// Observation range
	FirstSeen time.Time `json:"first_seen,omitempty"` // Earliest observation
	LastSeen  time.Time `json:"last_seen,omitempty"`  // Most recent observation

	// Quality signals
	Counters   InteractionCounters `json:"counters"`             // Additive per-channel counters
	Confidence float64             `json:"confidence,omitempty"` // Resolution confidence (0.0-1.0)

	// Cached relationship strength (0.0-1.0), recomputed on demand.
	RelationshipStrength float64    `json:"relationship_strength"`         // Last computed strength
	StrengthUpdatedAt    *time.Time `json:"strength_updated_at,omitempty"` // When strength was last computed

	// Free-text notes (concatenated with a separator on merge)
	Notes string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"` // Creation timestamp
	UpdatedAt time.Time `json:"updated_at"` // Last update timestamp
}

