// Package types defines the core data structures for the kith relationship
// intelligence engine. These types represent canonical people, interactions,
// relationship edges, and sentiment scores, along with the closed enumerations
// used across the storage and analytics layers.
package types

// SourceType identifies the channel an interaction was observed on.
type SourceType string

// Interaction source channel constants
const (
	// SourceEmail indicates an email message
	SourceEmail SourceType = "email"

	// SourceCalendar indicates a calendar event
	SourceCalendar SourceType = "calendar"

	// SourceNote indicates a mention inside a free-text note
	SourceNote SourceType = "note"

	// SourceMessage indicates an instant message
	SourceMessage SourceType = "message"

	// SourceSocial indicates an imported social-network record
	SourceSocial SourceType = "social"
)

// ValidSourceTypes is a slice of all valid source types for validation
var ValidSourceTypes = []SourceType{
	SourceEmail,
	SourceCalendar,
	SourceNote,
	SourceMessage,
	SourceSocial,
}

// IsValidSourceType checks if the given source type is valid
func IsValidSourceType(st SourceType) bool {
	for _, valid := range ValidSourceTypes {
		if valid == st {
			return true
		}
	}
	return false
}

// PersonCategory classifies a canonical person relative to the user.
type PersonCategory string

// Person category constants
const (
	CategorySelf     PersonCategory = "self"     // The user themselves
	CategoryFamily   PersonCategory = "family"   // Family members
	CategoryWork     PersonCategory = "work"     // Professional contacts
	CategoryPersonal PersonCategory = "personal" // Friends and personal contacts
	CategoryUnknown  PersonCategory = "unknown"  // Not yet classified
)

// ValidPersonCategories is a slice of all valid person categories for validation
var ValidPersonCategories = []PersonCategory{
	CategorySelf,
	CategoryFamily,
	CategoryWork,
	CategoryPersonal,
	CategoryUnknown,
}

// IsValidPersonCategory checks if the given category is valid
func IsValidPersonCategory(c PersonCategory) bool {
	for _, valid := range ValidPersonCategories {
		if valid == c {
			return true
		}
	}
	return false
}

// CategoryTier returns the anomaly-detection tier for a category. Lower tiers
// expect tighter communication cadence and sort first in gap reports.
func CategoryTier(c PersonCategory) int {
	switch c {
	case CategorySelf:
		return 0
	case CategoryFamily:
		return 1
	case CategoryWork:
		return 2
	case CategoryPersonal:
		return 3
	default:
		return 4
	}
}

// RelationshipType classifies an edge between two canonical people.
type RelationshipType string

// Relationship type constants
const (
	RelCoworker RelationshipType = "coworker" // Evidence from work channels
	RelFamily   RelationshipType = "family"   // Explicitly marked family link
	RelFriend   RelationshipType = "friend"   // Explicitly marked friendship
	RelInferred RelationshipType = "inferred" // Discovered from co-occurrence only
)

// ValidRelationshipTypes is a slice of all valid relationship types for validation
var ValidRelationshipTypes = []RelationshipType{
	RelCoworker,
	RelFamily,
	RelFriend,
	RelInferred,
}

// IsValidRelationshipType checks if the given relationship type is valid
func IsValidRelationshipType(rt RelationshipType) bool {
	for _, valid := range ValidRelationshipTypes {
		if valid == rt {
			return true
		}
	}
	return false
}

// SentimentLabel classifies the tone of a single interaction.
type SentimentLabel string

// Sentiment label constants
const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// Score thresholds used when deriving a label from a raw score.
const (
	positiveLabelThreshold = 0.2
	negativeLabelThreshold = -0.2
)

// LabelForScore derives a sentiment label from a score in [-1, 1].
// Scores above +0.2 are positive, below -0.2 negative, otherwise neutral.
func LabelForScore(score float64) SentimentLabel {
	switch {
	case score > positiveLabelThreshold:
		return SentimentPositive
	case score < negativeLabelThreshold:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// IsValidSentimentLabel checks if the given sentiment label is valid
func IsValidSentimentLabel(l SentimentLabel) bool {
	return l == SentimentPositive || l == SentimentNeutral || l == SentimentNegative
}
