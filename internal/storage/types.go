package storage

import (
	"errors"
	"time"

	"github.com/kithlabs/kith/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation indicates that the input parameters are invalid.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a duplicate person-scoped (source_type,
	// source_id) insert
	// attempted outside the dedup-aware path.
	ErrConflict = errors.New("duplicate source key")

	// ErrDataIntegrity indicates a stored person_id that cannot be resolved
	// even through the forward map. Orphans are surfaced, never silently
	// dropped or auto-repaired.
	ErrDataIntegrity = errors.New("data integrity violation")
)

// MaxListLimit caps the number of interactions returned by a single list
// call, preventing unbounded responses for very active contacts.
const MaxListLimit = 500

// DefaultListLimit is applied when the caller does not request a limit.
const DefaultListLimit = 50

// InteractionFilter narrows interaction queries for one person.
// Window and ExactDate are mutually exclusive filter modes: Window selects a
// trailing period ending now, ExactDate selects one calendar day.
type InteractionFilter struct {
	// Window selects interactions newer than now-Window. Zero means no
	// trailing-window filter.
	Window time.Duration

	// ExactDate selects interactions on this calendar day (UTC). Zero value
	// means no exact-date filter.
	ExactDate time.Time

	// SourceType filters by channel. Empty string means all channels.
	SourceType types.SourceType

	// Limit caps the result count (default DefaultListLimit, max MaxListLimit).
	Limit int
}

// Normalize applies defaults and validates the filter. It returns
// ErrValidation when both Window and ExactDate are set.
func (f *InteractionFilter) Normalize() error {
	if f.Window > 0 && !f.ExactDate.IsZero() {
		return errors.Join(ErrValidation, errors.New("window and exact_date are mutually exclusive"))
	}
	if f.Limit < 1 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.SourceType != "" && !types.IsValidSourceType(f.SourceType) {
		return errors.Join(ErrValidation, errors.New("unknown source type"))
	}
	return nil
}

// EdgeUpdate describes one discovery increment applied to a relationship
// edge: which channel produced the evidence, how much, and when.
type EdgeUpdate struct {
	Context     types.SourceType       // Channel that produced the evidence
	Evidence    types.EvidenceCounts   // Counter increment to apply
	SeenAt      time.Time              // Co-occurrence timestamp extending the seen range
	InitialType types.RelationshipType // Type used only when the edge is created

	// ConfirmExternal marks the edge as backed by an imported
	// social-network connection. Once set it is never cleared.
	ConfirmExternal bool
}

// OrphanReport lists person ids found in a store that do not resolve to a
// live person even through the forward map.
type OrphanReport struct {
	InteractionOrphans []string // Distinct unresolvable person_ids in interactions
	SentimentOrphans   []string // Distinct unresolvable person_ids in sentiment_scores
	EdgeOrphans        []string // Distinct unresolvable endpoint ids in relationships
}

// Empty reports whether the audit found no orphans.
func (r *OrphanReport) Empty() bool {
	return len(r.InteractionOrphans) == 0 && len(r.SentimentOrphans) == 0 && len(r.EdgeOrphans) == 0
}
