// Package storage provides the storage contracts for the kith engine.
//
// The ledger layer is designed as small, focused interfaces that can be
// implemented independently and composed as needed; the SQLite and PostgreSQL
// backends each implement the full composed LedgerStore.
package storage

import (
	"context"
	"time"

	"github.com/kithlabs/kith/pkg/types"
)

// CanonicalResolver resolves a possibly merged-away person id to the live
// canonical id. The second return is false when the id does not resolve to a
// live person at all. The PersonRegistry is the canonical implementation.
type CanonicalResolver interface {
	CanonicalID(id string) (string, bool)
}

// InteractionStore records and queries timestamped touchpoints.
type InteractionStore interface {
	// AddInteraction persists one interaction, resolving its person_id
	// through the canonical resolver first. This resolution is what keeps
	// the ledger consistent across merges that happen after a connector
	// first observed the touchpoint. Returns ErrNotFound when the person id
	// cannot be resolved to a live person, and ErrConflict when the
	// person-scoped (source_type, source_id) key already exists.
	AddInteraction(ctx context.Context, in *types.Interaction) error

	// AddInteractionIfNotExists is the dedup-aware insert used by
	// connectors. When the person's (source_type, source_id) key already
	// exists it returns the stored row and wasAdded=false instead of an
	// error. The key is scoped per person: a shared calendar event yields
	// one row per attendee, which is what discovery groups on.
	AddInteractionIfNotExists(ctx context.Context, in *types.Interaction) (stored *types.Interaction, wasAdded bool, err error)

	// GetInteraction retrieves one interaction by id.
	// Returns ErrNotFound when it does not exist.
	GetInteraction(ctx context.Context, id string) (*types.Interaction, error)

	// ListInteractions returns a person's interactions newest-first,
	// filtered and capped per the filter. People with no data get an empty
	// slice, not an error.
	ListInteractions(ctx context.Context, personID string, filter InteractionFilter) ([]*types.Interaction, error)

	// InteractionCounts returns per-channel counts for a person within the
	// trailing window (zero window means all time). Used by the strength
	// scorer.
	InteractionCounts(ctx context.Context, personID string, window time.Duration) (map[types.SourceType]int, error)

	// ListBySource returns all interactions for one channel since the given
	// time, across all people, ordered by source_id then timestamp. Used by
	// discovery to group co-occurrences.
	ListBySource(ctx context.Context, st types.SourceType, since time.Time) ([]*types.Interaction, error)

	// ListOnDay returns all non-all-day calendar interactions on the given
	// UTC calendar day across all people. Used by the meeting-load analyzer.
	ListOnDay(ctx context.Context, day time.Time) ([]*types.Interaction, error)

	// DeleteInteractionsForPerson removes every interaction for a person and
	// returns the number of rows deleted.
	DeleteInteractionsForPerson(ctx context.Context, personID string) (int64, error)
}

// RelationshipStore maintains the undirected evidence-backed edge set.
// All pair arguments are normalized internally, so callers may pass the two
// ids in either order.
type RelationshipStore interface {
	// ApplyEdgeUpdate creates the edge if absent (with upd.InitialType) or
	// increments an existing one: evidence counters are added, the context
	// appended if new, and the seen-together range extended. Returns whether
	// the edge was created. A self-pair returns ErrValidation.
	ApplyEdgeUpdate(ctx context.Context, a, b string, upd EdgeUpdate) (created bool, err error)

	// PutEdge writes a complete edge row (upsert on the normalized pair).
	// Used by the merge coordinator when re-keying edges.
	PutEdge(ctx context.Context, rel *types.Relationship) error

	// GetBetween returns the edge between two people, order-independent.
	// Returns ErrNotFound when no edge exists.
	GetBetween(ctx context.Context, a, b string) (*types.Relationship, error)

	// RelationshipsFor returns every edge touching the given person.
	RelationshipsFor(ctx context.Context, personID string) ([]*types.Relationship, error)

	// DeleteEdge removes the edge between two people. Deleting a missing
	// edge is a no-op.
	DeleteEdge(ctx context.Context, a, b string) error
}

// SentimentStore holds one tone score per interaction.
type SentimentStore interface {
	// PutSentiment upserts a score keyed by interaction_id. The score is
	// normalized (clamped, label derived, keywords capped) before writing.
	PutSentiment(ctx context.Context, s *types.SentimentScore) error

	// SentimentForInteraction returns the score for one interaction.
	// Returns ErrNotFound when the interaction has no score.
	SentimentForInteraction(ctx context.Context, interactionID string) (*types.SentimentScore, error)

	// SentimentForPerson returns a person's scores newest-first within the
	// trailing window (zero window means all time).
	SentimentForPerson(ctx context.Context, personID string, window time.Duration) ([]*types.SentimentScore, error)
}

// ReassignStats reports how many rows a bulk re-point touched.
type ReassignStats struct {
	Interactions int64 // interactions rows rewritten
	Sentiments   int64 // sentiment_scores rows rewritten
}

// LedgerStore composes the full embedded-store contract plus the
// cross-cutting operations the merge coordinator and integrity audit need.
type LedgerStore interface {
	InteractionStore
	RelationshipStore
	SentimentStore

	// ReassignPerson bulk-rewrites interaction and sentiment rows from one
	// person id to another. Running it twice is harmless: the second run
	// matches no rows.
	ReassignPerson(ctx context.Context, fromID, toID string) (ReassignStats, error)

	// CheckIntegrity scans stored person ids and reports the ones the
	// resolver cannot resolve. Orphans are reported, never repaired.
	CheckIntegrity(ctx context.Context) (*OrphanReport, error)

	// Close releases any resources held by the store.
	Close() error
}
