package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kithlabs/kith/internal/registry"
	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/pkg/types"
)

// Merge step names reported on failure so an operator can retry by hand.
const (
	stepValidate = "validate"
	stepReassign = "reassign_rows"
	stepRelink   = "relink_edges"
	stepCommit   = "commit_registry"
	stepRescore  = "rescore_primary"
)

// MergeError reports which merge sub-step failed and for which pair, so a
// failed merge can be retried manually.
type MergeError struct {
	Step        string
	PrimaryID   string
	SecondaryID string
	Err         error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge of %s into %s failed at step %s: %v", e.SecondaryID, e.PrimaryID, e.Step, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// MergeStats reports what one merge touched.
type MergeStats struct {
	PrimaryID   string `json:"primary_id"`
	SecondaryID string `json:"secondary_id"`

	InteractionsRepointed int64 `json:"interactions_repointed"`
	SentimentsRepointed   int64 `json:"sentiments_repointed"`

	EdgesRekeyed int `json:"edges_rekeyed"` // Secondary edges moved under the primary
	EdgesMerged  int `json:"edges_merged"`  // Secondary edges folded into an existing primary edge
	EdgesDropped int `json:"edges_dropped"` // Would-be self-loops removed

	NewStrength float64 `json:"new_strength"` // Primary's strength after the merge
}

// MergeCoordinator folds one person record into another and re-points every
// dependent store. It is the only cross-cutting write in the engine and runs
// under one coarse mutex: merges are rare, administrative operations, and
// serializing them against each other keeps the re-point and commit sequence
// free of interleaving.
type MergeCoordinator struct {
	mu       sync.Mutex
	registry *registry.Registry
	store    storage.LedgerStore
	rescore  func(ctx context.Context, personID string) (float64, error)
	log      zerolog.Logger
}

// NewMergeCoordinator creates a merge coordinator. rescore recomputes and
// persists the primary's strength after a successful merge; nil disables the
// final rescore step.
func NewMergeCoordinator(reg *registry.Registry, store storage.LedgerStore, rescore func(ctx context.Context, personID string) (float64, error), log zerolog.Logger) *MergeCoordinator {
	return &MergeCoordinator{
		registry: reg,
		store:    store,
		rescore:  rescore,
		log:      log.With().Str("component", "merge").Logger(),
	}
}

// Merge folds secondaryID into primaryID. The ordering makes the operation
// all-or-nothing from a reader's point of view: ledger rows are re-pointed
// and edges re-linked first (both idempotent, and harmless to readers since
// reads resolve ids through the forward map), and only then does the registry
// commit the forward-map entry and delete the secondary. Any failure aborts
// before that commit, so a partial merge never leaves the secondary's data
// unreachable. Running the same merge twice fails validation on the second
// run with no state change.
func (m *MergeCoordinator) Merge(ctx context.Context, primaryID, secondaryID string) (*MergeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &MergeStats{PrimaryID: primaryID, SecondaryID: secondaryID}
	fail := func(step string, err error) (*MergeStats, error) {
		return stats, &MergeError{Step: step, PrimaryID: primaryID, SecondaryID: secondaryID, Err: err}
	}

	// Validate: both ids must be live, distinct people, and the secondary
	// must not already be merged away.
	if primaryID == "" || secondaryID == "" {
		return fail(stepValidate, fmt.Errorf("%w: both person IDs are required", storage.ErrValidation))
	}
	if primaryID == secondaryID {
		return fail(stepValidate, fmt.Errorf("%w: cannot merge a person into themselves", storage.ErrValidation))
	}
	canonSecondary, aliveSecondary := m.registry.CanonicalID(secondaryID)
	if !aliveSecondary {
		return fail(stepValidate, fmt.Errorf("%w: secondary person %s", storage.ErrNotFound, secondaryID))
	}
	if canonSecondary != secondaryID {
		return fail(stepValidate, fmt.Errorf("%w: person %s was already merged into %s", storage.ErrNotFound, secondaryID, canonSecondary))
	}
	primary, ok := m.registry.GetByID(primaryID)
	if !ok {
		return fail(stepValidate, fmt.Errorf("%w: primary person %s", storage.ErrNotFound, primaryID))
	}
	if primary.ID == secondaryID {
		return fail(stepValidate, fmt.Errorf("%w: %s and %s resolve to the same person", storage.ErrValidation, primaryID, secondaryID))
	}
	secondary, _ := m.registry.GetByID(secondaryID)

	merged := registry.MergeEntities(primary, secondary)

	reassign, err := m.store.ReassignPerson(ctx, secondary.ID, primary.ID)
	if err != nil {
		return fail(stepReassign, err)
	}
	stats.InteractionsRepointed = reassign.Interactions
	stats.SentimentsRepointed = reassign.Sentiments

	if err := m.relinkEdges(ctx, primary.ID, secondary.ID, stats); err != nil {
		return fail(stepRelink, err)
	}

	if err := m.registry.CommitMerge(merged, secondary.ID); err != nil {
		return fail(stepCommit, err)
	}

	m.log.Info().
		Str("primary_id", primary.ID).
		Str("secondary_id", secondary.ID).
		Int64("interactions_repointed", stats.InteractionsRepointed).
		Int("edges_rekeyed", stats.EdgesRekeyed).
		Int("edges_merged", stats.EdgesMerged).
		Msg("merge committed")

	// The merge itself is durable at this point; a rescore failure is
	// reported but does not undo it.
	if m.rescore != nil {
		strength, err := m.rescore(ctx, primary.ID)
		if err != nil {
			return fail(stepRescore, err)
		}
		stats.NewStrength = strength
	}
	return stats, nil
}

// relinkEdges moves every graph edge touching the secondary onto the primary.
// An edge to the primary itself would become a self-loop and is dropped; an
// edge whose other endpoint already links the primary is folded into that
// edge; everything else is re-keyed under the primary.
func (m *MergeCoordinator) relinkEdges(ctx context.Context, primaryID, secondaryID string, stats *MergeStats) error {
	edges, err := m.store.RelationshipsFor(ctx, secondaryID)
	if err != nil {
		return err
	}

	for _, edge := range edges {
		other := edge.Other(secondaryID)
		if other == "" {
			continue
		}

		if other == primaryID {
			if err := m.store.DeleteEdge(ctx, secondaryID, other); err != nil {
				return err
			}
			stats.EdgesDropped++
			continue
		}

		existing, err := m.store.GetBetween(ctx, primaryID, other)
		if err == nil {
			m.foldEdge(existing, edge)
			if err := m.store.PutEdge(ctx, existing); err != nil {
				return err
			}
			if err := m.store.DeleteEdge(ctx, secondaryID, other); err != nil {
				return err
			}
			stats.EdgesMerged++
			continue
		}
		if !isNotFound(err) {
			return err
		}

		if err := m.store.DeleteEdge(ctx, secondaryID, other); err != nil {
			return err
		}
		rekeyed := *edge
		rekeyed.PersonAID, rekeyed.PersonBID = types.NormalizePair(primaryID, other)
		rekeyed.UpdatedAt = time.Now().UTC()
		if err := m.store.PutEdge(ctx, &rekeyed); err != nil {
			return err
		}
		stats.EdgesRekeyed++
	}
	return nil
}

// foldEdge sums the absorbed edge's evidence and range into the surviving one.
func (m *MergeCoordinator) foldEdge(dst, src *types.Relationship) {
	dst.Evidence.Add(src.Evidence)
	for _, ctxName := range src.SharedContexts {
		if !dst.HasContext(ctxName) {
			dst.SharedContexts = append(dst.SharedContexts, ctxName)
		}
	}
	if !src.FirstSeenTogether.IsZero() &&
		(dst.FirstSeenTogether.IsZero() || src.FirstSeenTogether.Before(dst.FirstSeenTogether)) {
		dst.FirstSeenTogether = src.FirstSeenTogether
	}
	if src.LastSeenTogether.After(dst.LastSeenTogether) {
		dst.LastSeenTogether = src.LastSeenTogether
	}
	if src.ConfirmedExternal {
		dst.ConfirmedExternal = true
	}
	dst.UpdatedAt = time.Now().UTC()
}
