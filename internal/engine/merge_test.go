package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/pkg/types"
)

func TestMergeFoldsSecondaryIntoPrimary(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	primary := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	secondary := addPerson(t, e, "D. Velez", "dvelez@corp.example.com", types.CategoryWork)

	now := time.Now().UTC()
	record(t, e, primary.ID, types.SourceEmail, "m1", now.AddDate(0, 0, -1))
	record(t, e, secondary.ID, types.SourceEmail, "m2", now.AddDate(0, 0, -2))
	record(t, e, secondary.ID, types.SourceCalendar, "evt-1", now.AddDate(0, 0, -3))

	stats, err := e.Merge(ctx, primary.ID, secondary.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.InteractionsRepointed)

	// Secondary's interactions now list under the primary.
	rows, err := e.ListInteractions(ctx, primary.ID, storage.InteractionFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// The dead id forwards to the surviving person.
	canonical, alive := e.Registry().CanonicalID(secondary.ID)
	assert.True(t, alive)
	assert.Equal(t, primary.ID, canonical)
	forwarded, ok := e.Registry().GetByID(secondary.ID)
	require.True(t, ok)
	assert.Equal(t, primary.ID, forwarded.ID)

	// Identity fields were unioned.
	merged, _ := e.Registry().GetByID(primary.ID)
	assert.Contains(t, merged.Aliases, "D. Velez")
	assert.Contains(t, merged.Emails, "dvelez@corp.example.com")
	assert.Equal(t, 2, merged.Counters.Emails)
	assert.Equal(t, 1, merged.Counters.Meetings)

	// The merge ends with a fresh strength on the primary.
	assert.Greater(t, stats.NewStrength, 0.0)
	assert.Equal(t, stats.NewStrength, merged.RelationshipStrength)
}

func TestMergeTwiceIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	primary := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	secondary := addPerson(t, e, "D. Velez", "dvelez@corp.example.com", types.CategoryWork)

	now := time.Now().UTC()
	record(t, e, secondary.ID, types.SourceEmail, "m2", now.AddDate(0, 0, -2))

	_, err := e.Merge(ctx, primary.ID, secondary.ID)
	require.NoError(t, err)
	after, _ := e.Registry().GetByID(primary.ID)

	_, err = e.Merge(ctx, primary.ID, secondary.ID)
	require.Error(t, err, "repeating a merge must fail validation")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "validate", mergeErr.Step)

	// No state moved on the second attempt.
	again, _ := e.Registry().GetByID(primary.ID)
	assert.Equal(t, after.Counters, again.Counters, "counters must not double-sum")
	canonical, _ := e.Registry().CanonicalID(secondary.ID)
	assert.Equal(t, primary.ID, canonical, "forward-map entry must be stable")

	rows, err := e.ListInteractions(ctx, primary.ID, storage.InteractionFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMergeRelinksEdges(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	primary := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	secondary := addPerson(t, e, "D. Velez", "dvelez@corp.example.com", types.CategoryWork)
	shared := addPerson(t, e, "Marcus Okafor", "marcus@example.com", types.CategoryWork)
	solo := addPerson(t, e, "Priya Shah", "priya@example.com", types.CategoryWork)

	now := time.Now().UTC()
	putEdge := func(a, b string, events int) {
		_, err := e.Store().ApplyEdgeUpdate(ctx, a, b, storage.EdgeUpdate{
			Context:  types.SourceCalendar,
			Evidence: types.EvidenceCounts{SharedEvents: events},
			SeenAt:   now,
		})
		require.NoError(t, err)
	}
	// Primary and secondary each know the shared contact; the secondary
	// also knows someone the primary does not, and the pair about to merge
	// has an edge between themselves.
	putEdge(primary.ID, shared.ID, 2)
	putEdge(secondary.ID, shared.ID, 3)
	putEdge(secondary.ID, solo.ID, 4)
	putEdge(primary.ID, secondary.ID, 1)

	stats, err := e.Merge(ctx, primary.ID, secondary.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EdgesMerged)
	assert.Equal(t, 1, stats.EdgesRekeyed)
	assert.Equal(t, 1, stats.EdgesDropped)

	// The two edges to the shared contact folded into one.
	folded, err := e.Store().GetBetween(ctx, primary.ID, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, folded.Evidence.SharedEvents)

	// The solo edge moved under the primary.
	moved, err := e.Store().GetBetween(ctx, primary.ID, solo.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, moved.Evidence.SharedEvents)

	// Nothing links the primary to itself, and the secondary has no edges.
	edges, err := e.Store().RelationshipsFor(ctx, secondary.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
	all, err := e.Store().RelationshipsFor(ctx, primary.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMergeValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)

	_, err := e.Merge(ctx, p.ID, p.ID)
	assert.ErrorIs(t, err, storage.ErrValidation, "self-merge must fail")

	_, err = e.Merge(ctx, p.ID, "per:nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = e.Merge(ctx, "per:nobody", p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "validate", mergeErr.Step)
	assert.Equal(t, "per:nobody", mergeErr.PrimaryID)
}

func TestMergeChainResolvesToFinalSurvivor(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	b := addPerson(t, e, "D. Velez", "dvelez@corp.example.com", types.CategoryWork)
	c := addPerson(t, e, "Dana V.", "dv@old.example.com", types.CategoryWork)

	// c merges into b, then b into a: the original c must resolve to a.
	_, err := e.Merge(ctx, b.ID, c.ID)
	require.NoError(t, err)
	_, err = e.Merge(ctx, a.ID, b.ID)
	require.NoError(t, err)

	canonical, alive := e.Registry().CanonicalID(c.ID)
	assert.True(t, alive)
	assert.Equal(t, a.ID, canonical)

	// Resolution is a fixed point.
	again, _ := e.Registry().CanonicalID(canonical)
	assert.Equal(t, canonical, again)
}

func TestRecordInteractionAfterMergeLandsOnPrimary(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	primary := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	secondary := addPerson(t, e, "D. Velez", "dvelez@corp.example.com", types.CategoryWork)

	_, err := e.Merge(ctx, primary.ID, secondary.ID)
	require.NoError(t, err)

	// A connector still holding the dead id writes through to the survivor.
	stored, added, err := e.RecordInteraction(ctx, &types.Interaction{
		PersonID:   secondary.ID,
		Timestamp:  time.Now().UTC(),
		SourceType: types.SourceEmail,
		Title:      "late arrival",
		SourceID:   "m-late",
	})
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, primary.ID, stored.PersonID)
}
