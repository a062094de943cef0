package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/pkg/types"
)

// fakeResolver maps ids through a static forward table; ids in live are
// canonical, everything else fails resolution.
type fakeResolver struct {
	forward map[string]string
	live    map[string]bool
}

func (f *fakeResolver) CanonicalID(id string) (string, bool) {
	for {
		next, ok := f.forward[id]
		if !ok {
			break
		}
		id = next
	}
	return id, f.live[id]
}

func newTestStore(t *testing.T, resolver *fakeResolver) *LedgerStore {
	t.Helper()
	store, err := NewLedgerStore(":memory:", resolver)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func liveResolver(ids ...string) *fakeResolver {
	r := &fakeResolver{forward: map[string]string{}, live: map[string]bool{}}
	for _, id := range ids {
		r.live[id] = true
	}
	return r
}

func mkInteraction(person string, st types.SourceType, sourceID string, ts time.Time) *types.Interaction {
	return &types.Interaction{
		PersonID:   person,
		Timestamp:  ts,
		SourceType: st,
		Title:      "touchpoint",
		SourceID:   sourceID,
	}
}

func TestAddInteractionResolvesCanonicalID(t *testing.T) {
	resolver := liveResolver("per:primary")
	resolver.forward["per:old"] = "per:primary"
	store := newTestStore(t, resolver)
	ctx := context.Background()

	in := mkInteraction("per:old", types.SourceEmail, "m1", time.Now().UTC())
	if err := store.AddInteraction(ctx, in); err != nil {
		t.Fatalf("AddInteraction failed: %v", err)
	}
	if in.PersonID != "per:primary" {
		t.Errorf("person_id should be rewritten to the canonical id, got %s", in.PersonID)
	}

	got, err := store.GetInteraction(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetInteraction failed: %v", err)
	}
	if got.PersonID != "per:primary" {
		t.Errorf("stored person_id: got %s, want per:primary", got.PersonID)
	}
}

func TestAddInteractionUnresolvablePerson(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))

	err := store.AddInteraction(context.Background(),
		mkInteraction("per:ghost", types.SourceEmail, "m1", time.Now().UTC()))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unresolvable person should yield ErrNotFound, got %v", err)
	}
}

func TestDuplicateSourceKeyConflict(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.AddInteraction(ctx, mkInteraction("per:p1", types.SourceEmail, "m1", now)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := store.AddInteraction(ctx, mkInteraction("per:p1", types.SourceEmail, "m1", now))
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate key on the non-dedup path should yield ErrConflict, got %v", err)
	}
}

func TestSharedSourceKeyAcrossPeople(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1", "per:p2"))
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.AddInteraction(ctx, mkInteraction("per:p1", types.SourceCalendar, "evt-1", now)); err != nil {
		t.Fatalf("first attendee insert failed: %v", err)
	}
	if err := store.AddInteraction(ctx, mkInteraction("per:p2", types.SourceCalendar, "evt-1", now)); err != nil {
		t.Errorf("second attendee of the same event should insert cleanly, got %v", err)
	}
}

func TestAddIfNotExistsDeduplicates(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))
	ctx := context.Background()

	now := time.Now().UTC()
	first, added, err := store.AddInteractionIfNotExists(ctx, mkInteraction("per:p1", types.SourceEmail, "m1", now))
	if err != nil || !added {
		t.Fatalf("first call: added=%v err=%v", added, err)
	}

	second, added, err := store.AddInteractionIfNotExists(ctx, mkInteraction("per:p1", types.SourceEmail, "m1", now))
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if added {
		t.Error("second call should report was_added=false")
	}
	if second.ID != first.ID {
		t.Errorf("second call should return the stored row: got %s, want %s", second.ID, first.ID)
	}

	counts, err := store.InteractionCounts(ctx, "per:p1", 0)
	if err != nil {
		t.Fatalf("InteractionCounts failed: %v", err)
	}
	if counts[types.SourceEmail] != 1 {
		t.Errorf("ledger count should stay 1, got %d", counts[types.SourceEmail])
	}
}

func TestListInteractionsNewestFirstAndCapped(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		in := mkInteraction("per:p1", types.SourceMessage, "", base.Add(time.Duration(i)*time.Hour))
		if err := store.AddInteraction(ctx, in); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	got, err := store.ListInteractions(ctx, "per:p1", storage.InteractionFilter{Limit: 3})
	if err != nil {
		t.Fatalf("ListInteractions failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("limit not applied: got %d rows", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Error("results are not newest-first")
		}
	}
}

func TestListInteractionsFilterModesExclusive(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))

	_, err := store.ListInteractions(context.Background(), "per:p1", storage.InteractionFilter{
		Window:    24 * time.Hour,
		ExactDate: time.Now(),
	})
	if !errors.Is(err, storage.ErrValidation) {
		t.Errorf("window+exact_date should fail validation, got %v", err)
	}
}

func TestListInteractionsExactDate(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))
	ctx := context.Background()

	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	inDay := mkInteraction("per:p1", types.SourceCalendar, "e1", day.Add(9*time.Hour))
	nextDay := mkInteraction("per:p1", types.SourceCalendar, "e2", day.Add(25*time.Hour))
	for _, in := range []*types.Interaction{inDay, nextDay} {
		if err := store.AddInteraction(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListInteractions(ctx, "per:p1", storage.InteractionFilter{ExactDate: day.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("ListInteractions failed: %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "e1" {
		t.Errorf("exact-date filter should select only that day, got %d rows", len(got))
	}
}

func TestListInteractionsUnknownPersonIsEmpty(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))

	got, err := store.ListInteractions(context.Background(), "per:ghost", storage.InteractionFilter{})
	if err != nil {
		t.Fatalf("unknown person should not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("unknown person should get an empty slice, got %d rows", len(got))
	}
}

func TestRelationshipPairNormalization(t *testing.T) {
	store := newTestStore(t, liveResolver("per:a", "per:b"))
	ctx := context.Background()

	seen := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	created, err := store.ApplyEdgeUpdate(ctx, "per:b", "per:a", storage.EdgeUpdate{
		Context:  types.SourceCalendar,
		Evidence: types.EvidenceCounts{SharedEvents: 2},
		SeenAt:   seen,
	})
	if err != nil {
		t.Fatalf("ApplyEdgeUpdate failed: %v", err)
	}
	if !created {
		t.Error("first update should create the edge")
	}

	ab, err := store.GetBetween(ctx, "per:a", "per:b")
	if err != nil {
		t.Fatalf("GetBetween(a,b) failed: %v", err)
	}
	ba, err := store.GetBetween(ctx, "per:b", "per:a")
	if err != nil {
		t.Fatalf("GetBetween(b,a) failed: %v", err)
	}
	if ab.PersonAID != ba.PersonAID || ab.PersonBID != ba.PersonBID {
		t.Error("GetBetween should be order-independent")
	}
	if ab.PersonAID != "per:a" {
		t.Errorf("pair should be stored smaller-id-first, got a=%s", ab.PersonAID)
	}
	if ab.Evidence.SharedEvents != 2 {
		t.Errorf("SharedEvents: got %d, want 2", ab.Evidence.SharedEvents)
	}
}

func TestApplyEdgeUpdateIncrements(t *testing.T) {
	store := newTestStore(t, liveResolver("per:a", "per:b"))
	ctx := context.Background()

	t1 := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.AddDate(0, 0, 14)

	if _, err := store.ApplyEdgeUpdate(ctx, "per:a", "per:b", storage.EdgeUpdate{
		Context: types.SourceCalendar, Evidence: types.EvidenceCounts{SharedEvents: 2}, SeenAt: t1,
	}); err != nil {
		t.Fatal(err)
	}
	created, err := store.ApplyEdgeUpdate(ctx, "per:a", "per:b", storage.EdgeUpdate{
		Context: types.SourceEmail, Evidence: types.EvidenceCounts{SharedThreads: 3}, SeenAt: t2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second update should not create a new edge")
	}

	rel, err := store.GetBetween(ctx, "per:a", "per:b")
	if err != nil {
		t.Fatal(err)
	}
	if rel.Evidence.SharedEvents != 2 || rel.Evidence.SharedThreads != 3 {
		t.Errorf("evidence: got %+v", rel.Evidence)
	}
	if len(rel.SharedContexts) != 2 {
		t.Errorf("shared contexts should accumulate: got %v", rel.SharedContexts)
	}
	if !rel.FirstSeenTogether.Equal(t1) || !rel.LastSeenTogether.Equal(t2) {
		t.Errorf("seen-together range: got [%v, %v]", rel.FirstSeenTogether, rel.LastSeenTogether)
	}
}

func TestSelfEdgeRejected(t *testing.T) {
	store := newTestStore(t, liveResolver("per:a"))

	_, err := store.ApplyEdgeUpdate(context.Background(), "per:a", "per:a", storage.EdgeUpdate{})
	if !errors.Is(err, storage.ErrValidation) {
		t.Errorf("self-edge should fail validation, got %v", err)
	}
}

func TestSentimentUpsertAndLabelDerivation(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))
	ctx := context.Background()

	in := mkInteraction("per:p1", types.SourceEmail, "m1", time.Now().UTC())
	if err := store.AddInteraction(ctx, in); err != nil {
		t.Fatal(err)
	}

	if err := store.PutSentiment(ctx, &types.SentimentScore{
		InteractionID: in.ID,
		Score:         0.6,
		Magnitude:     0.5,
	}); err != nil {
		t.Fatalf("PutSentiment failed: %v", err)
	}

	got, err := store.SentimentForInteraction(ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != types.SentimentPositive {
		t.Errorf("label should derive from score: got %q", got.Label)
	}
	if got.PersonID != "per:p1" {
		t.Errorf("person_id should denormalize from the interaction: got %s", got.PersonID)
	}

	// Re-analysis replaces the row rather than adding a second one.
	if err := store.PutSentiment(ctx, &types.SentimentScore{
		InteractionID: in.ID,
		Score:         -0.8,
	}); err != nil {
		t.Fatal(err)
	}
	scores, err := store.SentimentForPerson(ctx, "per:p1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 1 {
		t.Fatalf("interaction_id must stay unique: got %d rows", len(scores))
	}
	if scores[0].Label != types.SentimentNegative {
		t.Errorf("replacement score label: got %q", scores[0].Label)
	}
}

func TestSentimentForMissingInteraction(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))

	err := store.PutSentiment(context.Background(), &types.SentimentScore{InteractionID: "int:ghost", Score: 0.1})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("scoring a missing interaction should yield ErrNotFound, got %v", err)
	}
}

func TestReassignPersonIsIdempotent(t *testing.T) {
	store := newTestStore(t, liveResolver("per:a", "per:b"))
	ctx := context.Background()

	for i, key := range []string{"m1", "m2"} {
		in := mkInteraction("per:a", types.SourceEmail, key, time.Now().UTC().Add(time.Duration(i)*time.Minute))
		if err := store.AddInteraction(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := store.ReassignPerson(ctx, "per:a", "per:b")
	if err != nil {
		t.Fatalf("ReassignPerson failed: %v", err)
	}
	if stats.Interactions != 2 {
		t.Errorf("first run should rewrite 2 rows, got %d", stats.Interactions)
	}

	stats, err = store.ReassignPerson(ctx, "per:a", "per:b")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Interactions != 0 {
		t.Errorf("second run should match no rows, got %d", stats.Interactions)
	}
}

func TestCheckIntegrityFindsOrphans(t *testing.T) {
	resolver := liveResolver("per:a")
	store := newTestStore(t, resolver)
	ctx := context.Background()

	if err := store.AddInteraction(ctx, mkInteraction("per:a", types.SourceEmail, "m1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	// Simulate a person deleted underneath the ledger.
	delete(resolver.live, "per:a")

	report, err := store.CheckIntegrity(ctx)
	if err != nil {
		t.Fatalf("CheckIntegrity failed: %v", err)
	}
	if report.Empty() {
		t.Fatal("orphaned rows should be reported")
	}
	if len(report.InteractionOrphans) != 1 || report.InteractionOrphans[0] != "per:a" {
		t.Errorf("InteractionOrphans: got %v", report.InteractionOrphans)
	}
}

func TestListOnDayExcludesAllDayEvents(t *testing.T) {
	store := newTestStore(t, liveResolver("per:p1"))
	ctx := context.Background()

	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	timed := mkInteraction("per:p1", types.SourceCalendar, "e1", day.Add(10*time.Hour))
	timed.DurationMinutes = 240
	allDay := mkInteraction("per:p1", types.SourceCalendar, "e2", day)
	allDay.AllDay = true

	for _, in := range []*types.Interaction{timed, allDay} {
		if err := store.AddInteraction(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListOnDay(ctx, day)
	if err != nil {
		t.Fatalf("ListOnDay failed: %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "e1" {
		t.Errorf("ListOnDay should return only timed events, got %d rows", len(got))
	}
}
