package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kithlabs/kith/pkg/types"
)

func TestDiscoveryCreatesEdgeFromSharedEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	b := addPerson(t, e, "Marcus Okafor", "marcus@example.com", types.CategoryWork)

	now := time.Now().UTC()
	for i, eventID := range []string{"evt-1", "evt-2", "evt-3"} {
		ts := now.AddDate(0, 0, -7*(i+1))
		record(t, e, a.ID, types.SourceCalendar, eventID, ts)
		record(t, e, b.ID, types.SourceCalendar, eventID, ts)
	}

	stats, err := e.RunDiscovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EdgesCreated)
	assert.Equal(t, 0, stats.EdgesUpdated)

	edge, err := e.Store().GetBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, edge.Evidence.SharedEvents, "three shared events must yield a count of 3")
	assert.Equal(t, types.RelCoworker, edge.Type)
	assert.Contains(t, edge.SharedContexts, string(types.SourceCalendar))
	assert.False(t, edge.ConfirmedExternal)
}

func TestDiscoveryIgnoresLoneAttendees(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	b := addPerson(t, e, "Marcus Okafor", "marcus@example.com", types.CategoryWork)

	// Each event has a single attendee, so there is no co-occurrence.
	now := time.Now().UTC()
	record(t, e, a.ID, types.SourceCalendar, "evt-1", now.AddDate(0, 0, -1))
	record(t, e, b.ID, types.SourceCalendar, "evt-2", now.AddDate(0, 0, -2))

	stats, err := e.RunDiscovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EdgesCreated)
	assert.Equal(t, 2, stats.GroupsSkipped)
}

func TestDiscoveryRespectsEvidenceMinimum(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	b := addPerson(t, e, "Marcus Okafor", "marcus@example.com", types.CategoryWork)

	// One shared calendar event is below the default minimum of two.
	ts := time.Now().UTC().AddDate(0, 0, -3)
	record(t, e, a.ID, types.SourceCalendar, "evt-1", ts)
	record(t, e, b.ID, types.SourceCalendar, "evt-1", ts)

	stats, err := e.RunDiscovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EdgesCreated)
	assert.Equal(t, 1, stats.PairsConsidered)
}

func TestDiscoverySkipsOversizedGroups(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.Discovery.MaxGroupSize = 2
	ctx := context.Background()

	// A three-attendee event with a cap of two is the companywide-invite
	// case: skip it rather than generate pairs.
	ts := time.Now().UTC().AddDate(0, 0, -2)
	for _, name := range []string{"Dana Velez", "Marcus Okafor", "Priya Shah"} {
		p := addPerson(t, e, name, name+"@example.com", types.CategoryWork)
		record(t, e, p.ID, types.SourceCalendar, "all-hands", ts)
	}

	stats, err := e.RunDiscovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.GroupsSkipped)
	assert.Equal(t, 0, stats.PairsConsidered)
}

func TestDiscoverySocialConfirmsEdge(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	b := addPerson(t, e, "Marcus Okafor", "marcus@example.com", types.CategoryWork)

	// A single shared social-import record is enough to confirm a link.
	ts := time.Now().UTC().AddDate(0, 0, -1)
	record(t, e, a.ID, types.SourceSocial, "conn-9", ts)
	record(t, e, b.ID, types.SourceSocial, "conn-9", ts)

	_, err := e.RunDiscovery(ctx)
	require.NoError(t, err)

	edge, err := e.Store().GetBetween(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, edge.ConfirmedExternal)
	assert.Equal(t, types.RelInferred, edge.Type)
}

func TestDiscoveryUpdatesExistingEdge(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)
	b := addPerson(t, e, "Marcus Okafor", "marcus@example.com", types.CategoryWork)

	now := time.Now().UTC()
	for i, eventID := range []string{"evt-1", "evt-2"} {
		ts := now.AddDate(0, 0, -(i + 1))
		record(t, e, a.ID, types.SourceCalendar, eventID, ts)
		record(t, e, b.ID, types.SourceCalendar, eventID, ts)
	}
	stats, err := e.RunDiscovery(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.EdgesCreated)

	// Three shared email threads arrive later and land on the same edge.
	for i, threadID := range []string{"th-1", "th-2", "th-3"} {
		ts := now.AddDate(0, 0, -(i + 1))
		record(t, e, a.ID, types.SourceEmail, threadID, ts)
		record(t, e, b.ID, types.SourceEmail, threadID, ts)
	}
	stats, err = e.RunDiscovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EdgesCreated)
	assert.GreaterOrEqual(t, stats.EdgesUpdated, 1)

	edge, err := e.Store().GetBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, edge.Evidence.SharedThreads)
	assert.Contains(t, edge.SharedContexts, string(types.SourceEmail))
	assert.Contains(t, edge.SharedContexts, string(types.SourceCalendar))
}
