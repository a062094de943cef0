package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kithlabs/kith/pkg/types"
)

func TestGapFlagsWeeklyContactGoneQuiet(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)

	// Six weekly emails, last contact 21 days ago: cadence is 7 days, the
	// default multiplier is 2.0, so 21 > 14 flags.
	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		record(t, e, p.ID, types.SourceEmail, fmt.Sprintf("m%d", i), now.AddDate(0, 0, -21-7*i))
	}

	flags, err := e.anomalies.CommunicationGaps(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 1)

	flag := flags[0]
	assert.Equal(t, p.ID, flag.PersonID)
	assert.GreaterOrEqual(t, flag.TypicalGapDays, 7.0)
	assert.InDelta(t, 21, flag.DaysSince, 0.1)
	assert.InDelta(t, 3.0, flag.Severity, 0.1)
}

func TestGapBoundaryIsExclusive(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)

	// Weekly cadence with the last contact just inside typical*multiplier:
	// 14 days minus an hour must not flag, a day past must.
	now := time.Now().UTC()
	last := now.Add(-14*24*time.Hour + time.Hour)
	for i := 0; i < 6; i++ {
		record(t, e, p.ID, types.SourceEmail, fmt.Sprintf("m%d", i), last.AddDate(0, 0, -7*i))
	}

	flags, err := e.anomalies.CommunicationGaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, flags, "a gap at the boundary must not flag")
}

func TestGapRequiresMinimumHistory(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)

	// Three interactions are below the default minimum of four; a sparse
	// history is not a trustworthy cadence.
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		record(t, e, p.ID, types.SourceEmail, fmt.Sprintf("m%d", i), now.AddDate(0, 0, -30-7*i))
	}

	flags, err := e.anomalies.CommunicationGaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestGapSortsByTierThenSeverity(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := func(name string, cat types.PersonCategory, daysQuiet int) string {
		p := addPerson(t, e, name, name+"@example.com", cat)
		for i := 0; i < 6; i++ {
			record(t, e, p.ID, types.SourceEmail, fmt.Sprintf("%s-m%d", name, i), now.AddDate(0, 0, -daysQuiet-7*i))
		}
		return p.ID
	}
	work := seed("Marcus", types.CategoryWork, 35)
	family := seed("Ines", types.CategoryFamily, 21)

	flags, err := e.anomalies.CommunicationGaps(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, family, flags[0].PersonID, "family tier sorts before work even at lower severity")
	assert.Equal(t, work, flags[1].PersonID)
}

func TestGapSkipsExcludedAndSelf(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	self := addPerson(t, e, "Me", "me@example.com", types.CategorySelf)
	hidden := addPerson(t, e, "Hidden", "hidden@example.com", types.CategoryWork)
	e.cfg.Anomaly.Gap.ExcludedIDs = []string{hidden.ID}

	for i := 0; i < 6; i++ {
		ts := now.AddDate(0, 0, -40-7*i)
		record(t, e, self.ID, types.SourceEmail, fmt.Sprintf("s%d", i), ts)
		record(t, e, hidden.ID, types.SourceEmail, fmt.Sprintf("h%d", i), ts)
	}

	flags, err := e.anomalies.CommunicationGaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestDriftFlagsDecline(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)

	// Older half averages +0.5, recent half -0.2: delta -0.7 is declining
	// and beyond the default -0.2 threshold.
	now := time.Now().UTC()
	scores := []float64{-0.2, -0.2, -0.2, 0.5, 0.5, 0.5}
	for i, score := range scores {
		in := record(t, e, p.ID, types.SourceEmail, fmt.Sprintf("m%d", i), now.AddDate(0, 0, -i))
		require.NoError(t, e.RecordSentiment(ctx, &types.SentimentScore{
			InteractionID: in.ID,
			Score:         score,
			Magnitude:     0.8,
			ExtractedAt:   in.Timestamp,
		}))
	}

	flags, err := e.anomalies.SentimentDrift(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 1)

	flag := flags[0]
	assert.Equal(t, p.ID, flag.PersonID)
	assert.Equal(t, TrendDeclining, flag.Trend)
	assert.InDelta(t, -0.7, flag.Delta, 0.001)
	assert.Equal(t, 6, flag.ScoreCount)
}

func TestDriftIgnoresSparseAndStableHistories(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sparse := addPerson(t, e, "Sparse", "sparse@example.com", types.CategoryWork)
	for i, score := range []float64{-0.8, 0.6} {
		in := record(t, e, sparse.ID, types.SourceEmail, fmt.Sprintf("sp%d", i), now.AddDate(0, 0, -i))
		require.NoError(t, e.RecordSentiment(ctx, &types.SentimentScore{
			InteractionID: in.ID, Score: score, Magnitude: 0.5, ExtractedAt: in.Timestamp,
		}))
	}

	stable := addPerson(t, e, "Stable", "stable@example.com", types.CategoryWork)
	for i := 0; i < 6; i++ {
		in := record(t, e, stable.ID, types.SourceEmail, fmt.Sprintf("st%d", i), now.AddDate(0, 0, -i))
		require.NoError(t, e.RecordSentiment(ctx, &types.SentimentScore{
			InteractionID: in.ID, Score: 0.3, Magnitude: 0.5, ExtractedAt: in.Timestamp,
		}))
	}

	flags, err := e.anomalies.SentimentDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestMeetingOverloadSumsTimedEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	for i, dur := range []int{240, 240} {
		_, _, err := e.RecordInteraction(ctx, &types.Interaction{
			PersonID:        p.ID,
			Timestamp:       day.Add(time.Duration(9+i*5) * time.Hour),
			SourceType:      types.SourceCalendar,
			Title:           "working session",
			SourceID:        fmt.Sprintf("evt-%d", i),
			DurationMinutes: dur,
		})
		require.NoError(t, err)
	}
	// An all-day event on the same day carries no time span and must not
	// count toward the total.
	_, _, err := e.RecordInteraction(ctx, &types.Interaction{
		PersonID:   p.ID,
		Timestamp:  day.Add(8 * time.Hour),
		SourceType: types.SourceCalendar,
		Title:      "offsite",
		SourceID:   "evt-allday",
		AllDay:     true,
	})
	require.NoError(t, err)

	flag, err := e.anomalies.MeetingLoad(ctx, day)
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.Equal(t, 8.0, flag.TotalHours)
	assert.Equal(t, 2, flag.EventCount)
	assert.Len(t, flag.Events, 2)
}

func TestMeetingLoadUnderThreshold(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := addPerson(t, e, "Dana Velez", "dana@example.com", types.CategoryWork)

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	_, _, err := e.RecordInteraction(ctx, &types.Interaction{
		PersonID:        p.ID,
		Timestamp:       day.Add(10 * time.Hour),
		SourceType:      types.SourceCalendar,
		Title:           "standup",
		SourceID:        "evt-1",
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	flag, err := e.anomalies.MeetingLoad(ctx, day)
	require.NoError(t, err)
	assert.Nil(t, flag)
}

func TestAnomalyReportBundlesAnalyzers(t *testing.T) {
	e := newTestEngine(t)
	report := e.Anomalies(context.Background(), time.Now().UTC())
	require.NotNil(t, report)
	assert.Empty(t, report.Gaps)
	assert.Empty(t, report.Drifts)
	assert.Nil(t, report.MeetingLoad)
}
