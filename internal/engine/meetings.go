package engine

import (
	"context"
	"time"

	"github.com/kithlabs/kith/pkg/types"
)

// MeetingLoadFlag reports a calendar day whose total timed-meeting hours
// reached the overload threshold.
type MeetingLoadFlag struct {
	Day        time.Time            `json:"day"`
	TotalHours float64              `json:"total_meeting_hours"`
	EventCount int                  `json:"event_count"`
	Events     []*types.Interaction `json:"events"`
}

// MeetingLoad sums the durations of every non-all-day calendar event on the
// given UTC day. It returns nil when the total stays under the threshold.
// All-day events carry no concrete time span and never count toward load.
func (a *AnomalyEngine) MeetingLoad(ctx context.Context, day time.Time) (*MeetingLoadFlag, error) {
	events, err := a.store.ListOnDay(ctx, day)
	if err != nil {
		return nil, err
	}

	var totalMinutes int
	counted := make([]*types.Interaction, 0, len(events))
	for _, ev := range events {
		if ev.DurationMinutes <= 0 {
			continue
		}
		totalMinutes += ev.DurationMinutes
		counted = append(counted, ev)
	}

	totalHours := float64(totalMinutes) / 60
	if totalHours < a.cfg.Meetings.ThresholdHours {
		return nil, nil
	}

	return &MeetingLoadFlag{
		Day:        day.UTC().Truncate(24 * time.Hour),
		TotalHours: totalHours,
		EventCount: len(counted),
		Events:     counted,
	}, nil
}
