package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/kithlabs/kith/internal/config"
	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/pkg/types"
)

// Discoverer infers relationship edges from co-occurrence in the interaction
// ledger. Two people who keep appearing on the same calendar event, email
// thread, note, or message conversation probably know each other.
type Discoverer struct {
	store storage.LedgerStore
	cfg   *config.DiscoveryConfig
	log   zerolog.Logger
}

// NewDiscoverer creates a discoverer over the given ledger store.
func NewDiscoverer(store storage.LedgerStore, cfg *config.DiscoveryConfig, log zerolog.Logger) *Discoverer {
	return &Discoverer{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "discovery").Logger(),
	}
}

// DiscoveryStats summarizes one discovery run.
type DiscoveryStats struct {
	GroupsSeen      int `json:"groups_seen"`      // Co-occurrence groups examined
	GroupsSkipped   int `json:"groups_skipped"`   // Groups below 2 or above the size cap
	PairsConsidered int `json:"pairs_considered"` // Unordered pairs with any evidence
	EdgesCreated    int `json:"edges_created"`    // New edges written
	EdgesUpdated    int `json:"edges_updated"`    // Existing edges incremented
}

// pairKey identifies one unordered pair in normalized order.
type pairKey struct {
	a, b string
}

// pairEvidence accumulates one pair's co-occurrence count within a run.
type pairEvidence struct {
	count    int
	lastSeen time.Time
}

// discoverySources are the channels scanned for co-occurrence, in a fixed
// order so run output is deterministic.
var discoverySources = []types.SourceType{
	types.SourceCalendar,
	types.SourceEmail,
	types.SourceNote,
	types.SourceMessage,
	types.SourceSocial,
}

// Run executes one discovery pass over every source channel, looking back
// over the configured window. A failure on one channel is logged and the
// remaining channels still run.
func (d *Discoverer) Run(ctx context.Context) (*DiscoveryStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -d.cfg.WindowDays)
	stats := &DiscoveryStats{}

	for _, st := range discoverySources {
		if err := d.runSource(ctx, st, since, stats); err != nil {
			d.log.Error().Err(err).Str("source_type", string(st)).Msg("discovery pass failed for channel")
		}
	}
	return stats, nil
}

// runSource scans one channel: group interactions by their co-occurrence key,
// drop degenerate groups, accumulate pair evidence, then write edges for
// pairs that clear the channel's evidence floor.
func (d *Discoverer) runSource(ctx context.Context, st types.SourceType, since time.Time, stats *DiscoveryStats) error {
	rows, err := d.store.ListBySource(ctx, st, since)
	if err != nil {
		return fmt.Errorf("failed to list %s interactions: %w", st, err)
	}

	// Group by the external co-occurrence key: a shared event id, thread
	// id, note path, or conversation id. Rows without a key cannot place
	// two people together and are ignored.
	groups := make(map[string]map[string]time.Time)
	for _, in := range rows {
		if in.SourceID == "" {
			continue
		}
		members, ok := groups[in.SourceID]
		if !ok {
			members = make(map[string]time.Time)
			groups[in.SourceID] = members
		}
		if prev, ok := members[in.PersonID]; !ok || in.Timestamp.After(prev) {
			members[in.PersonID] = in.Timestamp
		}
	}

	pairs := make(map[pairKey]*pairEvidence)
	for _, members := range groups {
		stats.GroupsSeen++
		if len(members) < 2 || len(members) > d.cfg.MaxGroupSize {
			stats.GroupsSkipped++
			continue
		}

		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				key := pairKey{a: ids[i], b: ids[j]}
				ev, ok := pairs[key]
				if !ok {
					ev = &pairEvidence{}
					pairs[key] = ev
				}
				ev.count++
				seen := members[ids[i]]
				if members[ids[j]].After(seen) {
					seen = members[ids[j]]
				}
				if seen.After(ev.lastSeen) {
					ev.lastSeen = seen
				}
			}
		}
	}

	minimum := d.cfg.MinEvidence[st]
	if minimum < 1 {
		minimum = 1
	}

	// Apply in sorted order so repeated runs touch edges deterministically.
	keys := make([]pairKey, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].a != keys[j].a {
			return keys[i].a < keys[j].a
		}
		return keys[i].b < keys[j].b
	})

	for _, key := range keys {
		ev := pairs[key]
		stats.PairsConsidered++
		if ev.count < minimum {
			continue
		}

		upd := storage.EdgeUpdate{
			Context:         st,
			Evidence:        evidenceFor(st, ev.count),
			SeenAt:          ev.lastSeen,
			InitialType:     initialTypeFor(st),
			ConfirmExternal: st == types.SourceSocial,
		}
		created, err := d.store.ApplyEdgeUpdate(ctx, key.a, key.b, upd)
		if err != nil {
			d.log.Warn().Err(err).
				Str("person_a_id", key.a).
				Str("person_b_id", key.b).
				Str("source_type", string(st)).
				Msg("skipping pair, edge update failed")
			continue
		}
		if created {
			stats.EdgesCreated++
		} else {
			stats.EdgesUpdated++
		}
	}
	return nil
}

// evidenceFor maps a channel's co-occurrence count onto the edge counter that
// channel feeds. Social imports confirm an edge rather than count evidence.
func evidenceFor(st types.SourceType, count int) types.EvidenceCounts {
	switch st {
	case types.SourceCalendar:
		return types.EvidenceCounts{SharedEvents: count}
	case types.SourceEmail:
		return types.EvidenceCounts{SharedThreads: count}
	case types.SourceMessage:
		return types.EvidenceCounts{SharedMessages: count}
	case types.SourceNote:
		return types.EvidenceCounts{SharedMentions: count}
	default:
		return types.EvidenceCounts{}
	}
}

// initialTypeFor picks the type a newly discovered edge starts with. Work
// channels suggest coworkers; everything else starts as inferred.
func initialTypeFor(st types.SourceType) types.RelationshipType {
	switch st {
	case types.SourceCalendar, types.SourceEmail:
		return types.RelCoworker
	default:
		return types.RelInferred
	}
}
