package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/pkg/types"
)

// interactionColumns is the scan order shared by every interaction query.
const interactionColumns = `
	id, person_id, timestamp, source_type, title, snippet, source_link,
	source_id, duration_minutes, all_day, created_at`

// validateInteraction checks the fields a connector must supply.
func validateInteraction(in *types.Interaction) error {
	if in == nil {
		return fmt.Errorf("%w: interaction is required", storage.ErrValidation)
	}
	if in.Timestamp.IsZero() {
		return fmt.Errorf("%w: interaction timestamp is required", storage.ErrValidation)
	}
	if !types.IsValidSourceType(in.SourceType) {
		return fmt.Errorf("%w: unknown source type %q", storage.ErrValidation, in.SourceType)
	}
	if in.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration cannot be negative", storage.ErrValidation)
	}
	return nil
}

// AddInteraction persists one interaction under the live canonical id for its
// person. Resolving before persisting is the single most important invariant
// in the ledger: it keeps rows consistent across merges that happened after
// the connector first observed the touchpoint.
func (s *LedgerStore) AddInteraction(ctx context.Context, in *types.Interaction) error {
	if err := validateInteraction(in); err != nil {
		return err
	}

	canonical, err := s.resolve(in.PersonID)
	if err != nil {
		return err
	}
	in.PersonID = canonical

	if in.ID == "" {
		in.ID = "int:" + uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (
			id, person_id, timestamp, source_type, title, snippet,
			source_link, source_id, duration_minutes, all_day, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID,
		in.PersonID,
		in.Timestamp,
		string(in.SourceType),
		in.Title,
		nullableString(in.Snippet),
		nullableString(in.Link),
		nullableString(in.SourceID),
		in.DurationMinutes,
		in.AllDay,
		in.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: (%s, %s) already recorded for %s", storage.ErrConflict, in.SourceType, in.SourceID, in.PersonID)
		}
		return fmt.Errorf("failed to store interaction: %w", err)
	}

	return nil
}

// AddInteractionIfNotExists is the dedup-aware insert used by connectors.
// A repeated (person_id, source_type, source_id) key returns the stored row
// with wasAdded=false instead of an error. The key is person-scoped: the same
// calendar event legitimately produces one row per attendee, and those rows
// are what co-occurrence discovery groups on.
func (s *LedgerStore) AddInteractionIfNotExists(ctx context.Context, in *types.Interaction) (*types.Interaction, bool, error) {
	if err := validateInteraction(in); err != nil {
		return nil, false, err
	}

	if in.SourceID != "" {
		canonical, err := s.resolve(in.PersonID)
		if err != nil {
			return nil, false, err
		}
		in.PersonID = canonical
		existing, err := s.getBySourceKey(ctx, canonical, in.SourceType, in.SourceID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}
	}

	if err := s.AddInteraction(ctx, in); err != nil {
		// A concurrent insert can still win the race between the existence
		// check and the insert; treat that as the dedup case.
		if errors.Is(err, storage.ErrConflict) && in.SourceID != "" {
			existing, lookupErr := s.getBySourceKey(ctx, in.PersonID, in.SourceType, in.SourceID)
			if lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	return in, true, nil
}

// getBySourceKey fetches the interaction stored under a dedup key.
func (s *LedgerStore) getBySourceKey(ctx context.Context, personID string, st types.SourceType, sourceID string) (*types.Interaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+interactionColumns+`
		FROM interactions
		WHERE person_id = ? AND source_type = ? AND source_id = ?`,
		personID, string(st), sourceID)
	return scanInteraction(row)
}

// GetInteraction retrieves one interaction by id.
func (s *LedgerStore) GetInteraction(ctx context.Context, id string) (*types.Interaction, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: interaction ID is required", storage.ErrValidation)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+interactionColumns+`
		FROM interactions
		WHERE id = ?`, id)
	return scanInteraction(row)
}

// ListInteractions returns a person's interactions newest-first. The person
// id is resolved through the forward map first, so listing a merged-away id
// returns the surviving person's rows.
func (s *LedgerStore) ListInteractions(ctx context.Context, personID string, filter storage.InteractionFilter) ([]*types.Interaction, error) {
	if err := filter.Normalize(); err != nil {
		return nil, err
	}

	canonical, ok := s.resolver.CanonicalID(personID)
	if !ok {
		// Read APIs return empty collections for unknown people.
		return []*types.Interaction{}, nil
	}

	query := `SELECT ` + interactionColumns + ` FROM interactions WHERE person_id = ?`
	args := []any{canonical}

	switch {
	case filter.Window > 0:
		query += ` AND timestamp >= ?`
		args = append(args, time.Now().UTC().Add(-filter.Window))
	case !filter.ExactDate.IsZero():
		dayStart := filter.ExactDate.UTC().Truncate(24 * time.Hour)
		query += ` AND timestamp >= ? AND timestamp < ?`
		args = append(args, dayStart, dayStart.Add(24*time.Hour))
	}

	if filter.SourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, string(filter.SourceType))
	}

	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, filter.Limit)

	return s.queryInteractions(ctx, query, args...)
}

// InteractionCounts returns per-channel counts for a person within the
// trailing window. A zero window means all time.
func (s *LedgerStore) InteractionCounts(ctx context.Context, personID string, window time.Duration) (map[types.SourceType]int, error) {
	counts := make(map[types.SourceType]int)

	canonical, ok := s.resolver.CanonicalID(personID)
	if !ok {
		return counts, nil
	}

	query := `SELECT source_type, COUNT(*) FROM interactions WHERE person_id = ?`
	args := []any{canonical}
	if window > 0 {
		query += ` AND timestamp >= ?`
		args = append(args, time.Now().UTC().Add(-window))
	}
	query += ` GROUP BY source_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan interaction count: %w", err)
		}
		counts[types.SourceType(st)] = n
	}
	return counts, rows.Err()
}

// ListBySource returns all interactions for one channel since the given time,
// ordered by source_id so discovery can group co-occurrences in one pass.
func (s *LedgerStore) ListBySource(ctx context.Context, st types.SourceType, since time.Time) ([]*types.Interaction, error) {
	if !types.IsValidSourceType(st) {
		return nil, fmt.Errorf("%w: unknown source type %q", storage.ErrValidation, st)
	}
	return s.queryInteractions(ctx, `
		SELECT `+interactionColumns+`
		FROM interactions
		WHERE source_type = ? AND timestamp >= ? AND source_id IS NOT NULL
		ORDER BY source_id, timestamp`,
		string(st), since)
}

// ListOnDay returns every non-all-day calendar interaction on the given UTC
// calendar day, across all people.
func (s *LedgerStore) ListOnDay(ctx context.Context, day time.Time) ([]*types.Interaction, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	return s.queryInteractions(ctx, `
		SELECT `+interactionColumns+`
		FROM interactions
		WHERE source_type = ? AND all_day = 0 AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp`,
		string(types.SourceCalendar), dayStart, dayStart.Add(24*time.Hour))
}

// DeleteInteractionsForPerson removes every interaction for a person,
// including rows still stored under merged-away ids that resolve to them.
func (s *LedgerStore) DeleteInteractionsForPerson(ctx context.Context, personID string) (int64, error) {
	canonical, ok := s.resolver.CanonicalID(personID)
	if !ok {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM interactions WHERE person_id = ?`, canonical)
	if err != nil {
		return 0, fmt.Errorf("failed to delete interactions: %w", err)
	}
	return res.RowsAffected()
}

// queryInteractions runs a multi-row interaction query.
func (s *LedgerStore) queryInteractions(ctx context.Context, query string, args ...any) ([]*types.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	result := []*types.Interaction{}
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanInteraction reads one interaction row in interactionColumns order.
func scanInteraction(row rowScanner) (*types.Interaction, error) {
	var in types.Interaction
	var sourceType string
	var snippet, link, sourceID sql.NullString

	err := row.Scan(
		&in.ID,
		&in.PersonID,
		&in.Timestamp,
		&sourceType,
		&in.Title,
		&snippet,
		&link,
		&sourceID,
		&in.DurationMinutes,
		&in.AllDay,
		&in.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan interaction: %w", err)
	}

	in.SourceType = types.SourceType(sourceType)
	in.Snippet = snippet.String
	in.Link = link.String
	in.SourceID = sourceID.String
	return &in, nil
}
