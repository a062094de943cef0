package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/pkg/types"
)

// relationshipColumns is the scan order shared by every relationship query.
const relationshipColumns = `
	person_a_id, person_b_id, relationship_type, shared_contexts,
	shared_events_count, shared_threads_count, shared_messages_count,
	shared_mentions_count, first_seen_together, last_seen_together,
	confirmed_external, created_at, updated_at`

// normalizedPair validates and orders an edge's endpoints.
func normalizedPair(a, b string) (string, string, error) {
	if a == "" || b == "" {
		return "", "", fmt.Errorf("%w: both person IDs are required", storage.ErrValidation)
	}
	if a == b {
		return "", "", fmt.Errorf("%w: an edge cannot link a person to themselves", storage.ErrValidation)
	}
	a, b = types.NormalizePair(a, b)
	return a, b, nil
}

// ApplyEdgeUpdate creates or increments the edge between two people.
// The pair is normalized internally; the read-modify-write sequence relies on
// the store's single writer connection.
func (s *LedgerStore) ApplyEdgeUpdate(ctx context.Context, a, b string, upd storage.EdgeUpdate) (bool, error) {
	a, b, err := normalizedPair(a, b)
	if err != nil {
		return false, err
	}

	existing, err := s.GetBetween(ctx, a, b)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	now := time.Now().UTC()
	ctxName := string(upd.Context)

	if existing == nil {
		relType := upd.InitialType
		if relType == "" {
			relType = types.RelInferred
		}
		rel := &types.Relationship{
			PersonAID:         a,
			PersonBID:         b,
			Type:              relType,
			SharedContexts:    []string{ctxName},
			Evidence:          upd.Evidence,
			FirstSeenTogether: upd.SeenAt,
			LastSeenTogether:  upd.SeenAt,
			ConfirmedExternal: upd.ConfirmExternal,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.PutEdge(ctx, rel); err != nil {
			return false, err
		}
		return true, nil
	}

	existing.Evidence.Add(upd.Evidence)
	if ctxName != "" && !existing.HasContext(ctxName) {
		existing.SharedContexts = append(existing.SharedContexts, ctxName)
	}
	if existing.FirstSeenTogether.IsZero() || upd.SeenAt.Before(existing.FirstSeenTogether) {
		existing.FirstSeenTogether = upd.SeenAt
	}
	if upd.SeenAt.After(existing.LastSeenTogether) {
		existing.LastSeenTogether = upd.SeenAt
	}
	if upd.ConfirmExternal {
		existing.ConfirmedExternal = true
	}
	existing.UpdatedAt = now

	if err := s.PutEdge(ctx, existing); err != nil {
		return false, err
	}
	return false, nil
}

// PutEdge writes a complete edge row, upserting on the normalized pair.
func (s *LedgerStore) PutEdge(ctx context.Context, rel *types.Relationship) error {
	if rel == nil {
		return fmt.Errorf("%w: relationship is required", storage.ErrValidation)
	}
	a, b, err := normalizedPair(rel.PersonAID, rel.PersonBID)
	if err != nil {
		return err
	}
	rel.PersonAID, rel.PersonBID = a, b

	if rel.Type == "" {
		rel.Type = types.RelInferred
	}
	if !types.IsValidRelationshipType(rel.Type) {
		return fmt.Errorf("%w: unknown relationship type %q", storage.ErrValidation, rel.Type)
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	if rel.UpdatedAt.IsZero() {
		rel.UpdatedAt = rel.CreatedAt
	}

	var contextsJSON []byte
	if len(rel.SharedContexts) > 0 {
		contextsJSON, err = json.Marshal(rel.SharedContexts)
		if err != nil {
			return fmt.Errorf("failed to marshal shared contexts: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (
			person_a_id, person_b_id, relationship_type, shared_contexts,
			shared_events_count, shared_threads_count, shared_messages_count,
			shared_mentions_count, first_seen_together, last_seen_together,
			confirmed_external, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_a_id, person_b_id) DO UPDATE SET
			relationship_type = excluded.relationship_type,
			shared_contexts = excluded.shared_contexts,
			shared_events_count = excluded.shared_events_count,
			shared_threads_count = excluded.shared_threads_count,
			shared_messages_count = excluded.shared_messages_count,
			shared_mentions_count = excluded.shared_mentions_count,
			first_seen_together = excluded.first_seen_together,
			last_seen_together = excluded.last_seen_together,
			confirmed_external = excluded.confirmed_external,
			updated_at = excluded.updated_at`,
		rel.PersonAID,
		rel.PersonBID,
		string(rel.Type),
		nullableBytes(contextsJSON),
		rel.Evidence.SharedEvents,
		rel.Evidence.SharedThreads,
		rel.Evidence.SharedMessages,
		rel.Evidence.SharedMentions,
		nullableTime(rel.FirstSeenTogether),
		nullableTime(rel.LastSeenTogether),
		rel.ConfirmedExternal,
		rel.CreatedAt,
		rel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store relationship: %w", err)
	}
	return nil
}

// GetBetween returns the edge between two people, order-independent.
func (s *LedgerStore) GetBetween(ctx context.Context, a, b string) (*types.Relationship, error) {
	a, b, err := normalizedPair(a, b)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+relationshipColumns+`
		FROM relationships
		WHERE person_a_id = ? AND person_b_id = ?`, a, b)
	return scanRelationship(row)
}

// RelationshipsFor returns every edge touching the given person.
func (s *LedgerStore) RelationshipsFor(ctx context.Context, personID string) ([]*types.Relationship, error) {
	if personID == "" {
		return nil, fmt.Errorf("%w: person ID is required", storage.ErrValidation)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationshipColumns+`
		FROM relationships
		WHERE person_a_id = ? OR person_b_id = ?
		ORDER BY last_seen_together DESC`, personID, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	result := []*types.Relationship{}
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rel)
	}
	return result, rows.Err()
}

// DeleteEdge removes the edge between two people. Missing edges are a no-op.
func (s *LedgerStore) DeleteEdge(ctx context.Context, a, b string) error {
	a, b, err := normalizedPair(a, b)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM relationships WHERE person_a_id = ? AND person_b_id = ?`, a, b); err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	return nil
}

// scanRelationship reads one edge row in relationshipColumns order.
func scanRelationship(row rowScanner) (*types.Relationship, error) {
	var rel types.Relationship
	var relType string
	var contextsJSON sql.NullString
	var firstSeen, lastSeen sql.NullTime

	err := row.Scan(
		&rel.PersonAID,
		&rel.PersonBID,
		&relType,
		&contextsJSON,
		&rel.Evidence.SharedEvents,
		&rel.Evidence.SharedThreads,
		&rel.Evidence.SharedMessages,
		&rel.Evidence.SharedMentions,
		&firstSeen,
		&lastSeen,
		&rel.ConfirmedExternal,
		&rel.CreatedAt,
		&rel.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan relationship: %w", err)
	}

	rel.Type = types.RelationshipType(relType)
	if contextsJSON.Valid && contextsJSON.String != "" {
		if err := json.Unmarshal([]byte(contextsJSON.String), &rel.SharedContexts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shared contexts: %w", err)
		}
	}
	rel.FirstSeenTogether = firstSeen.Time
	rel.LastSeenTogether = lastSeen.Time
	return &rel, nil
}
