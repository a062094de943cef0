package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/pkg/types"
)

// PutSentiment upserts the tone score for one interaction. The denormalized
// person id is taken from the interaction row itself, so it is always the
// canonical id the interaction was stored under.
func (s *LedgerStore) PutSentiment(ctx context.Context, score *types.SentimentScore) error {
	if score == nil {
		return fmt.Errorf("%w: sentiment score is required", storage.ErrValidation)
	}
	if score.InteractionID == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrValidation)
	}

	in, err := s.GetInteraction(ctx, score.InteractionID)
	if err != nil {
		return err
	}
	score.PersonID = in.PersonID

	score.Normalize()
	if score.ID == "" {
		score.ID = "sen:" + uuid.NewString()
	}
	if score.ExtractedAt.IsZero() {
		score.ExtractedAt = time.Now().UTC()
	}

	var keywordsJSON []byte
	if len(score.Keywords) > 0 {
		keywordsJSON, err = json.Marshal(score.Keywords)
		if err != nil {
			return fmt.Errorf("failed to marshal keywords: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sentiment_scores (
			id, interaction_id, person_id, score, magnitude, label,
			keywords, extracted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(interaction_id) DO UPDATE SET
			person_id = excluded.person_id,
			score = excluded.score,
			magnitude = excluded.magnitude,
			label = excluded.label,
			keywords = excluded.keywords,
			extracted_at = excluded.extracted_at`,
		score.ID,
		score.InteractionID,
		score.PersonID,
		score.Score,
		score.Magnitude,
		string(score.Label),
		nullableBytes(keywordsJSON),
		score.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store sentiment score: %w", err)
	}
	return nil
}

// SentimentForInteraction returns the score stored for one interaction.
func (s *LedgerStore) SentimentForInteraction(ctx context.Context, interactionID string) (*types.SentimentScore, error) {
	if interactionID == "" {
		return nil, fmt.Errorf("%w: interaction ID is required", storage.ErrValidation)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, interaction_id, person_id, score, magnitude, label, keywords, extracted_at
		FROM sentiment_scores
		WHERE interaction_id = ?`, interactionID)
	return scanSentiment(row)
}

// SentimentForPerson returns a person's scores newest-first within the
// trailing window. A zero window means all time.
func (s *LedgerStore) SentimentForPerson(ctx context.Context, personID string, window time.Duration) ([]*types.SentimentScore, error) {
	canonical, ok := s.resolver.CanonicalID(personID)
	if !ok {
		return []*types.SentimentScore{}, nil
	}

	query := `
		SELECT id, interaction_id, person_id, score, magnitude, label, keywords, extracted_at
		FROM sentiment_scores
		WHERE person_id = ?`
	args := []any{canonical}
	if window > 0 {
		query += ` AND extracted_at >= ?`
		args = append(args, time.Now().UTC().Add(-window))
	}
	query += ` ORDER BY extracted_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment scores: %w", err)
	}
	defer rows.Close()

	result := []*types.SentimentScore{}
	for rows.Next() {
		sc, err := scanSentiment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

// scanSentiment reads one sentiment row.
func scanSentiment(row rowScanner) (*types.SentimentScore, error) {
	var sc types.SentimentScore
	var label string
	var keywordsJSON sql.NullString

	err := row.Scan(
		&sc.ID,
		&sc.InteractionID,
		&sc.PersonID,
		&sc.Score,
		&sc.Magnitude,
		&label,
		&keywordsJSON,
		&sc.ExtractedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sentiment score: %w", err)
	}

	sc.Label = types.SentimentLabel(label)
	if keywordsJSON.Valid && keywordsJSON.String != "" {
		if err := json.Unmarshal([]byte(keywordsJSON.String), &sc.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
		}
	}
	return &sc, nil
}
