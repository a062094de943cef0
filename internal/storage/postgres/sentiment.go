package postgres

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

// PutSentiment upserts the tone score for one interaction, denormalizing the
// person id from the interaction row.
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
		keywordsJSON, err = marshalJSON(score.Keywords, "keywords")
		if err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sentiment_scores (
			id, interaction_id, person_id, score, magnitude, label,
			keywords, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (interaction_id) DO UPDATE SET
			person_id = EXCLUDED.person_id,
			score = EXCLUDED.score,
			magnitude = EXCLUDED.magnitude,
			label = EXCLUDED.label,
			keywords = EXCLUDED.keywords,
			extracted_at = EXCLUDED.extracted_at`,
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
		return fmt.Errorf("postgres: failed to store sentiment score: %w", err)
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
		WHERE interaction_id = $1`, interactionID)
	return scanSentiment(row)
}

// SentimentForPerson returns a person's scores newest-first within the window.
func (s *LedgerStore) SentimentForPerson(ctx context.Context, personID string, window time.Duration) ([]*types.SentimentScore, error) {
	canonical, ok := s.resolver.CanonicalID(personID)
	if !ok {
		return []*types.SentimentScore{}, nil
	}

	query := `
		SELECT id, interaction_id, person_id, score, magnitude, label, keywords, extracted_at
		FROM sentiment_scores
		WHERE person_id = $1`
	args := []any{canonical}
	if window > 0 {
		query += ` AND extracted_at >= $2`
		args = append(args, time.Now().UTC().Add(-window))
	}
	query += ` ORDER BY extracted_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query sentiment scores: %w", err)
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

// ReassignPerson bulk-rewrites interaction and sentiment rows.
func (s *LedgerStore) ReassignPerson(ctx context.Context, fromID, toID string) (storage.ReassignStats, error) {
	var stats storage.ReassignStats
	if fromID == "" || toID == "" {
		return stats, fmt.Errorf("%w: both person IDs are required", storage.ErrValidation)
	}
	if fromID == toID {
		return stats, fmt.Errorf("%w: cannot reassign a person to itself", storage.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE interactions SET person_id = $1 WHERE person_id = $2`, toID, fromID)
	if err != nil {
		return stats, fmt.Errorf("postgres: failed to reassign interactions: %w", err)
	}
	stats.Interactions, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `UPDATE sentiment_scores SET person_id = $1 WHERE person_id = $2`, toID, fromID)
	if err != nil {
		return stats, fmt.Errorf("postgres: failed to reassign sentiment scores: %w", err)
	}
	stats.Sentiments, _ = res.RowsAffected()

	return stats, nil
}

// CheckIntegrity scans stored person ids and reports unresolvable ones.
func (s *LedgerStore) CheckIntegrity(ctx context.Context) (*storage.OrphanReport, error) {
	report := &storage.OrphanReport{}

	collect := func(query string) ([]string, error) {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var orphans []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			if _, ok := s.resolver.CanonicalID(id); !ok {
				orphans = append(orphans, id)
			}
		}
		return orphans, rows.Err()
	}

	var err error
	if report.InteractionOrphans, err = collect(`SELECT DISTINCT person_id FROM interactions`); err != nil {
		return nil, fmt.Errorf("postgres: integrity scan of interactions failed: %w", err)
	}
	if report.SentimentOrphans, err = collect(`SELECT DISTINCT person_id FROM sentiment_scores`); err != nil {
		return nil, fmt.Errorf("postgres: integrity scan of sentiment_scores failed: %w", err)
	}
	if report.EdgeOrphans, err = collect(
		`SELECT person_a_id FROM relationships UNION SELECT person_b_id FROM relationships`); err != nil {
		return nil, fmt.Errorf("postgres: integrity scan of relationships failed: %w", err)
	}

	return report, nil
}

// Close releases the connection pool.
func (s *LedgerStore) Close() error {
	return s.db.Close()
}

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
		return nil, fmt.Errorf("postgres: failed to scan sentiment score: %w", err)
	}

	sc.Label = types.SentimentLabel(label)
	if keywordsJSON.Valid && keywordsJSON.String != "" {
		if err := json.Unmarshal([]byte(keywordsJSON.String), &sc.Keywords); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal keywords: %w", err)
		}
	}
	return &sc, nil
}
