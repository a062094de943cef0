// Package sqlite implements storage.LedgerStore on an embedded SQLite
// database via the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kithlabs/kith/internal/storage"
)

// LedgerStore implements storage.LedgerStore using SQLite.
type LedgerStore struct {
	db       *sql.DB
	resolver storage.CanonicalResolver
}

// Interface conformance check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore opens a SQLite database, configures WAL mode, and creates
// the schema. The resolver is consulted on every write that carries a
// person id, so rows are always persisted under the live canonical id.
func NewLedgerStore(dsn string, resolver storage.CanonicalResolver) (*LedgerStore, error) {
	if resolver == nil {
		return nil, fmt.Errorf("%w: canonical resolver is required", storage.ErrValidation)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode allows concurrent readers to proceed
	// without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Connections live for the lifetime of the store.

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout so that callers wait instead of getting an immediate
	// SQLITE_BUSY error when the connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &LedgerStore{db: db, resolver: resolver}, nil
}

// resolve maps a possibly merged-away person id to its live canonical id.
func (s *LedgerStore) resolve(personID string) (string, error) {
	if personID == "" {
		return "", fmt.Errorf("%w: person ID is required", storage.ErrValidation)
	}
	canonical, ok := s.resolver.CanonicalID(personID)
	if !ok {
		return "", fmt.Errorf("%w: person %s does not resolve to a live record", storage.ErrNotFound, personID)
	}
	return canonical, nil
}

// ReassignPerson bulk-rewrites interaction and sentiment rows from one person
// id to another. The second run of the same reassignment matches no rows.
func (s *LedgerStore) ReassignPerson(ctx context.Context, fromID, toID string) (storage.ReassignStats, error) {
	var stats storage.ReassignStats
	if fromID == "" || toID == "" {
		return stats, fmt.Errorf("%w: both person IDs are required", storage.ErrValidation)
	}
	if fromID == toID {
		return stats, fmt.Errorf("%w: cannot reassign a person to itself", storage.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE interactions SET person_id = ? WHERE person_id = ?`, toID, fromID)
	if err != nil {
		return stats, fmt.Errorf("failed to reassign interactions: %w", err)
	}
	stats.Interactions, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `UPDATE sentiment_scores SET person_id = ? WHERE person_id = ?`, toID, fromID)
	if err != nil {
		return stats, fmt.Errorf("failed to reassign sentiment scores: %w", err)
	}
	stats.Sentiments, _ = res.RowsAffected()

	return stats, nil
}

// CheckIntegrity scans stored person ids and reports the ones that no longer
// resolve through the forward map. Orphans are surfaced, never repaired.
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
		return nil, fmt.Errorf("integrity scan of interactions failed: %w", err)
	}
	if report.SentimentOrphans, err = collect(`SELECT DISTINCT person_id FROM sentiment_scores`); err != nil {
		return nil, fmt.Errorf("integrity scan of sentiment_scores failed: %w", err)
	}
	if report.EdgeOrphans, err = collect(
		`SELECT person_a_id FROM relationships UNION SELECT person_b_id FROM relationships`); err != nil {
		return nil, fmt.Errorf("integrity scan of relationships failed: %w", err)
	}

	return report, nil
}

// Close releases the underlying database handle.
func (s *LedgerStore) Close() error {
	return s.db.Close()
}

// nullableTime converts a time value to sql.NullTime; zero times become NULL.
func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// nullableBytes converts a byte slice to sql.NullString.
func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
