// Package postgres provides a PostgreSQL implementation of the ledger store
// for deployments that outgrow the embedded SQLite file.
package postgres

// Schema contains the SQL statements to create the ledger schema for
// PostgreSQL. All statements are idempotent.
const Schema = `
-- Interactions table: append-mostly log of timestamped touchpoints
CREATE TABLE IF NOT EXISTS interactions (
    id TEXT PRIMARY KEY,
    person_id TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    source_type TEXT NOT NULL,
    title TEXT NOT NULL,
    snippet TEXT,
    source_link TEXT,
    source_id TEXT,
    duration_minutes INTEGER NOT NULL DEFAULT 0,
    all_day BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_interactions_source_key
    ON interactions(person_id, source_type, source_id) WHERE source_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_interactions_person_time
    ON interactions(person_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_interactions_source_time
    ON interactions(source_type, timestamp);

-- Relationships table: one row per unordered pair, smaller id first
CREATE TABLE IF NOT EXISTS relationships (
    person_a_id TEXT NOT NULL,
    person_b_id TEXT NOT NULL,
    relationship_type TEXT NOT NULL DEFAULT 'inferred',
    shared_contexts JSONB,
    shared_events_count INTEGER NOT NULL DEFAULT 0,
    shared_threads_count INTEGER NOT NULL DEFAULT 0,
    shared_messages_count INTEGER NOT NULL DEFAULT 0,
    shared_mentions_count INTEGER NOT NULL DEFAULT 0,
    first_seen_together TIMESTAMPTZ,
    last_seen_together TIMESTAMPTZ,
    confirmed_external BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (person_a_id, person_b_id),
    CHECK (person_a_id < person_b_id)
);

CREATE INDEX IF NOT EXISTS idx_relationships_b ON relationships(person_b_id);

-- Sentiment scores: exactly one row per interaction
CREATE TABLE IF NOT EXISTS sentiment_scores (
    id TEXT PRIMARY KEY,
    interaction_id TEXT NOT NULL UNIQUE,
    person_id TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    magnitude DOUBLE PRECISION NOT NULL DEFAULT 0,
    label TEXT NOT NULL,
    keywords JSONB,
    extracted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sentiment_person_time
    ON sentiment_scores(person_id, extracted_at DESC);
`
