package sqlite

// Schema contains the SQL statements to create the ledger schema for SQLite.
// All three tables live in one embedded database file; the registry keeps its
// own JSON snapshot outside SQLite.
const Schema = `
-- Interactions table: append-mostly log of timestamped touchpoints
CREATE TABLE IF NOT EXISTS interactions (
    id TEXT PRIMARY KEY,
    person_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    source_type TEXT NOT NULL,
    title TEXT NOT NULL,
    snippet TEXT,
    source_link TEXT,

    -- Dedup key together with source_type; NULL when the connector has no
    -- stable upstream id for the touchpoint.
    source_id TEXT,

    -- Calendar-only fields
    duration_minutes INTEGER NOT NULL DEFAULT 0,
    all_day INTEGER NOT NULL DEFAULT 0,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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

    -- JSON array of source types that produced evidence
    shared_contexts TEXT,

    shared_events_count INTEGER NOT NULL DEFAULT 0,
    shared_threads_count INTEGER NOT NULL DEFAULT 0,
    shared_messages_count INTEGER NOT NULL DEFAULT 0,
    shared_mentions_count INTEGER NOT NULL DEFAULT 0,

    first_seen_together TIMESTAMP,
    last_seen_together TIMESTAMP,
    confirmed_external INTEGER NOT NULL DEFAULT 0,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    PRIMARY KEY (person_a_id, person_b_id),
    CHECK (person_a_id < person_b_id)
);

CREATE INDEX IF NOT EXISTS idx_relationships_b ON relationships(person_b_id);

-- Sentiment scores: exactly one row per interaction
CREATE TABLE IF NOT EXISTS sentiment_scores (
    id TEXT PRIMARY KEY,
    interaction_id TEXT NOT NULL UNIQUE,
    person_id TEXT NOT NULL,
    score REAL NOT NULL,
    magnitude REAL NOT NULL DEFAULT 0,
    label TEXT NOT NULL,

    -- JSON array, capped at five entries
    keywords TEXT,

    extracted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sentiment_person_time
    ON sentiment_scores(person_id, extracted_at DESC);
`
