package types

import "time"

// EvidenceCounts tracks per-source co-occurrence evidence on an edge.
type EvidenceCounts struct {
	SharedEvents   int `json:"shared_events"`   // Calendar events attended together
	SharedThreads  int `json:"shared_threads"`  // Email threads both appeared in
	SharedMessages int `json:"shared_messages"` // Message conversations shared
	SharedMentions int `json:"shared_mentions"` // Notes mentioning both people
}

// Add sums another evidence set into this one.
func (e *EvidenceCounts) Add(other EvidenceCounts) {
	e.SharedEvents += other.SharedEvents
	e.SharedThreads += other.SharedThreads
	e.SharedMessages += other.SharedMessages
	e.SharedMentions += other.SharedMentions
}

// Relationship is an undirected, evidence-backed edge between two canonical
// people. The pair is always stored normalized (smaller id first) so each
// unordered pair maps to exactly one row; PersonAID == PersonBID is invalid.
type Relationship struct {
	PersonAID string `json:"person_a_id"` // Smaller id of the pair
	PersonBID string `json:"person_b_id"` // Larger id of the pair

	Type RelationshipType `json:"relationship_type"` // Closed-set edge classification

	// SharedContexts names the source types that produced evidence for this
	// edge (e.g. "calendar", "email").
	SharedContexts []string       `json:"shared_contexts,omitempty"`
	Evidence       EvidenceCounts `json:"evidence"`

	FirstSeenTogether time.Time `json:"first_seen_together,omitempty"` // Earliest co-occurrence
	LastSeenTogether  time.Time `json:"last_seen_together,omitempty"`  // Most recent co-occurrence

	// ConfirmedExternal marks edges backed by an imported social-network
	// connection rather than inferred co-occurrence alone.
	ConfirmedExternal bool `json:"confirmed_external,omitempty"`

	CreatedAt time.Time `json:"created_at"` // Creation timestamp
	UpdatedAt time.Time `json:"updated_at"` // Last update timestamp
}

// NormalizePair returns the pair in canonical storage order, smaller id first.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Other returns the opposite endpoint of the edge relative to personID, or
// the empty string when the edge does not involve personID.
func (r *Relationship) Other(personID string) string {
	switch personID {
	case r.PersonAID:
		return r.PersonBID
	case r.PersonBID:
		return r.PersonAID
	default:
		return ""
	}
}

// HasContext reports whether the edge already records evidence from ctx.
func (r *Relationship) HasContext(ctx string) bool {
	for _, c := range r.SharedContexts {
		if c == ctx {
			return true
		}
	}
	return false
}
