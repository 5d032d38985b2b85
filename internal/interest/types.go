// Package interest defines the entities of the interest graph and their
// PostgreSQL-backed store.
//
// An Interest is a detected topic of user engagement. Evidence links an
// interest to the note, task or chat message that suggested it. Hierarchy
// edges form a DAG of "broader than" relationships. Similarity pairs cache
// cosine similarity between interest embeddings. Recommendations are scored
// topic suggestions derived from all of the above.
package interest

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies where a piece of text came from.
type SourceType string

// Known source types.
const (
	SourceNote SourceType = "note"
	SourceTask SourceType = "task"
	SourceChat SourceType = "chat"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceNote, SourceTask, SourceChat:
		return true
	}
	return false
}

// Interest is a detected topic of user engagement.
//
// Lifecycle: created on first detection, updated (confidence, evidence count,
// last seen) on re-detection, and deactivated (never hard-deleted) when
// merged into another interest. A row with MergedInto set is a tombstone kept
// only for referential history.
type Interest struct {
	ID            uuid.UUID  `json:"id"`
	Topic         string     `json:"topic"`
	Confidence    float64    `json:"confidence"` // [0,1]
	SourceType    SourceType `json:"source_type"`
	EvidenceCount int        `json:"evidence_count"`
	LastSeen      time.Time  `json:"last_seen"`
	Active        bool       `json:"active"`
	MergedInto    *uuid.UUID `json:"merged_into,omitempty"`
	Synonyms      []string   `json:"synonyms"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Evidence links an interest to the source record that suggested it.
type Evidence struct {
	ID         uuid.UUID  `json:"id"`
	InterestID uuid.UUID  `json:"interest_id"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Relevance  float64    `json:"relevance"`
	CreatedAt  time.Time  `json:"created_at"`
}

// EdgeTypeBroader is the relationship type for "parent is broader than child".
const EdgeTypeBroader = "broader_than"

// Edge is a directed hierarchy edge from a broader interest to a narrower one.
//
// Invariants: ParentID != ChildID, at most one edge per ordered pair, and the
// edge set as a whole never contains a directed cycle.
type Edge struct {
	ParentID   uuid.UUID `json:"parent_id"`
	ChildID    uuid.UUID `json:"child_id"`
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// SimilarityPair is a cached cosine similarity between two interests.
// Pairs are canonicalized so ID1 < ID2, making lookups order-independent.
type SimilarityPair struct {
	ID1        uuid.UUID
	ID2        uuid.UUID
	Score      float64 // [0,1]
	ComputedAt time.Time
}

// CanonicalPair orders two interest IDs so the smaller one comes first.
// Similarity is symmetric; storing one row per unordered pair enforces that.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

// Recommendation is a scored topic suggestion for a source interest.
type Recommendation struct {
	ID         uuid.UUID `json:"id"`
	InterestID uuid.UUID `json:"interest_id"` // source interest
	Topic      string    `json:"topic"`       // recommended topic
	Score      float64   `json:"score"`       // combined score, [0,1]
	Reasoning  string    `json:"reasoning"`

	// Component signals, each [0,1].
	CoOccurrence float64 `json:"co_occurrence"`
	Semantic     float64 `json:"semantic"`
	Hierarchy    float64 `json:"hierarchy"`
	Temporal     float64 `json:"temporal"`

	ComputedAt time.Time `json:"computed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Embedding is the vector representation of an interest's topic.
// Rows are created lazily and never mutated; re-embedding replaces the row.
type Embedding struct {
	InterestID uuid.UUID
	Vector     []float32
	Model      string
	CreatedAt  time.Time
}

// Match is a similarity search hit against the embedding index.
type Match struct {
	InterestID uuid.UUID
	Similarity float64
}
