package interest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// interestCols is the standard SELECT column list for scanInterests.
const interestCols = `id, topic, confidence, source_type, evidence_count,
	last_seen, active, merged_into, synonyms, created_at, updated_at`

// Store provides CRUD over the interest graph entities, backed by
// PostgreSQL + pgvector. It holds no business logic; the similarity,
// hierarchy, recommendation and detection engines layer on top of it.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an interest Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// UpsertDetected records a detection of topic. A new active interest is
// created on first detection; on re-detection the existing row keeps the
// higher of the two confidences and refreshes its last-seen timestamp.
// Topic matching is case-insensitive.
func (s *Store) UpsertDetected(ctx context.Context, topic string, source SourceType, confidence float64) (*Interest, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if !source.Valid() {
		return nil, fmt.Errorf("invalid source type: %q", source)
	}
	confidence = clamp01(confidence)

	row := s.pool.QueryRow(ctx,
		`INSERT INTO interests (id, topic, confidence, source_type, evidence_count, last_seen, active, synonyms)
		 VALUES ($1, $2, $3, $4, 0, now(), true, '{}')
		 ON CONFLICT (lower(topic)) WHERE active = true DO UPDATE
		 SET confidence = GREATEST(interests.confidence, EXCLUDED.confidence),
		     last_seen = now(),
		     updated_at = now()
		 RETURNING `+interestCols,
		uuid.New(), topic, confidence, source,
	)
	return scanInterest(row)
}

// GetInterest retrieves an interest by ID. Returns ErrNotFound if absent.
func (s *Store) GetInterest(ctx context.Context, id uuid.UUID) (*Interest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+interestCols+` FROM interests WHERE id = $1`, id)
	in, err := scanInterest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return in, err
}

// GetByTopic retrieves the active interest with the given topic,
// matched case-insensitively. Returns ErrNotFound if absent.
func (s *Store) GetByTopic(ctx context.Context, topic string) (*Interest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+interestCols+` FROM interests
		 WHERE lower(topic) = lower($1) AND active = true`, topic)
	in, err := scanInterest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return in, err
}

// ListActive returns all active interests ordered by confidence descending.
func (s *Store) ListActive(ctx context.Context) ([]*Interest, error) {
	return s.listActive(ctx, 0)
}

// ListActiveAbove returns active interests with confidence >= floor,
// ordered by confidence descending.
func (s *Store) ListActiveAbove(ctx context.Context, floor float64) ([]*Interest, error) {
	return s.listActive(ctx, floor)
}

func (s *Store) listActive(ctx context.Context, floor float64) ([]*Interest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+interestCols+` FROM interests
		 WHERE active = true AND confidence >= $1
		 ORDER BY confidence DESC, topic ASC`, floor)
	if err != nil {
		return nil, fmt.Errorf("listing interests: %w", err)
	}
	defer rows.Close()
	return scanInterests(rows)
}

// AdjustConfidence adds delta to an interest's confidence, clamped to [0,1].
// Returns the updated interest, or ErrNotFound.
func (s *Store) AdjustConfidence(ctx context.Context, id uuid.UUID, delta float64) (*Interest, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE interests
		 SET confidence = LEAST(1.0, GREATEST(0.0, confidence + $2)), updated_at = now()
		 WHERE id = $1 AND active = true
		 RETURNING `+interestCols,
		id, delta)
	in, err := scanInterest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return in, err
}

// Deactivate soft-deletes an interest. The row is kept for referential
// history. Returns ErrNotFound if the interest doesn't exist.
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE interests SET active = false, updated_at = now()
		 WHERE id = $1 AND active = true`, id)
	if err != nil {
		return fmt.Errorf("deactivating interest %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeInterests folds the secondary interest into the primary one, in a
// single transaction:
//
//   - all evidence rows of the secondary are reassigned to the primary
//   - the secondary's synonyms and its own topic join the primary's synonyms
//   - the primary's confidence is raised to max(primary, secondary)
//   - the secondary's evidence count is added to the primary's
//   - the secondary becomes an inactive tombstone with merged_into set
//
// Either all mutations commit or the secondary is left unmerged.
func (s *Store) MergeInterests(ctx context.Context, primaryID, secondaryID uuid.UUID) error {
	if primaryID == secondaryID {
		return fmt.Errorf("interest cannot be merged into itself")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning merge transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("merge rollback", "error", rbErr)
		}
	}()

	primary, err := lockInterest(ctx, tx, primaryID)
	if err != nil {
		return fmt.Errorf("locking primary: %w", err)
	}
	secondary, err := lockInterest(ctx, tx, secondaryID)
	if err != nil {
		return fmt.Errorf("locking secondary: %w", err)
	}
	if !primary.Active {
		return fmt.Errorf("primary %s: %w", primaryID, ErrInactive)
	}
	if !secondary.Active {
		return fmt.Errorf("secondary %s: %w", secondaryID, ErrInactive)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE evidence SET interest_id = $1 WHERE interest_id = $2`,
		primaryID, secondaryID); err != nil {
		return fmt.Errorf("reassigning evidence: %w", err)
	}

	synonyms := unionSynonyms(primary.Synonyms, secondary.Synonyms, secondary.Topic)

	if _, err := tx.Exec(ctx,
		`UPDATE interests
		 SET confidence = GREATEST(confidence, $2),
		     evidence_count = evidence_count + $3,
		     synonyms = $4,
		     updated_at = now()
		 WHERE id = $1`,
		primaryID, secondary.Confidence, secondary.EvidenceCount, synonyms); err != nil {
		return fmt.Errorf("updating primary: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE interests
		 SET active = false, merged_into = $2, updated_at = now()
		 WHERE id = $1`,
		secondaryID, primaryID); err != nil {
		return fmt.Errorf("tombstoning secondary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}

	s.logger.Info("merged interests",
		"primary", primary.Topic, "secondary", secondary.Topic)
	return nil
}

// lockInterest fetches an interest row FOR UPDATE within a transaction.
func lockInterest(ctx context.Context, q querier, id uuid.UUID) (*Interest, error) {
	row := q.QueryRow(ctx,
		`SELECT `+interestCols+` FROM interests WHERE id = $1 FOR UPDATE`, id)
	in, err := scanInterest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return in, err
}

// unionSynonyms merges two synonym lists plus the secondary's topic,
// deduplicating case-insensitively while preserving first-seen casing
// and order.
func unionSynonyms(primary, secondary []string, secondaryTopic string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	add := func(s string) {
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	for _, s := range primary {
		add(s)
	}
	for _, s := range secondary {
		add(s)
	}
	add(secondaryTopic)
	return out
}

// AddEvidence links an interest to a source record and increments the
// interest's evidence count.
func (s *Store) AddEvidence(ctx context.Context, interestID uuid.UUID, source SourceType, sourceID string, relevance float64) error {
	if !source.Valid() {
		return fmt.Errorf("invalid source type: %q", source)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning evidence transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("evidence rollback", "error", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx,
		`INSERT INTO evidence (id, interest_id, source_type, source_id, relevance)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), interestID, source, sourceID, clamp01(relevance)); err != nil {
		return fmt.Errorf("inserting evidence: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE interests SET evidence_count = evidence_count + 1, updated_at = now()
		 WHERE id = $1`, interestID); err != nil {
		return fmt.Errorf("incrementing evidence count: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing evidence: %w", err)
	}
	return nil
}

// ListEvidence returns all evidence rows for an interest, newest first.
func (s *Store) ListEvidence(ctx context.Context, interestID uuid.UUID) ([]*Evidence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, interest_id, source_type, source_id, relevance, created_at
		 FROM evidence WHERE interest_id = $1 ORDER BY created_at DESC`, interestID)
	if err != nil {
		return nil, fmt.Errorf("listing evidence: %w", err)
	}
	defer rows.Close()

	var out []*Evidence
	for rows.Next() {
		e := &Evidence{}
		if err := rows.Scan(&e.ID, &e.InterestID, &e.SourceType, &e.SourceID, &e.Relevance, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning evidence: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating evidence: %w", err)
	}
	return out, nil
}

// UpsertEdge inserts a hierarchy edge, overwriting confidence and detection
// time if the ordered pair already exists. Cycle checking is the hierarchy
// engine's responsibility; the store only enforces the no-self-loop CHECK.
func (s *Store) UpsertEdge(ctx context.Context, e *Edge) error {
	if e.ParentID == e.ChildID {
		return fmt.Errorf("edge cannot be a self-loop")
	}
	edgeType := e.Type
	if edgeType == "" {
		edgeType = EdgeTypeBroader
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hierarchy_edges (parent_id, child_id, edge_type, confidence, detected_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (parent_id, child_id) DO UPDATE
		 SET confidence = EXCLUDED.confidence,
		     edge_type = EXCLUDED.edge_type,
		     detected_at = now()`,
		e.ParentID, e.ChildID, edgeType, clamp01(e.Confidence))
	if err != nil {
		return fmt.Errorf("upserting edge %s -> %s: %w", e.ParentID, e.ChildID, err)
	}
	return nil
}

// ListEdges returns every hierarchy edge.
func (s *Store) ListEdges(ctx context.Context) ([]*Edge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT parent_id, child_id, edge_type, confidence, detected_at
		 FROM hierarchy_edges`)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		e := &Edge{}
		if err := rows.Scan(&e.ParentID, &e.ChildID, &e.Type, &e.Confidence, &e.DetectedAt); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating edges: %w", err)
	}
	return out, nil
}

// GetSimilarity returns the cached similarity for an unordered pair of
// interests. Returns ErrNotFound if it hasn't been computed yet.
func (s *Store) GetSimilarity(ctx context.Context, a, b uuid.UUID) (*SimilarityPair, error) {
	id1, id2 := CanonicalPair(a, b)
	p := &SimilarityPair{}
	err := s.pool.QueryRow(ctx,
		`SELECT id1, id2, score, computed_at FROM similarity_pairs
		 WHERE id1 = $1 AND id2 = $2`, id1, id2,
	).Scan(&p.ID1, &p.ID2, &p.Score, &p.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying similarity pair: %w", err)
	}
	return p, nil
}

// SaveSimilarity caches a similarity score for an unordered pair.
func (s *Store) SaveSimilarity(ctx context.Context, a, b uuid.UUID, score float64) error {
	id1, id2 := CanonicalPair(a, b)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO similarity_pairs (id1, id2, score, computed_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (id1, id2) DO UPDATE
		 SET score = EXCLUDED.score, computed_at = now()`,
		id1, id2, clamp01(score))
	if err != nil {
		return fmt.Errorf("saving similarity pair: %w", err)
	}
	return nil
}

// GetEmbedding returns the stored embedding for an interest.
// Returns ErrNotFound if none exists.
func (s *Store) GetEmbedding(ctx context.Context, interestID uuid.UUID) (*Embedding, error) {
	e := &Embedding{InterestID: interestID}
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT embedding, model, created_at FROM interest_embeddings
		 WHERE interest_id = $1`, interestID,
	).Scan(&vec, &e.Model, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying embedding: %w", err)
	}
	e.Vector = vec.Slice()
	return e, nil
}

// SaveEmbedding stores an interest's embedding, replacing any previous row.
func (s *Store) SaveEmbedding(ctx context.Context, e *Embedding) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interest_embeddings (interest_id, embedding, model, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (interest_id) DO UPDATE
		 SET embedding = EXCLUDED.embedding,
		     model = EXCLUDED.model,
		     created_at = now()`,
		e.InterestID, pgvector.NewVector(e.Vector), e.Model)
	if err != nil {
		return fmt.Errorf("saving embedding: %w", err)
	}
	return nil
}

// SearchEmbeddings finds active interests whose embedding similarity to vec
// exceeds threshold, ordered by similarity descending, capped at limit.
func (s *Store) SearchEmbeddings(ctx context.Context, vec []float32, threshold float64, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT e.interest_id, 1 - (e.embedding <=> $1) AS similarity
		 FROM interest_embeddings e
		 JOIN interests i ON i.id = e.interest_id
		 WHERE i.active = true
		   AND 1 - (e.embedding <=> $1) > $2
		 ORDER BY e.embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(vec), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("searching embeddings: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.InterestID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return out, nil
}

// SaveRecommendation upserts a recommendation for a (source, topic) pair.
// On recomputation the expiry is extended, never shortened.
func (s *Store) SaveRecommendation(ctx context.Context, r *Recommendation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recommendations
		   (id, interest_id, topic, score, reasoning,
		    co_occurrence, semantic, hierarchy, temporal,
		    computed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), $10)
		 ON CONFLICT (interest_id, topic) DO UPDATE
		 SET score = EXCLUDED.score,
		     reasoning = EXCLUDED.reasoning,
		     co_occurrence = EXCLUDED.co_occurrence,
		     semantic = EXCLUDED.semantic,
		     hierarchy = EXCLUDED.hierarchy,
		     temporal = EXCLUDED.temporal,
		     computed_at = now(),
		     expires_at = GREATEST(recommendations.expires_at, EXCLUDED.expires_at)`,
		r.ID, r.InterestID, r.Topic, clamp01(r.Score), r.Reasoning,
		clamp01(r.CoOccurrence), clamp01(r.Semantic), clamp01(r.Hierarchy), clamp01(r.Temporal),
		r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("saving recommendation: %w", err)
	}
	return nil
}

// ListRecommendations returns unexpired recommendations for a source
// interest, ordered by score descending.
func (s *Store) ListRecommendations(ctx context.Context, interestID uuid.UUID) ([]*Recommendation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, interest_id, topic, score, reasoning,
		        co_occurrence, semantic, hierarchy, temporal,
		        computed_at, expires_at
		 FROM recommendations
		 WHERE interest_id = $1 AND expires_at > now()
		 ORDER BY score DESC`, interestID)
	if err != nil {
		return nil, fmt.Errorf("listing recommendations: %w", err)
	}
	defer rows.Close()

	var out []*Recommendation
	for rows.Next() {
		r := &Recommendation{}
		if err := rows.Scan(&r.ID, &r.InterestID, &r.Topic, &r.Score, &r.Reasoning,
			&r.CoOccurrence, &r.Semantic, &r.Hierarchy, &r.Temporal,
			&r.ComputedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning recommendation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recommendations: %w", err)
	}
	return out, nil
}

// scanInterest reads one Interest from a pgx.Row.
func scanInterest(row pgx.Row) (*Interest, error) {
	in := &Interest{}
	err := row.Scan(&in.ID, &in.Topic, &in.Confidence, &in.SourceType,
		&in.EvidenceCount, &in.LastSeen, &in.Active, &in.MergedInto,
		&in.Synonyms, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// scanInterests reads Interest structs from pgx.Rows (standard column set).
func scanInterests(rows pgx.Rows) ([]*Interest, error) {
	var out []*Interest
	for rows.Next() {
		in, err := scanInterest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning interest: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating interests: %w", err)
	}
	return out, nil
}

// clamp01 clamps v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
