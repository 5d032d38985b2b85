// Package similarity quantifies semantic closeness between interests and
// folds near-duplicates together.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/llm"
)

const (
	// DefaultAutoMergeThreshold is the cosine similarity above which two
	// interests are considered duplicates of each other.
	DefaultAutoMergeThreshold = 0.85

	// MaxSimilarResults caps FindSimilarInterests output.
	MaxSimilarResults = 20
)

// Store is the subset of the interest store the engine needs.
type Store interface {
	ListActive(ctx context.Context) ([]*interest.Interest, error)
	GetInterest(ctx context.Context, id uuid.UUID) (*interest.Interest, error)
	GetEmbedding(ctx context.Context, id uuid.UUID) (*interest.Embedding, error)
	SaveEmbedding(ctx context.Context, e *interest.Embedding) error
	GetSimilarity(ctx context.Context, a, b uuid.UUID) (*interest.SimilarityPair, error)
	SaveSimilarity(ctx context.Context, a, b uuid.UUID, score float64) error
	SearchEmbeddings(ctx context.Context, vec []float32, threshold float64, limit int) ([]interest.Match, error)
	MergeInterests(ctx context.Context, primaryID, secondaryID uuid.UUID) error
}

// Result is one similar-interest hit.
type Result struct {
	Interest   *interest.Interest
	Similarity float64
}

// Engine computes, caches and queries pairwise similarity between interests.
type Engine struct {
	store    Store
	embedder llm.Embedder
	model    string // embedding model tag recorded on stored vectors
	logger   *slog.Logger
}

// New creates a similarity engine.
func New(store Store, embedder llm.Embedder, model string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, embedder: embedder, model: model, logger: logger}
}

// GenerateEmbedding returns the stored embedding for in, generating and
// persisting one only if none exists. Calling it twice for the same interest
// performs exactly one embedding-service call.
func (e *Engine) GenerateEmbedding(ctx context.Context, in *interest.Interest) (*interest.Embedding, error) {
	existing, err := e.store.GetEmbedding(ctx, in.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, interest.ErrNotFound) {
		return nil, fmt.Errorf("loading embedding for %q: %w", in.Topic, err)
	}

	vec, err := e.embedder.Embed(ctx, in.Topic)
	if err != nil {
		return nil, fmt.Errorf("embedding %q: %w", in.Topic, err)
	}

	emb := &interest.Embedding{InterestID: in.ID, Vector: vec, Model: e.model}
	if err := e.store.SaveEmbedding(ctx, emb); err != nil {
		return nil, fmt.Errorf("saving embedding for %q: %w", in.Topic, err)
	}
	return emb, nil
}

// ComputeSimilarity returns the cosine similarity between two interests'
// embeddings. The pair ordering is canonicalized, so results are symmetric
// and cached once per unordered pair. Fails if either embedding is missing.
func (e *Engine) ComputeSimilarity(ctx context.Context, a, b uuid.UUID) (float64, error) {
	id1, id2 := interest.CanonicalPair(a, b)

	if cached, err := e.store.GetSimilarity(ctx, id1, id2); err == nil {
		return cached.Score, nil
	} else if !errors.Is(err, interest.ErrNotFound) {
		return 0, fmt.Errorf("loading similarity pair: %w", err)
	}

	emb1, err := e.store.GetEmbedding(ctx, id1)
	if err != nil {
		return 0, fmt.Errorf("embedding for %s: %w", id1, err)
	}
	emb2, err := e.store.GetEmbedding(ctx, id2)
	if err != nil {
		return 0, fmt.Errorf("embedding for %s: %w", id2, err)
	}

	score := Cosine(emb1.Vector, emb2.Vector)
	if err := e.store.SaveSimilarity(ctx, id1, id2, score); err != nil {
		return 0, fmt.Errorf("caching similarity: %w", err)
	}
	return score, nil
}

// FindSimilarInterests returns active interests whose similarity to the
// given interest exceeds threshold, excluding the interest itself, ordered
// by similarity descending, capped at MaxSimilarResults.
func (e *Engine) FindSimilarInterests(ctx context.Context, id uuid.UUID, threshold float64) ([]Result, error) {
	emb, err := e.store.GetEmbedding(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("embedding for %s: %w", id, err)
	}

	// Fetch one extra so the self-match doesn't shrink the result set.
	matches, err := e.store.SearchEmbeddings(ctx, emb.Vector, threshold, MaxSimilarResults+1)
	if err != nil {
		return nil, fmt.Errorf("searching embeddings: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.InterestID == id {
			continue
		}
		in, err := e.store.GetInterest(ctx, m.InterestID)
		if err != nil {
			if errors.Is(err, interest.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("resolving match %s: %w", m.InterestID, err)
		}
		if !in.Active {
			continue
		}
		results = append(results, Result{Interest: in, Similarity: m.Similarity})
		if len(results) == MaxSimilarResults {
			break
		}
	}
	return results, nil
}

// MergeSimilarInterests folds each secondary interest into the primary.
// Each individual merge is atomic; a failed secondary is left unmerged and
// does not stop the remaining merges.
func (e *Engine) MergeSimilarInterests(ctx context.Context, primaryID uuid.UUID, secondaryIDs []uuid.UUID) error {
	var errs []error
	for _, sid := range secondaryIDs {
		if sid == primaryID {
			continue
		}
		if err := e.store.MergeInterests(ctx, primaryID, sid); err != nil {
			e.logger.Warn("merge failed", "primary", primaryID, "secondary", sid, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AutoMergeSimilarInterests ensures every active interest has an embedding,
// then greedily partitions the active set into merge groups: interests are
// visited in listing order, and each unprocessed interest claims everything
// still unprocessed above threshold as its group, itself as primary.
//
// This is a single pass, not transitive-closure clustering: whether two
// indirectly-similar interests land in one group depends on visit order.
// That approximation is intentional; don't "fix" it here.
//
// Returns the number of interests merged away.
func (e *Engine) AutoMergeSimilarInterests(ctx context.Context, threshold float64) (int, error) {
	if threshold <= 0 {
		threshold = DefaultAutoMergeThreshold
	}

	active, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active interests: %w", err)
	}

	for _, in := range active {
		if _, err := e.GenerateEmbedding(ctx, in); err != nil {
			// Embedding failure skips this interest, not the batch.
			e.logger.Warn("embedding generation failed", "topic", in.Topic, "error", err)
		}
	}

	processed := make(map[uuid.UUID]bool, len(active))
	merged := 0

	for _, in := range active {
		if processed[in.ID] {
			continue
		}
		processed[in.ID] = true

		similar, err := e.FindSimilarInterests(ctx, in.ID, threshold)
		if err != nil {
			e.logger.Warn("similarity lookup failed", "topic", in.Topic, "error", err)
			continue
		}

		var group []uuid.UUID
		for _, r := range similar {
			if processed[r.Interest.ID] {
				continue
			}
			processed[r.Interest.ID] = true
			group = append(group, r.Interest.ID)
		}
		if len(group) == 0 {
			continue
		}

		if err := e.MergeSimilarInterests(ctx, in.ID, group); err != nil {
			e.logger.Warn("auto-merge group partially failed", "primary", in.Topic, "error", err)
		}
		merged += len(group)
	}

	if merged > 0 {
		e.logger.Info("auto-merged duplicate interests", "count", merged, "threshold", threshold)
	}
	return merged, nil
}

// Cosine returns the cosine similarity dot(a,b) / (|a|*|b|), or 0 when
// either vector has zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
