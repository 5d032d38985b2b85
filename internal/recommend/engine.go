// Package recommend combines co-occurrence, semantic, hierarchy and temporal
// signals into ranked topic recommendations per interest, with result caching.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newnotes/insight/internal/cache"
	"github.com/newnotes/insight/internal/hierarchy"
	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/similarity"
)

// Signal weights. Fixed; they sum to 1.0.
const (
	WeightCoOccurrence = 0.35
	WeightSemantic     = 0.30
	WeightHierarchy    = 0.20
	WeightTemporal     = 0.15
)

// Hierarchy adjacency scores.
const (
	ScoreAncestor   = 0.90
	ScoreDescendant = 0.85
	ScoreSibling    = 0.75
)

const (
	// DefaultLimit is the number of recommendations returned when the
	// caller doesn't specify one.
	DefaultLimit = 10

	// DefaultMinScore drops candidates below this combined score.
	DefaultMinScore = 0.3

	// SemanticThreshold feeds the similarity engine's candidate search.
	SemanticThreshold = 0.6

	// CoOccurrenceCandidates is how many evidence-count-closest interests
	// the co-occurrence pass considers.
	CoOccurrenceCandidates = 20

	// TemporalWindow bounds the temporal signal.
	TemporalWindow = 30 * 24 * time.Hour

	// RecencyBonusWindow and RecencyBonus reward very recent activity.
	RecencyBonusWindow = 7 * 24 * time.Hour
	RecencyBonus       = 0.2

	// CacheTTL is how long a computed result set stays cached.
	CacheTTL = time.Hour

	// RetentionWindow is how long persisted recommendations stay readable.
	// Recomputation extends the expiry, it never shortens it.
	RetentionWindow = 30 * 24 * time.Hour
)

// Reason strings contributed by the signal passes.
const (
	reasonCoOccurrence = "Similar engagement level"
	reasonSemantic     = "High semantic similarity"
	reasonAncestor     = "Broader topic"
	reasonDescendant   = "More specific subtopic"
	reasonSibling      = "Related topic under a shared broader topic"
	reasonTemporal     = "Recently active"
)

// Store is the subset of the interest store the engine needs.
type Store interface {
	GetInterest(ctx context.Context, id uuid.UUID) (*interest.Interest, error)
	ListActive(ctx context.Context) ([]*interest.Interest, error)
	SaveRecommendation(ctx context.Context, r *interest.Recommendation) error
}

// SimilarityFinder is the similarity engine surface the engine consumes.
type SimilarityFinder interface {
	FindSimilarInterests(ctx context.Context, id uuid.UUID, threshold float64) ([]similarity.Result, error)
}

// HierarchyWalker is the hierarchy graph surface the engine consumes.
type HierarchyWalker interface {
	GetAncestors(ctx context.Context, id uuid.UUID, maxDepth int) ([]hierarchy.Node, error)
	GetDescendants(ctx context.Context, id uuid.UUID, maxDepth int) ([]hierarchy.Node, error)
}

// Cache is the TTL cache surface the engine consumes. Failures on any of
// these calls are logged and ignored: the cache is an optimization, never a
// correctness dependency.
type Cache interface {
	Get(key string) ([]byte, error)
	SetWithTTL(key string, value []byte, ttl time.Duration) error
	DeleteByPattern(prefix string) (int, error)
}

// Options tunes one recommendation request. Zero values take defaults.
type Options struct {
	Limit    int
	MinScore float64
}

// Signals holds the per-signal score breakdown, each clamped to [0,1].
type Signals struct {
	CoOccurrence float64 `json:"co_occurrence"`
	Semantic     float64 `json:"semantic"`
	Hierarchy    float64 `json:"hierarchy"`
	Temporal     float64 `json:"temporal"`
}

// Combined returns the weighted combination of the four signals.
func (s Signals) Combined() float64 {
	return WeightCoOccurrence*clamp01(s.CoOccurrence) +
		WeightSemantic*clamp01(s.Semantic) +
		WeightHierarchy*clamp01(s.Hierarchy) +
		WeightTemporal*clamp01(s.Temporal)
}

// Recommendation is one ranked suggestion.
type Recommendation struct {
	Topic     string  `json:"topic"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
	Signals   Signals `json:"signals"`
}

// Response is the result of a recommendation request.
type Response struct {
	InterestID      uuid.UUID        `json:"interest_id"`
	Recommendations []Recommendation `json:"recommendations"`
	CacheHit        bool             `json:"cache_hit"`
	ComputedAt      time.Time        `json:"computed_at"`
}

// Engine produces ranked, explainable topic recommendations.
type Engine struct {
	store      Store
	similarity SimilarityFinder
	graph      HierarchyWalker
	cache      Cache
	logger     *slog.Logger
	now        func() time.Time // swapped in tests
}

// New creates a recommendation engine.
func New(store Store, sim SimilarityFinder, graph HierarchyWalker, c Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		similarity: sim,
		graph:      graph,
		cache:      c,
		logger:     logger,
		now:        time.Now,
	}
}

// candidate accumulates signals and reasons across the four passes.
type candidate struct {
	in      *interest.Interest
	signals Signals
	reasons []string
}

// GetRecommendations returns ranked recommendations for the given source
// interest. Results for a (source, limit, minScore) key are cached for
// CacheTTL; a hit short-circuits all signal computation.
//
// Returns interest.ErrNotFound for an unknown or inactive source.
func (e *Engine) GetRecommendations(ctx context.Context, sourceID uuid.UUID, opts Options) (*Response, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}

	key := cacheKey(sourceID, limit, minScore)
	if data, err := e.cache.Get(key); err == nil {
		var resp Response
		if err := json.Unmarshal(data, &resp); err == nil {
			resp.CacheHit = true
			return &resp, nil
		}
		e.logger.Warn("discarding corrupt cache entry", "key", key)
	} else if !errors.Is(err, cache.ErrMiss) {
		e.logger.Warn("cache read failed", "key", key, "error", err)
	}

	source, err := e.store.GetInterest(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !source.Active {
		return nil, interest.ErrNotFound
	}

	candidates := make(map[uuid.UUID]*candidate)

	if err := e.scoreCoOccurrence(ctx, source, candidates); err != nil {
		return nil, err
	}
	e.scoreSemantic(ctx, source, candidates)
	e.scoreHierarchy(ctx, source, candidates)
	if err := e.scoreTemporal(ctx, source, candidates); err != nil {
		return nil, err
	}

	recs := e.rank(candidates, minScore, limit)

	now := e.now()
	for _, r := range recs {
		rec := &interest.Recommendation{
			InterestID:   sourceID,
			Topic:        r.Topic,
			Score:        r.Score,
			Reasoning:    r.Reasoning,
			CoOccurrence: r.Signals.CoOccurrence,
			Semantic:     r.Signals.Semantic,
			Hierarchy:    r.Signals.Hierarchy,
			Temporal:     r.Signals.Temporal,
			ExpiresAt:    now.Add(RetentionWindow),
		}
		if err := e.store.SaveRecommendation(ctx, rec); err != nil {
			return nil, fmt.Errorf("persisting recommendation %q: %w", r.Topic, err)
		}
	}

	resp := &Response{
		InterestID:      sourceID,
		Recommendations: recs,
		ComputedAt:      now,
	}

	if data, err := json.Marshal(resp); err == nil {
		if err := e.cache.SetWithTTL(key, data, CacheTTL); err != nil {
			e.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return resp, nil
}

// InvalidateCache deletes all cached result sets for a source interest,
// regardless of the limit/minScore they were computed with.
func (e *Engine) InvalidateCache(sourceID uuid.UUID) (int, error) {
	return e.cache.DeleteByPattern("rec:" + sourceID.String() + ":")
}

// cacheKey builds the cache key for one request shape.
func cacheKey(sourceID uuid.UUID, limit int, minScore float64) string {
	return fmt.Sprintf("rec:%s:%d:%.2f", sourceID, limit, minScore)
}

// scoreCoOccurrence scores the 20 active interests whose evidence counts are
// closest to the source's. This is a deliberate proxy for true pairwise
// co-occurrence, which is not stored as data.
func (e *Engine) scoreCoOccurrence(ctx context.Context, source *interest.Interest, acc map[uuid.UUID]*candidate) error {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing interests for co-occurrence: %w", err)
	}

	others := make([]*interest.Interest, 0, len(active))
	for _, in := range active {
		if in.ID != source.ID {
			others = append(others, in)
		}
	}
	sort.Slice(others, func(i, j int) bool {
		di := abs(others[i].EvidenceCount - source.EvidenceCount)
		dj := abs(others[j].EvidenceCount - source.EvidenceCount)
		if di != dj {
			return di < dj
		}
		return others[i].Topic < others[j].Topic
	})
	if len(others) > CoOccurrenceCandidates {
		others = others[:CoOccurrenceCandidates]
	}

	for _, in := range others {
		denom := max3(in.EvidenceCount, source.EvidenceCount, 1)
		score := 1 - float64(abs(in.EvidenceCount-source.EvidenceCount))/float64(denom)
		e.apply(acc, in, func(c *candidate) {
			c.signals.CoOccurrence = math.Max(c.signals.CoOccurrence, score)
		}, reasonCoOccurrence)
	}
	return nil
}

// scoreSemantic scores interests the similarity engine considers close.
// An upstream failure here skips the pass, not the request.
func (e *Engine) scoreSemantic(ctx context.Context, source *interest.Interest, acc map[uuid.UUID]*candidate) {
	similar, err := e.similarity.FindSimilarInterests(ctx, source.ID, SemanticThreshold)
	if err != nil {
		e.logger.Warn("semantic pass skipped", "topic", source.Topic, "error", err)
		return
	}
	for _, r := range similar {
		score := r.Similarity
		e.apply(acc, r.Interest, func(c *candidate) {
			c.signals.Semantic = math.Max(c.signals.Semantic, score)
		}, reasonSemantic)
	}
}

// scoreHierarchy scores ancestors, descendants and siblings of the source.
// An upstream failure skips the pass, not the request.
func (e *Engine) scoreHierarchy(ctx context.Context, source *interest.Interest, acc map[uuid.UUID]*candidate) {
	ancestors, err := e.graph.GetAncestors(ctx, source.ID, 0)
	if err != nil {
		e.logger.Warn("hierarchy pass skipped", "topic", source.Topic, "error", err)
		return
	}
	for _, n := range ancestors {
		e.apply(acc, n.Interest, func(c *candidate) {
			c.signals.Hierarchy = math.Max(c.signals.Hierarchy, ScoreAncestor)
		}, reasonAncestor)
	}

	descendants, err := e.graph.GetDescendants(ctx, source.ID, 0)
	if err != nil {
		e.logger.Warn("descendant scoring skipped", "topic", source.Topic, "error", err)
		return
	}
	for _, n := range descendants {
		e.apply(acc, n.Interest, func(c *candidate) {
			c.signals.Hierarchy = math.Max(c.signals.Hierarchy, ScoreDescendant)
		}, reasonDescendant)
	}

	// Siblings: children of the source's direct parents, excluding the
	// source and its own descendants (those already scored higher).
	parents, err := e.graph.GetAncestors(ctx, source.ID, 1)
	if err != nil {
		return
	}
	scored := make(map[uuid.UUID]bool, len(descendants))
	for _, n := range descendants {
		scored[n.Interest.ID] = true
	}
	for _, p := range parents {
		siblings, err := e.graph.GetDescendants(ctx, p.Interest.ID, 1)
		if err != nil {
			continue
		}
		for _, n := range siblings {
			if n.Interest.ID == source.ID || scored[n.Interest.ID] {
				continue
			}
			e.apply(acc, n.Interest, func(c *candidate) {
				c.signals.Hierarchy = math.Max(c.signals.Hierarchy, ScoreSibling)
			}, reasonSibling)
		}
	}
}

// scoreTemporal scores interests last seen within the temporal window.
func (e *Engine) scoreTemporal(ctx context.Context, source *interest.Interest, acc map[uuid.UUID]*candidate) error {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing interests for temporal scoring: %w", err)
	}

	now := e.now()
	for _, in := range active {
		if in.ID == source.ID {
			continue
		}
		age := now.Sub(in.LastSeen)
		if age < 0 {
			age = 0
		}
		if age > TemporalWindow {
			continue
		}
		score := 1 - age.Seconds()/TemporalWindow.Seconds()
		if age <= RecencyBonusWindow {
			score += RecencyBonus
		}
		score = clamp01(score)
		e.apply(acc, in, func(c *candidate) {
			c.signals.Temporal = math.Max(c.signals.Temporal, score)
		}, reasonTemporal)
	}
	return nil
}

// apply updates a candidate's signals, appending the pass's reason the first
// time that pass touches the candidate.
func (e *Engine) apply(acc map[uuid.UUID]*candidate, in *interest.Interest, update func(*candidate), reason string) {
	c, ok := acc[in.ID]
	if !ok {
		c = &candidate{in: in}
		acc[in.ID] = c
	}
	update(c)
	for _, r := range c.reasons {
		if r == reason {
			return
		}
	}
	c.reasons = append(c.reasons, reason)
}

// rank combines signals, filters by minScore and returns the top limit
// recommendations ordered by combined score descending.
func (e *Engine) rank(acc map[uuid.UUID]*candidate, minScore float64, limit int) []Recommendation {
	out := make([]Recommendation, 0, len(acc))
	for _, c := range acc {
		score := c.signals.Combined()
		if score < minScore {
			continue
		}
		out = append(out, Recommendation{
			Topic:     c.in.Topic,
			Score:     score,
			Reasoning: strings.Join(c.reasons, "; "),
			Signals:   c.signals,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func max3(a, b, c int) int {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
