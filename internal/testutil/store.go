package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/similarity"
)

type pairKey struct{ a, b uuid.UUID }

type recKey struct {
	interestID uuid.UUID
	topic      string
}

// FakeStore is an in-memory stand-in for the PostgreSQL interest store. It
// implements the store interfaces consumed by the similarity, hierarchy,
// recommendation and detection engines.
//
// FakeStore is safe for concurrent use.
type FakeStore struct {
	mu         sync.Mutex
	interests  map[uuid.UUID]*interest.Interest
	evidence   []*interest.Evidence
	edges      map[pairKey]*interest.Edge
	sims       map[pairKey]*interest.SimilarityPair
	embeddings map[uuid.UUID]*interest.Embedding
	recs       map[recKey]*interest.Recommendation
	subs       map[uuid.UUID]*interest.Subscription
}

// NewFakeStore creates an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		interests:  make(map[uuid.UUID]*interest.Interest),
		edges:      make(map[pairKey]*interest.Edge),
		sims:       make(map[pairKey]*interest.SimilarityPair),
		embeddings: make(map[uuid.UUID]*interest.Embedding),
		recs:       make(map[recKey]*interest.Recommendation),
		subs:       make(map[uuid.UUID]*interest.Subscription),
	}
}

// Seed inserts an interest directly, bypassing detection semantics.
// Returns the stored copy.
func (f *FakeStore) Seed(in *interest.Interest) *interest.Interest {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *in
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.LastSeen.IsZero() {
		cp.LastSeen = time.Now()
	}
	cp.Active = true
	f.interests[cp.ID] = &cp
	return &cp
}

func (f *FakeStore) GetInterest(_ context.Context, id uuid.UUID) (*interest.Interest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.interests[id]
	if !ok {
		return nil, interest.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (f *FakeStore) GetByTopic(_ context.Context, topic string) (*interest.Interest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range f.interests {
		if in.Active && strings.EqualFold(in.Topic, topic) {
			cp := *in
			return &cp, nil
		}
	}
	return nil, interest.ErrNotFound
}

func (f *FakeStore) ListActive(_ context.Context) ([]*interest.Interest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*interest.Interest
	for _, in := range f.interests {
		if in.Active {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}

func (f *FakeStore) ListActiveAbove(ctx context.Context, floor float64) ([]*interest.Interest, error) {
	all, err := f.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, in := range all {
		if in.Confidence >= floor {
			out = append(out, in)
		}
	}
	return out, nil
}

func (f *FakeStore) UpsertDetected(_ context.Context, topic string, source interest.SourceType, confidence float64) (*interest.Interest, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, in := range f.interests {
		if in.Active && strings.EqualFold(in.Topic, topic) {
			if confidence > in.Confidence {
				in.Confidence = confidence
			}
			in.LastSeen = now
			in.UpdatedAt = now
			cp := *in
			return &cp, nil
		}
	}
	in := &interest.Interest{
		ID:         uuid.New(),
		Topic:      topic,
		Confidence: confidence,
		SourceType: source,
		LastSeen:   now,
		Active:     true,
		Synonyms:   []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.interests[in.ID] = in
	cp := *in
	return &cp, nil
}

func (f *FakeStore) AdjustConfidence(_ context.Context, id uuid.UUID, delta float64) (*interest.Interest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.interests[id]
	if !ok || !in.Active {
		return nil, interest.ErrNotFound
	}
	in.Confidence += delta
	if in.Confidence < 0 {
		in.Confidence = 0
	}
	if in.Confidence > 1 {
		in.Confidence = 1
	}
	in.UpdatedAt = time.Now()
	cp := *in
	return &cp, nil
}

func (f *FakeStore) Deactivate(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.interests[id]
	if !ok || !in.Active {
		return interest.ErrNotFound
	}
	in.Active = false
	return nil
}

func (f *FakeStore) MergeInterests(_ context.Context, primaryID, secondaryID uuid.UUID) error {
	if primaryID == secondaryID {
		return fmt.Errorf("interest cannot be merged into itself")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	primary, ok := f.interests[primaryID]
	if !ok {
		return interest.ErrNotFound
	}
	secondary, ok := f.interests[secondaryID]
	if !ok {
		return interest.ErrNotFound
	}
	if !primary.Active || !secondary.Active {
		return interest.ErrInactive
	}

	for _, ev := range f.evidence {
		if ev.InterestID == secondaryID {
			ev.InterestID = primaryID
		}
	}

	seen := make(map[string]struct{}, len(primary.Synonyms))
	for _, s := range primary.Synonyms {
		seen[strings.ToLower(s)] = struct{}{}
	}
	for _, s := range append(append([]string{}, secondary.Synonyms...), secondary.Topic) {
		if _, ok := seen[strings.ToLower(s)]; !ok {
			seen[strings.ToLower(s)] = struct{}{}
			primary.Synonyms = append(primary.Synonyms, s)
		}
	}

	if secondary.Confidence > primary.Confidence {
		primary.Confidence = secondary.Confidence
	}
	primary.EvidenceCount += secondary.EvidenceCount
	secondary.Active = false
	id := primaryID
	secondary.MergedInto = &id
	return nil
}

func (f *FakeStore) AddEvidence(_ context.Context, interestID uuid.UUID, source interest.SourceType, sourceID string, relevance float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.interests[interestID]
	if !ok {
		return interest.ErrNotFound
	}
	f.evidence = append(f.evidence, &interest.Evidence{
		ID:         uuid.New(),
		InterestID: interestID,
		SourceType: source,
		SourceID:   sourceID,
		Relevance:  relevance,
		CreatedAt:  time.Now(),
	})
	in.EvidenceCount++
	return nil
}

func (f *FakeStore) ListEvidence(_ context.Context, interestID uuid.UUID) ([]*interest.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*interest.Evidence
	for _, ev := range f.evidence {
		if ev.InterestID == interestID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *FakeStore) UpsertEdge(_ context.Context, e *interest.Edge) error {
	if e.ParentID == e.ChildID {
		return fmt.Errorf("edge cannot be a self-loop")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	if cp.Type == "" {
		cp.Type = interest.EdgeTypeBroader
	}
	cp.DetectedAt = time.Now()
	f.edges[pairKey{e.ParentID, e.ChildID}] = &cp
	return nil
}

func (f *FakeStore) ListEdges(_ context.Context) ([]*interest.Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*interest.Edge
	for _, e := range f.edges {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// EdgeCount returns the number of stored hierarchy edges.
func (f *FakeStore) EdgeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edges)
}

func (f *FakeStore) GetSimilarity(_ context.Context, a, b uuid.UUID) (*interest.SimilarityPair, error) {
	id1, id2 := interest.CanonicalPair(a, b)
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.sims[pairKey{id1, id2}]
	if !ok {
		return nil, interest.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *FakeStore) SaveSimilarity(_ context.Context, a, b uuid.UUID, score float64) error {
	id1, id2 := interest.CanonicalPair(a, b)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sims[pairKey{id1, id2}] = &interest.SimilarityPair{
		ID1: id1, ID2: id2, Score: score, ComputedAt: time.Now(),
	}
	return nil
}

func (f *FakeStore) GetEmbedding(_ context.Context, interestID uuid.UUID) (*interest.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.embeddings[interestID]
	if !ok {
		return nil, interest.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *FakeStore) SaveEmbedding(_ context.Context, e *interest.Embedding) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	cp.CreatedAt = time.Now()
	f.embeddings[e.InterestID] = &cp
	return nil
}

func (f *FakeStore) SearchEmbeddings(_ context.Context, vec []float32, threshold float64, limit int) ([]interest.Match, error) {
	if limit <= 0 {
		limit = 20
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interest.Match
	for id, e := range f.embeddings {
		in, ok := f.interests[id]
		if !ok || !in.Active {
			continue
		}
		sim := similarity.Cosine(vec, e.Vector)
		if sim > threshold {
			out = append(out, interest.Match{InterestID: id, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeStore) SaveRecommendation(_ context.Context, r *interest.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.ComputedAt = time.Now()
	key := recKey{r.InterestID, strings.ToLower(r.Topic)}
	if prev, ok := f.recs[key]; ok && prev.ExpiresAt.After(cp.ExpiresAt) {
		cp.ExpiresAt = prev.ExpiresAt
	}
	f.recs[key] = &cp
	return nil
}

func (f *FakeStore) ListRecommendations(_ context.Context, interestID uuid.UUID) ([]*interest.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var out []*interest.Recommendation
	for _, r := range f.recs {
		if r.InterestID == interestID && r.ExpiresAt.After(now) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (f *FakeStore) CreateSubscription(_ context.Context, topic string, confirmed bool) (*interest.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	for _, s := range f.subs {
		if strings.EqualFold(s.Topic, topic) {
			return nil, fmt.Errorf("subscription %q: %w", topic, interest.ErrDuplicate)
		}
	}
	now := time.Now()
	sub := &interest.Subscription{
		ID:        uuid.New(),
		Topic:     topic,
		Confirmed: confirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.subs[sub.ID] = sub
	cp := *sub
	return &cp, nil
}

func (f *FakeStore) ListSubscriptions(_ context.Context) ([]*interest.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*interest.Subscription
	for _, s := range f.subs {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Topic) < strings.ToLower(out[j].Topic)
	})
	return out, nil
}

func (f *FakeStore) ConfirmSubscription(_ context.Context, id uuid.UUID) (*interest.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, interest.ErrNotFound
	}
	s.Confirmed = true
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, nil
}

func (f *FakeStore) UpdateSubscription(_ context.Context, id uuid.UUID, topic string) (*interest.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	s, ok := f.subs[id]
	if !ok {
		return nil, interest.ErrNotFound
	}
	for otherID, other := range f.subs {
		if otherID != id && strings.EqualFold(other.Topic, topic) {
			return nil, fmt.Errorf("subscription %q: %w", topic, interest.ErrDuplicate)
		}
	}
	s.Topic = topic
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, nil
}

func (f *FakeStore) DeleteSubscription(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[id]; !ok {
		return interest.ErrNotFound
	}
	delete(f.subs, id)
	return nil
}
