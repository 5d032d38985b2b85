//go:build integration
// +build integration

package interest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/log"
	"github.com/newnotes/insight/internal/testutil"
)

func newIntegrationStore(t *testing.T) (*interest.Store, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)
	store, err := interest.NewStore(db.Pool, log.NewNop())
	require.NoError(t, err)
	return store, cleanup
}

func TestStore_InterestLifecycle_Integration(t *testing.T) {
	store, cleanup := newIntegrationStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.UpsertDetected(ctx, "Machine Learning", interest.SourceNote, 0.7)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "Machine Learning", created.Topic)
	assert.InDelta(t, 0.7, created.Confidence, 1e-9)
	assert.True(t, created.Active)

	t.Run("re-detection is case-insensitive and keeps the higher confidence", func(t *testing.T) {
		again, err := store.UpsertDetected(ctx, "machine learning", interest.SourceChat, 0.6)
		require.NoError(t, err)
		assert.Equal(t, created.ID, again.ID)
		assert.Equal(t, "Machine Learning", again.Topic)
		assert.InDelta(t, 0.7, again.Confidence, 1e-9)
		assert.True(t, again.LastSeen.After(created.LastSeen) || again.LastSeen.Equal(created.LastSeen))
	})

	t.Run("GetByTopic matches case-insensitively", func(t *testing.T) {
		got, err := store.GetByTopic(ctx, "MACHINE LEARNING")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("AdjustConfidence clamps to [0,1]", func(t *testing.T) {
		up, err := store.AdjustConfidence(ctx, created.ID, 0.9)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, up.Confidence, 1e-9)

		down, err := store.AdjustConfidence(ctx, created.ID, -2)
		require.NoError(t, err)
		assert.Zero(t, down.Confidence)
	})

	t.Run("ListActiveAbove filters by floor", func(t *testing.T) {
		_, err := store.UpsertDetected(ctx, "Gardening", interest.SourceTask, 0.9)
		require.NoError(t, err)

		above, err := store.ListActiveAbove(ctx, 0.5)
		require.NoError(t, err)
		require.Len(t, above, 1)
		assert.Equal(t, "Gardening", above[0].Topic)
	})

	t.Run("Deactivate hides the interest from lookups", func(t *testing.T) {
		require.NoError(t, store.Deactivate(ctx, created.ID))

		_, err := store.GetByTopic(ctx, "Machine Learning")
		assert.ErrorIs(t, err, interest.ErrNotFound)

		// GetInterest still finds the tombstone.
		tomb, err := store.GetInterest(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, tomb.Active)

		assert.ErrorIs(t, store.Deactivate(ctx, created.ID), interest.ErrNotFound)
	})

	t.Run("deactivated topic can be detected fresh", func(t *testing.T) {
		fresh, err := store.UpsertDetected(ctx, "Machine Learning", interest.SourceNote, 0.5)
		require.NoError(t, err)
		assert.NotEqual(t, created.ID, fresh.ID)
	})
}

func TestStore_EvidenceAndMerge_Integration(t *testing.T) {
	store, cleanup := newIntegrationStore(t)
	defer cleanup()
	ctx := context.Background()

	primary, err := store.UpsertDetected(ctx, "Python", interest.SourceNote, 0.8)
	require.NoError(t, err)
	secondary, err := store.UpsertDetected(ctx, "Python Programming", interest.SourceChat, 0.9)
	require.NoError(t, err)

	require.NoError(t, store.AddEvidence(ctx, primary.ID, interest.SourceNote, "note-1", 0.8))
	require.NoError(t, store.AddEvidence(ctx, secondary.ID, interest.SourceChat, "chat-1", 0.7))
	require.NoError(t, store.AddEvidence(ctx, secondary.ID, interest.SourceChat, "chat-2", 0.6))

	require.NoError(t, store.MergeInterests(ctx, primary.ID, secondary.ID))

	merged, err := store.GetInterest(ctx, primary.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, merged.Confidence, 1e-9)
	assert.Equal(t, 3, merged.EvidenceCount)
	assert.Contains(t, merged.Synonyms, "Python Programming")

	tomb, err := store.GetInterest(ctx, secondary.ID)
	require.NoError(t, err)
	assert.False(t, tomb.Active)
	require.NotNil(t, tomb.MergedInto)
	assert.Equal(t, primary.ID, *tomb.MergedInto)

	evidence, err := store.ListEvidence(ctx, primary.ID)
	require.NoError(t, err)
	assert.Len(t, evidence, 3)

	t.Run("merging an inactive interest fails", func(t *testing.T) {
		err := store.MergeInterests(ctx, primary.ID, secondary.ID)
		assert.ErrorIs(t, err, interest.ErrInactive)
	})
}

func TestStore_EdgesAndSimilarity_Integration(t *testing.T) {
	store, cleanup := newIntegrationStore(t)
	defer cleanup()
	ctx := context.Background()

	ai, err := store.UpsertDetected(ctx, "AI", interest.SourceNote, 0.9)
	require.NoError(t, err)
	ml, err := store.UpsertDetected(ctx, "Machine Learning", interest.SourceNote, 0.8)
	require.NoError(t, err)

	t.Run("edges upsert and reject self-loops", func(t *testing.T) {
		edge := &interest.Edge{ParentID: ai.ID, ChildID: ml.ID, Confidence: 0.7}
		require.NoError(t, store.UpsertEdge(ctx, edge))

		// Re-upserting overwrites confidence.
		edge.Confidence = 0.95
		require.NoError(t, store.UpsertEdge(ctx, edge))

		edges, err := store.ListEdges(ctx)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, interest.EdgeTypeBroader, edges[0].Type)
		assert.InDelta(t, 0.95, edges[0].Confidence, 1e-9)

		err = store.UpsertEdge(ctx, &interest.Edge{ParentID: ai.ID, ChildID: ai.ID})
		assert.Error(t, err)
	})

	t.Run("similarity pairs are order-independent", func(t *testing.T) {
		require.NoError(t, store.SaveSimilarity(ctx, ml.ID, ai.ID, 0.42))

		p1, err := store.GetSimilarity(ctx, ai.ID, ml.ID)
		require.NoError(t, err)
		p2, err := store.GetSimilarity(ctx, ml.ID, ai.ID)
		require.NoError(t, err)
		assert.Equal(t, p1.ID1, p2.ID1)
		assert.InDelta(t, 0.42, p1.Score, 1e-9)
	})
}

func TestStore_Embeddings_Integration(t *testing.T) {
	store, cleanup := newIntegrationStore(t)
	defer cleanup()
	ctx := context.Background()

	a, err := store.UpsertDetected(ctx, "Go", interest.SourceNote, 0.9)
	require.NoError(t, err)
	b, err := store.UpsertDetected(ctx, "Rust", interest.SourceNote, 0.8)
	require.NoError(t, err)

	vec := func(first float32) []float32 {
		v := make([]float32, 768)
		v[0] = first
		v[1] = 1 - first
		return v
	}

	require.NoError(t, store.SaveEmbedding(ctx, &interest.Embedding{
		InterestID: a.ID, Vector: vec(1), Model: "test-model",
	}))
	require.NoError(t, store.SaveEmbedding(ctx, &interest.Embedding{
		InterestID: b.ID, Vector: vec(0.9), Model: "test-model",
	}))

	got, err := store.GetEmbedding(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, got.Vector, 768)
	assert.Equal(t, "test-model", got.Model)

	t.Run("search orders by similarity and excludes inactive", func(t *testing.T) {
		matches, err := store.SearchEmbeddings(ctx, vec(1), 0.1, 10)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, a.ID, matches[0].InterestID)
		assert.Greater(t, matches[0].Similarity, matches[1].Similarity)

		require.NoError(t, store.Deactivate(ctx, b.ID))
		matches, err = store.SearchEmbeddings(ctx, vec(1), 0.1, 10)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, a.ID, matches[0].InterestID)
	})
}

func TestStore_Recommendations_Integration(t *testing.T) {
	store, cleanup := newIntegrationStore(t)
	defer cleanup()
	ctx := context.Background()

	src, err := store.UpsertDetected(ctx, "Go", interest.SourceNote, 0.9)
	require.NoError(t, err)

	rec := &interest.Recommendation{
		InterestID: src.ID,
		Topic:      "Rust",
		Score:      0.8,
		Reasoning:  "High semantic similarity",
		Semantic:   0.8,
		ExpiresAt:  time.Now().Add(30 * 24 * time.Hour),
	}
	require.NoError(t, store.SaveRecommendation(ctx, rec))

	t.Run("recomputation never shortens the expiry", func(t *testing.T) {
		shorter := *rec
		shorter.Score = 0.9
		shorter.ExpiresAt = time.Now().Add(time.Hour)
		require.NoError(t, store.SaveRecommendation(ctx, &shorter))

		list, err := store.ListRecommendations(ctx, src.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.InDelta(t, 0.9, list[0].Score, 1e-9)
		assert.True(t, list[0].ExpiresAt.After(time.Now().Add(24*time.Hour)))
	})

	t.Run("expired recommendations are not listed", func(t *testing.T) {
		expired := &interest.Recommendation{
			InterestID: src.ID,
			Topic:      "COBOL",
			Score:      0.5,
			ExpiresAt:  time.Now().Add(-time.Hour),
		}
		require.NoError(t, store.SaveRecommendation(ctx, expired))

		list, err := store.ListRecommendations(ctx, src.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Rust", list[0].Topic)
	})
}

func TestStore_Subscriptions_Integration(t *testing.T) {
	store, cleanup := newIntegrationStore(t)
	defer cleanup()
	ctx := context.Background()

	sub, err := store.CreateSubscription(ctx, "Machine Learning", false)
	require.NoError(t, err)
	assert.False(t, sub.Confirmed)

	t.Run("duplicate topics are rejected case-insensitively", func(t *testing.T) {
		_, err := store.CreateSubscription(ctx, "machine learning", true)
		assert.ErrorIs(t, err, interest.ErrDuplicate)
	})

	t.Run("confirm and rename", func(t *testing.T) {
		confirmed, err := store.ConfirmSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.True(t, confirmed.Confirmed)

		renamed, err := store.UpdateSubscription(ctx, sub.ID, "Deep Learning")
		require.NoError(t, err)
		assert.Equal(t, "Deep Learning", renamed.Topic)
	})

	t.Run("renaming onto an existing topic is rejected", func(t *testing.T) {
		other, err := store.CreateSubscription(ctx, "Cooking", true)
		require.NoError(t, err)

		_, err = store.UpdateSubscription(ctx, other.ID, "deep learning")
		assert.ErrorIs(t, err, interest.ErrDuplicate)
	})

	t.Run("delete is permanent", func(t *testing.T) {
		require.NoError(t, store.DeleteSubscription(ctx, sub.ID))
		assert.ErrorIs(t, store.DeleteSubscription(ctx, sub.ID), interest.ErrNotFound)

		list, err := store.ListSubscriptions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Cooking", list[0].Topic)
	})
}
