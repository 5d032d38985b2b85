package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/log"
	"github.com/newnotes/insight/internal/recommend"
)

// fakeRecommender replays a canned response and records the options it saw.
type fakeRecommender struct {
	resp        *recommend.Response
	err         error
	gotOpts     recommend.Options
	invalidated int
}

func (f *fakeRecommender) GetRecommendations(_ context.Context, sourceID uuid.UUID, opts recommend.Options) (*recommend.Response, error) {
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.InterestID = sourceID
	return &resp, nil
}

func (f *fakeRecommender) InvalidateCache(_ uuid.UUID) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.invalidated, nil
}

func newRecommendationHandler(rec Recommender) http.Handler {
	h := NewRecommendationHandler(rec, log.NewNop())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func TestRecommendationHandler_Get(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	rec := &fakeRecommender{resp: &recommend.Response{
		Recommendations: []recommend.Recommendation{
			{Topic: "Machine Learning", Score: 0.87, Reasoning: "High semantic similarity"},
		},
		ComputedAt: time.Now(),
	}}
	handler := newRecommendationHandler(rec)

	t.Run("returns ranked recommendations", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/interests/"+id.String()+"/recommendations?limit=5&min_score=0.4", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp recommend.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, id, resp.InterestID)
		require.Len(t, resp.Recommendations, 1)
		assert.Equal(t, "Machine Learning", resp.Recommendations[0].Topic)

		assert.Equal(t, 5, rec.gotOpts.Limit)
		assert.InDelta(t, 0.4, rec.gotOpts.MinScore, 1e-9)
	})

	t.Run("omitted parameters pass through as zero values", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/interests/"+id.String()+"/recommendations", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 0, rec.gotOpts.Limit)
		assert.Zero(t, rec.gotOpts.MinScore)
	})

	t.Run("rejects out-of-range min_score", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/interests/"+id.String()+"/recommendations?min_score=1.5", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects negative limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/interests/"+id.String()+"/recommendations?limit=-1", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRecommendationHandler_GetUnknownInterest(t *testing.T) {
	t.Parallel()

	handler := newRecommendationHandler(&fakeRecommender{err: interest.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/interests/"+uuid.NewString()+"/recommendations", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecommendationHandler_Invalidate(t *testing.T) {
	t.Parallel()

	handler := newRecommendationHandler(&fakeRecommender{invalidated: 3})

	req := httptest.NewRequest(http.MethodDelete, "/api/interests/"+uuid.NewString()+"/recommendations/cache", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Invalidated int `json:"invalidated"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Invalidated)
}
