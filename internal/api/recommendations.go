package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/recommend"
)

// Recommender computes and invalidates recommendations.
type Recommender interface {
	GetRecommendations(ctx context.Context, sourceID uuid.UUID, opts recommend.Options) (*recommend.Response, error)
	InvalidateCache(sourceID uuid.UUID) (int, error)
}

// RecommendationHandler handles recommendation endpoints.
type RecommendationHandler struct {
	rec    Recommender
	logger *slog.Logger
}

// NewRecommendationHandler creates a recommendation handler.
func NewRecommendationHandler(rec Recommender, logger *slog.Logger) *RecommendationHandler {
	return &RecommendationHandler{rec: rec, logger: logger}
}

// RegisterRoutes registers recommendation routes on the given mux.
func (h *RecommendationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/interests/{id}/recommendations", h.get)
	mux.HandleFunc("DELETE /api/interests/{id}/recommendations/cache", h.invalidate)
}

// get returns ranked recommendations for an interest. Query parameters:
// limit (default 10) and min_score (default 0.3).
func (h *RecommendationHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	minScore, err := parseFloatParam(r, "min_score", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	if limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "limit must be non-negative")
		return
	}
	if minScore < 0 || minScore > 1 {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "min_score must be in [0,1]")
		return
	}

	resp, err := h.rec.GetRecommendations(r.Context(), id, recommend.Options{
		Limit:    limit,
		MinScore: minScore,
	})
	if err != nil {
		if errors.Is(err, interest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "interest not found")
			return
		}
		h.logger.Error("failed to compute recommendations", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "recommendations_failed", "failed to compute recommendations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// invalidate drops cached recommendations for an interest.
func (h *RecommendationHandler) invalidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	removed, err := h.rec.InvalidateCache(id)
	if err != nil {
		h.logger.Error("failed to invalidate recommendation cache", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "invalidate_failed", "failed to invalidate cache")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"interest_id": id,
		"invalidated": removed,
	})
}
