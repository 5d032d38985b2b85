package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/newnotes/insight/internal/detector"
	"github.com/newnotes/insight/internal/interest"
)

// defaultConfidenceDelta is applied by boost/reduce when the request body
// does not name one.
const defaultConfidenceDelta = 0.1

// InterestStore is the slice of the interest store the handlers need.
type InterestStore interface {
	ListActiveAbove(ctx context.Context, floor float64) ([]*interest.Interest, error)
	AdjustConfidence(ctx context.Context, id uuid.UUID, delta float64) (*interest.Interest, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListEvidence(ctx context.Context, interestID uuid.UUID) ([]*interest.Evidence, error)
}

// Detector runs a detection pass over submitted activity.
type Detector interface {
	Run(ctx context.Context, act detector.Activity) (*detector.Report, error)
}

// DetectionGate throttles detection passes.
type DetectionGate interface {
	Record(n int) bool
	Pending() int
}

// InterestHandler handles interest listing, detection and curation.
type InterestHandler struct {
	store   InterestStore
	det     Detector
	trigger DetectionGate
	logger  *slog.Logger
}

// NewInterestHandler creates an interest handler.
func NewInterestHandler(store InterestStore, det Detector, trigger DetectionGate, logger *slog.Logger) *InterestHandler {
	return &InterestHandler{store: store, det: det, trigger: trigger, logger: logger}
}

// RegisterRoutes registers interest routes on the given mux.
func (h *InterestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/interests", h.list)
	mux.HandleFunc("POST /api/interests/detect", h.detect)
	mux.HandleFunc("DELETE /api/interests/{id}", h.deactivate)
	mux.HandleFunc("POST /api/interests/{id}/boost", h.boost)
	mux.HandleFunc("POST /api/interests/{id}/reduce", h.reduce)
	mux.HandleFunc("GET /api/interests/{id}/evidence", h.evidence)
}

// list returns active interests at or above the min_confidence floor
// (default 0), ordered by confidence descending.
func (h *InterestHandler) list(w http.ResponseWriter, r *http.Request) {
	floor, err := parseFloatParam(r, "min_confidence", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	interests, err := h.store.ListActiveAbove(r.Context(), floor)
	if err != nil {
		h.logger.Error("failed to list interests", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list interests")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"interests": interests,
		"count":     len(interests),
	})
}

// detect runs a detection pass over the activity in the request body.
//
// The pass is gated: it only runs once enough activity has accumulated and
// the cooldown has elapsed. force=true bypasses the gate. A throttled
// request returns 429 with the pending event count.
func (h *InterestHandler) detect(w http.ResponseWriter, r *http.Request) {
	var act detector.Activity
	if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON activity")
		return
	}

	events := len(act.Notes) + len(act.Tasks) + len(act.Chats)
	if events == 0 {
		writeError(w, http.StatusBadRequest, "empty_activity", "activity contains no documents")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	if !force && !h.trigger.Record(events) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":          "detection_throttled",
			"message":        "not enough accumulated activity or cooldown active",
			"pending_events": h.trigger.Pending(),
		})
		return
	}

	report, err := h.det.Run(r.Context(), act)
	if err != nil {
		h.logger.Error("detection pass failed", "error", err)
		writeError(w, http.StatusInternalServerError, "detection_failed", "detection pass failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// deactivate soft-deletes an interest.
func (h *InterestHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, interest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "interest not found")
			return
		}
		h.logger.Error("failed to deactivate interest", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deactivate_failed", "failed to deactivate interest")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// boost raises an interest's confidence by the delta in the body (default 0.1).
func (h *InterestHandler) boost(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, 1)
}

// reduce lowers an interest's confidence by the delta in the body (default 0.1).
func (h *InterestHandler) reduce(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, -1)
}

func (h *InterestHandler) adjust(w http.ResponseWriter, r *http.Request, sign float64) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	delta := defaultConfidenceDelta
	if r.Body != nil && r.ContentLength != 0 {
		var body struct {
			Delta float64 `json:"delta"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "delta must be a number")
			return
		}
		if body.Delta < 0 || body.Delta > 1 {
			writeError(w, http.StatusBadRequest, "invalid_delta", "delta must be in [0,1]")
			return
		}
		if body.Delta != 0 {
			delta = body.Delta
		}
	}

	updated, err := h.store.AdjustConfidence(r.Context(), id, sign*delta)
	if err != nil {
		if errors.Is(err, interest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "interest not found")
			return
		}
		h.logger.Error("failed to adjust confidence", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "adjust_failed", "failed to adjust confidence")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// evidence returns the evidence trail of an interest, newest first.
func (h *InterestHandler) evidence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	evidence, err := h.store.ListEvidence(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list evidence", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "evidence_failed", "failed to list evidence")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"interest_id": id,
		"evidence":    evidence,
		"count":       len(evidence),
	})
}

// pathID parses the {id} path segment as a UUID, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseFloatParam parses an optional float query parameter.
func parseFloatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New(name + " must be a number")
	}
	return v, nil
}

// parseIntParam parses an optional integer query parameter.
func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}
