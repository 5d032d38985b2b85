package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/newnotes/insight/internal/interest"
)

// SubscriptionStore persists topic subscriptions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, topic string, confirmed bool) (*interest.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]*interest.Subscription, error)
	ConfirmSubscription(ctx context.Context, id uuid.UUID) (*interest.Subscription, error)
	UpdateSubscription(ctx context.Context, id uuid.UUID, topic string) (*interest.Subscription, error)
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
}

// SubscriptionHandler handles topic subscription endpoints.
type SubscriptionHandler struct {
	store  SubscriptionStore
	logger *slog.Logger
}

// NewSubscriptionHandler creates a subscription handler.
func NewSubscriptionHandler(store SubscriptionStore, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{store: store, logger: logger}
}

// RegisterRoutes registers subscription routes on the given mux.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/subscriptions", h.list)
	mux.HandleFunc("POST /api/subscriptions", h.create)
	mux.HandleFunc("POST /api/subscriptions/{id}/confirm", h.confirm)
	mux.HandleFunc("PUT /api/subscriptions/{id}", h.update)
	mux.HandleFunc("DELETE /api/subscriptions/{id}", h.delete)
}

func (h *SubscriptionHandler) list(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions(r.Context())
	if err != nil {
		h.logger.Error("failed to list subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list subscriptions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// subscriptionBody is the request body for create and update.
type subscriptionBody struct {
	Topic string `json:"topic"`
}

func (h *SubscriptionHandler) create(w http.ResponseWriter, r *http.Request) {
	var body subscriptionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Topic == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "topic is required")
		return
	}

	// User-created subscriptions are confirmed from the start; only
	// system-suggested ones await confirmation.
	sub, err := h.store.CreateSubscription(r.Context(), body.Topic, true)
	if err != nil {
		if errors.Is(err, interest.ErrDuplicate) {
			writeError(w, http.StatusConflict, "duplicate_topic", "subscription already exists")
			return
		}
		h.logger.Error("failed to create subscription", "topic", body.Topic, "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sub, err := h.store.ConfirmSubscription(r.Context(), id)
	if err != nil {
		if errors.Is(err, interest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "subscription not found")
			return
		}
		h.logger.Error("failed to confirm subscription", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "confirm_failed", "failed to confirm subscription")
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body subscriptionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Topic == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "topic is required")
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), id, body.Topic)
	if err != nil {
		switch {
		case errors.Is(err, interest.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "subscription not found")
		case errors.Is(err, interest.ErrDuplicate):
			writeError(w, http.StatusConflict, "duplicate_topic", "subscription already exists")
		default:
			h.logger.Error("failed to update subscription", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "update_failed", "failed to update subscription")
		}
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteSubscription(r.Context(), id); err != nil {
		if errors.Is(err, interest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "subscription not found")
			return
		}
		h.logger.Error("failed to delete subscription", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
