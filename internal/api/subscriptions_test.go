package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/log"
	"github.com/newnotes/insight/internal/testutil"
)

func newSubscriptionHandler() (http.Handler, *testutil.FakeStore) {
	store := testutil.NewFakeStore()
	h := NewSubscriptionHandler(store, log.NewNop())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, store
}

func TestSubscriptionHandler_CreateAndList(t *testing.T) {
	t.Parallel()

	handler, _ := newSubscriptionHandler()

	t.Run("creates a confirmed subscription", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", strings.NewReader(`{"topic":"Machine Learning"}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code)

		var sub interest.Subscription
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
		assert.Equal(t, "Machine Learning", sub.Topic)
		assert.True(t, sub.Confirmed)
		assert.NotEqual(t, uuid.Nil, sub.ID)
	})

	t.Run("duplicate topic returns 409", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", strings.NewReader(`{"topic":"machine learning"}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("missing topic returns 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list returns subscriptions sorted by topic", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", strings.NewReader(`{"topic":"Cooking"}`))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		req = httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Subscriptions []*interest.Subscription `json:"subscriptions"`
			Count         int                      `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, 2, body.Count)
		assert.Equal(t, "Cooking", body.Subscriptions[0].Topic)
		assert.Equal(t, "Machine Learning", body.Subscriptions[1].Topic)
	})
}

func TestSubscriptionHandler_Confirm(t *testing.T) {
	t.Parallel()

	handler, store := newSubscriptionHandler()
	sub, err := store.CreateSubscription(context.Background(), "Go", false)
	require.NoError(t, err)
	require.False(t, sub.Confirmed)

	t.Run("confirms a suggested subscription", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/subscriptions/"+sub.ID.String()+"/confirm", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var updated interest.Subscription
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.True(t, updated.Confirmed)
	})

	t.Run("unknown subscription returns 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/subscriptions/"+uuid.NewString()+"/confirm", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSubscriptionHandler_Update(t *testing.T) {
	t.Parallel()

	handler, store := newSubscriptionHandler()
	sub, err := store.CreateSubscription(context.Background(), "Go", true)
	require.NoError(t, err)
	_, err = store.CreateSubscription(context.Background(), "Rust", true)
	require.NoError(t, err)

	t.Run("renames a subscription", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/subscriptions/"+sub.ID.String(), strings.NewReader(`{"topic":"Golang"}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var updated interest.Subscription
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.Equal(t, "Golang", updated.Topic)
	})

	t.Run("renaming onto an existing topic returns 409", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/subscriptions/"+sub.ID.String(), strings.NewReader(`{"topic":"rust"}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestSubscriptionHandler_Delete(t *testing.T) {
	t.Parallel()

	handler, store := newSubscriptionHandler()
	sub, err := store.CreateSubscription(context.Background(), "Go", true)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/subscriptions/"+sub.ID.String(), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Deleting again reports not found.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/subscriptions/"+sub.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
