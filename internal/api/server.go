// Package api exposes the interest graph over HTTP.
//
// Endpoints:
//
//	GET    /health                                    liveness probe
//	GET    /ready                                     readiness probe (DB ping)
//	GET    /api/interests                             active interests above a confidence floor
//	POST   /api/interests/detect                      run a detection pass over submitted activity
//	DELETE /api/interests/{id}                        deactivate an interest
//	POST   /api/interests/{id}/boost                  raise confidence
//	POST   /api/interests/{id}/reduce                 lower confidence
//	GET    /api/interests/{id}/evidence               evidence trail
//	GET    /api/interests/{id}/recommendations        ranked recommendations
//	DELETE /api/interests/{id}/recommendations/cache  invalidate cached recommendations
//	GET    /api/interests/{id}/ancestors              broader topics
//	GET    /api/interests/{id}/descendants            narrower topics
//	GET    /api/hierarchy                             full hierarchy forest
//	GET    /api/subscriptions                         list topic subscriptions
//	POST   /api/subscriptions                         create a subscription
//	POST   /api/subscriptions/{id}/confirm            confirm a suggested subscription
//	PUT    /api/subscriptions/{id}                    rename a subscription
//	DELETE /api/subscriptions/{id}                    delete a subscription
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: logging and panic recovery
//   - health.go: liveness/readiness probes
//   - interests.go: interest CRUD and detection
//   - recommendations.go: recommendation endpoints
//   - hierarchy.go: hierarchy queries
//   - subscriptions.go: topic subscription CRUD
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "localhost:8085"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against Slowloris-style slow header writes.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Recommendation computation can involve several LLM round trips.
	WriteTimeout = 120 * time.Second

	// IdleTimeout applies to keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the interest graph API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger

	health    *HealthHandler
	interests *InterestHandler
	recs      *RecommendationHandler
	hierarchy *HierarchyHandler
	subs      *SubscriptionHandler
}

// NewServer creates an HTTP server with all routes registered.
// pool may be nil in tests; the readiness probe then reports unavailable.
func NewServer(pool *pgxpool.Pool, store InterestStore, subs SubscriptionStore,
	det Detector, trigger DetectionGate, rec Recommender, graph HierarchyGraph,
	logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		logger:    logger,
		health:    NewHealthHandler(pool, logger),
		interests: NewInterestHandler(store, det, trigger, logger),
		recs:      NewRecommendationHandler(rec, logger),
		hierarchy: NewHierarchyHandler(graph, logger),
		subs:      NewSubscriptionHandler(subs, logger),
	}

	s.health.RegisterRoutes(mux)
	s.interests.RegisterRoutes(mux)
	s.recs.RegisterRoutes(mux)
	s.hierarchy.RegisterRoutes(mux)
	s.subs.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
