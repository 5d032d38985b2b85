// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: the Genkit
// instance, the PostgreSQL pool, the interest store, the four engines and
// the HTTP server. Setup builds them in dependency order; Close releases
// them in reverse.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newnotes/insight/internal/api"
	"github.com/newnotes/insight/internal/cache"
	"github.com/newnotes/insight/internal/config"
	"github.com/newnotes/insight/internal/detector"
	"github.com/newnotes/insight/internal/hierarchy"
	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/llm"
	"github.com/newnotes/insight/internal/recommend"
	"github.com/newnotes/insight/internal/similarity"
)

// App is the core application container.
type App struct {
	Config *config.Config

	// Core services
	Genkit   *genkit.Genkit
	DBPool   *pgxpool.Pool
	Store    *interest.Store
	Cache    *cache.Cache
	Completer *llm.GenkitCompleter
	Embedder  *llm.GenkitEmbedder

	// Engines
	Similarity *similarity.Engine
	Hierarchy  *hierarchy.Graph
	Recommend  *recommend.Engine
	Detector   *detector.Detector
	Trigger    *detector.Trigger

	// HTTP surface
	Server *api.Server

	logger *slog.Logger
	cancel context.CancelFunc
}

// Close gracefully shuts down all resources in reverse dependency order.
func (a *App) Close() error {
	a.logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.Warn("closing cache", "error", err)
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger.Info("database pool closed")
	}

	return nil
}
