package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newnotes/insight/db"
	insightapi "github.com/newnotes/insight/internal/api"
	"github.com/newnotes/insight/internal/cache"
	"github.com/newnotes/insight/internal/config"
	"github.com/newnotes/insight/internal/database"
	"github.com/newnotes/insight/internal/detector"
	"github.com/newnotes/insight/internal/hierarchy"
	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/llm"
	"github.com/newnotes/insight/internal/recommend"
	"github.com/newnotes/insight/internal/similarity"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup. Call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Completer = llm.NewGenkitCompleter(g, cfg.FullModelName())
	a.Embedder = llm.NewGenkitEmbedder(embedder, cfg.EmbedderDimension)

	store, err := interest.NewStore(pool, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}
	a.Store = store

	c, err := cache.Open(cfg.CacheDir, logger.With("component", "cache"))
	if err != nil {
		return nil, fmt.Errorf("opening recommendation cache: %w", err)
	}
	a.Cache = c

	a.Similarity = similarity.New(store, a.Embedder, cfg.EmbedderModel,
		logger.With("component", "similarity"))
	a.Hierarchy = hierarchy.New(store, a.Completer,
		logger.With("component", "hierarchy"))
	a.Recommend = recommend.New(store, a.Similarity, a.Hierarchy, c,
		logger.With("component", "recommend"))

	a.Detector = detector.New(store, a.Completer, a.Similarity, a.Hierarchy,
		logger.With("component", "detector"))
	a.Detector.MergeThreshold = cfg.AutoMergeThreshold
	a.Trigger = detector.NewTrigger(cfg.DetectionCooldown, cfg.DetectionMinEvents)

	a.Server = insightapi.NewServer(pool, store, store,
		a.Detector, a.Trigger, a.Recommend, a.Hierarchy,
		logger.With("component", "api"))

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	return a, nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return database.Connect(ctx, cfg.PostgresConnectionString())
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), googleai, ollama and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // gemini / googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini/googleai: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini / googleai
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
