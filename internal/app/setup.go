package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpinsight/rpinsight/db"
	"github.com/rpinsight/rpinsight/internal/config"
	"github.com/rpinsight/rpinsight/internal/datasync"
	"github.com/rpinsight/rpinsight/internal/llm"
	"github.com/rpinsight/rpinsight/internal/log"
	"github.com/rpinsight/rpinsight/internal/observability"
	"github.com/rpinsight/rpinsight/internal/query"
	"github.com/rpinsight/rpinsight/internal/rag"
	"github.com/rpinsight/rpinsight/internal/reportportal"
	"github.com/rpinsight/rpinsight/internal/store"
)

// Setup creates and initializes the application.
// Call Close on the returned App to release resources.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized
	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		a.otelCleanup = observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Environment: cfg.Tracing.Environment,
		}, logger)
	}

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	a.Store = store.New(store.NewQueries(pool), embedder, logger.With("component", "store"))

	client, err := reportportal.NewClient(reportportal.Config{
		BaseURL:    cfg.ReportPortalURL,
		Token:      cfg.ReportPortalToken,
		Timeout:    cfg.RequestTimeout(),
		RateLimit:  cfg.SyncRateLimit,
		MaxRetries: cfg.MaxRetries,
	}, logger.With("component", "reportportal"))
	if err != nil {
		return nil, err
	}

	a.Orchestrator = datasync.NewOrchestrator(client, a.Store, datasync.Config{
		BatchSize:              cfg.SyncBatchSize,
		MaxLogsPerItem:         cfg.MaxLogsPerItem,
		Lookback:               cfg.IncrementalLookback(),
		FullSyncEnabled:        cfg.EnableFullSync,
		IncrementalSyncEnabled: cfg.EnableIncrementalSync,
	}, logger.With("component", "sync"))

	provider := llm.NewGenkitProvider(g, llm.GenkitConfig{
		ModelName:   cfg.FullModelName(),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, logger.With("component", "llm"))

	a.Pipeline = rag.New(provider, a.Store, query.NewProcessor(), cfg.ResultCount,
		logger.With("component", "rag"))

	return a, nil
}

// provideDBPool runs migrations and creates the PostgreSQL pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured provider
// plugin. Ollama needs explicit model and embedder registration; the
// other providers discover their models.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized genkit with googleai provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider
// plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address, registered in provideGenkit
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		// Auto-registered in Init
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
