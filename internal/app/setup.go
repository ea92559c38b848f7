package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/dorainsight/dora/api"
	"github.com/dorainsight/dora/db"
	"github.com/dorainsight/dora/internal/chat"
	"github.com/dorainsight/dora/internal/config"
	"github.com/dorainsight/dora/internal/embedding"
	"github.com/dorainsight/dora/internal/generate"
	"github.com/dorainsight/dora/internal/github"
	"github.com/dorainsight/dora/internal/integration"
	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/observability"
	"github.com/dorainsight/dora/internal/retrieval"
	"github.com/dorainsight/dora/internal/store"
	"github.com/dorainsight/dora/internal/vault"
)

// GitHub API politeness limit for outbound calls.
const (
	githubRequestsPerSecond = 5
	githubBurst             = 10
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before genkit.Init.
	a.otelCleanup = observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	a.Store = store.New(pool, logger)

	// Lifetime context for background workers.
	appCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	ghClient := github.NewClient(logger, github.WithRateLimit(githubRequestsPerSecond, githubBurst))

	a.Integrations, err = provideIntegrations(appCtx, cfg, a.Store, ghClient, logger)
	if err != nil {
		return nil, err
	}
	a.Chat = provideChat(cfg, a.Store, a.Integrations, ghClient, g, embedder, logger)
	a.Server = api.NewServer(pool, a.Chat, a.Integrations, a.Store, logger)

	return a, nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
// Every connection registers the pgvector types so []float32 round-trips as
// the vector column type.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

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

// provideGenkit initializes Genkit with the Google AI plugin. Tracing setup
// must happen before this call.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with googleai provider")
	}
	return g, nil
}

// provideIntegrations wires the OAuth flow, token vault and credential cache,
// and starts the state-store janitor on the app lifetime context.
func provideIntegrations(ctx context.Context, cfg *config.Config, st *store.Store, client *github.Client, logger log.Logger) (*integration.Service, error) {
	v, err := vault.New(cfg.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("token vault: %w", err)
	}

	oauth := github.NewOAuth(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL)

	states := integration.NewStateStore(integration.DefaultStateTTL)
	states.Start(ctx)

	return integration.New(st, v, oauth, client, states,
		integration.NewCredentialCache(), cfg.FrontendURL, logger), nil
}

// provideChat assembles the turn pipeline: embedding, retrieval, generation.
func provideChat(cfg *config.Config, st *store.Store, integ *integration.Service, client *github.Client, g *genkit.Genkit, embedder ai.Embedder, logger log.Logger) *chat.Service {
	embedSvc := embedding.New(embedder, logger)
	retriever := retrieval.New(st, integ, client,
		cfg.TopK, time.Duration(cfg.RecencyWindowDays)*24*time.Hour, logger)
	genSvc := generate.New(generate.NewGenkitGenerator(g, cfg.GenerationModel), logger)

	return chat.New(st, embedSvc, retriever, genSvc, logger)
}
