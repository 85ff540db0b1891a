// Package setup wires configuration into the concrete stores and clients
// shared by the worker and the CLI.
package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sprintly/backend/internal/config"
	"github.com/sprintly/backend/internal/util"
	"github.com/sprintly/backend/migrations"
	"github.com/sprintly/backend/pkg/ai"
	oai "github.com/sprintly/backend/pkg/ai/ollama"
	gai "github.com/sprintly/backend/pkg/ai/openai"
	"github.com/sprintly/backend/pkg/logger"
	"github.com/sprintly/backend/pkg/pipeline"
	neo4jstore "github.com/sprintly/backend/pkg/store/neo4j"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// AIClient classifies entities and embeds their descriptions.
type AIClient interface {
	ai.Classifier
	ai.Embedder
}

// NewDBPool connects to Postgres with the vector type registered on every
// connection.
func NewDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded migrations.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, MigrationURL(databaseURL))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("Database migrations applied")
	return nil
}

// MigrationURL rewrites a postgres url to the scheme of the pgx/v5
// migration driver.
func MigrationURL(databaseURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if rest, ok := strings.CutPrefix(databaseURL, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

func NewAIClient(cfg config.AIConfig, pipelineCfg config.PipelineConfig) (AIClient, error) {
	switch cfg.Adapter {
	case "ollama":
		client, err := oai.NewClient(oai.NewClientParams{
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Temperature:    cfg.Temperature,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,

			MaxConcurrentRequests: int64(cfg.MaxConcurrentRequests),
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewClient(gai.NewClientParams{
			ChatModel:           cfg.ChatModel,
			EmbeddingModel:      cfg.EmbeddingModel,
			EmbeddingDimensions: cfg.EmbeddingDimensions,
			Temperature:         cfg.Temperature,

			ChatURL:      cfg.ChatURL,
			ChatKey:      cfg.ChatKey,
			EmbeddingURL: cfg.EmbeddingURL,
			EmbeddingKey: cfg.EmbeddingKey,

			MaxConcurrentRequests: int64(cfg.MaxConcurrentRequests),
			RequestTimeout:        max(pipelineCfg.CallTimeout, pipelineCfg.EmbedTimeout),
		}), nil
	}
}

// NewGraphStore connects to Neo4j when configured. It returns nil, nil when
// the graph mirror is disabled.
func NewGraphStore(ctx context.Context, cfg config.Neo4jConfig) (*neo4jstore.GraphStore, error) {
	if !cfg.Enabled() {
		logger.Warn("NEO4J_URI not set, graph mirror disabled")
		return nil, nil
	}
	graph, err := neo4jstore.NewGraphStore(ctx, neo4jstore.NewGraphStoreParams{
		URI:      cfg.URI,
		Username: cfg.Username,
		Password: cfg.Password,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}
	if err := graph.EnsureConstraints(ctx); err != nil {
		_ = graph.Close(ctx)
		return nil, err
	}
	return graph, nil
}

// PipelineParams maps the pipeline configuration onto client parameters.
// Stores and AI clients are left for the caller.
func PipelineParams(cfg config.PipelineConfig) (pipeline.NewClientParams, error) {
	params := pipeline.NewClientParams{
		MaxWorkers:      cfg.MaxWorkers,
		BatchSize:       cfg.BatchSize,
		CommitChunkSize: cfg.CommitChunkSize,
		MaxBytes:        cfg.MaxUploadBytes,
		CallTimeout:     cfg.CallTimeout,
		EmbedTimeout:    cfg.EmbedTimeout,
		Backoff: util.Backoff{
			MaxAttempts: cfg.RetryAttempts,
			Base:        cfg.RetryBase,
			Max:         cfg.RetryMax,
		},
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}
	if cfg.MaxEmbeddingTokens > 0 {
		truncator, err := ai.NewTruncator(cfg.TokenEncoding, cfg.MaxEmbeddingTokens)
		if err != nil {
			return params, fmt.Errorf("load token encoding %s: %w", cfg.TokenEncoding, err)
		}
		params.Truncator = truncator
	}
	return params, nil
}
