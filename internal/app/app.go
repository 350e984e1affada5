// Package app assembles the conversion pipeline from configuration. Both the
// HTTP server and the CLI build their components here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/config"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/llm"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/orchestration"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/prompts"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
)

const connectRetryDelay = 3 * time.Second

// LoadPrompts returns the configured prompt set, or the embedded one.
func LoadPrompts(path string) (*prompts.Set, error) {
	if path == "" {
		return prompts.Default()
	}
	return prompts.Load(path)
}

// NewController wires one LLM backend per step into a Controller.
func NewController(cfg *config.Config, set *prompts.Set, logger *zap.Logger) (*refinement.Controller, error) {
	llmCfg := llm.Config{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		BreakerFailures:   cfg.LLM.BreakerFailures,
	}

	genCompleter, err := llm.New(llmCfg, cfg.LLM.GeneratorModel, logger)
	if err != nil {
		return nil, fmt.Errorf("generator backend: %w", err)
	}
	valCompleter, err := llm.New(llmCfg, cfg.LLM.ValidatorModel, logger)
	if err != nil {
		return nil, fmt.Errorf("validator backend: %w", err)
	}

	generator, err := refinement.NewLLMGenerator(genCompleter, set, logger)
	if err != nil {
		return nil, err
	}
	validator, err := refinement.NewLLMValidator(valCompleter, set, logger)
	if err != nil {
		return nil, err
	}

	return refinement.NewController(generator, validator, refinement.Options{
		MaxIterations:          cfg.Refinement.MaxIterations,
		PassPriorConfiguration: cfg.Refinement.PassPriorConfiguration,
		TrackDocumentation:     cfg.Refinement.TrackDocumentation,
	}, logger)
}

// ConnectDatabase opens a pool and waits for PostgreSQL to answer, retrying
// up to cfg.ConnectAttempts times. It returns nil, nil when no URL is set.
func ConnectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				logger.Info("connected to PostgreSQL")
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		logger.Warn("waiting for database", zap.Int("attempt", i), zap.Int("max_attempts", attempts), zap.Error(err))

		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, lastErr)
}

// NewRunStore returns a PostgreSQL store, or an in-memory one when pool is nil.
func NewRunStore(pool *pgxpool.Pool) orchestration.RunStore {
	if pool == nil {
		return orchestration.NewMemoryRunStore()
	}
	return orchestration.NewPostgresRunStore(pool)
}

// NewCache connects the result cache. It returns a nil cache when no address
// is configured; the caller owns the returned client.
func NewCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (orchestration.ResultCache, *redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return orchestration.NewRedisResultCache(client, cfg.TTL, logger), client, nil
}
