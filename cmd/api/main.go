package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/app"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/auth"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/config"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/gateway"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/logging"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/metrics"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/orchestration"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/specsource"
)

// Version is set at build time.
var Version = "dev"

// @title MCP Config Builder API
// @version 1.0
// @description Converts Swagger/OpenAPI documents into MCP tool configurations.
// @description
// @description A generator model drafts the configuration and a reviewer model scores it; drafts are regenerated with the reviewer's critique until one is accepted or the iteration limit is reached.

// @contact.name API Support
// @contact.email support@bizmatters.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

func main() {
	cfg, err := config.Load(os.Getenv("MCPGEN_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := metrics.InitTelemetry(ctx, metrics.TelemetryConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	runMetrics, err := metrics.NewRunMetrics()
	if err != nil {
		return fmt.Errorf("failed to create run metrics: %w", err)
	}

	pool, err := app.ConnectDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		if err := orchestration.Migrate(ctx, pool); err != nil {
			return err
		}
	} else {
		logger.Warn("no database configured, conversion runs are kept in memory")
	}

	cache, redisClient, err := app.NewCache(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("result cache disabled", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	set, err := app.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	controller, err := app.NewController(cfg, set, logger)
	if err != nil {
		return err
	}

	service := orchestration.NewService(controller, app.NewRunStore(pool), cache, runMetrics, orchestration.ServiceConfig{
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
		RunTimeout:        cfg.Server.RunTimeout,
		PromptVersion:     set.Version,
		Models:            cfg.LLM.Models(),
	}, logger)
	loader := specsource.NewLoader(logger)

	var authCfg gateway.AuthConfig
	if cfg.Auth.Enabled {
		jwtManager, err := auth.NewJWTManager(cfg.Auth.JWTSecret)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT manager: %w", err)
		}
		authCfg = gateway.AuthConfig{
			Users:      auth.NewPostgresUserRepository(pool),
			JWTManager: jwtManager,
			TokenTTL:   cfg.Auth.TokenTTL,
		}
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(routerDeps{
		serviceName: cfg.Telemetry.ServiceName,
		handler:     gateway.NewHandler(service, loader, authCfg, logger),
		streamer:    gateway.NewStreamer(service, loader, cfg.Server.AllowedOrigins, logger),
		metrics:     tel.Handler(),
		readiness:   readinessChecks(pool, redisClient),
		logger:      logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * 4,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting MCP config builder API",
			zap.Int("port", cfg.Server.Port),
			zap.String("version", Version),
			zap.Bool("auth", cfg.Auth.Enabled),
			zap.String("llm_provider", cfg.LLM.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}
