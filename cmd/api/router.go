package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/bizmatters/agent-builder/mcp-config-builder/docs" // swagger docs
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/gateway"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/logging"
)

const readinessTimeout = 2 * time.Second

// readinessCheck reports whether one dependency is reachable.
type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

type routerDeps struct {
	serviceName string
	handler     *gateway.Handler
	streamer    *gateway.Streamer
	metrics     http.Handler
	readiness   []readinessCheck
	logger      *zap.Logger
}

func readinessChecks(pool *pgxpool.Pool, redisClient *redis.Client) []readinessCheck {
	var checks []readinessCheck
	if pool != nil {
		checks = append(checks, readinessCheck{name: "database", check: pool.Ping})
	}
	if redisClient != nil {
		checks = append(checks, readinessCheck{name: "redis", check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	return checks
}

func newRouter(deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(deps.serviceName))
	router.Use(logging.RequestLogger(deps.logger))

	// Health checks MUST be at the root for the WebService standard
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()
		for _, rc := range deps.readiness {
			if err := rc.check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "not ready",
					"error":  rc.name + " connection failed",
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if deps.metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.metrics))
	}
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	gateway.RegisterRoutes(router.Group("/api"), deps.handler, deps.streamer, deps.logger)
	return router
}
