package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/app"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/auth"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/config"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/gateway"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/orchestration"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/specsource"
	"github.com/bizmatters/agent-builder/mcp-config-builder/tests/helpers"
)

const testJWTSecret = "integration-test-secret-key-32-bytes-long"

type stack struct {
	router *gin.Engine
	llm    *helpers.FakeLLM
	redis  *miniredis.Miniredis
}

type stackOptions struct {
	maxIterations int
	verdicts      []helpers.Verdict
	pool          *pgxpool.Pool
	withCache     bool
}

// newStack assembles the server the way cmd/api does, against a fake model
// endpoint. A nil pool keeps runs in memory and disables auth.
func newStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	cfg := config.Default()
	fake := helpers.NewFakeLLM(t, cfg.LLM.GeneratorModel, opts.verdicts...)
	cfg.LLM.APIKey = "sk-integration"
	cfg.LLM.BaseURL = fake.BaseURL()
	if opts.maxIterations > 0 {
		cfg.Refinement.MaxIterations = opts.maxIterations
	}

	s := &stack{llm: fake}
	if opts.withCache {
		s.redis = miniredis.RunT(t)
		cfg.Redis.Addr = s.redis.Addr()
	}

	set, err := app.LoadPrompts("")
	require.NoError(t, err)
	controller, err := app.NewController(cfg, set, logger)
	require.NoError(t, err)

	cache, redisClient, err := app.NewCache(t.Context(), cfg.Redis, logger)
	require.NoError(t, err)
	if redisClient != nil {
		t.Cleanup(func() { redisClient.Close() })
	}

	service := orchestration.NewService(controller, app.NewRunStore(opts.pool), cache, nil, orchestration.ServiceConfig{
		MaxConcurrentRuns: 2,
		PromptVersion:     set.Version,
		Models:            cfg.LLM.Models(),
	}, logger)
	loader := specsource.NewLoader(logger)

	var authCfg gateway.AuthConfig
	if opts.pool != nil {
		jwtManager, err := auth.NewJWTManager(testJWTSecret)
		require.NoError(t, err)
		authCfg = gateway.AuthConfig{
			Users:      auth.NewPostgresUserRepository(opts.pool),
			JWTManager: jwtManager,
		}
	}

	s.router = gin.New()
	gateway.RegisterRoutes(s.router.Group("/api"),
		gateway.NewHandler(service, loader, authCfg, logger),
		gateway.NewStreamer(service, loader, nil, logger),
		logger)
	return s
}

func (s *stack) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func statusOK(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
