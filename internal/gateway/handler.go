package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/auth"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/metrics"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/models"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/orchestration"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/specsource"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/toolconfig"
)

// Converter runs and looks up conversions.
type Converter interface {
	Convert(ctx context.Context, in orchestration.ConvertInput, observers ...refinement.Observer) (*orchestration.Conversion, error)
	GetRun(ctx context.Context, id uuid.UUID) (*orchestration.RunRecord, error)
}

// SourceLoader fetches a spec from a URL.
type SourceLoader interface {
	Load(ctx context.Context, source string) (string, error)
}

// AuthConfig enables the login routes. A zero value disables them.
type AuthConfig struct {
	Users      auth.UserRepository
	JWTManager *auth.JWTManager
	TokenTTL   time.Duration
}

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	conversions Converter
	sources     SourceLoader
	auth        AuthConfig
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewHandler creates a new gateway handler
func NewHandler(conversions Converter, sources SourceLoader, authCfg AuthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if authCfg.TokenTTL <= 0 {
		authCfg.TokenTTL = 24 * time.Hour
	}
	return &Handler{
		conversions: conversions,
		sources:     sources,
		auth:        authCfg,
		tracer:      otel.Tracer("gateway-handler"),
		logger:      logger.With(zap.String("component", "gateway")),
	}
}

// AuthEnabled reports whether login and bearer auth are configured.
func (h *Handler) AuthEnabled() bool {
	return h.auth.Users != nil && h.auth.JWTManager != nil
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.LoginResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "gateway.login")
	defer span.End()

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request")
		return
	}

	email := auth.NormalizeEmail(req.Email)
	user, err := h.auth.Users.GetByEmail(ctx, email)
	if errors.Is(err, auth.ErrUserNotFound) {
		h.logger.Warn("login for unknown user", zap.String("email", email))
		abortWithError(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("user lookup failed", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, models.ErrCodeInternalError, "Login failed")
		return
	}
	if !auth.CheckPassword(user.HashedPassword, req.Password) {
		h.logger.Warn("invalid password", zap.String("user_id", user.ID))
		abortWithError(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Invalid email or password")
		return
	}

	token, expiresAt, err := h.auth.JWTManager.GenerateToken(ctx, user.ID, user.Email, []string{"user"}, h.auth.TokenTTL)
	if err != nil {
		span.RecordError(err)
		abortWithError(c, http.StatusInternalServerError, models.ErrCodeInternalError, "Failed to generate token")
		return
	}

	span.SetAttributes(attribute.String("user.id", user.ID))
	c.JSON(http.StatusOK, models.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.ToUserInfo(),
	})
}

// RefreshToken godoc
// @Summary Refresh token
// @Description Exchange a valid bearer token for a fresh one
// @Tags auth
// @Produce json
// @Success 200 {object} models.TokenResponse
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /auth/refresh [post]
func (h *Handler) RefreshToken(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		abortWithError(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Missing or invalid authorization header")
		return
	}
	refreshed, expiresAt, err := h.auth.JWTManager.RefreshToken(c.Request.Context(), token, h.auth.TokenTTL)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Invalid or expired token")
		return
	}
	c.JSON(http.StatusOK, models.TokenResponse{Token: refreshed, ExpiresAt: expiresAt})
}

// CreateConversion godoc
// @Summary Convert an OpenAPI document
// @Description Generate an MCP tool configuration from inline Swagger/OpenAPI content or a URL. The call blocks until the refinement loop accepts a configuration or fails.
// @Tags conversions
// @Accept json
// @Produce json
// @Param request body models.ConversionRequest true "Source document"
// @Success 200 {object} models.ConversionResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Failure 504 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /conversions [post]
func (h *Handler) CreateConversion(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "gateway.create_conversion")
	defer span.End()

	var req models.ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request")
		return
	}

	source, err := resolveSource(ctx, h.sources, req)
	if err != nil {
		span.RecordError(err)
		respondError(c, err)
		return
	}

	conv, err := h.conversions.Convert(ctx, orchestration.ConvertInput{
		SourceSpec: source,
		UserID:     auth.UserID(c),
		Origin:     metrics.OriginAPI,
	})
	if err != nil {
		span.RecordError(err)
		_ = c.Error(err)
		respondError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("run.id", conv.RunID.String()),
		attribute.Bool("cached", conv.Cached),
	)
	c.JSON(http.StatusOK, conversionResponse(conv.RunID, conv.Result, conv.Source, conv.Cached))
}

// GetConversion godoc
// @Summary Get conversion run
// @Description Get the status and, once accepted, the result of a conversion run
// @Tags conversions
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} models.RunResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /conversions/{id} [get]
func (h *Handler) GetConversion(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid run ID")
		return
	}

	rec, err := h.conversions.GetRun(c.Request.Context(), runID)
	if err != nil {
		respondError(c, err)
		return
	}

	// Runs owned by another user are reported as missing.
	if userID := auth.UserID(c); userID != "" && rec.UserID != "" && rec.UserID != userID {
		respondError(c, orchestration.ErrRunNotFound)
		return
	}

	c.JSON(http.StatusOK, runResponse(rec))
}

// resolveSource returns inline content, or fetches source_url when no
// content was sent. Local paths are never read on behalf of API callers.
func resolveSource(ctx context.Context, sources SourceLoader, req models.ConversionRequest) (string, error) {
	if req.SwaggerContent != "" {
		return req.SwaggerContent, nil
	}
	if req.SourceURL == "" {
		return "", errMissingSource
	}
	if !specsource.IsURL(req.SourceURL) {
		return "", errInvalidSourceURL
	}
	return sources.Load(ctx, req.SourceURL)
}

func conversionResponse(runID uuid.UUID, result *refinement.Result, source *specsource.Summary, cached bool) models.ConversionResponse {
	cfg, valid := toolconfig.Presentable(result.Configuration)
	resp := models.ConversionResponse{
		RunID:               runID.String(),
		ToolConfig:          cfg,
		ConfigurationValid:  valid,
		Analysis:            result.Analysis,
		Documentation:       result.Documentation,
		Requirements:        result.Requirements,
		Score:               result.Score,
		IsEverythingCorrect: result.Accepted,
		ReflectionReason:    result.Critique,
		Iterations:          result.Iterations,
		Cached:              cached,
	}
	if valid {
		resp.ToolCount = toolconfig.Summarize(cfg).ToolCount
	} else {
		resp.RawConfiguration = result.Configuration
	}
	if source != nil {
		resp.SourceOperations = len(source.Operations)
	}
	return resp
}

func runResponse(rec *orchestration.RunRecord) models.RunResponse {
	resp := models.RunResponse{
		RunID:        rec.ID.String(),
		Status:       string(rec.Status),
		Iterations:   rec.Iterations,
		Score:        rec.Score,
		ErrorKind:    rec.ErrorKind,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		CompletedAt:  rec.CompletedAt,
	}
	if rec.Result != nil {
		result := conversionResponse(rec.ID, rec.Result, nil, false)
		resp.Result = &result
	}
	return resp
}
