package gateway

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/auth"
)

// RegisterRoutes mounts the conversion API on api. Conversion routes require
// a bearer token only when the handler has auth configured.
func RegisterRoutes(api *gin.RouterGroup, h *Handler, s *Streamer, logger *zap.Logger) {
	conversions := api.Group("")
	if h.AuthEnabled() {
		api.POST("/auth/login", h.Login)
		api.POST("/auth/refresh", h.RefreshToken)
		conversions.Use(auth.RequireAuth(h.auth.JWTManager, logger))
	}

	conversions.POST("/conversions", h.CreateConversion)
	conversions.GET("/conversions/:id", h.GetConversion)
	conversions.GET("/ws/conversions", s.StreamConversion)
}
