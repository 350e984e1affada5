package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/auth"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/metrics"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/models"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/orchestration"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
)

const (
	maxRequestBytes = 16 << 20
	writeWait       = 10 * time.Second
)

// Streamer runs conversions over a WebSocket and streams their progress.
type Streamer struct {
	conversions Converter
	sources     SourceLoader
	upgrader    websocket.Upgrader
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewStreamer creates a streamer. An empty allowedOrigins accepts any origin.
func NewStreamer(conversions Converter, sources SourceLoader, allowedOrigins []string, logger *zap.Logger) *Streamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Streamer{
		conversions: conversions,
		sources:     sources,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		tracer: otel.Tracer("gateway-stream"),
		logger: logger.With(zap.String("component", "stream")),
	}
}

// StreamConversion handles WebSocket /api/ws/conversions
// @Summary Stream a conversion
// @Description WebSocket endpoint. The client sends one ConversionRequest message; the server streams StreamEvent messages for every phase of the run, then a result or error event, then end.
// @Tags conversions
// @Param token query string false "JWT, for clients that cannot set headers"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /ws/conversions [get]
func (s *Streamer) StreamConversion(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), "gateway.stream_conversion")
	defer span.End()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &eventWriter{conn: conn, cancel: cancel, logger: s.logger}
	defer w.end()

	var req models.ConversionRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Debug("unreadable conversion request", zap.Error(err))
		w.send(models.EventTypeError, models.ErrorResponse{
			Error: "Invalid request",
			Code:  models.ErrCodeInvalidRequest,
		})
		return
	}

	// The client sends nothing after the request; a read error means it left.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	source, err := resolveSource(runCtx, s.sources, req)
	if err != nil {
		w.sendError(err)
		return
	}

	w.send(models.EventTypeRunStarted, map[string]interface{}{
		"source_length": len(source),
	})

	conv, err := s.conversions.Convert(runCtx, orchestration.ConvertInput{
		SourceSpec: source,
		UserID:     auth.UserID(c),
		Origin:     metrics.OriginWebSocket,
	}, w.observe)
	if err != nil {
		span.RecordError(err)
		w.sendError(err)
		return
	}

	span.SetAttributes(attribute.String("run.id", conv.RunID.String()))
	w.send(models.EventTypeResult, conversionResponse(conv.RunID, conv.Result, conv.Source, conv.Cached))
}

// eventWriter serializes events onto the connection. All calls happen on the
// handler goroutine, which is also the goroutine running the conversion.
type eventWriter struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	logger *zap.Logger
	err    error
}

func (w *eventWriter) send(eventType string, data interface{}) {
	if w.err != nil {
		return
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteJSON(models.StreamEvent{EventType: eventType, Data: data}); err != nil {
		w.err = err
		w.cancel()
		w.logger.Info("stream client went away", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (w *eventWriter) sendError(err error) {
	_, resp := errorResponse(err)
	w.send(models.EventTypeError, resp)
}

func (w *eventWriter) observe(ev refinement.Event) {
	var eventType string
	switch ev.Phase {
	case refinement.PhaseGenerating:
		eventType = models.EventTypeGenerating
	case refinement.PhaseValidating:
		eventType = models.EventTypeValidating
	case refinement.PhaseAccepted:
		eventType = models.EventTypeAccepted
	case refinement.PhaseFailed:
		eventType = models.EventTypeFailed
	default:
		return
	}

	data := map[string]interface{}{"iteration": ev.Iteration}
	if ev.Accepted != nil {
		data["accepted"] = *ev.Accepted
	}
	if ev.Score != nil {
		data["score"] = *ev.Score
	}
	if ev.Critique != "" {
		data["critique"] = ev.Critique
	}
	if ev.Err != nil {
		data["error_kind"] = refinement.Kind(ev.Err)
	}
	w.send(eventType, data)
}

func (w *eventWriter) end() {
	w.send(models.EventTypeEnd, map[string]interface{}{})
	if w.err != nil {
		return
	}
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
