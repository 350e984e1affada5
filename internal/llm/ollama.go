package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OllamaClient completes prompts against a local Ollama server in JSON mode.
// Ollama has no schema-constrained decoding, so the schema is appended to the
// prompt and enforced on decode.
type OllamaClient struct {
	model   llms.Model
	name    string
	tracer  trace.Tracer
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOllamaClient creates a client for model served at cfg.BaseURL.
func NewOllamaClient(cfg Config, model string, logger *zap.Logger) (*OllamaClient, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []ollama.Option{
		ollama.WithModel(model),
		ollama.WithFormat("json"),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	return &OllamaClient{
		model:   llm,
		name:    model,
		tracer:  otel.Tracer("llm-ollama"),
		breaker: newBreaker("ollama-"+model, cfg.BreakerFailures, logger),
		limiter: newLimiter(cfg.RequestsPerSecond),
		logger:  logger.With(zap.String("provider", ProviderOllama), zap.String("model", model)),
	}, nil
}

// Complete implements Completer.
func (c *OllamaClient) Complete(ctx context.Context, prompt string, shape Shape, out any) error {
	ctx, span := c.tracer.Start(ctx, "llm.ollama.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", c.name),
		attribute.String("llm.shape", shape.Name),
	)

	full, err := jsonModePrompt(prompt, shape)
	if err != nil {
		return &ServiceError{Provider: ProviderOllama, Op: "build prompt", Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return &ServiceError{Provider: ProviderOllama, Op: "rate limit wait", Err: err}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return callerAware(ctx, func() (string, error) {
			return llms.GenerateFromSinglePrompt(ctx, c.model, full, llms.WithJSONMode())
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("completion failed", zap.String("shape", shape.Name), zap.Error(err))
		return &ServiceError{Provider: ProviderOllama, Op: "generate", Err: err}
	}

	if err := shape.Decode(result.(string), out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &ServiceError{Provider: ProviderOllama, Op: "decode response", Err: err}
	}
	return nil
}

func jsonModePrompt(prompt string, shape Shape) (string, error) {
	schema, err := shape.SchemaJSON()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nRespond with a single JSON object")
	if shape.Description != "" {
		b.WriteString(" (")
		b.WriteString(shape.Description)
		b.WriteString(")")
	}
	b.WriteString(" that conforms to this JSON schema:\n")
	b.WriteString(schema)
	return b.String(), nil
}
