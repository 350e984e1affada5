package refinement

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/llm"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/prompts"
)

// Generator produces a candidate configuration from a source spec. An empty
// priorCritique or priorConfiguration means none is available.
type Generator interface {
	Generate(ctx context.Context, sourceSpec, priorCritique, priorConfiguration string) (*GenerationResult, error)
}

type generationPayload struct {
	Analysis      string `json:"analysis" description:"Analysis of the API that informed the configuration"`
	ToolConfig    string `json:"tool_config" description:"The MCP tool configuration as a JSON encoded string"`
	Documentation string `json:"documentation" description:"Human readable documentation of the generated tools"`
	Requirements  string `json:"requirements" description:"Runtime requirements of the generated server"`
}

// LLMGenerator implements Generator with a structured LLM completion.
type LLMGenerator struct {
	completer llm.Completer
	prompts   *prompts.Set
	shape     llm.Shape
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewLLMGenerator creates a generator rendering prompts from set.
func NewLLMGenerator(completer llm.Completer, set *prompts.Set, logger *zap.Logger) (*LLMGenerator, error) {
	if completer == nil || set == nil {
		return nil, fmt.Errorf("completer and prompt set are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	shape, err := llm.NewShape("tool_extraction_result", "Generated MCP tool configuration", generationPayload{})
	if err != nil {
		return nil, err
	}
	return &LLMGenerator{
		completer: completer,
		prompts:   set,
		shape:     shape,
		tracer:    otel.Tracer("refinement-generator"),
		logger:    logger,
	}, nil
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, sourceSpec, priorCritique, priorConfiguration string) (*GenerationResult, error) {
	ctx, span := g.tracer.Start(ctx, "refinement.generate")
	defer span.End()

	span.SetAttributes(
		attribute.Bool("has_feedback", priorCritique != ""),
		attribute.Bool("has_prior_configuration", priorConfiguration != ""),
	)

	if err := ValidateSource(sourceSpec); err != nil {
		return nil, err
	}

	prompt, err := g.prompts.RenderGeneration(prompts.GenerationInput{
		SourceSpec:         sourceSpec,
		Feedback:           priorCritique,
		PriorConfiguration: priorConfiguration,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrGenerationService, err)
	}

	var payload generationPayload
	if err := g.completer.Complete(ctx, prompt, g.shape, &payload); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrGenerationService, err)
	}
	if strings.TrimSpace(payload.ToolConfig) == "" {
		err := fmt.Errorf("%w: generated configuration is empty", ErrGenerationService)
		span.RecordError(err)
		return nil, err
	}

	g.logger.Debug("generated configuration",
		zap.Int("configuration_length", len(payload.ToolConfig)),
		zap.Int("analysis_length", len(payload.Analysis)),
	)

	return &GenerationResult{
		Analysis:      payload.Analysis,
		Configuration: payload.ToolConfig,
		Documentation: payload.Documentation,
		Requirements:  payload.Requirements,
	}, nil
}
