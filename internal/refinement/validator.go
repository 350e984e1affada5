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

// Validator judges a configuration against its source spec. documentation is
// empty when none is tracked.
type Validator interface {
	Validate(ctx context.Context, sourceSpec, configuration, documentation string) (*ValidationResult, error)
}

type validationPayload struct {
	IsEverythingCorrect bool   `json:"is_everything_correct" description:"True only if the configuration can be used as is"`
	Reason              string `json:"reason" description:"Concrete critique listing what must change"`
	Score               int    `json:"score" description:"Quality score from 0 to 100"`
}

// LLMValidator implements Validator with a structured LLM completion.
type LLMValidator struct {
	completer llm.Completer
	prompts   *prompts.Set
	shape     llm.Shape
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewLLMValidator creates a validator rendering prompts from set.
func NewLLMValidator(completer llm.Completer, set *prompts.Set, logger *zap.Logger) (*LLMValidator, error) {
	if completer == nil || set == nil {
		return nil, fmt.Errorf("completer and prompt set are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	shape, err := llm.NewShape("senior_result", "Review verdict for a generated MCP tool configuration", validationPayload{})
	if err != nil {
		return nil, err
	}
	return &LLMValidator{
		completer: completer,
		prompts:   set,
		shape:     shape,
		tracer:    otel.Tracer("refinement-validator"),
		logger:    logger,
	}, nil
}

// Validate implements Validator.
func (v *LLMValidator) Validate(ctx context.Context, sourceSpec, configuration, documentation string) (*ValidationResult, error) {
	ctx, span := v.tracer.Start(ctx, "refinement.validate")
	defer span.End()

	if err := ValidateSource(sourceSpec); err != nil {
		return nil, err
	}
	if strings.TrimSpace(configuration) == "" {
		return nil, fmt.Errorf("%w: configuration is empty", ErrInvalidInput)
	}

	prompt, err := v.prompts.RenderValidation(prompts.ValidationInput{
		SourceSpec:    sourceSpec,
		Configuration: configuration,
		Documentation: documentation,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrValidationService, err)
	}

	var payload validationPayload
	if err := v.completer.Complete(ctx, prompt, v.shape, &payload); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrValidationService, err)
	}
	if payload.Score < 0 || payload.Score > 100 {
		err := fmt.Errorf("%w: score %d out of range [0, 100]", ErrValidationService, payload.Score)
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("accepted", payload.IsEverythingCorrect),
		attribute.Int("score", payload.Score),
	)
	v.logger.Debug("validated configuration",
		zap.Bool("accepted", payload.IsEverythingCorrect),
		zap.Int("score", payload.Score),
	)

	return &ValidationResult{
		Accepted: payload.IsEverythingCorrect,
		Critique: payload.Reason,
		Score:    payload.Score,
	}, nil
}
