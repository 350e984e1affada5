package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errNoChoices = errors.New("no choices returned")
	errTruncated = errors.New("response truncated at token limit")

	// errCallerGaveUp marks a call that failed because its context ended.
	errCallerGaveUp = errors.New("caller gave up")
)

// OpenAIClient completes prompts against the chat completions API using
// JSON schema response formats.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	tracer  trace.Tracer
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIClient creates a client for model. cfg.BaseURL may point at any
// OpenAI compatible endpoint.
func NewOpenAIClient(cfg Config, model string, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		tracer:  otel.Tracer("llm-openai"),
		breaker: newBreaker("openai-"+model, cfg.BreakerFailures, logger),
		limiter: newLimiter(cfg.RequestsPerSecond),
		logger:  logger.With(zap.String("provider", ProviderOpenAI), zap.String("model", model)),
	}, nil
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, shape Shape, out any) error {
	ctx, span := c.tracer.Start(ctx, "llm.openai.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.String("llm.shape", shape.Name),
		attribute.Int("llm.prompt_length", len(prompt)),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return &ServiceError{Provider: ProviderOpenAI, Op: "rate limit wait", Err: err}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return callerAware(ctx, func() (string, error) {
			return c.completeInternal(ctx, prompt, shape)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("chat completion failed", zap.String("shape", shape.Name), zap.Error(err))
		return &ServiceError{Provider: ProviderOpenAI, Op: "chat completion", Err: err}
	}

	content := result.(string)
	if err := shape.Decode(content, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &ServiceError{Provider: ProviderOpenAI, Op: "decode response", Err: err}
	}
	return nil
}

func (c *OpenAIClient) completeInternal(ctx context.Context, prompt string, shape Shape) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if shape.Schema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        shape.Name,
				Description: shape.Description,
				Schema:      shape.Schema,
				Strict:      true,
			},
		}
	} else {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}

	choice := resp.Choices[0]
	c.logger.Debug("received chat completion",
		zap.String("shape", shape.Name),
		zap.String("finish_reason", string(choice.FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)),
	)

	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", choice.Message.Refusal)
	}
	if choice.FinishReason == openai.FinishReasonLength {
		return "", errTruncated
	}
	return choice.Message.Content, nil
}

func newBreaker(name string, failures uint32, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > failures
		},
		// A caller giving up, by cancellation or deadline, is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerGaveUp)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// callerAware runs call and tags its error with errCallerGaveUp when ctx
// ended before it returned.
func callerAware(ctx context.Context, call func() (string, error)) (interface{}, error) {
	out, err := call()
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", errCallerGaveUp, err)
	}
	return out, err
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
