// Package llm provides the structured-completion capability used by the
// generation and validation steps.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"
)

// Completer issues a single structured completion: the response must decode
// into out and conform to shape.
type Completer interface {
	Complete(ctx context.Context, prompt string, shape Shape, out any) error
}

// Shape is a named JSON schema the response is constrained to.
type Shape struct {
	Name        string
	Description string
	Schema      *jsonschema.Definition
}

// NewShape derives a strict JSON schema from the Go type of v. Every field of
// v is required; use `description` struct tags to document fields for the model.
func NewShape(name, description string, v any) (Shape, error) {
	schema, err := jsonschema.GenerateSchemaForType(v)
	if err != nil {
		return Shape{}, fmt.Errorf("failed to generate schema for %s: %w", name, err)
	}
	return Shape{Name: name, Description: description, Schema: schema}, nil
}

// Decode validates content against the schema and unmarshals it into out.
func (s Shape) Decode(content string, out any) error {
	if s.Schema == nil {
		return json.Unmarshal([]byte(content), out)
	}
	if err := s.Schema.Unmarshal(content, out); err != nil {
		return fmt.Errorf("response does not match %s schema: %w", s.Name, err)
	}
	return nil
}

// SchemaJSON renders the schema for inclusion in a prompt.
func (s Shape) SchemaJSON() (string, error) {
	if s.Schema == nil {
		return "{}", nil
	}
	data, err := json.Marshal(s.Schema)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s schema: %w", s.Name, err)
	}
	return string(data), nil
}

// ServiceError reports a failed call to an LLM backend.
type ServiceError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Config selects and tunes a backend.
type Config struct {
	Provider          string
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	BreakerFailures   uint32
}

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// New builds the backend named by cfg.Provider for the given model.
func New(cfg Config, model string, logger *zap.Logger) (Completer, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIClient(cfg, model, logger)
	case ProviderOllama:
		return NewOllamaClient(cfg, model, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
