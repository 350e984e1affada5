package models

import (
	"time"
)

// ConversionRequest starts a conversion from inline content or a URL
type ConversionRequest struct {
	SwaggerContent string `json:"swagger_content"`
	SourceURL      string `json:"source_url"`
}

// ConversionResponse is the result of an accepted conversion
type ConversionResponse struct {
	RunID               string                 `json:"run_id"`
	ToolConfig          map[string]interface{} `json:"tool_config"`
	ConfigurationValid  bool                   `json:"configuration_valid"`
	RawConfiguration    string                 `json:"raw_configuration,omitempty"`
	Analysis            string                 `json:"analysis"`
	Documentation       string                 `json:"documentation,omitempty"`
	Requirements        string                 `json:"requirements,omitempty"`
	Score               int                    `json:"score"`
	IsEverythingCorrect bool                   `json:"is_everything_correct"`
	ReflectionReason    string                 `json:"reflection_reason"`
	Iterations          int                    `json:"iterations"`
	ToolCount           int                    `json:"tool_count"`
	SourceOperations    int                    `json:"source_operations,omitempty"`
	Cached              bool                   `json:"cached"`
}

// RunResponse describes a stored run
type RunResponse struct {
	RunID        string              `json:"run_id"`
	Status       string              `json:"status"`
	Iterations   int                 `json:"iterations"`
	Score        *int                `json:"score,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	Result       *ConversionResponse `json:"result,omitempty"`
}
