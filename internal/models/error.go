package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInternalError         = "INTERNAL_ERROR"
	ErrCodeSourceUnavailable     = "SOURCE_UNAVAILABLE"
	ErrCodeGenerationFailed      = "GENERATION_FAILED"
	ErrCodeValidationFailed      = "VALIDATION_FAILED"
	ErrCodeMaxIterationsExceeded = "MAX_ITERATIONS_EXCEEDED"
	ErrCodeRunCancelled          = "RUN_CANCELLED"
	ErrCodeServerBusy            = "SERVER_BUSY"
)
