package refinement

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Step and run errors wrap exactly one of these so callers can
// branch with errors.Is.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrGenerationService     = errors.New("generation service error")
	ErrValidationService     = errors.New("validation service error")
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")
	ErrCancelled             = errors.New("run cancelled")
)

// Kind names, stable across releases; the gateway maps them to error codes.
const (
	KindInvalidInput          = "invalid_input"
	KindGenerationService     = "generation_service_error"
	KindValidationService     = "validation_service_error"
	KindMaxIterationsExceeded = "max_iterations_exceeded"
	KindCancelled             = "cancelled"
	KindInternal              = "internal"
)

// RunError describes where a run stopped. Score and Critique carry the last
// validation verdict, if any, for diagnostics only.
type RunError struct {
	Phase     Phase
	Iteration int
	Score     *int
	Critique  string
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed while %s (iteration %d): %v", e.Phase, e.Iteration, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Kind returns the kind name for err, or KindInternal when err carries none.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrGenerationService):
		return KindGenerationService
	case errors.Is(err, ErrValidationService):
		return KindValidationService
	case errors.Is(err, ErrMaxIterationsExceeded):
		return KindMaxIterationsExceeded
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// ValidateSource rejects an empty or whitespace-only source spec.
func ValidateSource(sourceSpec string) error {
	if strings.TrimSpace(sourceSpec) == "" {
		return fmt.Errorf("%w: source spec is empty", ErrInvalidInput)
	}
	return nil
}
