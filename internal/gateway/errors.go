package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/models"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/orchestration"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/specsource"
)

var (
	errMissingSource    = errors.New("swagger_content or source_url is required")
	errInvalidSourceURL = errors.New("source_url must be an http(s) URL")
)

// errorResponse maps an error to its HTTP status and API body.
func errorResponse(err error) (int, models.ErrorResponse) {
	var details map[string]string

	var convErr *orchestration.ConversionError
	if errors.As(err, &convErr) {
		details = map[string]string{"run_id": convErr.RunID.String()}
	}
	if re, ok := refinement.IsRunError(err); ok {
		if details == nil {
			details = map[string]string{}
		}
		details["kind"] = refinement.Kind(err)
		details["phase"] = string(re.Phase)
		details["iteration"] = strconv.Itoa(re.Iteration)
		if re.Score != nil {
			details["score"] = strconv.Itoa(*re.Score)
		}
		if re.Critique != "" {
			details["critique"] = re.Critique
		}
	}

	body := func(code, msg string) models.ErrorResponse {
		return models.ErrorResponse{Error: msg, Code: code, Details: details}
	}

	switch {
	case errors.Is(err, errMissingSource), errors.Is(err, errInvalidSourceURL):
		return http.StatusBadRequest, body(models.ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, specsource.ErrEmpty):
		return http.StatusBadRequest, body(models.ErrCodeInvalidRequest, "Source document is empty")
	case errors.Is(err, specsource.ErrFetch), errors.Is(err, specsource.ErrNotFound):
		return http.StatusBadGateway, body(models.ErrCodeSourceUnavailable, err.Error())
	case errors.Is(err, orchestration.ErrBusy):
		return http.StatusTooManyRequests, body(models.ErrCodeServerBusy, "Too many conversions in progress, retry later")
	case errors.Is(err, orchestration.ErrRunNotFound):
		return http.StatusNotFound, body(models.ErrCodeNotFound, "Conversion run not found")
	case errors.Is(err, refinement.ErrInvalidInput):
		return http.StatusBadRequest, body(models.ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, refinement.ErrGenerationService):
		return http.StatusBadGateway, body(models.ErrCodeGenerationFailed, "Configuration generation failed")
	case errors.Is(err, refinement.ErrValidationService):
		return http.StatusBadGateway, body(models.ErrCodeValidationFailed, "Configuration validation failed")
	case errors.Is(err, refinement.ErrMaxIterationsExceeded):
		return http.StatusUnprocessableEntity, body(models.ErrCodeMaxIterationsExceeded, "No configuration was accepted within the iteration limit")
	case errors.Is(err, refinement.ErrCancelled):
		return http.StatusGatewayTimeout, body(models.ErrCodeRunCancelled, "Conversion was cancelled or timed out")
	default:
		return http.StatusInternalServerError, body(models.ErrCodeInternalError, "Internal server error")
	}
}

func respondError(c *gin.Context, err error) {
	status, resp := errorResponse(err)
	c.AbortWithStatusJSON(status, resp)
}

func abortWithError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{Error: msg, Code: code})
}
