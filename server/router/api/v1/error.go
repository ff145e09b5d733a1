package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openclaw/cortex/server/internal/errors"
)

// writeError maps a service error to its HTTP status and a stable JSON
// error body.
func writeError(c echo.Context, err error) error {
	code := errors.GetCodeFromError(err, errors.ErrCodeUpstreamFailure)
	return c.JSON(statusForCode(code), map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": errorMessage(err),
		},
	})
}

func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case errors.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeEmbeddingUnavailable, errors.ErrCodeIndexUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	if svcErr, ok := err.(*errors.ServiceError); ok {
		return svcErr.Message
	}
	return "internal server error"
}
