// Package httputil provides HTTP response helpers shared by the admission
// pipeline: the domain error -> HTTP status mapping from §7, and the JSON
// error envelope it emits.
package httputil

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/portablestew/key-commune/internal/errors"
)

// ErrorResponse is the JSON error envelope returned for every rejected
// request: {"error": ..., "message": ...}.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HandleErrorGin maps a domain error to its outbound HTTP status per the
// error taxonomy in §7 and writes the JSON error envelope.
func HandleErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	if err == nil {
		return
	}

	statusCode, errorResponse := classify(err)

	if logger != nil {
		logger.Warn("request rejected",
			slog.Int("status_code", statusCode),
			slog.String("error_code", errorResponse.Error),
			slog.Any("error", err),
		)
	}

	c.JSON(statusCode, errorResponse)
}

func classify(err error) (int, ErrorResponse) {
	switch {
	case apperrors.Is(err, apperrors.ErrMissingCredential):
		return http.StatusUnauthorized, ErrorResponse{Error: "missing_credential", Message: "no credential presented"}

	case apperrors.Is(err, apperrors.ErrPresenterRateLimited):
		return http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited", Message: err.Error()}

	case apperrors.Is(err, apperrors.ErrCredentialLengthInvalid):
		return http.StatusBadRequest, ErrorResponse{Error: "credential_length_invalid", Message: err.Error()}

	case apperrors.Is(err, apperrors.ErrValidationFailed):
		return http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Message: err.Error()}

	case apperrors.Is(err, apperrors.ErrProviderMisconfigured):
		return http.StatusBadRequest, ErrorResponse{Error: "provider_misconfigured", Message: err.Error()}

	case apperrors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no provider configured for this request"}

	case apperrors.Is(err, apperrors.ErrPoolEmpty):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "pool_empty", Message: "no available credential"}

	case apperrors.Is(err, apperrors.ErrUpstreamTimeoutCacheable):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "upstream_timeout", Message: "upstream did not respond in time"}

	case apperrors.Is(err, apperrors.ErrUpstreamTimeout):
		return http.StatusBadGateway, ErrorResponse{Error: "upstream_timeout", Message: "upstream did not respond in time"}

	case apperrors.Is(err, apperrors.ErrUpstreamUnreachable):
		return http.StatusBadGateway, ErrorResponse{Error: "upstream_unreachable", Message: "upstream could not be reached"}

	case apperrors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: "conflict", Message: "a conflict occurred with existing data"}

	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "an internal error occurred"}
	}
}

// HandleRateLimitedGin writes the 429 response for a presenter who has
// exceeded the rate-limit guard, including the human wait hint from §4.4.
func HandleRateLimitedGin(c *gin.Context, waitSeconds int, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("presenter rate limited", slog.Int("wait_seconds", waitSeconds))
	}
	if waitSeconds < 0 {
		waitSeconds = 0
	}
	c.Header("Retry-After", strconv.Itoa(waitSeconds))
	c.JSON(http.StatusTooManyRequests, ErrorResponse{
		Error:   "rate_limited",
		Message: "too many requests, retry later",
	})
}
