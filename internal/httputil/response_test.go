package httputil

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/portablestew/key-commune/internal/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ginContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestHandleErrorGin_NilErrorWritesNothing(t *testing.T) {
	c, w := ginContext()
	HandleErrorGin(c, nil, nil)
	assert.Equal(t, 200, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleErrorGin_Taxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"missing credential", apperrors.ErrMissingCredential, http.StatusUnauthorized, "missing_credential"},
		{"presenter rate limited", apperrors.ErrPresenterRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"credential length invalid", apperrors.ErrCredentialLengthInvalid, http.StatusBadRequest, "credential_length_invalid"},
		{"validation failed", apperrors.ErrValidationFailed, http.StatusBadRequest, "validation_failed"},
		{"provider misconfigured", apperrors.ErrProviderMisconfigured, http.StatusBadRequest, "provider_misconfigured"},
		{"not found", apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{"pool empty", apperrors.ErrPoolEmpty, http.StatusServiceUnavailable, "pool_empty"},
		{"upstream timeout", apperrors.ErrUpstreamTimeout, http.StatusBadGateway, "upstream_timeout"},
		{"upstream unreachable", apperrors.ErrUpstreamUnreachable, http.StatusBadGateway, "upstream_unreachable"},
		{"conflict", apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{"unmapped error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := ginContext()
			HandleErrorGin(c, tt.err, slog.Default())

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantError)
		})
	}
}

func TestHandleErrorGin_WrappedErrorStillClassifies(t *testing.T) {
	c, w := ginContext()
	wrapped := apperrors.Wrap(apperrors.ErrPoolEmpty, "selecting credential")

	HandleErrorGin(c, wrapped, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "pool_empty")
}

func TestHandleRateLimitedGin_SetsRetryAfterHeaderAndBody(t *testing.T) {
	c, w := ginContext()

	HandleRateLimitedGin(c, 42, nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestHandleRateLimitedGin_ClampsNegativeWaitToZero(t *testing.T) {
	c, w := ginContext()

	HandleRateLimitedGin(c, -5, nil)

	assert.Equal(t, "0", w.Header().Get("Retry-After"))
}
