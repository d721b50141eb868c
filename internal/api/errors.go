package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case apperrors.IsNotFoundError(err):
		return http.StatusNotFound
	case apperrors.IsForbiddenError(err):
		return http.StatusForbidden
	case apperrors.IsUnauthorizedError(err):
		return http.StatusUnauthorized
	case apperrors.IsLifecycleError(err), apperrors.IsValidationError(err), apperrors.IsBadRequestError(err):
		return http.StatusBadRequest
	case apperrors.IsDuplicateError(err), errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	case apperrors.IsNoEligibleOperatorError(err):
		return http.StatusServiceUnavailable
	case apperrors.IsDeliveryFailedError(err):
		return http.StatusBadGateway
	case apperrors.IsTimeoutError(err):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// abortWithError writes the mapped status. Server-side failures are logged
// and their details withheld from the client.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		logger.FromContext(c.Request.Context()).Error("Request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err))
		message = http.StatusText(status)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}
