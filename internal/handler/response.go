package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"detention/internal/repository"
	"detention/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidFacility),
		errors.Is(err, service.ErrInvalidEventType),
		errors.Is(err, service.ErrInvalidGracePeriod),
		errors.Is(err, service.ErrInvalidHourlyRate),
		errors.Is(err, service.ErrInvalidRemoteID),
		errors.Is(err, service.ErrInvalidPhoto),
		errors.Is(err, service.ErrInvalidLocation):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrSessionAlreadyActive),
		errors.Is(err, service.ErrNotTracking),
		errors.Is(err, service.ErrSessionMismatch),
		errors.Is(err, service.ErrRemoteIDAlreadySet):
		return http.StatusConflict

	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden

	case errors.Is(err, repository.ErrValidation):
		return http.StatusUnprocessableEntity

	// Service unavailable
	case errors.Is(err, service.ErrLocationUnavailable),
		errors.Is(err, repository.ErrNetwork):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
