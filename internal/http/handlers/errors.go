// Package handlers defines the HTTP error taxonomy. Clients branch on the
// code; the message is for humans.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "duplicate_connection",
//	  "message": "connection already exists"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/splitbuddy/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "service_unavailable"

	// Domain-specific:
	ErrCodeSelfRequest         = "self_request"
	ErrCodeUserNotFound        = "user_not_found"
	ErrCodeInvalidState        = "invalid_state"
	ErrCodeDuplicateConnection = "duplicate_connection"
	ErrCodeExternalService     = "external_service_error"
)

// statusFor maps a service error to its HTTP status and code. Specific
// errors are checked before the category they wrap.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrSelfRequest):
		return http.StatusBadRequest, ErrCodeSelfRequest
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, services.ErrUserNotFound):
		return http.StatusNotFound, ErrCodeUserNotFound
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrPermission):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusConflict, ErrCodeInvalidState
	case errors.Is(err, services.ErrDuplicateConnection):
		return http.StatusConflict, ErrCodeDuplicateConnection
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, services.ErrExternalService):
		return http.StatusBadGateway, ErrCodeExternalService
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// failErr writes the envelope for err. Server-side failures hide the cause
// from the client and attach it to the Gin context for the access log.
func failErr(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusBadGateway:
		msg = "receipt service unavailable"
	case status >= http.StatusInternalServerError:
		msg = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	fail(c, status, code, msg)
}
