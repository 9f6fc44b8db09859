package utils

import (
	"context"
	"fmt"
	"net/http"
)

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func NewAPIErrorWithDetails(code int, message, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrInvalidRequest = NewAPIError(http.StatusBadRequest, "Invalid request")
	ErrForbidden      = NewAPIError(http.StatusForbidden, "Forbidden")
	ErrNotFound       = NewAPIError(http.StatusNotFound, "Resource not found")
	ErrInternalServer = NewAPIError(http.StatusInternalServerError, "Internal server error")
)

var (
	ErrUntrustedPeer     = NewAPIError(http.StatusForbidden, "Request origin not trusted")
	ErrCertSubjectDenied = NewAPIError(http.StatusForbidden, "Certificate subject not allowed")
	ErrEventNotFound     = NewAPIError(http.StatusNotFound, "Webhook event not found")
	ErrBatchNotFound     = NewAPIError(http.StatusNotFound, "Payment batch not found")
	ErrItemNotFound      = NewAPIError(http.StatusNotFound, "Payment item not found")
	ErrDatabaseQuery     = NewAPIError(http.StatusInternalServerError, "Database query failed")
	ErrRateLimitExceeded = NewAPIError(http.StatusTooManyRequests, "Rate limit exceeded")
)

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

func LogError(ctx context.Context, err error, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["error"] = err.Error()

	Error(ctx, message, fields)
}
