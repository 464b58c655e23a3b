package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/stsession/pkg/httpx"
)

// Error statuses used on non-2xx responses.
const (
	StatusBadRequest       = "BAD_REQUEST"
	StatusInvalidAPIKey    = "INVALID_API_KEY"
	StatusNotFound         = "NOT_FOUND"
	StatusMethodNotAllowed = "METHOD_NOT_ALLOWED"
	StatusConflict         = "CONFLICT"
	StatusRateLimited      = "RATE_LIMITED"
	StatusInternalError    = "INTERNAL_ERROR"
	StatusUnavailable      = "UNAVAILABLE"
)

// APIError is a non-2xx authority response. The server writes it and the
// client decodes it, so both sides agree on the shape.
type APIError struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authsdk: %d %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("authsdk: %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// WriteError writes e as the HTTP response.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.WriteStatus(w, e.StatusCode, e.Status, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var (
	ErrBadRequest = &APIError{
		StatusCode: http.StatusBadRequest,
		Status:     StatusBadRequest,
		Message:    "the request is malformed or missing required fields",
	}

	ErrInvalidAPIKey = &APIError{
		StatusCode: http.StatusUnauthorized,
		Status:     StatusInvalidAPIKey,
		Message:    "invalid api key",
	}

	ErrNotFound = &APIError{
		StatusCode: http.StatusNotFound,
		Status:     StatusNotFound,
		Message:    "not found",
	}

	ErrMethodNotAllowed = &APIError{
		StatusCode: http.StatusMethodNotAllowed,
		Status:     StatusMethodNotAllowed,
		Message:    "method not allowed",
	}

	ErrServerError = &APIError{
		StatusCode: http.StatusInternalServerError,
		Status:     StatusInternalError,
		Message:    "internal server error",
	}
)

// NewAPIError creates an APIError with a custom message.
func NewAPIError(statusCode int, status, message string) *APIError {
	return &APIError{StatusCode: statusCode, Status: status, Message: message}
}

// parseErrorResponse decodes a non-2xx body. Bodies that are not a status
// envelope still produce an APIError carrying the HTTP status.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var env httpx.StatusBody
	if err := json.Unmarshal(body, &env); err == nil && env.Status != "" {
		return &APIError{StatusCode: resp.StatusCode, Status: env.Status, Message: env.Message}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     StatusInternalError,
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
