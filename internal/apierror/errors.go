package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Gateway error codes. Every error the gateway originates carries exactly
// one of these, and each code maps to exactly one HTTP status.
const (
	CodeAuthentication     = "AUTHENTICATION_ERROR"
	CodeAuthorization      = "AUTHORIZATION_ERROR"
	CodeValidation         = "VALIDATION_ERROR"
	CodeRateLimit          = "RATE_LIMIT_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

// statusByCode is the single centralized code -> HTTP status mapping.
var statusByCode = map[string]int{
	CodeAuthentication:     http.StatusUnauthorized,
	CodeAuthorization:      http.StatusForbidden,
	CodeValidation:         http.StatusBadRequest,
	CodeRateLimit:          http.StatusTooManyRequests,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeNotFound:           http.StatusNotFound,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is a typed gateway error. Stages return it instead of writing
// responses themselves; the pipeline driver maps it via WriteJSON.
type Error struct {
	Code    string
	Message string

	// Service names the unreachable backend for SERVICE_UNAVAILABLE errors.
	Service string
	// RetryAfter is the whole-second wait hint for RATE_LIMIT_ERROR.
	RetryAfter int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Status returns the HTTP status for the error's code.
func (e *Error) Status() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func Authentication(message string) *Error {
	return &Error{Code: CodeAuthentication, Message: message}
}

func AuthenticationWrap(message string, cause error) *Error {
	return &Error{Code: CodeAuthentication, Message: message, cause: cause}
}

func Authorization(message string) *Error {
	return &Error{Code: CodeAuthorization, Message: message}
}

func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

func RateLimit(message string, retryAfter int) *Error {
	return &Error{Code: CodeRateLimit, Message: message, RetryAfter: retryAfter}
}

func ServiceUnavailable(service, message string) *Error {
	return &Error{Code: CodeServiceUnavailable, Message: message, Service: service}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "Internal server error", cause: cause}
}

// From converts any error into an *Error, wrapping unknown errors as
// INTERNAL_ERROR so no stage failure escapes the taxonomy.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// body is the wire shape of every gateway-originated error response.
type body struct {
	Status     string `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Service    string `json:"service,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// WriteJSON writes the error as the gateway's standard JSON error response.
func WriteJSON(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())

	resp := body{
		Status:     "error",
		Code:       err.Code,
		Message:    err.Message,
		Service:    err.Service,
		RetryAfter: err.RetryAfter,
	}
	_ = json.NewEncoder(w).Encode(resp)
}
