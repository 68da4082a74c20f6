// Package errors defines the router's error taxonomy and its HTTP mapping.
// Every user-visible failure is a *RouterError carrying a stable code; lower
// layers wrap transport and store failures into these codes at the boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error class in the surface taxonomy.
type Code string

// Route errors
const (
	CodeRouteNotFound          Code = "ROUTE_NOT_FOUND"
	CodeRouteExpired           Code = "ROUTE_EXPIRED"
	CodeRouteCalculationFailed Code = "ROUTE_CALCULATION_FAILED"
)

// Input errors
const (
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidAmount   Code = "INVALID_AMOUNT"
	CodeAmountTooSmall  Code = "AMOUNT_TOO_SMALL"
	CodeAmountTooLarge  Code = "AMOUNT_TOO_LARGE"
	CodeSlippageTooHigh Code = "SLIPPAGE_TOO_HIGH"
	CodeTokenNotFound   Code = "TOKEN_NOT_FOUND"
)

// Upstream errors
const (
	CodeDexUnavailable     Code = "DEX_UNAVAILABLE"
	CodeDexRateLimited     Code = "DEX_RATE_LIMITED"
	CodeDexInvalidResponse Code = "DEX_INVALID_RESPONSE"
	CodeTransactionTimeout Code = "TRANSACTION_TIMEOUT"
	CodeCircuitBreakerOpen Code = "CIRCUIT_BREAKER_OPEN"
)

// Execution errors
const (
	CodeTransactionFailed     Code = "TRANSACTION_FAILED"
	CodeSlippageExceeded      Code = "SLIPPAGE_EXCEEDED"
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
)

// Infrastructure errors
const (
	CodeCacheError           Code = "CACHE_ERROR"
	CodeDatabaseError        Code = "DATABASE_ERROR"
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
)

// RouterError is the canonical error value crossing component boundaries.
type RouterError struct {
	Code      Code                   `json:"error"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

// New creates a RouterError with the given code and message.
func New(code Code, message string) *RouterError {
	return &RouterError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Newf creates a RouterError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *RouterError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a RouterError that wraps an underlying cause. The cause is
// retained for logs and Unwrap but is never rendered to clients.
func Wrap(err error, code Code, message string) *RouterError {
	e := New(code, message)
	e.cause = err
	return e
}

func (e *RouterError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As chains.
func (e *RouterError) Unwrap() error { return e.cause }

// WithDetail attaches a key/value pair to the error context.
func (e *RouterError) WithDetail(key string, value interface{}) *RouterError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRequestID stamps the correlation token onto the error.
func (e *RouterError) WithRequestID(id string) *RouterError {
	e.RequestID = id
	return e
}

// CodeOf extracts the taxonomy code from any error. Unknown errors map to
// EXTERNAL_SERVICE_ERROR so nothing leaks through untyped.
func CodeOf(err error) Code {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeExternalServiceError
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// AsRouterError converts any error into a RouterError, wrapping untyped ones.
func AsRouterError(err error) *RouterError {
	var re *RouterError
	if errors.As(err, &re) {
		return re
	}
	return Wrap(err, CodeExternalServiceError, "unexpected internal error")
}

// httpStatus maps taxonomy codes to HTTP statuses for the API surface.
var httpStatus = map[Code]int{
	CodeRouteNotFound:          http.StatusNotFound,
	CodeRouteExpired:           http.StatusGone,
	CodeRouteCalculationFailed: http.StatusBadGateway,

	CodeInvalidInput:    http.StatusBadRequest,
	CodeInvalidAmount:   http.StatusBadRequest,
	CodeAmountTooSmall:  http.StatusBadRequest,
	CodeAmountTooLarge:  http.StatusBadRequest,
	CodeSlippageTooHigh: http.StatusBadRequest,
	CodeTokenNotFound:   http.StatusNotFound,

	CodeDexUnavailable:     http.StatusBadGateway,
	CodeDexRateLimited:     http.StatusTooManyRequests,
	CodeDexInvalidResponse: http.StatusBadGateway,
	CodeTransactionTimeout: http.StatusGatewayTimeout,
	CodeCircuitBreakerOpen: http.StatusServiceUnavailable,

	CodeTransactionFailed:     http.StatusBadGateway,
	CodeSlippageExceeded:      http.StatusUnprocessableEntity,
	CodeInsufficientLiquidity: http.StatusUnprocessableEntity,
	CodeInsufficientBalance:   http.StatusUnprocessableEntity,

	CodeCacheError:           http.StatusInternalServerError,
	CodeDatabaseError:        http.StatusInternalServerError,
	CodeExternalServiceError: http.StatusServiceUnavailable,
}

// HTTPStatus returns the HTTP status for a taxonomy code.
func HTTPStatus(code Code) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}
