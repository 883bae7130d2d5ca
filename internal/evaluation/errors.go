package evaluation

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrBreakerOpen is returned without a network call while the circuit
// breaker in front of the service is open.
var ErrBreakerOpen = errors.New("evaluation suspended: circuit breaker open")

// ErrorKind classifies an APIError so callers can choose between
// reauthentication prompts and inline messages.
type ErrorKind string

const (
	KindAuth            ErrorKind = "auth"
	KindBilling         ErrorKind = "billing"
	KindForbidden       ErrorKind = "forbidden"
	KindNotFound        ErrorKind = "not_found"
	KindPayloadTooLarge ErrorKind = "payload_too_large"
	KindRateLimited     ErrorKind = "rate_limited"
	KindGeneric         ErrorKind = "generic"
)

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusPaymentRequired:
		return KindBilling
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusRequestEntityTooLarge:
		return KindPayloadTooLarge
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindGeneric
	}
}

// ConfigError reports missing organization/project context. Never
// retried; the caller surfaces it as a non-blocking message.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "evaluation not configured: " + e.Reason
}

// APIError is a classified non-2xx service response. Code carries the
// service's machine-readable error code when one was supplied.
type APIError struct {
	Status  int
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("service error %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("service error %d (%s)", e.Status, e.Kind)
}

// Retryable reports whether the response class is transient.
func (e *APIError) Retryable() bool {
	return e.Status >= 500
}

// EvaluationError carries a terminal error status reported by the
// evaluation itself (HTTP succeeded, the evaluation did not).
type EvaluationError struct {
	Category string
	Message  string
}

func (e *EvaluationError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("evaluation failed (%s): %s", e.Category, e.Message)
	}
	return "evaluation failed: " + e.Message
}

// TimeoutError reports an exhausted poll attempt cap. The evaluation
// may still complete server-side; the result is simply not awaited.
type TimeoutError struct {
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("evaluation did not complete after %d status polls", e.Attempts)
}

// TransportError wraps a network-level failure. Retried like a 5xx.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "evaluation service unreachable: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// retryable reports whether an error is in the transient class
// (transport failures and 5xx responses).
func retryable(err error) bool {
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}
