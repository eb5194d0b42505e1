package types

import "fmt"

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants. Resilience components MUST use these
// constants instead of hardcoded strings so the retry engine and classifier
// can make decisions from the code alone.
const (
	// Terminal decisions made by the resilience core itself.
	ErrCodeCircuitOpen          ErrorCode = "circuit_open"
	ErrCodeRetryBudgetExhausted ErrorCode = "retry_budget_exhausted"
	ErrCodeRetriesExhausted     ErrorCode = "retries_exhausted"
	ErrCodeFallbackExhausted    ErrorCode = "fallback_exhausted"

	// Classified upstream failures.
	ErrCodeUpstreamTimeout     ErrorCode = "upstream_timeout"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeAuthFailed          ErrorCode = "auth_failed"
	ErrCodeInvalidRecipient    ErrorCode = "invalid_recipient"
	ErrCodePayloadRejected     ErrorCode = "payload_rejected"

	// Workflow orchestration.
	ErrCodeWorkflowNotFound     ErrorCode = "workflow_not_found"
	ErrCodeWorkflowDepsNotReady ErrorCode = "workflow_dependencies_not_ready"
	ErrCodeWorkflowCancelled    ErrorCode = "workflow_cancelled"
	ErrCodeCheckpointNotFound   ErrorCode = "checkpoint_not_found"

	// Internal infrastructure.
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeRecordNotFound     ErrorCode = "record_not_found"
	ErrCodeAlertPublish       ErrorCode = "alert_publish_failed"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// Retryable reports whether an error carrying this code may be retried.
// Budget exhaustion, circuit-open, and validation-style failures are terminal;
// transient upstream failures are not.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamRateLimited, ErrCodeUpstreamUnavailable:
		return true
	default:
		return false
	}
}

// AppError is the standard application error type used throughout the module.
// All domain errors should be expressed as AppError to enable consistent
// classification, retryability decisions, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
