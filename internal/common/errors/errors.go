package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Query-path errors surfaced to the caller.
	ErrCodeUnknownOrigin    ErrorCode = "UNKNOWN_ORIGIN"
	ErrCodePendingData      ErrorCode = "PENDING_DATA"
	ErrCodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	// Provider errors.
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderLegFailed   ErrorCode = "PROVIDER_LEG_FAILED"

	// Job orchestration errors.
	ErrCodeJobRunning ErrorCode = "JOB_RUNNING"

	// Persistence errors.
	ErrCodeQueryExecutionFailed ErrorCode = "QUERY_EXECUTION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// CodeOf extracts the error code from an error, or INTERNAL_ERROR when it is
// not a StandardError.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr.Code
	}
	return "INTERNAL_ERROR"
}

// NewUnknownOriginError reports a postal code absent from the data store.
func NewUnknownOriginError(code string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownOrigin,
		Message:   "Postal code not found in database",
		Details:   fmt.Sprintf("origin %q is not registered", code),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPendingDataError reports an origin whose central time has not been
// computed yet. Distinct from "not viable": a fill run resolves it.
func NewPendingDataError(code string) *StandardError {
	return &StandardError{
		Code:      ErrCodePendingData,
		Message:   "Central driving time pending calculation",
		Details:   fmt.Sprintf("origin %q has no central time yet", code),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewResolutionFailedError reports a free-text address that could not be
// geocoded to a postal code.
func NewResolutionFailedError(address string, err error) *StandardError {
	details := fmt.Sprintf("could not resolve %q", address)
	if err != nil {
		details = fmt.Sprintf("%s: %v", details, err)
	}
	return &StandardError{
		Code:      ErrCodeResolutionFailed,
		Message:   "Cannot resolve address",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidInputError reports a malformed request payload.
func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderUnavailableError reports a routing provider that is unreachable
// or misconfigured.
func NewProviderUnavailableError(err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeProviderUnavailable,
		Message:   "Routing provider unavailable",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderLegFailedError reports a leg the provider could not resolve
// inside an otherwise successful call.
func NewProviderLegFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderLegFailed,
		Message:   "Provider could not resolve the route leg",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewJobRunningError reports that a precalculation pass is already active.
func NewJobRunningError() *StandardError {
	return &StandardError{
		Code:      ErrCodeJobRunning,
		Message:   "Precalculation already running",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError wraps a database error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   fmt.Sprintf("Database operation failed: %s", operation),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}
