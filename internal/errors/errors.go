// Package errors classifies failures of the address predictor so the retry
// and circuit breaker layers can tell a flaky RPC endpoint from a call that
// will never succeed.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeNetwork represents transport failures talking to the RPC endpoint
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeRevert represents a prediction call rejected by the contract or node
	ErrorTypeRevert ErrorType = "revert"
	// ErrorTypeDecode represents malformed or empty return data
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeValidation represents invalid call arguments
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeCircuit represents calls rejected by an open circuit breaker
	ErrorTypeCircuit ErrorType = "circuit"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// OracleError represents a structured error with context
type OracleError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *OracleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *OracleError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *OracleError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds additional context to the error
func (e *OracleError) WithContext(key string, value any) *OracleError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new OracleError
func New(errorType ErrorType, operation, message string) *OracleError {
	return &OracleError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Wrap wraps an existing error with context. The retryable flag follows the
// error type for network and timeout failures, and the cause otherwise.
func Wrap(err error, errorType ErrorType, operation, message string) *OracleError {
	if err == nil {
		return nil
	}

	retryable := isRetryableByType(errorType)
	var oe *OracleError
	if errors.As(err, &oe) {
		retryable = oe.Retryable
	} else if !retryable && errorType == ErrorTypeInternal {
		retryable = isRetryableByDefault(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		retryable = false
	}

	return &OracleError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

// isRetryableByType determines if an error type is generally retryable
func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// isRetryableByDefault checks if an error is retryable based on common patterns
func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"timeout",
		"temporary failure",
		"too many requests",
		"eof",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var oe *OracleError
	if errors.As(err, &oe) {
		return oe.Type == errorType
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var oe *OracleError
	if errors.As(err, &oe) {
		return oe.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext retrieves context from an OracleError
func GetContext(err error) map[string]any {
	var oe *OracleError
	if errors.As(err, &oe) {
		return oe.Context
	}
	return nil
}
