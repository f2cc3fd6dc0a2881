// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling for the phasegate core.
// Recoverable protocol outcomes (validation failures, rejected skips) are
// reported through TransitionResult reasons, never through these errors;
// GateError is reserved for caller bugs and hard faults.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies phasegate errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid (malformed task id,
	// unknown phase identifier, illegal close).
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeUnknownTask indicates the task has no cycle: the caller never
	// started it.
	CodeUnknownTask ErrorCode = "UNKNOWN_TASK"

	// CodeCycleClosed indicates the cycle reached its terminal state and
	// rejects further mutation.
	CodeCycleClosed ErrorCode = "CYCLE_CLOSED"

	// CodeValidationFailed indicates a phase validation gate failed.
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// CodeSkipRejected indicates a skip request was refused.
	CodeSkipRejected ErrorCode = "SKIP_REJECTED"

	// CodeDriftBlocked indicates instruction drift severe enough to halt
	// the automated loop until an operator refreshes the baseline.
	CodeDriftBlocked ErrorCode = "DRIFT_BLOCKED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeTelemetryWrite indicates a telemetry append failed. Degraded
	// mode: logged, never propagated to advance callers.
	CodeTelemetryWrite ErrorCode = "TELEMETRY_WRITE"
)

// GateError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type GateError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *GateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *GateError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *GateError) MarshalJSON() ([]byte, error) {
	type Alias GateError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new GateError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *GateError {
	return &GateError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *GateError) WithContext(key string, value interface{}) *GateError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *GateError) WithAttribute(key, value string) *GateError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *GateError) WithRecoverable(recoverable bool) *GateError {
	e.Recoverable = recoverable
	return e
}

// AsGateError attempts to convert an error to a GateError.
// Returns the error as GateError if it is one, or wraps it otherwise.
func AsGateError(err error) *GateError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GateError); ok {
		return ge
	}
	// Wrap unknown error as internal
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether err is a GateError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	ge, ok := err.(*GateError)
	return ok && ge.Code == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *GateError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
