package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDuplicateStep     = "DUPLICATE_STEP"
	ErrCodeNotCommitted      = "NOT_COMMITTED"
	ErrCodeUnresolvedStep    = "UNRESOLVED_STEP_REFERENCE"
	ErrCodeUnresolvedPath    = "UNRESOLVED_PATH"
	ErrCodeInputSchema       = "INPUT_SCHEMA_ERROR"
	ErrCodeTriggerSchema     = "TRIGGER_SCHEMA_ERROR"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeNoMatchingCond    = "NO_MATCHING_CONDITIONS"
	ErrCodeCondition         = "CONDITION_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
)

// NoMatchingConditionsMessage is the fixed message of a run that ends because
// no transition guard of the current step was satisfied.
const NoMatchingConditionsMessage = "No matching transition conditions"

// FlowError is the structured error type for all stepflow operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *FlowError) WithStep(stepID string) *FlowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// IsRetryable reports whether a handler wrapper may retry after this error.
// Definition, validation and schema errors never succeed on a second attempt.
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeDuplicateStep, ErrCodeNotCommitted,
		ErrCodeUnresolvedStep, ErrCodeUnresolvedPath, ErrCodeInputSchema,
		ErrCodeTriggerSchema, ErrCodeNoMatchingCond, ErrCodeCondition,
		ErrCodeInvalidTransition, ErrCodeNotFound, ErrCodeConflict:
		return false
	default:
		return true
	}
}

// HasCode reports whether err is (or wraps) a FlowError with the given code.
func HasCode(err error, code string) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}
