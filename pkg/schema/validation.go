package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationErrorType classifies a structural defect found in a workflow graph.
type ValidationErrorType string

const (
	CircularDependency ValidationErrorType = "circular_dependency"
	NoTerminalPath     ValidationErrorType = "no_terminal_path"
	UnreachableStep    ValidationErrorType = "unreachable_step"

	// UnknownStepReference is only ever reported as a warning.
	UnknownStepReference ValidationErrorType = "unknown_step_reference"
)

// ValidationDetails locates a validation finding in the graph.
type ValidationDetails struct {
	StepID string   `json:"step_id,omitempty"`
	Path   []string `json:"path,omitempty"`
}

// ValidationError is a single finding of the graph validator.
type ValidationError struct {
	Type    ValidationErrorType `json:"type"`
	Message string              `json:"message"`
	Details ValidationDetails   `json:"details"`
}

// String renders the finding as "[type] message (Path: a → b) (Step: x)".
func (v ValidationError) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", v.Type, v.Message)
	if len(v.Details.Path) > 0 {
		fmt.Fprintf(&b, " (Path: %s)", strings.Join(v.Details.Path, " → "))
	}
	if v.Details.StepID != "" {
		fmt.Fprintf(&b, " (Step: %s)", v.Details.StepID)
	}
	return b.String()
}

// ValidationResult aggregates every finding of a validation run.
// Errors block a commit; warnings are informational.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []ValidationError `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity finding.
func (r *ValidationResult) AddError(typ ValidationErrorType, message string, details ValidationDetails) {
	r.Errors = append(r.Errors, ValidationError{Type: typ, Message: message, Details: details})
}

// AddWarning appends a warning-severity finding.
func (r *ValidationResult) AddWarning(typ ValidationErrorType, message string, details ValidationDetails) {
	r.Warnings = append(r.Warnings, ValidationError{Type: typ, Message: message, Details: details})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result into one aggregate FlowError listing every
// error, or nil if the result is valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	lines := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		lines[i] = e.String()
	}

	errs := make([]ValidationError, len(r.Errors))
	copy(errs, r.Errors)

	return NewError(ErrCodeValidation, "Workflow validation failed:\n"+strings.Join(lines, "\n")).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        errs,
			"warnings":      r.Warnings,
		})
}

// ValidationErrors extracts the individual findings from an aggregate
// validation error produced by ToError. Returns nil for any other error.
func ValidationErrors(err error) []ValidationError {
	var fe *FlowError
	if !errors.As(err, &fe) || fe.Code != ErrCodeValidation || fe.Details == nil {
		return nil
	}
	errs, _ := fe.Details["errors"].([]ValidationError)
	return errs
}
