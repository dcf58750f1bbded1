package engine

import (
	"context"

	"github.com/rendis/stepflow/pkg/schema"
)

// Handler is the caller-supplied body of a step. It receives the step's
// resolved input and returns the step's result. The engine never inspects it.
type Handler func(ctx context.Context, input map[string]any) (any, error)

// Schema validates a value. Step inputs and trigger payloads are checked
// through it; any error rejects the value.
type Schema interface {
	Validate(v any) error
}

// SchemaFunc adapts a plain function to Schema.
type SchemaFunc func(v any) error

// Validate calls f(v).
func (f SchemaFunc) Validate(v any) error { return f(v) }

// Step is one registered unit of work.
type Step struct {
	ID string

	Handler     Handler
	InputSchema Schema

	// Payload is static input merged under the resolved variables.
	Payload map[string]any

	// RequiredData maps input field names to the values they are read from.
	RequiredData map[string]schema.VariableReference

	// Transitions are evaluated in order; none at all makes the step terminal.
	Transitions []schema.Transition
}

// Terminal reports whether completing the step completes the run.
func (s *Step) Terminal() bool {
	return len(s.Transitions) == 0
}

// References lists every step ID the step reads from, through its
// variables and its transition guards.
func (s *Step) References() []string {
	var refs []string
	for _, ref := range s.RequiredData {
		refs = append(refs, ref.StepID)
	}
	for _, t := range s.Transitions {
		refs = append(refs, t.Condition.StepRefs()...)
	}
	return refs
}
