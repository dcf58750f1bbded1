package engine

import (
	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/pkg/schema"
)

// ResolveReference reads the value a reference points at. It fails when the
// referenced step has not produced a result yet, or when the path does not
// exist in the source value. A path that exists with a nil value resolves.
func ResolveReference(ref schema.VariableReference, ec *ExecutionContext) (any, error) {
	source, ok := ec.Source(ref.StepID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnresolvedStep,
			"Cannot resolve variable: Step %s has not been executed yet", ref.StepID).
			WithDetails(map[string]any{"ref_step_id": ref.StepID, "path": ref.Path})
	}
	if ref.WholeValue() {
		return source, nil
	}

	value, found := expressions.Lookup(source, ref.Path)
	if !found {
		return nil, schema.NewErrorf(schema.ErrCodeUnresolvedPath,
			"Cannot resolve path %q from %s", ref.Path, ref.StepID).
			WithDetails(map[string]any{"ref_step_id": ref.StepID, "path": ref.Path})
	}
	return value, nil
}

// Resolve builds a step's handler input: the static payload overlaid with
// every resolved variable, then checked against the input schema.
// Variables take precedence over payload keys of the same name.
func Resolve(step *Step, ec *ExecutionContext) (map[string]any, error) {
	input := make(map[string]any, len(step.Payload)+len(step.RequiredData))
	for k, v := range step.Payload {
		input[k] = v
	}

	for field, ref := range step.RequiredData {
		value, err := ResolveReference(ref, ec)
		if err != nil {
			if fe, ok := err.(*schema.FlowError); ok {
				return nil, fe.WithStep(step.ID)
			}
			return nil, err
		}
		input[field] = value
	}

	if step.InputSchema != nil {
		if err := step.InputSchema.Validate(input); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInputSchema,
				"input validation failed for step %s: %s", step.ID, errMessage(err)).
				WithStep(step.ID).
				WithCause(err)
		}
	}
	return input, nil
}

// errMessage prefers a FlowError's bare message over its coded rendering.
func errMessage(err error) string {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe.Message
	}
	return err.Error()
}
