package engine

import "github.com/rendis/stepflow/pkg/schema"

// ExecutionContext is the mutable state of a single run. It is owned by the
// run loop and never shared between runs.
type ExecutionContext struct {
	TriggerData any
	StepResults map[string]any
	Err         error

	// order records completion order, for callers that want a trace.
	order []string
}

// NewExecutionContext starts a run over trigger. A nil trigger becomes an
// empty object.
func NewExecutionContext(trigger any) *ExecutionContext {
	if trigger == nil {
		trigger = map[string]any{}
	}
	return &ExecutionContext{
		TriggerData: trigger,
		StepResults: make(map[string]any),
	}
}

// Record stores a step's result. A nil result is recorded too: the step ran.
func (c *ExecutionContext) Record(stepID string, result any) {
	if _, seen := c.StepResults[stepID]; !seen {
		c.order = append(c.order, stepID)
	}
	c.StepResults[stepID] = result
}

// Source returns the value a reference reads from: the trigger payload or a
// completed step's result. ok is false for a step that has not run.
func (c *ExecutionContext) Source(stepID string) (any, bool) {
	if stepID == schema.TriggerStepID {
		return c.TriggerData, true
	}
	v, ok := c.StepResults[stepID]
	return v, ok
}

// Completed returns step IDs in the order they completed.
func (c *ExecutionContext) Completed() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Results returns a shallow copy of the step results.
func (c *ExecutionContext) Results() map[string]any {
	out := make(map[string]any, len(c.StepResults))
	for k, v := range c.StepResults {
		out[k] = v
	}
	return out
}
