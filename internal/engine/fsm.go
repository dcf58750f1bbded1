package engine

import (
	"context"
	"slices"

	"github.com/rendis/stepflow/pkg/schema"
)

// EventAppender receives the lifecycle events of runs. The streaming hub
// satisfies it; tests use recording mocks.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// --- Run FSM ---

// RunFSM checks run status transitions against ValidRunTransitions and
// emits the matching lifecycle event.
type RunFSM struct {
	appender EventAppender
}

// NewRunFSM creates a new RunFSM that emits events via the given appender.
// A nil appender disables event emission.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{appender: appender}
}

// Transition validates and executes a run state transition and emits the
// corresponding event. payload is attached to the event.
func (f *RunFSM) Transition(ctx context.Context, workflow, runID string, from, to schema.RunStatus, payload map[string]any) error {
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	if eventType := runEventType(to); eventType != "" && f.appender != nil {
		event := &schema.Event{
			Workflow: workflow,
			RunID:    runID,
			Type:     eventType,
			Payload:  payload,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "emit run event: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	return slices.Contains(ValidRunTransitions[from], to)
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}

// --- Step FSM ---

// StepFSM checks step status transitions against ValidStepTransitions and
// emits the matching lifecycle event.
type StepFSM struct {
	appender EventAppender
}

// NewStepFSM creates a new StepFSM that emits events via the given appender.
// A nil appender disables event emission.
func NewStepFSM(appender EventAppender) *StepFSM {
	return &StepFSM{appender: appender}
}

// Transition validates and executes a step state transition and emits the
// corresponding event.
func (f *StepFSM) Transition(ctx context.Context, workflow, runID, stepID string, from, to schema.StepStatus, payload map[string]any) error {
	if !isValidStepTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithStep(stepID).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	if eventType := stepEventType(to); eventType != "" && f.appender != nil {
		event := &schema.Event{
			Workflow: workflow,
			RunID:    runID,
			StepID:   stepID,
			Type:     eventType,
			Payload:  payload,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "emit step event: %s", err.Error()).
				WithStep(stepID).WithCause(err)
		}
	}
	return nil
}

func isValidStepTransition(from, to schema.StepStatus) bool {
	return slices.Contains(ValidStepTransitions[from], to)
}

func stepEventType(to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRunning:
		return schema.EventStepStarted
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	default:
		return ""
	}
}

// --- Transition tables ---

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
}

// ValidStepTransitions defines the allowed state transitions for steps.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed},
	schema.StepStatusCompleted: {},
	schema.StepStatusFailed:    {},
}
