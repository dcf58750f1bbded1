package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// RuntimeConfig holds the collaborators of a Runtime. Every field is optional.
type RuntimeConfig struct {
	Logger        *slog.Logger
	Appender      EventAppender
	Observers     []Observer
	Evaluator     *ConditionEvaluator
	TriggerSchema Schema
}

// RunResult is the outcome of a successful run.
type RunResult struct {
	RunID       string         `json:"run_id"`
	TriggerData any            `json:"trigger_data,omitempty"`
	Results     map[string]any `json:"results"`

	// Completed lists step IDs in the order they completed.
	Completed []string `json:"completed"`
}

// Runtime executes a compiled machine. It holds no per-run state: every
// call to Run builds its own ExecutionContext, so runs never share state.
type Runtime struct {
	machine       *Machine
	evaluator     *ConditionEvaluator
	logger        *slog.Logger
	appender      EventAppender
	runFSM        *RunFSM
	stepFSM       *StepFSM
	observers     observers
	triggerSchema Schema
}

// NewRuntime creates a Runtime over m.
func NewRuntime(m *Machine, cfg RuntimeConfig) *Runtime {
	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = NewConditionEvaluator(Engines{})
	}
	logger := logging.Safe(cfg.Logger)
	return &Runtime{
		machine:       m,
		evaluator:     evaluator,
		logger:        logger,
		appender:      cfg.Appender,
		runFSM:        NewRunFSM(cfg.Appender),
		stepFSM:       NewStepFSM(cfg.Appender),
		observers:     observers{list: cfg.Observers, logger: logger},
		triggerSchema: cfg.TriggerSchema,
	}
}

// Machine returns the compiled machine the runtime drives.
func (r *Runtime) Machine() *Machine {
	return r.machine
}

// Run executes one workflow run to a terminal state. On failure the
// returned error is a *schema.FlowError whose Message is the message of the
// error that ended the run.
func (r *Runtime) Run(ctx context.Context, trigger any) (*RunResult, error) {
	ex := &run{
		Runtime: r,
		id:      uuid.New().String(),
		started: time.Now(),
	}
	ctx = logging.WithRunID(logging.WithWorkflow(ctx, r.machine.Name), ex.id)
	return ex.execute(ctx, trigger)
}

// run is the state of one in-flight execution.
type run struct {
	*Runtime
	id      string
	started time.Time
	ec      *ExecutionContext
}

func (x *run) execute(ctx context.Context, trigger any) (*RunResult, error) {
	x.logger.InfoContext(ctx, "Executing workflow")

	if x.triggerSchema != nil {
		if err := x.triggerSchema.Validate(trigger); err != nil {
			ferr := schema.NewErrorf(schema.ErrCodeTriggerSchema,
				"trigger validation failed: %s", errMessage(err)).WithCause(err)
			x.logger.ErrorContext(ctx, "Trigger schema validation failed", slog.String("error", ferr.Message))
			x.transitionRun(ctx, schema.RunStatusPending, schema.RunStatusFailed, map[string]any{"error": ferr.Message})
			x.observers.RunFinished(x.machine.Name, x.id, schema.RunStatusFailed, time.Since(x.started))
			return nil, ferr
		}
		x.logger.DebugContext(ctx, "Trigger schema validation passed")
	}

	x.ec = NewExecutionContext(trigger)
	x.transitionRun(ctx, schema.RunStatusPending, schema.RunStatusRunning, map[string]any{"trigger": x.ec.TriggerData})
	x.observers.RunStarted(x.machine.Name, x.id)

	state := x.machine.Initial
	for {
		st, ok := x.machine.State(state)
		if !ok {
			x.ec.Err = schema.NewErrorf(schema.ErrCodeInvalidTransition, "transition to unknown step %q", state)
			state = StateFailure
			continue
		}

		switch st.Kind {
		case KindSuccess:
			return x.succeed(ctx), nil
		case KindFailure:
			return nil, x.fail(ctx)
		case KindIdle:
			x.ec.Err = schema.NewError(schema.ErrCodeExecution, "workflow has no steps")
			state = StateFailure
			continue
		}

		if err := ctx.Err(); err != nil {
			x.ec.Err = schema.NewError(schema.ErrCodeExecution, err.Error()).WithStep(st.ID).WithCause(err)
			state = StateFailure
			continue
		}

		state = x.runStep(ctx, st)
	}
}

// runStep resolves input, invokes the handler, records the result and then
// picks the next state. Results are recorded before any guard is evaluated.
func (x *run) runStep(ctx context.Context, st *State) string {
	step := st.Step
	ctx = logging.WithStepID(ctx, step.ID)

	x.transitionStep(ctx, step.ID, schema.StepStatusPending, schema.StepStatusRunning, nil)
	x.observers.StepStarted(x.machine.Name, x.id, step.ID)
	start := time.Now()

	input, err := Resolve(step, x.ec)
	var out any
	if err == nil {
		out, err = invoke(ctx, step, input)
	}
	if err != nil {
		x.ec.Err = stepError(step.ID, err)
		x.logger.ErrorContext(ctx, "Workflow error", slog.String("error", errMessage(x.ec.Err)))
		x.transitionStep(ctx, step.ID, schema.StepStatusRunning, schema.StepStatusFailed,
			map[string]any{"error": errMessage(x.ec.Err)})
		x.observers.StepFinished(x.machine.Name, x.id, step.ID, schema.StepStatusFailed, time.Since(start))
		return StateFailure
	}

	x.ec.Record(step.ID, out)
	x.logger.InfoContext(ctx, "Step "+step.ID+" completed")
	x.transitionStep(ctx, step.ID, schema.StepStatusRunning, schema.StepStatusCompleted,
		map[string]any{"result": out})
	x.observers.StepFinished(x.machine.Name, x.id, step.ID, schema.StepStatusCompleted, time.Since(start))

	if st.OnDone != "" {
		return st.OnDone
	}

	next, err := x.nextState(ctx, st)
	if err != nil {
		x.ec.Err = stepError(step.ID, err)
		return StateFailure
	}
	return next
}

// nextState evaluates every guard of st in registration order against the
// updated context. The first satisfied transition the machine accepts wins;
// with none satisfied the run takes NO_MATCHING_CONDITIONS to failure.
func (x *run) nextState(ctx context.Context, st *State) (string, error) {
	var satisfied []Edge
	for _, edge := range st.Edges {
		if edge.Event == EventNoMatchingConditions {
			continue
		}
		x.logger.DebugContext(ctx, "Checking transition to: "+edge.Target)
		ok, err := x.evaluator.Evaluate(ctx, edge.Guard, x.ec)
		if err != nil {
			return "", err
		}
		if ok {
			x.logger.DebugContext(ctx, "Condition passed", slog.String("target", edge.Target))
			satisfied = append(satisfied, edge)
		}
	}

	if len(satisfied) == 0 {
		x.logger.DebugContext(ctx, "No transition condition passed")
		edge, _ := x.machine.Edge(st.ID, EventNoMatchingConditions)
		x.ec.Err = schema.NewError(schema.ErrCodeNoMatchingCond, schema.NoMatchingConditionsMessage).WithStep(st.ID)
		return edge.Target, nil
	}

	for _, cand := range satisfied {
		edge, ok := x.machine.Edge(st.ID, cand.Event)
		if !ok {
			continue
		}
		x.emit(ctx, &schema.Event{
			Workflow: x.machine.Name,
			RunID:    x.id,
			StepID:   st.ID,
			Type:     schema.EventTransitionTaken,
			Payload:  map[string]any{"from": st.ID, "to": edge.Target, "event": edge.Event},
		})
		return edge.Target, nil
	}
	return StateFailure, schema.NewError(schema.ErrCodeInvalidTransition, "no satisfied transition was accepted").WithStep(st.ID)
}

func (x *run) succeed(ctx context.Context) *RunResult {
	results := x.ec.Results()
	x.logger.InfoContext(ctx, "Workflow completed successfully")
	x.transitionRun(ctx, schema.RunStatusRunning, schema.RunStatusCompleted, map[string]any{"results": results})
	x.observers.RunFinished(x.machine.Name, x.id, schema.RunStatusCompleted, time.Since(x.started))
	return &RunResult{
		RunID:       x.id,
		TriggerData: x.ec.TriggerData,
		Results:     results,
		Completed:   x.ec.Completed(),
	}
}

func (x *run) fail(ctx context.Context) error {
	err := x.ec.Err
	if err == nil {
		err = schema.NewError(schema.ErrCodeExecution, "workflow failed")
	}
	x.logger.ErrorContext(ctx, "Workflow failed", slog.String("error", errMessage(err)))
	x.transitionRun(ctx, schema.RunStatusRunning, schema.RunStatusFailed, map[string]any{"error": errMessage(err)})
	x.observers.RunFinished(x.machine.Name, x.id, schema.RunStatusFailed, time.Since(x.started))
	return err
}

// transitionRun and transitionStep drive the lifecycle FSMs. Failures to
// record lifecycle events are logged and never change the run's outcome.
func (x *run) transitionRun(ctx context.Context, from, to schema.RunStatus, payload map[string]any) {
	if err := x.runFSM.Transition(ctx, x.machine.Name, x.id, from, to, payload); err != nil {
		x.logger.WarnContext(ctx, "run lifecycle event dropped", slog.String("error", err.Error()))
	}
}

func (x *run) transitionStep(ctx context.Context, stepID string, from, to schema.StepStatus, payload map[string]any) {
	if err := x.stepFSM.Transition(ctx, x.machine.Name, x.id, stepID, from, to, payload); err != nil {
		x.logger.WarnContext(ctx, "step lifecycle event dropped", slog.String("error", err.Error()))
	}
}

func (x *run) emit(ctx context.Context, event *schema.Event) {
	if x.appender == nil {
		return
	}
	if err := x.appender.AppendEvent(ctx, event); err != nil {
		x.logger.WarnContext(ctx, "event dropped",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}

// invoke calls the step handler, converting a panic into an error.
func invoke(ctx context.Context, step *Step, input map[string]any) (out any, err error) {
	if step.Handler == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "step has no handler").WithStep(step.ID)
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = schema.NewErrorf(schema.ErrCodeExecution, "step handler panicked: %v", rec).WithStep(step.ID)
		}
	}()
	return step.Handler(ctx, input)
}

// stepError normalizes any error that ended a step into a FlowError that
// keeps the original message and cause. A FlowError from a handler may be a
// shared value, so it is never modified: the step is set on a copy that
// wraps it.
func stepError(stepID string, err error) *schema.FlowError {
	if fe, ok := err.(*schema.FlowError); ok {
		if fe.StepID != "" {
			return fe
		}
		cp := *fe
		cp.StepID = stepID
		cp.Cause = fe
		return &cp
	}
	return schema.NewError(schema.ErrCodeStepFailed, err.Error()).WithStep(stepID).WithCause(err)
}
