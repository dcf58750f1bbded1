// Package workflow is the public entry point of stepflow: declare steps,
// commit the graph, then execute runs against the compiled machine.
package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/schema"
)

// Re-exported engine types so callers never import internal packages.
type (
	Handler       = engine.Handler
	Schema        = engine.Schema
	SchemaFunc    = engine.SchemaFunc
	RetryPolicy   = engine.RetryPolicy
	Result        = engine.RunResult
	EventAppender = engine.EventAppender
	Observer      = engine.Observer
	Engines       = engine.Engines
	Machine       = engine.Machine
)

// StepConfig declares one step.
//
// Variables maps input field names to references. Entries may be
// schema.VariableReference values or objects carrying a step id ("stepId" or
// "step_id") and a "path"; anything else is dropped without error.
type StepConfig struct {
	Handler     Handler
	InputSchema Schema
	Payload     map[string]any
	Variables   map[string]any
	Transitions []schema.Transition
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the log sink. Sink failures never affect a run.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) { w.logger = logging.Safe(logger) }
}

// WithEventAppender receives every run and step lifecycle event.
func WithEventAppender(app EventAppender) Option {
	return func(w *Workflow) { w.appender = app }
}

// WithObserver adds an observer of run and step timings.
func WithObserver(obs Observer) Option {
	return func(w *Workflow) {
		if obs != nil {
			w.observers = append(w.observers, obs)
		}
	}
}

// WithExpressionEngines replaces the default CEL, Expr and jq engines used
// by condition leaves.
func WithExpressionEngines(engines Engines) Option {
	return func(w *Workflow) {
		w.engines = &engines
	}
}

// WithDescription attaches a human-readable description.
func WithDescription(desc string) Option {
	return func(w *Workflow) { w.description = desc }
}

// Workflow is a named step graph. Steps are added until Commit compiles the
// graph into an immutable machine; Execute then runs it any number of
// times, concurrently if needed, each run with its own context.
type Workflow struct {
	name        string
	description string
	logger      *slog.Logger
	appender    EventAppender
	observers   []Observer
	engines     *Engines

	mu            sync.RWMutex
	registry      *engine.Registry
	triggerSchema Schema
	schedules     []schema.ScheduleDefinition
	machine       *engine.Machine
	runtime       *engine.Runtime
}

// New creates an empty, uncommitted workflow.
func New(name string, opts ...Option) *Workflow {
	w := &Workflow{
		name:     name,
		logger:   logging.Safe(nil),
		registry: engine.NewRegistry(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// Description returns the workflow description.
func (w *Workflow) Description() string { return w.description }

// AddStep registers a step. It fails with DUPLICATE_STEP when id is taken.
// Adding a step to a committed workflow uncommits it until the next Commit.
func (w *Workflow) AddStep(id string, cfg StepConfig) error {
	step := &engine.Step{
		ID:           id,
		Handler:      cfg.Handler,
		InputSchema:  cfg.InputSchema,
		Payload:      copyMap(cfg.Payload),
		RequiredData: parseVariables(cfg.Variables),
		Transitions:  append([]schema.Transition(nil), cfg.Transitions...),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.registry.Add(step); err != nil {
		return err
	}
	w.machine, w.runtime = nil, nil
	w.logger.Debug("Step added",
		slog.String("workflow", w.name),
		slog.String("step_id", id),
		slog.Int("variables", len(step.RequiredData)),
		slog.Int("transitions", len(step.Transitions)),
	)
	return nil
}

// SetTriggerSchema sets the validator every trigger payload must pass before
// a run starts. It takes effect at the next Commit.
func (w *Workflow) SetTriggerSchema(s Schema) *Workflow {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.triggerSchema = s
	w.machine, w.runtime = nil, nil
	return w
}

// Validate runs the graph validator without compiling.
func (w *Workflow) Validate() *schema.ValidationResult {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return validation.ValidateGraph(w.registry.Graph())
}

// Commit validates the step graph and compiles it. Every finding of every
// validation pass is returned in one VALIDATION_ERROR; on failure the
// workflow stays uncommitted. Warnings are logged only.
func (w *Workflow) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.registry.Len() == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow %q has no steps", w.name)
	}

	result := validation.ValidateGraph(w.registry.Graph())
	for _, warn := range result.Warnings {
		w.logger.Warn("Workflow validation warning",
			slog.String("workflow", w.name),
			slog.String("type", string(warn.Type)),
			slog.String("message", warn.Message),
		)
	}
	if err := result.ToError(); err != nil {
		w.logger.Error("Workflow validation failed",
			slog.String("workflow", w.name),
			slog.Int("error_count", len(result.Errors)),
			slog.String("error", err.Error()),
		)
		return err
	}

	engines := w.engines
	if engines == nil {
		defaults, err := engine.DefaultEngines()
		if err != nil {
			return schema.NewError(schema.ErrCodeExecution, "failed to initialize expression engines").WithCause(err)
		}
		engines = &defaults
	}

	w.machine = engine.Compile(w.name, w.registry)
	w.runtime = engine.NewRuntime(w.machine, engine.RuntimeConfig{
		Logger:        w.logger,
		Appender:      w.appender,
		Observers:     w.observers,
		Evaluator:     engine.NewConditionEvaluator(*engines),
		TriggerSchema: w.triggerSchema,
	})

	w.logger.Info("Workflow committed",
		slog.String("workflow", w.name),
		slog.Int("steps", w.registry.Len()),
		slog.Int("warnings", len(result.Warnings)),
	)
	return nil
}

// Committed reports whether the workflow can execute.
func (w *Workflow) Committed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runtime != nil
}

// Machine returns the compiled machine, or nil before Commit.
func (w *Workflow) Machine() *Machine {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.machine
}

// Steps returns the registered step IDs in registration order.
func (w *Workflow) Steps() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	steps := w.registry.Steps()
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

// Schedules returns the cron schedules declared for the workflow.
func (w *Workflow) Schedules() []schema.ScheduleDefinition {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]schema.ScheduleDefinition(nil), w.schedules...)
}

// Execute runs the workflow once with the given trigger payload. On failure
// the error is a *schema.FlowError whose Message is the message of the error
// that ended the run.
func (w *Workflow) Execute(ctx context.Context, trigger any) (*Result, error) {
	w.mu.RLock()
	rt := w.runtime
	w.mu.RUnlock()

	if rt == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotCommitted, "workflow %q must be committed before execution", w.name)
	}
	return rt.Run(ctx, trigger)
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
