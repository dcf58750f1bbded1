package workflow

import (
	"fmt"
	"os"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/schema"
)

// LoadFile reads a YAML or JSON workflow document and builds a committed
// workflow from it.
func LoadFile(path string, reg *actions.Registry, opts ...Option) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read workflow file %q: %s", path, err.Error()).WithCause(err)
	}
	return LoadDefinition(data, reg, opts...)
}

// LoadDefinition checks a raw document against the workflow document schema
// and builds a committed workflow from it.
func LoadDefinition(data []byte, reg *actions.Registry, opts ...Option) (*Workflow, error) {
	if reg == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "action registry is required")
	}
	v, err := validation.NewDefinitionValidator(reg)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to initialize definition validator").WithCause(err)
	}
	def, err := v.ValidateDocument(data)
	if err != nil {
		return nil, err
	}
	return build(def, reg, opts)
}

// FromDefinition binds each step of def to its named action and commits the
// result. A step without its own input schema uses its action's.
func FromDefinition(def *schema.WorkflowDefinition, reg *actions.Registry, opts ...Option) (*Workflow, error) {
	if reg == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "action registry is required")
	}
	v, err := validation.NewDefinitionValidator(reg)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to initialize definition validator").WithCause(err)
	}
	if err := v.ValidateDefinition(def); err != nil {
		return nil, err
	}
	return build(def, reg, opts)
}

func build(def *schema.WorkflowDefinition, reg *actions.Registry, opts []Option) (*Workflow, error) {
	opts = append([]Option{WithDescription(def.Description)}, opts...)
	w := New(def.Name, opts...)
	w.schedules = append(w.schedules, def.Schedules...)

	if def.TriggerSchema != nil {
		ts, err := validation.CompileJSONSchemaMap(def.TriggerSchema)
		if err != nil {
			return nil, wrapField("trigger_schema", err)
		}
		w.SetTriggerSchema(ts)
	}

	for i, sd := range def.Steps {
		action, err := reg.Get(sd.Action)
		if err != nil {
			return nil, err
		}
		input, err := stepSchema(sd, action)
		if err != nil {
			return nil, wrapField(fmt.Sprintf("steps[%d].input_schema", i), err)
		}

		vars := make(map[string]any, len(sd.Variables))
		for field, ref := range sd.Variables {
			vars[field] = ref
		}

		if err := w.AddStep(sd.ID, StepConfig{
			Handler:     action.Execute,
			InputSchema: input,
			Payload:     sd.Params,
			Variables:   vars,
			Transitions: sd.Transitions,
		}); err != nil {
			return nil, err
		}
	}

	if err := w.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

// stepSchema picks the step's own input schema, falling back to the
// action's. A nil Schema means no input check.
func stepSchema(sd schema.StepDefinition, action actions.Action) (Schema, error) {
	if sd.InputSchema != nil {
		s, err := validation.CompileJSONSchemaMap(sd.InputSchema)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if raw := action.Schema().InputSchema; len(raw) > 0 {
		s, err := validation.CompileJSONSchema(raw)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}

func wrapField(field string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: %s", field, err.Error()).WithCause(err)
}
