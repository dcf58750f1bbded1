package schema

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// TriggerStepID is the reserved source name addressing a run's trigger payload.
const TriggerStepID = "trigger"

// Meta-state names of a compiled machine. Like TriggerStepID they cannot be
// step IDs.
const (
	StateIdle    = "idle"
	StateSuccess = "success"
	StateFailure = "failure"
)

// IsMetaState reports whether name is one of the machine meta-states.
func IsMetaState(name string) bool {
	return name == StateIdle || name == StateSuccess || name == StateFailure
}

// VariableReference points at a value produced earlier in a run: either the
// trigger payload or a completed step's result. Path "" or "." selects the
// whole value; anything else is a dotted field access ("a.b", "items[0].id").
type VariableReference struct {
	StepID string `json:"step_id" yaml:"step_id"`
	Path   string `json:"path" yaml:"path"`
}

// Ref is shorthand for building a VariableReference.
func Ref(stepID, path string) VariableReference {
	return VariableReference{StepID: stepID, Path: path}
}

// IsTrigger reports whether the reference addresses the trigger payload.
func (r VariableReference) IsTrigger() bool {
	return r.StepID == TriggerStepID
}

// WholeValue reports whether the path selects the entire source value.
func (r VariableReference) WholeValue() bool {
	p := strings.TrimSpace(r.Path)
	return p == "" || p == "."
}

// Condition is a boolean tree guarding a transition. A node evaluates to
//
//	base AND all(And) AND any(Or)
//
// where base is the leaf predicate when Ref is set, and an absent And or Or
// list is vacuously true.
//
// A leaf applies every predicate it declares to the referenced value:
// Query (a sift/Mongo-style operator document such as {"$eq": true}),
// CEL, Expr and JQ expressions.
type Condition struct {
	Ref   *VariableReference `json:"ref,omitempty" yaml:"ref,omitempty"`
	Query map[string]any     `json:"query,omitempty" yaml:"query,omitempty"`
	CEL   string             `json:"cel,omitempty" yaml:"cel,omitempty"`
	Expr  string             `json:"expr,omitempty" yaml:"expr,omitempty"`
	JQ    string             `json:"jq,omitempty" yaml:"jq,omitempty"`
	And   []Condition        `json:"and,omitempty" yaml:"and,omitempty"`
	Or    []Condition        `json:"or,omitempty" yaml:"or,omitempty"`
}

// Where builds a leaf condition with a sift-style query.
func Where(ref VariableReference, query map[string]any) *Condition {
	return &Condition{Ref: &ref, Query: query}
}

// AllOf builds a condition that holds when every child holds.
func AllOf(children ...Condition) *Condition {
	return &Condition{And: children}
}

// AnyOf builds a condition that holds when at least one child holds.
func AnyOf(children ...Condition) *Condition {
	return &Condition{Or: children}
}

// StepRefs lists the step IDs the condition tree reads from, depth first.
// A nil condition reads nothing.
func (c *Condition) StepRefs() []string {
	if c == nil {
		return nil
	}
	var refs []string
	if c.Ref != nil {
		refs = append(refs, c.Ref.StepID)
	}
	for i := range c.And {
		refs = append(refs, c.And[i].StepRefs()...)
	}
	for i := range c.Or {
		refs = append(refs, c.Or[i].StepRefs()...)
	}
	return refs
}

// Transition is an edge from a step to Target, optionally guarded.
// A nil Condition always passes.
type Transition struct {
	Target    string     `json:"to" yaml:"to"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// --- Declarative documents ---

// WorkflowDefinition is the JSON/YAML document form of a workflow.
// Handlers are referenced by action name and bound at load time.
type WorkflowDefinition struct {
	Name          string               `json:"name" yaml:"name"`
	Description   string               `json:"description,omitempty" yaml:"description,omitempty"`
	TriggerSchema map[string]any       `json:"trigger_schema,omitempty" yaml:"trigger_schema,omitempty"`
	Steps         []StepDefinition     `json:"steps" yaml:"steps"`
	Schedules     []ScheduleDefinition `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

// StepDefinition describes a single step in a workflow document.
type StepDefinition struct {
	ID          string                       `json:"id" yaml:"id"`
	Action      string                       `json:"action" yaml:"action"`
	Params      map[string]any               `json:"params,omitempty" yaml:"params,omitempty"`
	InputSchema map[string]any               `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	Variables   map[string]VariableReference `json:"variables,omitempty" yaml:"variables,omitempty"`
	Transitions []Transition                 `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// ScheduleDefinition fires a run on a cron schedule with a fixed trigger.
type ScheduleDefinition struct {
	Cron    string         `json:"cron" yaml:"cron"`
	Trigger map[string]any `json:"trigger,omitempty" yaml:"trigger,omitempty"`
}

// ParseDefinition decodes a workflow document. YAML is a superset of JSON,
// so both formats are accepted.
func ParseDefinition(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "parse workflow definition: %s", err.Error()).WithCause(err)
	}
	return &def, nil
}
