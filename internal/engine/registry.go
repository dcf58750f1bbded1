package engine

import (
	"sort"

	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/schema"
)

// reservedIDs cannot be step IDs: "trigger" addresses the trigger payload
// and the rest name the meta-states of a compiled machine.
var reservedIDs = map[string]bool{
	schema.TriggerStepID: true,
	StateIdle:            true,
	StateSuccess:         true,
	StateFailure:         true,
}

// Registry is the append-only, ordered collection of a workflow's steps.
// The first registered step is the entry point. It is not safe for
// concurrent mutation; the Workflow facade serializes access.
type Registry struct {
	steps []*Step
	index map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Add appends a step. Step IDs are unique per registry.
func (r *Registry) Add(step *Step) error {
	if step == nil || step.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step id must not be empty")
	}
	if reservedIDs[step.ID] {
		return schema.NewErrorf(schema.ErrCodeValidation, "step id %q is reserved", step.ID).WithStep(step.ID)
	}
	if _, exists := r.index[step.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeDuplicateStep, "step with id %q already exists", step.ID).WithStep(step.ID)
	}
	r.index[step.ID] = len(r.steps)
	r.steps = append(r.steps, step)
	return nil
}

// Get returns the step registered under id.
func (r *Registry) Get(id string) (*Step, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.steps[i], true
}

// Steps returns the registered steps in registration order.
func (r *Registry) Steps() []*Step {
	out := make([]*Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	return len(r.steps)
}

// Graph projects the registry onto the validator's graph model.
func (r *Registry) Graph() *validation.Graph {
	nodes := make([]validation.Node, len(r.steps))
	for i, s := range r.steps {
		targets := make([]string, len(s.Transitions))
		for j, t := range s.Transitions {
			targets[j] = t.Target
		}
		refs := s.References()
		sort.Strings(refs)
		nodes[i] = validation.Node{ID: s.ID, Targets: targets, References: refs}
	}
	return validation.NewGraph(nodes)
}
