package workflow

import (
	"sort"

	"github.com/rendis/stepflow/pkg/schema"
)

// Info is a serializable summary of a workflow.
type Info struct {
	Name             string                      `json:"name"`
	Description      string                      `json:"description,omitempty"`
	Committed        bool                        `json:"committed"`
	HasTriggerSchema bool                        `json:"has_trigger_schema"`
	Steps            []StepInfo                  `json:"steps"`
	Schedules        []schema.ScheduleDefinition `json:"schedules,omitempty"`
}

// StepInfo summarizes one step.
type StepInfo struct {
	ID             string                              `json:"id"`
	Terminal       bool                                `json:"terminal"`
	HasInputSchema bool                                `json:"has_input_schema"`
	Payload        map[string]any                      `json:"payload,omitempty"`
	Variables      map[string]schema.VariableReference `json:"variables,omitempty"`
	Transitions    []schema.Transition                 `json:"transitions,omitempty"`
}

// Describe summarizes the workflow's steps in registration order.
func (w *Workflow) Describe() Info {
	w.mu.RLock()
	defer w.mu.RUnlock()

	info := Info{
		Name:             w.name,
		Description:      w.description,
		Committed:        w.runtime != nil,
		HasTriggerSchema: w.triggerSchema != nil,
		Schedules:        append([]schema.ScheduleDefinition(nil), w.schedules...),
	}
	for _, s := range w.registry.Steps() {
		info.Steps = append(info.Steps, StepInfo{
			ID:             s.ID,
			Terminal:       s.Terminal(),
			HasInputSchema: s.InputSchema != nil,
			Payload:        s.Payload,
			Variables:      s.RequiredData,
			Transitions:    s.Transitions,
		})
	}
	return info
}

// Describe summarizes every registered workflow sorted by name.
func (c *Catalog) Describe() []Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	infos := make([]Info, 0, len(c.workflows))
	for _, w := range c.workflows {
		infos = append(infos, w.Describe())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
