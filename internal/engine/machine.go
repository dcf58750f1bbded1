package engine

import (
	"github.com/rendis/stepflow/pkg/schema"
)

// Meta-states of every compiled machine.
const (
	StateIdle    = schema.StateIdle
	StateSuccess = schema.StateSuccess
	StateFailure = schema.StateFailure
)

// EventNoMatchingConditions is sent when no guard of the current step holds.
const EventNoMatchingConditions = "NO_MATCHING_CONDITIONS"

// TransitionEvent names the event that moves a step to target.
func TransitionEvent(target string) string {
	return "TRANSITION_" + target
}

// StateKind classifies machine states.
type StateKind string

const (
	KindIdle    StateKind = "idle"
	KindStep    StateKind = "step"
	KindSuccess StateKind = "success"
	KindFailure StateKind = "failure"
)

// Edge is an event-labelled move out of a state. Guard is nil for
// unconditional edges.
type Edge struct {
	Event  string
	Target string
	Guard  *schema.Condition
}

// State is one node of a compiled machine.
type State struct {
	ID   string
	Kind StateKind
	Step *Step

	// OnDone is the state entered when the step completes, for terminal
	// steps only. Non-terminal steps move through Edges.
	OnDone string

	// Edges are in registration order. Every step state also accepts
	// EventNoMatchingConditions, leading to failure.
	Edges []Edge
}

// Final reports whether the state ends a run.
func (s *State) Final() bool {
	return s.Kind == KindSuccess || s.Kind == KindFailure
}

// Machine is the immutable compiled form of a step registry: one state per
// step plus idle, success and failure. It is shared read-only between runs.
type Machine struct {
	Name    string
	Initial string

	states map[string]*State
	order  []string
}

// Compile turns a registry into a machine. The initial state is the first
// registered step, or idle when the registry is empty. Compile does not
// validate the graph; callers run validation.ValidateGraph first.
func Compile(name string, reg *Registry) *Machine {
	m := &Machine{
		Name:    name,
		Initial: StateIdle,
		states: map[string]*State{
			StateIdle:    {ID: StateIdle, Kind: KindIdle},
			StateSuccess: {ID: StateSuccess, Kind: KindSuccess},
			StateFailure: {ID: StateFailure, Kind: KindFailure},
		},
	}

	steps := reg.Steps()
	if len(steps) > 0 {
		m.Initial = steps[0].ID
	}

	for _, step := range steps {
		st := &State{ID: step.ID, Kind: KindStep, Step: step}
		if step.Terminal() {
			st.OnDone = StateSuccess
		}
		for _, t := range step.Transitions {
			st.Edges = append(st.Edges, Edge{
				Event:  TransitionEvent(t.Target),
				Target: t.Target,
				Guard:  t.Condition,
			})
		}
		st.Edges = append(st.Edges, Edge{Event: EventNoMatchingConditions, Target: StateFailure})

		m.states[step.ID] = st
		m.order = append(m.order, step.ID)
	}
	return m
}

// State returns the state with the given ID.
func (m *Machine) State(id string) (*State, bool) {
	s, ok := m.states[id]
	return s, ok
}

// StepStates returns the step states in registration order.
func (m *Machine) StepStates() []*State {
	out := make([]*State, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.states[id])
	}
	return out
}

// Edge returns the first edge of from labelled event. ok is false when the
// state does not accept the event.
func (m *Machine) Edge(from, event string) (Edge, bool) {
	st, ok := m.states[from]
	if !ok {
		return Edge{}, false
	}
	for _, e := range st.Edges {
		if e.Event == event {
			return e, true
		}
	}
	return Edge{}, false
}
