package diagram

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// Edge labels for the machine's implicit transitions.
const (
	LabelStart   = "start"
	LabelDone    = "done"
	LabelNoMatch = "no match"
)

const maxLabelLen = 48

// Build constructs a DiagramModel from a compiled machine and optional step
// states (from a run's event replay). Meta-states are drawn as start,
// success and failure nodes.
func Build(m *engine.Machine, states map[string]*streaming.StepState) *DiagramModel {
	steps := m.StepStates()

	nodes := make([]*Node, 0, len(steps)+3)
	nodes = append(nodes, &Node{ID: engine.StateIdle, Label: "Start", Kind: NodeKindStart})
	for _, st := range steps {
		node := &Node{ID: st.ID, Label: st.ID, Kind: NodeKindStep}
		if st.Step.Terminal() {
			node.Kind = NodeKindTerminal
		}
		overlayStatus(node, states)
		nodes = append(nodes, node)
	}
	nodes = append(nodes,
		&Node{ID: engine.StateSuccess, Label: "Success", Kind: NodeKindSuccess},
		&Node{ID: engine.StateFailure, Label: "Failure", Kind: NodeKindFailure},
	)

	return &DiagramModel{
		Title:  titleFor(m),
		Nodes:  nodes,
		Edges:  buildEdges(m),
		Levels: buildLevels(m),
	}
}

func titleFor(m *engine.Machine) string {
	if m.Name != "" {
		return m.Name
	}
	return "Workflow"
}

// overlayStatus applies runtime step state to a node.
func overlayStatus(node *Node, states map[string]*streaming.StepState) {
	ss, ok := states[node.ID]
	if !ok || ss == nil {
		return
	}
	overlay := &StatusOverlay{Status: string(ss.Status), DurationMs: ss.DurationMs}
	if ss.Error != nil {
		overlay.Error = fmt.Sprintf("%v", ss.Error)
	}
	node.Status = overlay
}

// buildEdges lists transitions in registration order: the start edge, then
// each step's guarded edges followed by its implicit done or no-match edge.
func buildEdges(m *engine.Machine) []Edge {
	var edges []Edge
	if m.Initial != engine.StateIdle {
		edges = append(edges, Edge{From: engine.StateIdle, To: m.Initial, Label: LabelStart})
	}

	for _, st := range m.StepStates() {
		if st.OnDone != "" {
			edges = append(edges, Edge{From: st.ID, To: st.OnDone, Label: LabelDone})
			continue
		}
		for _, e := range st.Edges {
			label := DescribeCondition(e.Guard)
			if e.Event == engine.EventNoMatchingConditions {
				label = LabelNoMatch
			}
			edges = append(edges, Edge{From: st.ID, To: e.Target, Label: label})
		}
	}
	return edges
}

// buildLevels layers step states by their longest distance from the
// initial state, with start first and the final states last. Relaxation is
// bounded by the step count, so a cyclic machine still terminates.
func buildLevels(m *engine.Machine) [][]string {
	steps := m.StepStates()
	depth := make(map[string]int, len(steps))
	for _, st := range steps {
		depth[st.ID] = 0
	}

	for round := 0; round < len(steps); round++ {
		changed := false
		for _, st := range steps {
			for _, e := range st.Edges {
				d, isStep := depth[e.Target]
				if !isStep || e.Target == m.Initial {
					continue
				}
				if next := depth[st.ID] + 1; next > d && next < len(steps) {
					depth[e.Target] = next
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	maxDepth := -1
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, 0, maxDepth+3)
	levels = append(levels, []string{engine.StateIdle})
	for d := 0; d <= maxDepth; d++ {
		var level []string
		for _, st := range steps {
			if depth[st.ID] == d {
				level = append(level, st.ID)
			}
		}
		levels = append(levels, level)
	}
	levels = append(levels, []string{engine.StateSuccess, engine.StateFailure})
	return levels
}

// DescribeCondition renders a guard as a short human-readable label.
// An unconditional transition has an empty label.
func DescribeCondition(c *schema.Condition) string {
	if c == nil {
		return ""
	}
	s := describe(c)
	if r := []rune(s); len(r) > maxLabelLen {
		s = string(r[:maxLabelLen-3]) + "..."
	}
	return s
}

func describe(c *schema.Condition) string {
	var parts []string

	if c.Ref != nil {
		ref := c.Ref.StepID
		if !c.Ref.WholeValue() {
			ref += "." + strings.TrimPrefix(c.Ref.Path, ".")
		}
		if c.Query != nil {
			q, err := json.Marshal(c.Query)
			if err != nil {
				q = []byte("{...}")
			}
			parts = append(parts, ref+" "+string(q))
		}
		for _, p := range []struct{ name, expr string }{{"cel", c.CEL}, {"expr", c.Expr}, {"jq", c.JQ}} {
			if p.expr != "" {
				parts = append(parts, fmt.Sprintf("%s %s(%s)", ref, p.name, p.expr))
			}
		}
	}

	for i := range c.And {
		parts = append(parts, describe(&c.And[i]))
	}
	if len(c.Or) > 0 {
		alts := make([]string, len(c.Or))
		for i := range c.Or {
			alts[i] = describe(&c.Or[i])
		}
		or := strings.Join(alts, " || ")
		if len(parts) > 0 && len(alts) > 1 {
			or = "(" + or + ")"
		}
		parts = append(parts, or)
	}

	if len(parts) == 0 {
		return "always"
	}
	return strings.Join(parts, " && ")
}
