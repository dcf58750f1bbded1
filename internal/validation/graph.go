package validation

import (
	"fmt"

	"github.com/rendis/stepflow/pkg/schema"
)

// Node is the validator's view of one registered step: its outgoing
// transition targets in registration order, and every step ID it reads from
// (variables and condition references).
type Node struct {
	ID         string
	Targets    []string
	References []string
}

// Graph is an ordered set of nodes. Nodes[0] is the entry point for every pass.
type Graph struct {
	Nodes []Node

	index map[string]int
}

// NewGraph indexes nodes by ID. Later duplicates are ignored; the step
// registry rejects them before they get here.
func NewGraph(nodes []Node) *Graph {
	g := &Graph{Nodes: nodes, index: make(map[string]int, len(nodes))}
	for i, n := range nodes {
		if _, dup := g.index[n.ID]; !dup {
			g.index[n.ID] = i
		}
	}
	return g
}

func (g *Graph) node(id string) (*Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return &g.Nodes[i], true
}

// ValidateGraph runs the three structural passes (cycles, terminal paths,
// unreachable steps) from the first node and reports unknown step references
// as warnings. Errors from every pass are collected; no pass short-circuits
// another.
func ValidateGraph(g *Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(g.Nodes) == 0 {
		return result
	}

	result.Merge(detectCycles(g))
	result.Merge(checkTerminalPaths(g))
	result.Merge(detectUnreachable(g))
	result.Merge(checkReferences(g))
	return result
}

// detectCycles walks transitions depth-first from the root keeping the
// recursion stack. Revisiting a step that is on the stack reports the cycle
// from its first occurrence through the repeat. Each back edge is reported once.
func detectCycles(g *Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	var (
		stack   []string
		onStack = make(map[string]int)
		done    = make(map[string]bool)
	)

	var dfs func(id string)
	dfs = func(id string) {
		if start, ok := onStack[id]; ok {
			path := make([]string, 0, len(stack)-start+1)
			path = append(path, stack[start:]...)
			path = append(path, id)
			result.AddError(schema.CircularDependency, "Circular dependency detected in workflow",
				schema.ValidationDetails{Path: path})
			return
		}
		if done[id] {
			return
		}

		onStack[id] = len(stack)
		stack = append(stack, id)

		if n, ok := g.node(id); ok {
			for _, target := range n.Targets {
				dfs(target)
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, id)
		done[id] = true
	}

	dfs(g.Nodes[0].ID)
	return result
}

// checkTerminalPaths reports every step reachable from the root that cannot
// reach a terminal step (one with no transitions). The path in each finding
// is the first route the depth-first walk took from the root to that step.
func checkTerminalPaths(g *Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	terminal := terminalSet(g)

	visited := make(map[string]bool)
	var dfs func(id string, path []string)
	dfs = func(id string, path []string) {
		if visited[id] {
			return
		}
		visited[id] = true

		n, ok := g.node(id)
		if !ok {
			return
		}

		here := append(append([]string(nil), path...), id)
		if !terminal[id] {
			result.AddError(schema.NoTerminalPath, "No path to terminal state found",
				schema.ValidationDetails{StepID: id, Path: here})
		}
		for _, target := range n.Targets {
			dfs(target, here)
		}
	}

	dfs(g.Nodes[0].ID, nil)
	return result
}

// terminalSet is the memoized "has terminal path" relation: a step without
// transitions is terminal, and a step with transitions has a terminal path
// iff at least one registered target does. Computed as a fixpoint so the
// answer does not depend on visit order.
func terminalSet(g *Graph) map[string]bool {
	has := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if len(n.Targets) == 0 {
			has[n.ID] = true
		}
	}

	for changed := true; changed; {
		changed = false
		for _, n := range g.Nodes {
			if has[n.ID] {
				continue
			}
			for _, target := range n.Targets {
				if has[target] {
					has[n.ID] = true
					changed = true
					break
				}
			}
		}
	}
	return has
}

// detectUnreachable reports registered steps outside the forward closure
// of the root, in registration order.
func detectUnreachable(g *Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	reachable := Reachable(g)

	for _, n := range g.Nodes {
		if !reachable[n.ID] {
			result.AddError(schema.UnreachableStep, "Step is not reachable from the initial step",
				schema.ValidationDetails{StepID: n.ID})
		}
	}
	return result
}

// Reachable returns the set of step IDs reachable from the root.
func Reachable(g *Graph) map[string]bool {
	reachable := make(map[string]bool, len(g.Nodes))
	if len(g.Nodes) == 0 {
		return reachable
	}

	queue := []string{g.Nodes[0].ID}
	reachable[g.Nodes[0].ID] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		n, ok := g.node(id)
		if !ok {
			continue
		}
		for _, target := range n.Targets {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}

// checkReferences warns about transition targets and data references naming
// steps that were never registered. These are not fatal at commit: an unknown
// target fails the run if taken, and an unknown reference fails resolution.
func checkReferences(g *Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for _, n := range g.Nodes {
		for _, target := range n.Targets {
			if _, ok := g.node(target); ok {
				continue
			}
			msg := fmt.Sprintf("Transition targets unknown step %q", target)
			if schema.IsMetaState(target) {
				msg = fmt.Sprintf("Transition targets reserved state %q; a run taking it ends there", target)
			}
			result.AddWarning(schema.UnknownStepReference, msg,
				schema.ValidationDetails{StepID: n.ID, Path: []string{n.ID, target}})
		}
		seen := make(map[string]bool, len(n.References))
		for _, ref := range n.References {
			if ref == schema.TriggerStepID || seen[ref] {
				continue
			}
			seen[ref] = true
			if _, ok := g.node(ref); !ok {
				result.AddWarning(schema.UnknownStepReference,
					fmt.Sprintf("References unknown step %q", ref),
					schema.ValidationDetails{StepID: n.ID})
			}
		}
	}
	return result
}
