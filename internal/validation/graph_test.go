package validation

import (
	"fmt"
	"testing"

	"github.com/rendis/stepflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func chain(ids ...string) []Node {
	nodes := make([]Node, len(ids))
	for i, id := range ids {
		nodes[i] = Node{ID: id}
		if i+1 < len(ids) {
			nodes[i].Targets = []string{ids[i+1]}
		}
	}
	return nodes
}

func findingsOf(errs []schema.ValidationError, typ schema.ValidationErrorType) []schema.ValidationError {
	var out []schema.ValidationError
	for _, e := range errs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// --- Cycle detection ---

func TestGraph_Linear(t *testing.T) {
	result := ValidateGraph(NewGraph(chain("a", "b", "c")))
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestGraph_Diamond(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"b", "c"}},
		{ID: "b", Targets: []string{"d"}},
		{ID: "c", Targets: []string{"d"}},
		{ID: "d"},
	}))
	assert.True(t, result.Valid())
}

func TestGraph_SimpleCycle(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"b"}},
		{ID: "b", Targets: []string{"c"}},
		{ID: "c", Targets: []string{"a"}},
	}))

	cycles := findingsOf(result.Errors, schema.CircularDependency)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycles[0].Details.Path)
	assert.Equal(t, "Circular dependency detected in workflow", cycles[0].Message)
}

func TestGraph_SelfCycle(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"a", "done"}},
		{ID: "done"},
	}))

	cycles := findingsOf(result.Errors, schema.CircularDependency)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "a"}, cycles[0].Details.Path)
	// a can still reach done, so the cycle is the only finding.
	assert.Len(t, result.Errors, 1)
}

func TestGraph_CyclePathStartsAtRepeat(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "start", Targets: []string{"loop1"}},
		{ID: "loop1", Targets: []string{"loop2"}},
		{ID: "loop2", Targets: []string{"loop1", "end"}},
		{ID: "end"},
	}))

	cycles := findingsOf(result.Errors, schema.CircularDependency)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"loop1", "loop2", "loop1"}, cycles[0].Details.Path)
}

// --- Terminal paths ---

func TestGraph_NoTerminalPath(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"b"}},
		{ID: "b", Targets: []string{"a"}},
	}))

	dead := findingsOf(result.Errors, schema.NoTerminalPath)
	require.Len(t, dead, 2)
	assert.Equal(t, "a", dead[0].Details.StepID)
	assert.Equal(t, []string{"a"}, dead[0].Details.Path)
	assert.Equal(t, "b", dead[1].Details.StepID)
	assert.Equal(t, []string{"a", "b"}, dead[1].Details.Path)
	assert.Equal(t, "No path to terminal state found", dead[0].Message)
}

func TestGraph_TerminalThroughCycle(t *testing.T) {
	// c reaches a terminal only by going back through b.
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"b"}},
		{ID: "b", Targets: []string{"c", "t"}},
		{ID: "c", Targets: []string{"b"}},
		{ID: "t"},
	}))

	assert.Empty(t, findingsOf(result.Errors, schema.NoTerminalPath))
	assert.Len(t, findingsOf(result.Errors, schema.CircularDependency), 1)
}

func TestGraph_DeadBranchBesideTerminal(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"t", "dead"}},
		{ID: "t"},
		{ID: "dead", Targets: []string{"dead"}},
	}))

	dead := findingsOf(result.Errors, schema.NoTerminalPath)
	require.Len(t, dead, 1)
	assert.Equal(t, "dead", dead[0].Details.StepID)
	assert.Equal(t, []string{"a", "dead"}, dead[0].Details.Path)
}

func TestGraph_UnknownTargetIsNotTerminal(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"ghost"}},
	}))

	dead := findingsOf(result.Errors, schema.NoTerminalPath)
	require.Len(t, dead, 1)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, schema.UnknownStepReference, result.Warnings[0].Type)
	assert.Equal(t, []string{"a", "ghost"}, result.Warnings[0].Details.Path)
}

func TestGraph_MetaStateTargetWarns(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"success", "b"}},
		{ID: "b"},
	}))

	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, schema.UnknownStepReference, result.Warnings[0].Type)
	assert.Contains(t, result.Warnings[0].Message, `reserved state "success"`)
}

// --- Reachability ---

func TestGraph_Unreachable(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"b"}},
		{ID: "b"},
		{ID: "orphan"},
		{ID: "orphan2", Targets: []string{"b"}},
	}))

	orphans := findingsOf(result.Errors, schema.UnreachableStep)
	require.Len(t, orphans, 2)
	assert.Equal(t, "orphan", orphans[0].Details.StepID)
	assert.Equal(t, "orphan2", orphans[1].Details.StepID)
	assert.Equal(t, "Step is not reachable from the initial step", orphans[0].Message)
}

func TestGraph_RootIsFirstNode(t *testing.T) {
	// "b" points at "a" but is registered second, so it is the orphan.
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a"},
		{ID: "b", Targets: []string{"a"}},
	}))

	orphans := findingsOf(result.Errors, schema.UnreachableStep)
	require.Len(t, orphans, 1)
	assert.Equal(t, "b", orphans[0].Details.StepID)
}

func TestGraph_AllPassesCollected(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"b"}},
		{ID: "b", Targets: []string{"a"}},
		{ID: "orphan"},
	}))

	assert.NotEmpty(t, findingsOf(result.Errors, schema.CircularDependency))
	assert.NotEmpty(t, findingsOf(result.Errors, schema.NoTerminalPath))
	assert.NotEmpty(t, findingsOf(result.Errors, schema.UnreachableStep))

	err := result.ToError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Workflow validation failed:")
	assert.Contains(t, err.Error(), "[circular_dependency] Circular dependency detected in workflow (Path: a → b → a)")
	assert.Contains(t, err.Error(), "[unreachable_step] Step is not reachable from the initial step (Step: orphan)")
}

func TestGraph_Empty(t *testing.T) {
	result := ValidateGraph(NewGraph(nil))
	assert.True(t, result.Valid())
}

func TestGraph_ReferenceWarnings(t *testing.T) {
	result := ValidateGraph(NewGraph([]Node{
		{ID: "a", Targets: []string{"b"}, References: []string{"trigger"}},
		{ID: "b", References: []string{"a", "missing", "missing"}},
	}))

	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "b", result.Warnings[0].Details.StepID)
	assert.Contains(t, result.Warnings[0].Message, `"missing"`)
}

func TestReachable(t *testing.T) {
	g := NewGraph([]Node{
		{ID: "a", Targets: []string{"b"}},
		{ID: "b", Targets: []string{"c"}},
		{ID: "c"},
		{ID: "d"},
	})
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, Reachable(g))
}

// --- Properties ---

// genGraph draws a graph of up to 8 nodes named s0..sN with random edges.
func genGraph(t *rapid.T) *Graph {
	n := rapid.IntRange(1, 8).Draw(t, "n")
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i].ID = fmt.Sprintf("s%d", i)
		targets := rapid.SliceOfNDistinct(rapid.IntRange(0, n-1), 0, 3, rapid.ID[int]).Draw(t, fmt.Sprintf("targets%d", i))
		for _, tgt := range targets {
			nodes[i].Targets = append(nodes[i].Targets, fmt.Sprintf("s%d", tgt))
		}
	}
	return NewGraph(nodes)
}

// hasCycleFromRoot is an independent reference check using iterative
// deepening over simple paths.
func hasCycleFromRoot(g *Graph) bool {
	reach := Reachable(g)
	for id := range reach {
		// id lies on a cycle iff id reaches itself.
		seen := map[string]bool{}
		queue := append([]string(nil), mustNode(g, id).Targets...)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur == id {
				return true
			}
			if seen[cur] {
				continue
			}
			seen[cur] = true
			if n, ok := g.node(cur); ok {
				queue = append(queue, n.Targets...)
			}
		}
	}
	return false
}

func mustNode(g *Graph, id string) *Node {
	n, _ := g.node(id)
	return n
}

func canTerminate(g *Graph, id string) bool {
	seen := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		n, ok := g.node(cur)
		if !ok {
			continue
		}
		if len(n.Targets) == 0 {
			return true
		}
		queue = append(queue, n.Targets...)
	}
	return false
}

func TestGraph_PropertyCycleReported(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := genGraph(rt)
		result := ValidateGraph(g)
		cycles := findingsOf(result.Errors, schema.CircularDependency)

		if hasCycleFromRoot(g) {
			if len(cycles) == 0 {
				rt.Fatalf("cycle reachable from root but no circular_dependency finding")
			}
		} else if len(cycles) != 0 {
			rt.Fatalf("acyclic graph reported %d cycles", len(cycles))
		}
		for _, c := range cycles {
			if len(c.Details.Path) < 2 || c.Details.Path[0] != c.Details.Path[len(c.Details.Path)-1] {
				rt.Fatalf("cycle path %v does not close on itself", c.Details.Path)
			}
		}
	})
}

func TestGraph_PropertyNoTerminalPath(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := genGraph(rt)
		result := ValidateGraph(g)

		reported := map[string]bool{}
		for _, e := range findingsOf(result.Errors, schema.NoTerminalPath) {
			reported[e.Details.StepID] = true
		}
		for id := range Reachable(g) {
			if want := !canTerminate(g, id); reported[id] != want {
				rt.Fatalf("step %s: no_terminal_path reported=%v, want %v", id, reported[id], want)
			}
		}
	})
}

func TestGraph_PropertyUnreachable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := genGraph(rt)
		result := ValidateGraph(g)
		reach := Reachable(g)

		reported := map[string]bool{}
		for _, e := range findingsOf(result.Errors, schema.UnreachableStep) {
			reported[e.Details.StepID] = true
		}
		for _, n := range g.Nodes {
			if reported[n.ID] == reach[n.ID] {
				rt.Fatalf("step %s: reachable=%v but unreachable reported=%v", n.ID, reach[n.ID], reported[n.ID])
			}
		}
	})
}
