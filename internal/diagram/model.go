package diagram

// NodeKind classifies a diagram node by the machine state it draws.
type NodeKind string

const (
	NodeKindStart    NodeKind = "start"
	NodeKindStep     NodeKind = "step"
	NodeKindTerminal NodeKind = "terminal"
	NodeKindSuccess  NodeKind = "success"
	NodeKindFailure  NodeKind = "failure"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single machine state in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // from schema.StepStatus
	DurationMs int64
	Error      string
}

// Edge is a machine transition. Label summarizes its guard.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node returns the node with the given ID, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
