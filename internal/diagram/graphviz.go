package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/rendis/stepflow/pkg/schema"
)

type shapeStyle struct {
	shape cgraph.Shape
	size  float64 // fixed width and height; 0 lets graphviz size the node
}

var kindShapes = map[NodeKind]shapeStyle{
	NodeKindStart:    {shape: cgraph.CircleShape, size: 0.5},
	NodeKindStep:     {shape: cgraph.BoxShape},
	NodeKindTerminal: {shape: cgraph.EllipseShape},
	NodeKindSuccess:  {shape: cgraph.CircleShape, size: 0.5},
	NodeKindFailure:  {shape: cgraph.HexagonShape},
}

type fill struct {
	color, font string
}

var statusFills = map[string]fill{
	string(schema.StepStatusCompleted): {"#2d6a2d", "white"},
	string(schema.StepStatusFailed):    {"#8b1a1a", "white"},
	string(schema.StepStatusRunning):   {"#1a5276", "white"},
}

var pendingFill = fill{"#d3d3d3", "black"}

// RenderImage lays out the machine with dot and returns it as PNG bytes.
// Fallback edges into the failure state are drawn dashed.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	states := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		n, err := graph.CreateNodeByName(node.ID)
		if err != nil {
			return nil, fmt.Errorf("diagram: create state %s: %w", node.ID, err)
		}
		n.SetLabel(nodeCaption(node))
		styleState(n, node)
		states[node.ID] = n
	}

	for _, edge := range model.Edges {
		from, to := states[edge.From], states[edge.To]
		if from == nil || to == nil {
			continue
		}
		e, err := graph.CreateEdgeByName(edge.From+"->"+edge.To+":"+edge.Label, from, to)
		if err != nil {
			return nil, fmt.Errorf("diagram: create transition %s -> %s: %w", edge.From, edge.To, err)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
		if edge.Label == LabelNoMatch {
			e.SetStyle(cgraph.DashedEdgeStyle)
			e.SetColor("#8b1a1a")
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// nodeCaption is the node label plus, for an overlaid step, its duration.
func nodeCaption(node *Node) string {
	caption := firstLine(node.Label)
	if node.Status != nil && node.Status.DurationMs > 0 {
		caption = fmt.Sprintf("%s\n%dms", caption, node.Status.DurationMs)
	}
	return caption
}

func styleState(n *cgraph.Node, node *Node) {
	if s, ok := kindShapes[node.Kind]; ok {
		n.SetShape(s.shape)
		if s.size > 0 {
			n.SetWidth(s.size)
			n.SetHeight(s.size)
		}
	}
	if node.Status == nil {
		return
	}

	f, ok := statusFills[node.Status.Status]
	if !ok {
		f = pendingFill
	}
	n.SetStyle(cgraph.FilledNodeStyle)
	n.SetFillColor(f.color)
	n.SetFontColor(f.font)
}
