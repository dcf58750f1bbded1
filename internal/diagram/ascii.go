package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
)

var statusTags = map[string]string{
	string(schema.StepStatusCompleted): "[OK]",
	string(schema.StepStatusFailed):    "[FAIL]",
	string(schema.StepStatusRunning):   "[RUN]",
	string(schema.StepStatusPending):   "[PEND]",
}

const boxGap = "  "

// RenderASCII draws the machine for a terminal: one row of boxes per level
// with an arrow under each box, then every transition with its guard, since
// the boxes alone do not show branching.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for i, level := range model.Levels {
		var row [][]string
		for _, id := range level {
			if n := model.Node(id); n != nil {
				row = append(row, boxLines(n))
			}
		}
		if len(row) == 0 {
			continue
		}
		writeRow(&b, row)
		if i < len(model.Levels)-1 {
			writeArrows(&b, row)
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\nTransitions:\n")
		for _, e := range model.Edges {
			fmt.Fprintf(&b, "  %s ─→ %s", e.From, e.To)
			if e.Label != "" {
				fmt.Fprintf(&b, " [%s]", e.Label)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// boxLines frames a node's label, status tag and duration.
func boxLines(n *Node) []string {
	content := []string{firstLine(n.Label)}
	if n.Status != nil {
		if tag := statusTags[n.Status.Status]; tag != "" {
			content = append(content, tag)
		}
		if n.Status.DurationMs > 0 {
			content = append(content, fmt.Sprintf("%dms", n.Status.DurationMs))
		}
	}

	inner := 0
	for _, c := range content {
		inner = max(inner, len(c))
	}

	bar := strings.Repeat("─", inner+2)
	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+bar+"┐")
	for _, c := range content {
		lines = append(lines, "│ "+c+strings.Repeat(" ", inner-len(c))+" │")
	}
	return append(lines, "└"+bar+"┘")
}

// boxWidth is the printed width of a box: its content plus border and padding.
func boxWidth(box []string) int {
	return len(strings.TrimSuffix(strings.TrimPrefix(box[1], "│ "), " │")) + 4
}

func writeRow(b *strings.Builder, row [][]string) {
	height := 0
	for _, box := range row {
		height = max(height, len(box))
	}
	for line := 0; line < height; line++ {
		for i, box := range row {
			if i > 0 {
				b.WriteString(boxGap)
			}
			if line < len(box) {
				b.WriteString(box[line])
			} else {
				b.WriteString(strings.Repeat(" ", boxWidth(box)))
			}
		}
		b.WriteByte('\n')
	}
}

// writeArrows draws a down arrow under the middle of every box in row.
func writeArrows(b *strings.Builder, row [][]string) {
	for _, glyph := range []string{"│", "▼"} {
		var line strings.Builder
		for i, box := range row {
			if i > 0 {
				line.WriteString(boxGap)
			}
			w := boxWidth(box)
			mid := w / 2
			line.WriteString(strings.Repeat(" ", mid) + glyph + strings.Repeat(" ", w-mid-1))
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteByte('\n')
	}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
