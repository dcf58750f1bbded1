package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/workflow"
)

// handleRun executes a registered workflow.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}

	var trigger any
	if t := mcp.ParseStringMap(req, "trigger", nil); t != nil {
		trigger = t
	}

	result, runErr := s.catalog.Execute(ctx, name, trigger)
	if runErr != nil {
		s.logger.WarnContext(ctx, "workflow run via MCP failed",
			slog.String("workflow", name),
			slog.String("error", runErr.Error()),
		)
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// workflowSummary is one entry of stepflow.list.
type workflowSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
	Schedules   int    `json:"schedules,omitempty"`
}

// handleList lists registered workflows sorted by name.
func (s *Server) handleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := s.catalog.Describe()
	summaries := make([]workflowSummary, len(infos))
	for i, info := range infos {
		summaries[i] = workflowSummary{
			Name:        info.Name,
			Description: info.Description,
			Steps:       len(info.Steps),
			Schedules:   len(info.Schedules),
		}
	}
	return marshalResult(map[string]any{"workflows": summaries})
}

// handleDescribe returns one workflow's structure.
func (s *Server) handleDescribe(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	w, getErr := s.catalog.Get(name)
	if getErr != nil {
		return mcp.NewToolResultError(getErr.Error()), nil
	}
	return marshalResult(w.Describe())
}

// handleDefine builds, commits and registers a workflow from a document.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.actions == nil {
		return mcp.NewToolResultError("no action registry configured"), nil
	}
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	data, err := json.Marshal(defRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}

	w, loadErr := workflow.LoadDefinition(data, s.actions, s.wfOpts...)
	if loadErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition rejected: %v", loadErr)), nil
	}

	replaced := false
	if req.GetBool("replace", false) {
		replaced, err = s.catalog.Replace(w)
	} else {
		err = s.catalog.Register(w)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register workflow: %v", err)), nil
	}

	jobs := scheduler.JobsFor(w.Name(), w.Schedules())
	if s.scheduler != nil {
		if err := s.scheduler.SetWorkflowJobs(w.Name(), jobs); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to schedule workflow: %v", err)), nil
		}
	}

	s.logger.InfoContext(ctx, "workflow defined via MCP",
		slog.String("workflow", w.Name()),
		slog.Bool("replaced", replaced),
		slog.Int("schedules", len(jobs)),
	)
	return marshalResult(map[string]any{
		"name":      w.Name(),
		"steps":     w.Steps(),
		"replaced":  replaced,
		"schedules": len(jobs),
	})
}

// handleQuery lists runs, events, or actions based on filters.
func (s *Server) handleQuery(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(filter)
	case "events":
		return s.queryEvents(filter)
	case "actions":
		if s.actions == nil {
			return mcp.NewToolResultError("no action registry configured"), nil
		}
		return marshalResult(map[string]any{"actions": s.actions.List()})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *Server) queryRuns(filter map[string]any) (*mcp.CallToolResult, error) {
	if s.events == nil {
		return mcp.NewToolResultError("run history is not enabled"), nil
	}
	wf, _ := filter["workflow"].(string)
	runs := s.events.Runs(wf, extractInt(filter, "limit", 50))
	return marshalResult(map[string]any{"runs": runs})
}

func (s *Server) queryEvents(filter map[string]any) (*mcp.CallToolResult, error) {
	if s.events == nil {
		return mcp.NewToolResultError("run history is not enabled"), nil
	}
	runID, _ := filter["run_id"].(string)
	if runID == "" {
		return mcp.NewToolResultError("event query requires 'run_id' in filter"), nil
	}
	events, err := s.events.Events(runID, int64(extractInt(filter, "since", 0)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// handleDiagram renders a workflow's compiled machine in the requested format.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}
	name, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}

	w, getErr := s.catalog.Get(name)
	if getErr != nil {
		return mcp.NewToolResultError(getErr.Error()), nil
	}

	var states map[string]*streaming.StepState
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.events == nil {
			return mcp.NewToolResultError("run history is not enabled"), nil
		}
		ss, replayErr := s.events.Replay(runID)
		if replayErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", replayErr)), nil
		}
		states = ss
	}

	m := w.Machine()
	if m == nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow %q is not committed", name)), nil
	}
	model := diagram.Build(m, states)

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
