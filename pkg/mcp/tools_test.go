package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
	"github.com/rendis/stepflow/pkg/workflow"
)

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

type fixture struct {
	server    *Server
	events    *streaming.EventLog
	scheduler *scheduler.Scheduler
}

// newFixture registers "greet": hello (echoes name from the trigger) -> done.
func newFixture(t *testing.T) fixture {
	t.Helper()
	reg, err := actions.NewBuiltinRegistry(actions.Config{})
	require.NoError(t, err)

	events := streaming.NewEventLog(16)
	opts := []workflow.Option{workflow.WithEventAppender(events)}

	w := workflow.New("greet", append(opts, workflow.WithDescription("say hello"))...)
	require.NoError(t, w.AddStep("hello", workflow.StepConfig{
		Handler: func(_ context.Context, in map[string]any) (any, error) {
			return map[string]any{"greeting": "hello " + in["name"].(string)}, nil
		},
		Variables:   map[string]any{"name": schema.Ref("trigger", "name")},
		Transitions: []schema.Transition{{Target: "done"}},
	}))
	require.NoError(t, w.AddStep("done", workflow.StepConfig{
		Handler: func(context.Context, map[string]any) (any, error) { return "ok", nil },
	}))
	require.NoError(t, w.Commit())

	catalog := workflow.NewCatalog()
	require.NoError(t, catalog.Register(w))

	sched := scheduler.NewScheduler(catalog, slog.Default())
	s := NewServer(ServerDeps{
		Catalog:         catalog,
		Actions:         reg,
		Events:          events,
		WorkflowOptions: opts,
		Scheduler:       sched,
	})
	return fixture{server: s, events: events, scheduler: sched}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func runGreet(t *testing.T, f fixture) string {
	t.Helper()
	result, err := f.server.handleRun(context.Background(), buildRequest("stepflow.run", map[string]any{
		"workflow": "greet",
		"trigger":  map[string]any{"name": "ada"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var run workflow.Result
	unmarshalResult(t, result, &run)
	return run.RunID
}

// --- Tests ---

func TestRunTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleRun(context.Background(), buildRequest("stepflow.run", map[string]any{
		"workflow": "greet",
		"trigger":  map[string]any{"name": "ada"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var run workflow.Result
	unmarshalResult(t, result, &run)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, map[string]any{"greeting": "hello ada"}, run.Results["hello"])
	assert.Equal(t, []string{"hello", "done"}, run.Completed)
}

func TestRunToolErrors(t *testing.T) {
	f := newFixture(t)

	// Missing workflow argument.
	result, err := f.server.handleRun(context.Background(), buildRequest("stepflow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Unknown workflow.
	result, err = f.server.handleRun(context.Background(), buildRequest("stepflow.run", map[string]any{"workflow": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Failing run: the trigger lacks the name the first step reads.
	result, err = f.server.handleRun(context.Background(), buildRequest("stepflow.run", map[string]any{"workflow": "greet"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeUnresolvedPath)
}

func TestListTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleList(context.Background(), buildRequest("stepflow.list", nil))
	require.NoError(t, err)

	var out struct {
		Workflows []workflowSummary `json:"workflows"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Workflows, 1)
	assert.Equal(t, workflowSummary{Name: "greet", Description: "say hello", Steps: 2}, out.Workflows[0])
}

func TestDescribeTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleDescribe(context.Background(), buildRequest("stepflow.describe", map[string]any{"workflow": "greet"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var info workflow.Info
	unmarshalResult(t, result, &info)
	assert.Equal(t, "greet", info.Name)
	require.Len(t, info.Steps, 2)
	assert.Equal(t, schema.Ref("trigger", "name"), info.Steps[0].Variables["name"])
	assert.True(t, info.Steps[1].Terminal)

	result, err = f.server.handleDescribe(context.Background(), buildRequest("stepflow.describe", map[string]any{"workflow": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDefineTool(t *testing.T) {
	f := newFixture(t)

	def := map[string]any{
		"name": "hash",
		"steps": []any{
			map[string]any{
				"id":     "digest",
				"action": "crypto.hash",
				"variables": map[string]any{
					"data": map[string]any{"step_id": "trigger", "path": "text"},
				},
			},
		},
	}
	result, err := f.server.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{"definition": def}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Name  string   `json:"name"`
		Steps []string `json:"steps"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "hash", out.Name)
	assert.Equal(t, []string{"digest"}, out.Steps)
	assert.Equal(t, []string{"greet", "hash"}, f.server.Catalog().Names())

	// The defined workflow runs.
	result, err = f.server.handleRun(context.Background(), buildRequest("stepflow.run", map[string]any{
		"workflow": "hash",
		"trigger":  map[string]any{"text": "abc"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	// Redefining the same name conflicts.
	result, err = f.server.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{"definition": def}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDefineToolSchedules(t *testing.T) {
	f := newFixture(t)

	define := func(replace bool, schedules ...any) *mcp.CallToolResult {
		t.Helper()
		def := map[string]any{
			"name":  "nightly",
			"steps": []any{map[string]any{"id": "only", "action": "echo"}},
		}
		if len(schedules) > 0 {
			def["schedules"] = schedules
		}
		result, err := f.server.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{
			"replace":    replace,
			"definition": def,
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, extractText(t, result))
		return result
	}
	crons := func() map[string]string {
		out := map[string]string{}
		for _, job := range f.scheduler.Jobs() {
			assert.Equal(t, "nightly", job.Workflow)
			assert.True(t, job.Enabled)
			out[job.ID] = job.Cron
		}
		return out
	}

	result := define(false,
		map[string]any{"cron": "@daily"},
		map[string]any{"cron": "*/5 * * * *", "trigger": map[string]any{"full": true}},
	)
	var out struct {
		Replaced  bool `json:"replaced"`
		Schedules int  `json:"schedules"`
	}
	unmarshalResult(t, result, &out)
	assert.False(t, out.Replaced)
	assert.Equal(t, 2, out.Schedules)
	assert.Equal(t, map[string]string{"nightly#0": "@daily", "nightly#1": "*/5 * * * *"}, crons())
	job, ok := f.scheduler.Job("nightly#1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"full": true}, job.Trigger)

	// Redefining replaces the workflow and its schedules.
	result = define(true, map[string]any{"cron": "@hourly"})
	unmarshalResult(t, result, &out)
	assert.True(t, out.Replaced)
	assert.Equal(t, map[string]string{"nightly#0": "@hourly"}, crons())

	result = define(true)
	unmarshalResult(t, result, &out)
	assert.Empty(t, crons())
}

func TestDefineToolRejectsInvalid(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.server.handleDefine(context.Background(), buildRequest("stepflow.define", map[string]any{
		"definition": map[string]any{"name": "x", "steps": []any{map[string]any{"id": "a", "action": "missing"}}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not registered")
}

func TestQueryRunsAndEvents(t *testing.T) {
	f := newFixture(t)
	runID := runGreet(t, f)

	result, err := f.server.handleQuery(context.Background(), buildRequest("stepflow.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"workflow": "greet"},
	}))
	require.NoError(t, err)
	var runs struct {
		Runs []streaming.RunSummary `json:"runs"`
	}
	unmarshalResult(t, result, &runs)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, runID, runs.Runs[0].RunID)
	assert.Equal(t, schema.RunStatusCompleted, runs.Runs[0].Status)

	result, err = f.server.handleQuery(context.Background(), buildRequest("stepflow.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"run_id": runID},
	}))
	require.NoError(t, err)
	var events struct {
		Events []schema.Event `json:"events"`
	}
	unmarshalResult(t, result, &events)
	require.NotEmpty(t, events.Events)
	assert.Equal(t, schema.EventRunStarted, events.Events[0].Type)
	assert.Equal(t, schema.EventRunCompleted, events.Events[len(events.Events)-1].Type)

	// Events without run_id.
	result, err = f.server.handleQuery(context.Background(), buildRequest("stepflow.query", map[string]any{"resource": "events"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryActions(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleQuery(context.Background(), buildRequest("stepflow.query", map[string]any{"resource": "actions"}))
	require.NoError(t, err)

	var out struct {
		Actions []actions.ActionInfo `json:"actions"`
	}
	unmarshalResult(t, result, &out)
	names := make([]string, len(out.Actions))
	for i, a := range out.Actions {
		names[i] = a.Name
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "http.request")
}

func TestQueryWithoutHistory(t *testing.T) {
	s := NewServer(ServerDeps{})
	for _, resource := range []string{"runs", "events", "actions", "invalid"} {
		result, err := s.handleQuery(context.Background(), buildRequest("stepflow.query", map[string]any{"resource": resource}))
		require.NoError(t, err)
		assert.True(t, result.IsError, resource)
	}
}

func TestDiagramTool(t *testing.T) {
	f := newFixture(t)
	runID := runGreet(t, f)

	result, err := f.server.handleDiagram(context.Background(), buildRequest("stepflow.diagram", map[string]any{
		"workflow": "greet",
		"format":   "mermaid",
		"run_id":   runID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "class hello completed")

	result, err = f.server.handleDiagram(context.Background(), buildRequest("stepflow.diagram", map[string]any{
		"workflow": "greet",
		"format":   "ascii",
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "=== greet ===")

	result, err = f.server.handleDiagram(context.Background(), buildRequest("stepflow.diagram", map[string]any{
		"workflow": "greet",
		"format":   "image",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	png, err := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestDiagramToolErrors(t *testing.T) {
	f := newFixture(t)

	cases := []map[string]any{
		{"workflow": "greet"},
		{"workflow": "greet", "format": "svg"},
		{"format": "ascii"},
		{"workflow": "nope", "format": "ascii"},
		{"workflow": "greet", "format": "ascii", "run_id": "missing"},
	}
	for _, args := range cases {
		result, err := f.server.handleDiagram(context.Background(), buildRequest("stepflow.diagram", args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "%v", args)
	}
}

func TestExtractInt(t *testing.T) {
	assert.Equal(t, 5, extractInt(nil, "limit", 5))
	assert.Equal(t, 3, extractInt(map[string]any{"limit": float64(3)}, "limit", 5))
	assert.Equal(t, 7, extractInt(map[string]any{"limit": "7"}, "limit", 5))
	assert.Equal(t, 5, extractInt(map[string]any{"limit": "x"}, "limit", 5))
}
