package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/workflow"
)

// ServerName and ServerVersion identify the MCP server to clients.
const (
	ServerName    = "stepflow"
	ServerVersion = "1.0.0"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Catalog *workflow.Catalog
	Actions *actions.Registry

	// Events, when set, backs run and event queries and diagram status
	// overlays. Workflows must append to it (workflow.WithEventAppender).
	Events *streaming.EventLog

	// WorkflowOptions are applied to workflows registered via stepflow.define.
	WorkflowOptions []workflow.Option

	// Scheduler, when set, receives the schedules of defined workflows.
	Scheduler *scheduler.Scheduler

	Logger *slog.Logger
}

// Server wraps an MCP server with stepflow tool handlers.
type Server struct {
	catalog   *workflow.Catalog
	actions   *actions.Registry
	events    *streaming.EventLog
	wfOpts    []workflow.Option
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = workflow.NewCatalog()
	}

	s := &Server{
		catalog:   catalog,
		actions:   deps.Actions,
		events:    deps.Events,
		wfOpts:    deps.WorkflowOptions,
		scheduler: deps.Scheduler,
		logger:    logging.Safe(logger),
	}

	mcpSrv := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stepflow runs committed step workflows. Use stepflow.list to see workflows, stepflow.describe to inspect one, stepflow.run to execute it with a trigger payload, stepflow.define to register a workflow document, stepflow.query to list runs, events or actions, and stepflow.diagram to render a workflow."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Catalog returns the catalog the server runs workflows from.
func (s *Server) Catalog() *workflow.Catalog {
	return s.catalog
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: describeTool(), Handler: s.handleDescribe},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("stepflow.run",
		mcp.WithDescription("Execute a committed workflow once"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow to execute")),
		mcp.WithObject("trigger", mcp.Description("Trigger payload for the run")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("stepflow.list",
		mcp.WithDescription("List registered workflows"),
	)
}

func describeTool() mcp.Tool {
	return mcp.NewTool("stepflow.describe",
		mcp.WithDescription("Describe a workflow's steps, variables and transitions"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("stepflow.define",
		mcp.WithDescription("Register a workflow from a declarative definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow document: name, steps (id, action, params, variables, transitions), optional trigger_schema and schedules")),
		mcp.WithBoolean("replace", mcp.Description("Overwrite a workflow of the same name and its schedules")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("stepflow.query",
		mcp.WithDescription("Query runs, events, or actions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events", "actions"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow, run_id, since, limit)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("stepflow.diagram",
		mcp.WithDescription("Generate a visual diagram of a workflow. Returns ASCII art, Mermaid flowchart syntax, or base64-encoded PNG image"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow")),
		mcp.WithString("run_id", mcp.Description("Run whose step states are overlaid on the diagram")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
