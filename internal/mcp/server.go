package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskschedule/internal/core"
	"taskschedule/internal/datespec"
	"taskschedule/internal/workflow"
)

const (
	serverName    = "taskschedule"
	serverVersion = "1.0.0"
)

// ErrNoRegistry is reported by the listing tools when the backend keeps no
// local registry.
var ErrNoRegistry = errors.New("task listing needs the local backend")

// Workflow is the scheduling surface the tools drive.
type Workflow interface {
	ScheduleDailyExecutableTask(ctx context.Context, req workflow.Request) workflow.Result
	DeleteTask(ctx context.Context, name string) bool
	TaskExists(ctx context.Context, name string) bool
}

// Registry gives read access to the local registry.
type Registry interface {
	ListTasks(ctx context.Context) ([]*core.Task, error)
	ListRuns(ctx context.Context, taskName string, limit, offset int) ([]*core.Run, error)
}

// MCPServer exposes the scheduling operations as MCP tools.
type MCPServer struct {
	workflow Workflow
	registry Registry
	logger   *slog.Logger
	location *time.Location
}

// NewMCPServer creates a new MCP server instance. registry may be nil.
func NewMCPServer(wf Workflow, registry Registry, logger *slog.Logger, location *time.Location) *MCPServer {
	if location == nil {
		location = time.Local
	}
	return &MCPServer{
		workflow: wf,
		registry: registry,
		logger:   logger,
		location: location,
	}
}

// Build returns a protocol server with every tool registered.
func (s *MCPServer) Build() *server.MCPServer {
	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	return mcpServer
}

// HTTPHandler serves the tools over streamable HTTP.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.Build())
}

// Run serves the tools over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.Build())
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("schedule_daily_task",
		mcp.WithDescription("Register an executable to run once a day at a fixed time, replacing any task with the same name."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithString("start_date",
			mcp.Required(),
			mcp.Description("First day, YYYY/MM/DD"),
		),
		mcp.WithString("end_date",
			mcp.Description("Last day, YYYY/MM/DD; omit for no end date"),
		),
		mcp.WithString("start_time",
			mcp.Required(),
			mcp.Description("Time of day, HH:MM:SS"),
		),
		mcp.WithString("executable",
			mcp.Required(),
			mcp.Description("Path of the executable to run"),
		),
		mcp.WithString("arguments",
			mcp.Description("Arguments, split the way a shell would"),
		),
	), s.handleScheduleTask)

	mcpServer.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("task_exists",
		mcp.WithDescription("Report whether a task is registered"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
	), s.handleTaskExists)

	mcpServer.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List the tasks in the local registry"),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("Show the run history of a task in the local registry"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of runs to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRuns)

	s.logger.Debug("MCP tools registered", "count", 5)
}

func (s *MCPServer) handleScheduleTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := scheduleRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.workflow.ScheduleDailyExecutableTask(ctx, req) != workflow.ResultOK {
		return mcp.NewToolResultError(fmt.Sprintf("failed to schedule task %s", req.TaskName)), nil
	}
	start, _ := datespec.FormatBoundary(req.StartDate, req.DailyStartTime)
	return mcp.NewToolResultText(fmt.Sprintf("Task scheduled\nName: %s\nFirst run: %s\nExecutable: %s",
		req.TaskName, start, req.ExecutablePath)), nil
}

func scheduleRequest(request mcp.CallToolRequest) (workflow.Request, error) {
	req := workflow.Request{
		TaskName:       strings.TrimSpace(mcp.ParseString(request, "name", "")),
		ExecutablePath: strings.TrimSpace(mcp.ParseString(request, "executable", "")),
	}
	var err error
	if req.StartDate, err = datespec.ParseDate(mcp.ParseString(request, "start_date", "")); err != nil {
		return req, fmt.Errorf("start_date: %w", err)
	}
	if end := mcp.ParseString(request, "end_date", ""); end != "" {
		if req.EndDate, err = datespec.ParseDate(end); err != nil {
			return req, fmt.Errorf("end_date: %w", err)
		}
	}
	if req.DailyStartTime, err = datespec.ParseTime(mcp.ParseString(request, "start_time", "")); err != nil {
		return req, fmt.Errorf("start_time: %w", err)
	}
	if args := mcp.ParseString(request, "arguments", ""); args != "" {
		if req.Arguments, err = shellquote.Split(args); err != nil {
			return req, fmt.Errorf("arguments: %w", err)
		}
	}
	return req, req.Validate()
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	if !s.workflow.DeleteTask(ctx, name) {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete task %s", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task deleted: %s", name)), nil
}

func (s *MCPServer) handleTaskExists(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	if s.workflow.TaskExists(ctx, name) {
		return mcp.NewToolResultText(fmt.Sprintf("Task %s exists", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s does not exist", name)), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return mcp.NewToolResultError(ErrNoRegistry.Error()), nil
	}
	tasks, err := s.registry.ListTasks(ctx)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		state := "enabled"
		if !t.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%s (%s)\n", t.Name, state)
		fmt.Fprintf(&b, "  Start: %s\n", t.StartBoundary)
		if t.EndBoundary != "" {
			fmt.Fprintf(&b, "  End: %s\n", t.EndBoundary)
		}
		fmt.Fprintf(&b, "  Action: %s\n", strings.TrimSpace(t.ExecPath+" "+t.ExecArgs))
		if t.NextRunAt != nil {
			fmt.Fprintf(&b, "  Next run: %s\n", s.formatTime(t.NextRunAt))
		}
		if t.LastRunAt != nil {
			fmt.Fprintf(&b, "  Last run: %s\n", s.formatTime(t.LastRunAt))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return mcp.NewToolResultError(ErrNoRegistry.Error()), nil
	}
	name := mcp.ParseString(request, "name", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	runs, err := s.registry.ListRuns(ctx, name, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No runs recorded for %s", name)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d runs:\n\n", len(runs))
	for _, r := range runs {
		fmt.Fprintf(&b, "[%s] %s\n", r.Status, r.ID)
		fmt.Fprintf(&b, "    Scheduled: %s\n", s.formatTime(&r.ScheduledAt))
		if r.StartedAt != nil {
			fmt.Fprintf(&b, "    Started: %s\n", s.formatTime(r.StartedAt))
		}
		if r.EndedAt != nil {
			fmt.Fprintf(&b, "    Ended: %s\n", s.formatTime(r.EndedAt))
		}
		if r.ExitCode != nil {
			fmt.Fprintf(&b, "    Exit code: %d\n", *r.ExitCode)
		}
		if r.Error != nil {
			fmt.Fprintf(&b, "    Error: %s\n", *r.Error)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(s.location).Format("2006-01-02 15:04:05")
}
