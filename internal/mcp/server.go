package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cronplan/internal/core"
	"cronplan/internal/schedule"
	"cronplan/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes schedule previews and task management as MCP tools.
type MCPServer struct {
	store     *store.Store
	scheduler *core.Scheduler
	logger    *slog.Logger
	location  *time.Location
	now       func() time.Time

	server *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with all tools registered.
func NewMCPServer(store *store.Store, scheduler *core.Scheduler, logger *slog.Logger, location *time.Location) *MCPServer {
	if location == nil {
		location = time.Local
	}
	s := &MCPServer{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
		location:  location,
		now:       time.Now,
		server: server.NewMCPServer(
			"cronplan",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// HTTPHandler serves MCP over streamable HTTP.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools() {
	ruleArgs := []mcp.ToolOption{
		mcp.WithString("cron",
			mcp.Description("Cron expression, 6 fields (sec min hour dom month dow) or 5 fields (min hour dom month dow), e.g. '0 30 9 * * MON-FRI'"),
		),
		mcp.WithString("rule",
			mcp.Description(`Structured rule as JSON, used instead of cron. Examples: {"kind":"once","date":"2025-03-01","time":"14:00"}, {"kind":"recurring","frequency":"weekly","interval":1,"time":"08:00","days_of_week":[1,3,5]}`),
		),
	}

	s.server.AddTool(mcp.NewTool("schedule_next_runs",
		append([]mcp.ToolOption{
			mcp.WithDescription("Preview the next run times of a cron expression or structured rule"),
			mcp.WithNumber("count",
				mcp.Description("Number of run times to return, default 5"),
				mcp.Min(1),
				mcp.Max(20),
			),
			mcp.WithString("now",
				mcp.Description("Reference time in RFC 3339, default the current time"),
			),
		}, ruleArgs...)...,
	), s.handleNextRuns)

	s.server.AddTool(mcp.NewTool("schedule_validate_cron",
		mcp.WithDescription("Check a cron expression and explain what is wrong with it"),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Cron expression to check"),
		),
	), s.handleValidateCron)

	s.server.AddTool(mcp.NewTool("task_create",
		append([]mcp.ToolOption{
			mcp.WithDescription("Create a reminder task that delivers a message whenever its schedule fires"),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("Message delivered when the task fires"),
			),
			mcp.WithString("name",
				mcp.Description("Optional task name, used as the notification title"),
			),
			mcp.WithBoolean("paused",
				mcp.Description("Create the task paused"),
			),
		}, ruleArgs...)...,
	), s.handleCreateTask)

	s.server.AddTool(mcp.NewTool("task_update",
		append([]mcp.ToolOption{
			mcp.WithDescription("Update a task's message, name, schedule or paused state"),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("Task ID"),
			),
			mcp.WithString("message",
				mcp.Description("New message"),
			),
			mcp.WithString("name",
				mcp.Description("New name"),
			),
			mcp.WithBoolean("paused",
				mcp.Description("Pause or resume the task"),
			),
		}, ruleArgs...)...,
	), s.handleUpdateTask)

	s.server.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List tasks"),
		mcp.WithString("status",
			mcp.Description("Filter by status"),
			mcp.Enum(string(core.TaskStatusActive), string(core.TaskStatusPaused), string(core.TaskStatusCompleted)),
		),
	), s.handleListTasks)

	s.server.AddTool(mcp.NewTool("task_get",
		mcp.WithDescription("Show a task and its recent runs"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	s.server.AddTool(mcp.NewTool("task_delete",
		mcp.WithDescription("Delete a task and its run history"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleDeleteTask)

	s.server.AddTool(mcp.NewTool("task_run",
		mcp.WithDescription("Deliver a task's message now, outside its schedule"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleRunTask)

	s.logger.Debug("MCP tools registered", "count", 8)
}

func (s *MCPServer) handleNextRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rule, err := ruleFromArgs(request)
	if err != nil {
		return mcp.NewToolResultError(schedule.Describe(err)), nil
	}
	if rule == nil {
		return mcp.NewToolResultError("either cron or rule is required"), nil
	}

	reference := s.now().In(s.location)
	if raw := mcp.ParseString(request, "now", ""); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("now must be an RFC 3339 timestamp: %v", err)), nil
		}
		reference = parsed.In(s.location)
	}
	count := int(mcp.ParseFloat64(request, "count", 5))
	if count < 1 {
		count = 1
	}
	if count > 20 {
		count = 20
	}

	if _, err := core.NextRunAt(rule, reference); err != nil {
		return mcp.NewToolResultError(schedule.Describe(err)), nil
	}
	times, err := schedule.NextRuns(rule, reference, count)

	var b strings.Builder
	fmt.Fprintf(&b, "Schedule: %s\n", schedule.Summary(rule))
	fmt.Fprintf(&b, "Time zone: %s\n\n", s.location)
	b.WriteString("Next runs:\n")
	for i, t := range times {
		fmt.Fprintf(&b, "  %d. %s (%s)\n", i+1, schedule.FormatInstant(t), relative(t, reference))
	}
	if err != nil {
		fmt.Fprintf(&b, "\n%s\n", schedule.Describe(err))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleValidateCron(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr := strings.TrimSpace(mcp.ParseString(request, "expression", ""))
	if expr == "" {
		return mcp.NewToolResultError("expression is required"), nil
	}
	if msg := schedule.ValidationMessage(expr); msg != "" {
		return mcp.NewToolResultText(msg), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Valid cron expression: %s", expr)), nil
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := strings.TrimSpace(mcp.ParseString(request, "message", ""))
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}
	rule, err := ruleFromArgs(request)
	if err != nil {
		return mcp.NewToolResultError(schedule.Describe(err)), nil
	}
	if rule == nil {
		return mcp.NewToolResultError("either cron or rule is required"), nil
	}

	now := s.now().In(s.location)
	rule = schedule.Anchor(rule, now)
	next, err := core.NextRunAt(rule, now)
	if err != nil {
		return mcp.NewToolResultError(schedule.Describe(err)), nil
	}

	task := &core.Task{
		ID:      core.NewID(),
		Name:    optionalString(mcp.ParseString(request, "name", "")),
		Message: message,
		Rule:    rule,
		Status:  core.TaskStatusActive,
	}
	if mcp.ParseBoolean(request, "paused", false) {
		task.Status = core.TaskStatusPaused
	} else {
		task.NextRunAt = &next
	}

	if err := s.store.InsertTask(ctx, task); err != nil {
		s.logger.Error("insert task", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}
	if err := s.scheduler.AddOrUpdateTask(ctx, task); err != nil {
		s.logger.Error("schedule task", "task_id", task.ID, "err", err)
	}
	s.logger.Info("task created", "task_id", task.ID, "rule", schedule.Summary(rule))

	return mcp.NewToolResultText(fmt.Sprintf("Task created\nID: %s\nSchedule: %s\nStatus: %s\nNext run: %s",
		task.ID,
		schedule.Summary(rule),
		task.Status,
		s.formatTime(task.NextRunAt, now),
	)), nil
}

func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, result := s.loadTask(ctx, request)
	if result != nil {
		return result, nil
	}

	if message := strings.TrimSpace(mcp.ParseString(request, "message", "")); message != "" {
		task.Message = message
	}
	if name := strings.TrimSpace(mcp.ParseString(request, "name", "")); name != "" {
		task.Name = &name
	}
	rule, err := ruleFromArgs(request)
	if err != nil {
		return mcp.NewToolResultError(schedule.Describe(err)), nil
	}
	now := s.now().In(s.location)
	if rule != nil {
		task.Rule = schedule.Anchor(rule, now)
	}
	args := request.GetArguments()
	if _, ok := args["paused"]; ok {
		task.Status = core.TaskStatusActive
		if mcp.ParseBoolean(request, "paused", false) {
			task.Status = core.TaskStatusPaused
		}
	}

	task.NextRunAt = nil
	if task.Status == core.TaskStatusActive || rule != nil {
		next, err := core.NextRunAt(task.Rule, now)
		if err != nil {
			return mcp.NewToolResultError(schedule.Describe(err)), nil
		}
		if task.Status == core.TaskStatusActive {
			task.NextRunAt = &next
		}
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update task: %v", err)), nil
	}
	if err := s.scheduler.AddOrUpdateTask(ctx, task); err != nil {
		s.logger.Error("reschedule task", "task_id", task.ID, "err", err)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Task updated: %s\nStatus: %s\nNext run: %s",
		task.ID, task.Status, s.formatTime(task.NextRunAt, now))), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statusFilter *core.TaskStatus
	switch status := core.TaskStatus(mcp.ParseString(request, "status", "")); status {
	case core.TaskStatusActive, core.TaskStatusPaused, core.TaskStatusCompleted:
		statusFilter = &status
	}

	tasks, err := s.store.ListTasks(ctx, statusFilter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	now := s.now()
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "[%s] %s\n", t.Status, t.ID)
		if t.Name != nil {
			fmt.Fprintf(&b, "  Name: %s\n", *t.Name)
		}
		fmt.Fprintf(&b, "  Schedule: %s\n", schedule.Summary(t.Rule))
		fmt.Fprintf(&b, "  Message: %s\n", truncateString(t.Message, 60))
		if t.NextRunAt != nil {
			fmt.Fprintf(&b, "  Next run: %s\n", s.formatTime(t.NextRunAt, now))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, result := s.loadTask(ctx, request)
	if result != nil {
		return result, nil
	}

	now := s.now()
	var b strings.Builder
	fmt.Fprintf(&b, "Task ID: %s\n", task.ID)
	if task.Name != nil {
		fmt.Fprintf(&b, "Name: %s\n", *task.Name)
	}
	fmt.Fprintf(&b, "Status: %s\n", task.Status)
	fmt.Fprintf(&b, "Message: %s\n", task.Message)
	fmt.Fprintf(&b, "Schedule: %s\n", schedule.Summary(task.Rule))
	if task.LastRunAt != nil {
		fmt.Fprintf(&b, "Last run: %s\n", s.formatTime(task.LastRunAt, now))
	}
	if task.NextRunAt != nil {
		fmt.Fprintf(&b, "Next run: %s\n", s.formatTime(task.NextRunAt, now))
	}
	fmt.Fprintf(&b, "Created: %s\n", s.formatTime(&task.CreatedAt, now))

	runs, err := s.store.ListRuns(ctx, task.ID, 5, 0)
	if err != nil {
		s.logger.Warn("list runs", "task_id", task.ID, "err", err)
	}
	if len(runs) > 0 {
		b.WriteString("\nRecent runs:\n")
		for _, r := range runs {
			fmt.Fprintf(&b, "  [%s] %s scheduled %s", r.Status, r.ID, s.formatTime(&r.ScheduledAt, now))
			if r.Error != nil {
				fmt.Fprintf(&b, " error: %s", *r.Error)
			}
			b.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")

	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete task: %v", err)), nil
	}
	s.scheduler.RemoveTask(taskID)

	return mcp.NewToolResultText(fmt.Sprintf("Task deleted: %s", taskID)), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, result := s.loadTask(ctx, request)
	if result != nil {
		return result, nil
	}
	run, err := s.scheduler.RunTaskNow(ctx, task)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task triggered\nTask ID: %s\nRun ID: %s", task.ID, run.ID)), nil
}

func (s *MCPServer) loadTask(ctx context.Context, request mcp.CallToolRequest) (*core.Task, *mcp.CallToolResult) {
	taskID := mcp.ParseString(request, "task_id", "")
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID))
		}
		return nil, mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err))
	}
	return task, nil
}

// ruleFromArgs reads the rule JSON argument, falling back to cron. It
// returns a nil rule when neither is present.
func ruleFromArgs(request mcp.CallToolRequest) (schedule.Rule, error) {
	if raw := strings.TrimSpace(mcp.ParseString(request, "rule", "")); raw != "" {
		var spec schedule.RuleSpec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return nil, fmt.Errorf("rule is not valid JSON: %w", err)
		}
		return spec.Rule()
	}
	expr := strings.TrimSpace(mcp.ParseString(request, "cron", ""))
	if expr == "" {
		return nil, nil
	}
	if err := schedule.Validate(expr); err != nil {
		return nil, err
	}
	return schedule.Cron{Expression: expr}, nil
}

func (s *MCPServer) formatTime(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", t.In(s.location).Format("2006-01-02 15:04:05 MST"), relative(*t, now))
}

func relative(t, reference time.Time) string {
	return humanize.RelTime(t, reference, "ago", "from now")
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
