package mcp

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronplan/internal/core"
	"cronplan/internal/notify"
	"cronplan/internal/schedule"
	"cronplan/internal/store"
)

func newTestMCPServer(t *testing.T) *MCPServer {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), 10)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := core.NewScheduler(st, &notify.NoOpNotifier{}, logger, time.UTC)
	t.Cleanup(func() { <-sched.Stop().Done() })

	return NewMCPServer(st, sched, logger, time.UTC)
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text
}

var idPattern = regexp.MustCompile(`ID: ([0-9a-f-]{36})`)

func TestNextRunsTool(t *testing.T) {
	s := newTestMCPServer(t)
	ctx := context.Background()

	res, err := s.handleNextRuns(ctx, call(map[string]any{
		"cron":  "0 30 9 * * MON-FRI",
		"now":   "2024-01-05T10:00:00Z",
		"count": float64(2),
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, "1. 2024-01-08T09:30:00Z (2 days from now)")
	assert.Contains(t, text, "2. 2024-01-09T09:30:00Z")
	assert.NotContains(t, text, "3. ")

	res, err = s.handleNextRuns(ctx, call(map[string]any{
		"rule": `{"kind":"recurring","frequency":"yearly","interval":1,"day_of_month":30,"month_of_year":2}`,
		"now":  "2024-01-01T00:00:00Z",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "This schedule never runs")

	res, err = s.handleNextRuns(ctx, call(map[string]any{"rule": "{not json"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleNextRuns(ctx, call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestValidateCronTool(t *testing.T) {
	s := newTestMCPServer(t)
	ctx := context.Background()

	res, err := s.handleValidateCron(ctx, call(map[string]any{"expression": "0 0 12 * * 1"}))
	require.NoError(t, err)
	assert.Equal(t, "Valid cron expression: 0 0 12 * * 1", resultText(t, res))

	res, err = s.handleValidateCron(ctx, call(map[string]any{"expression": "0 0 12 * * 9"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Invalid cron expression: day-of-week field")
}

func TestTaskTools(t *testing.T) {
	s := newTestMCPServer(t)
	ctx := context.Background()

	res, err := s.handleCreateTask(ctx, call(map[string]any{
		"name":    "stretch",
		"message": "stand up and stretch",
		"cron":    "0 0 * * * *",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	match := idPattern.FindStringSubmatch(resultText(t, res))
	require.Len(t, match, 2)
	id := match[1]
	assert.True(t, s.scheduler.Scheduled(id))

	res, err = s.handleListTasks(ctx, call(map[string]any{"status": "active"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Found 1 tasks")
	assert.Contains(t, resultText(t, res), "Schedule: cron 0 0 * * * *")

	res, err = s.handleUpdateTask(ctx, call(map[string]any{"task_id": id, "paused": true}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Status: paused")
	assert.False(t, s.scheduler.Scheduled(id))

	res, err = s.handleRunTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Run ID:")

	require.Eventually(t, func() bool {
		runs, err := s.store.ListRuns(ctx, id, 5, 0)
		return err == nil && len(runs) == 1 && runs[0].Status == core.RunStatusDelivered
	}, 5*time.Second, 20*time.Millisecond)

	res, err = s.handleGetTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Name: stretch")
	assert.Contains(t, text, "Recent runs:")
	assert.Contains(t, text, "[delivered]")

	res, err = s.handleDeleteTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Equal(t, "Task deleted: "+id, resultText(t, res))

	res, err = s.handleGetTask(ctx, call(map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCreateTaskToolRejectsImpossibleRule(t *testing.T) {
	s := newTestMCPServer(t)

	res, err := s.handleCreateTask(context.Background(), call(map[string]any{
		"message": "never",
		"rule":    `{"kind":"once","date":"2001-01-01","time":"09:00"}`,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "This schedule never runs")

	tasks, err := s.store.ListTasks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCreateTaskToolAnchorsRecurringRule(t *testing.T) {
	s := newTestMCPServer(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) }

	res, err := s.handleCreateTask(ctx, call(map[string]any{
		"message": "weekly review",
		"rule":    `{"kind":"recurring","frequency":"weekly","interval":1,"time":"09:00"}`,
		"paused":  true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	match := idPattern.FindStringSubmatch(resultText(t, res))
	require.Len(t, match, 2)

	stored, err := s.store.GetTask(ctx, match[1])
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", schedule.SpecOf(stored.Rule).StartDate)

	next, err := core.NextRunAt(stored.Rule, time.Date(2024, 1, 4, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), next)
}
