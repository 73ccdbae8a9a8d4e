package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronplan/internal/core"
	"cronplan/internal/notify"
	"cronplan/internal/schedule"
	"cronplan/internal/store"
)

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), 10)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := core.NewScheduler(st, &notify.NoOpNotifier{}, logger, time.UTC)
	t.Cleanup(func() { <-sched.Stop().Done() })

	return NewServer("127.0.0.1:0", token, st, sched, nil, logger, time.UTC)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestCreateCronTask(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/v1/tasks", map[string]any{
		"name":    "standup",
		"message": "daily standup",
		"cron":    "0 30 9 * * MON-FRI",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	task := decode[taskResponse](t, rec)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "active", task.Status)
	assert.Equal(t, "cron 0 30 9 * * MON-FRI", task.Summary)
	require.NotNil(t, task.NextRunAt)
	next, err := time.Parse(time.RFC3339, *task.NextRunAt)
	require.NoError(t, err)
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.True(t, s.scheduler.Scheduled(task.ID))
}

func TestCreateRecurringTask(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/v1/tasks", map[string]any{
		"message": "water the plants",
		"rule": map[string]any{
			"kind":         "recurring",
			"frequency":    "weekly",
			"interval":     2,
			"time":         "08:00",
			"days_of_week": []int{6, 7},
		},
		"paused": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	task := decode[taskResponse](t, rec)
	assert.Equal(t, "paused", task.Status)
	assert.Nil(t, task.NextRunAt)
	assert.Equal(t, []int{0, 6}, task.Rule.DaysOfWeek)
	assert.Equal(t, "WEEKLY", task.Rule.Frequency)
	assert.False(t, s.scheduler.Scheduled(task.ID))
}

func TestRecurringTaskKeepsStartDateAfterReload(t *testing.T) {
	s := newTestServer(t, "")
	ctx := context.Background()

	before := schedule.DateOf(time.Now().UTC())
	rec := do(t, s, http.MethodPost, "/v1/tasks", map[string]any{
		"message": "take out the recycling",
		"rule":    map[string]any{"kind": "recurring", "frequency": "daily", "interval": 2, "time": "09:00"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	after := schedule.DateOf(time.Now().UTC())
	id := decode[taskResponse](t, rec).ID

	stored, err := s.store.GetTask(ctx, id)
	require.NoError(t, err)
	spec := schedule.SpecOf(stored.Rule)
	require.NotEmpty(t, spec.StartDate)
	start, err := schedule.ParseDate(spec.StartDate)
	require.NoError(t, err)
	assert.False(t, start.Before(before))
	assert.False(t, start.After(after))

	// A restart on the off day must not shift the every-other-day cadence.
	startAt := time.Date(start.Year, start.Month, start.Day, 0, 0, 0, 0, time.UTC)
	next, err := core.NextRunAt(stored.Rule, startAt.AddDate(0, 0, 1).Add(8*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, startAt.AddDate(0, 0, 2).Add(9*time.Hour), next)

	// Pausing and resuming keeps the stored anchor.
	rec = do(t, s, http.MethodPatch, "/v1/tasks/"+id, map[string]any{"paused": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPatch, "/v1/tasks/"+id, map[string]any{"paused": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, spec.StartDate, decode[taskResponse](t, rec).Rule.StartDate)

	// A replaced rule without a start date is anchored as well.
	rec = do(t, s, http.MethodPatch, "/v1/tasks/"+id, map[string]any{
		"rule": map[string]any{"kind": "recurring", "frequency": "weekly", "interval": 1, "time": "09:00"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[taskResponse](t, rec).Rule.StartDate)
}

func TestCreateTaskRejectsBadRules(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name    string
		body    map[string]any
		status  int
		code    string
		message string
	}{
		{
			name:   "missing message",
			body:   map[string]any{"cron": "* * * * *"},
			status: http.StatusBadRequest, code: "invalid_input",
		},
		{
			name:   "missing rule",
			body:   map[string]any{"message": "x"},
			status: http.StatusBadRequest, code: "invalid_input",
		},
		{
			name:   "bad cron",
			body:   map[string]any{"message": "x", "cron": "*/x * * * * *"},
			status: http.StatusBadRequest, code: "invalid_rule",
			message: "Invalid cron expression: second field: invalid step in */x",
		},
		{
			name:   "zero interval",
			body:   map[string]any{"message": "x", "rule": map[string]any{"kind": "recurring", "frequency": "daily"}},
			status: http.StatusBadRequest, code: "invalid_rule",
		},
		{
			name:   "february thirty-first",
			body:   map[string]any{"message": "x", "cron": "0 0 0 31 2 *"},
			status: http.StatusUnprocessableEntity, code: "no_next_run",
		},
		{
			name:   "past one-shot",
			body:   map[string]any{"message": "x", "rule": map[string]any{"kind": "once", "date": "2001-01-01", "time": "09:00"}},
			status: http.StatusUnprocessableEntity, code: "no_next_run",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Error.Message)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decode[errorBody](t, rec).Error.Code)
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/v1/tasks", map[string]any{"message": "ping", "cron": "0 0 * * *"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[taskResponse](t, rec).ID

	rec = do(t, s, http.MethodGet, "/v1/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPatch, "/v1/tasks/"+id, map[string]any{"paused": true, "message": "pong"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	task := decode[taskResponse](t, rec)
	assert.Equal(t, "paused", task.Status)
	assert.Equal(t, "pong", task.Message)
	assert.Nil(t, task.NextRunAt)
	assert.False(t, s.scheduler.Scheduled(id))

	rec = do(t, s, http.MethodPatch, "/v1/tasks/"+id, map[string]any{"paused": false, "cron": "0 0 31 2 *"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, s, http.MethodPatch, "/v1/tasks/"+id, map[string]any{
		"paused": false,
		"rule":   map[string]any{"kind": "recurring", "frequency": "monthly", "interval": 1, "day_of_month": 15},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	task = decode[taskResponse](t, rec)
	assert.Equal(t, "active", task.Status)
	require.NotNil(t, task.NextRunAt)
	next, err := time.Parse(time.RFC3339, *task.NextRunAt)
	require.NoError(t, err)
	assert.Equal(t, 15, next.Day())

	rec = do(t, s, http.MethodGet, "/v1/tasks?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]taskResponse](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/v1/tasks?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodDelete, "/v1/tasks/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, s.scheduler.Scheduled(id))

	rec = do(t, s, http.MethodGet, "/v1/tasks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Error.Code)
}

func TestRunTaskNowRecordsRun(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/v1/tasks", map[string]any{"message": "ping", "cron": "0 0 * * *"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[taskResponse](t, rec).ID

	rec = do(t, s, http.MethodPost, "/v1/tasks/"+id+"/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	runID := decode[map[string]string](t, rec)["run_id"]
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/v1/runs/"+runID, nil)
		return rec.Code == http.StatusOK && decode[runResponse](t, rec).Status == "delivered"
	}, 5*time.Second, 20*time.Millisecond)

	rec = do(t, s, http.MethodGet, "/v1/tasks/"+id+"/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]runResponse](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.NotNil(t, runs[0].DeliveredAt)

	rec = do(t, s, http.MethodGet, "/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleNext(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/v1/schedule/next", map[string]any{
		"rule":  map[string]any{"kind": "cron", "expression": "0 30 9 * * MON-FRI"},
		"now":   "2024-01-05T10:00:00Z",
		"count": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[scheduleNextResponse](t, rec)
	assert.True(t, resp.Valid)
	assert.Empty(t, resp.Message)
	assert.Equal(t, []string{
		"2024-01-08T09:30:00Z",
		"2024-01-09T09:30:00Z",
		"2024-01-10T09:30:00Z",
	}, resp.NextTimes)
}

func TestScheduleNextEndDateStopsEarly(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/v1/schedule/next", map[string]any{
		"rule": map[string]any{
			"kind": "recurring", "frequency": "daily", "interval": 1, "time": "07:00",
			"start_date": "2024-01-01", "end_date": "2024-01-02",
		},
		"now":   "2024-01-01T00:00:00Z",
		"count": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[scheduleNextResponse](t, rec)
	assert.True(t, resp.Valid)
	assert.Equal(t, []string{"2024-01-01T07:00:00Z", "2024-01-02T07:00:00Z"}, resp.NextTimes)
	assert.Contains(t, resp.Message, "This schedule never runs")
}

func TestScheduleNextBestEffort(t *testing.T) {
	s := newTestServer(t, "")
	impossible := map[string]any{"kind": "cron", "expression": "0 0 0 31 2 *"}

	rec := do(t, s, http.MethodPost, "/v1/schedule/next", map[string]any{
		"rule": impossible, "now": "2024-01-01T00:00:00Z", "best_effort": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[scheduleNextResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.True(t, resp.BestEffort)
	assert.Equal(t, []string{"2024-01-01T00:01:00Z"}, resp.NextTimes)
	assert.Contains(t, resp.Message, "This schedule never runs")

	rec = do(t, s, http.MethodPost, "/v1/schedule/next", map[string]any{
		"rule": impossible, "now": "2024-01-01T00:00:00Z",
	})
	resp = decode[scheduleNextResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.False(t, resp.BestEffort)
	assert.Empty(t, resp.NextTimes)
}

func TestScheduleNextInputErrors(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/v1/schedule/next", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/schedule/next", map[string]any{
		"rule": map[string]any{"kind": "cron", "expression": "* * * * *"}, "now": "yesterday",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/schedule/next", map[string]any{
		"rule": map[string]any{"kind": "cron", "expression": "* * *"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[scheduleNextResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.Equal(t, "Invalid cron expression: field count: expected 5 or 6 fields, got 3", resp.Message)
}

func TestScheduleValidate(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/v1/schedule/validate", map[string]any{"expression": "0 */5 9-17 * * MON-FRI"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, scheduleValidateResponse{Valid: true}, decode[scheduleValidateResponse](t, rec))

	rec = do(t, s, http.MethodPost, "/v1/schedule/validate", map[string]any{"expression": "0 0 24 * * *"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[scheduleValidateResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.Contains(t, resp.Message, "hour field")

	rec = do(t, s, http.MethodPost, "/v1/schedule/validate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, "s3cret")

	rec := do(t, s, http.MethodGet, "/v1/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[errorBody](t, rec).Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/tasks?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/tasks?token=wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
