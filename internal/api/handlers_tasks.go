package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cronplan/internal/core"
	"cronplan/internal/schedule"
	"cronplan/internal/store"

	"github.com/go-chi/chi/v5"
)

type createTaskRequest struct {
	Name    *string            `json:"name"`
	Message string             `json:"message"`
	Rule    *schedule.RuleSpec `json:"rule"`
	Cron    string             `json:"cron"`
	Paused  bool               `json:"paused"`
}

type updateTaskRequest struct {
	Name    *string            `json:"name"`
	Message *string            `json:"message"`
	Rule    *schedule.RuleSpec `json:"rule"`
	Cron    *string            `json:"cron"`
	Paused  *bool              `json:"paused"`
}

type taskResponse struct {
	ID        string            `json:"id"`
	Name      *string           `json:"name,omitempty"`
	Message   string            `json:"message"`
	Rule      schedule.RuleSpec `json:"rule"`
	Summary   string            `json:"summary"`
	Status    string            `json:"status"`
	LastRunAt *string           `json:"last_run_at,omitempty"`
	NextRunAt *string           `json:"next_run_at,omitempty"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "message is required")
		return
	}
	rule, err := ruleFromRequest(req.Rule, &req.Cron)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	if rule == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "rule or cron is required")
		return
	}

	now := time.Now().In(s.location)
	rule = schedule.Anchor(rule, now)

	status := core.TaskStatusActive
	if req.Paused {
		status = core.TaskStatusPaused
	}
	task := &core.Task{
		ID:      core.NewID(),
		Name:    trimmedOrNil(req.Name),
		Message: req.Message,
		Rule:    rule,
		Status:  status,
	}

	next, err := core.NextRunAt(rule, now)
	if err != nil {
		writeRuleError(w, err)
		return
	}
	if status == core.TaskStatusActive {
		task.NextRunAt = &next
	}

	if err := s.store.InsertTask(r.Context(), task); err != nil {
		s.logger.Error("insert task", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert task")
		return
	}
	if err := s.scheduler.AddOrUpdateTask(r.Context(), task); err != nil {
		s.logger.Error("schedule task", "task_id", task.ID, "err", err)
	}
	s.logger.Info("task created", "task_id", task.ID, "rule", schedule.Summary(rule))

	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var statusFilter *core.TaskStatus
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		st := core.TaskStatus(status)
		switch st {
		case core.TaskStatusActive, core.TaskStatusPaused, core.TaskStatusCompleted:
			statusFilter = &st
		default:
			writeError(w, http.StatusBadRequest, "invalid_input", "status must be active, paused or completed")
			return
		}
	}
	tasks, err := s.store.ListTasks(r.Context(), statusFilter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if req.Name != nil {
		task.Name = trimmedOrNil(req.Name)
	}
	if req.Message != nil {
		msg := strings.TrimSpace(*req.Message)
		if msg == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "message cannot be empty")
			return
		}
		task.Message = msg
	}

	now := time.Now().In(s.location)
	ruleChanged := false
	if req.Rule != nil || req.Cron != nil {
		rule, err := ruleFromRequest(req.Rule, req.Cron)
		if err != nil {
			writeRuleError(w, err)
			return
		}
		if rule == nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "cron expression cannot be empty")
			return
		}
		task.Rule = schedule.Anchor(rule, now)
		ruleChanged = true
	}

	statusChanged := false
	if req.Paused != nil {
		want := core.TaskStatusActive
		if *req.Paused {
			want = core.TaskStatusPaused
		}
		if task.Status != want {
			task.Status = want
			statusChanged = true
		}
	}

	if ruleChanged || statusChanged {
		next, err := core.NextRunAt(task.Rule, now)
		if err != nil && (ruleChanged || task.Status == core.TaskStatusActive) {
			writeRuleError(w, err)
			return
		}
		task.NextRunAt = nil
		if task.Status == core.TaskStatusActive {
			task.NextRunAt = &next
		}
	}

	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.logger.Error("update task", "task_id", task.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update task")
		return
	}
	if err := s.scheduler.AddOrUpdateTask(r.Context(), task); err != nil {
		s.logger.Error("reschedule task", "task_id", task.ID, "err", err)
	}

	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("delete task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete task")
		}
		return
	}
	s.scheduler.RemoveTask(taskID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	run, err := s.scheduler.RunTaskNow(r.Context(), task)
	if err != nil {
		if errors.Is(err, core.ErrTaskBusy) {
			writeError(w, http.StatusConflict, "conflict", "task is already running")
			return
		}
		s.logger.Error("run task now", "task_id", task.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start task")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID})
}

// loadTask fetches the task named by the URL and writes the error response
// when it cannot.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*core.Task, bool) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return nil, false
	}
	return task, true
}

// ruleFromRequest prefers a full rule and falls back to a bare cron
// expression. It returns a nil rule when neither is given.
func ruleFromRequest(spec *schedule.RuleSpec, cronExpr *string) (schedule.Rule, error) {
	if spec != nil {
		return spec.Rule()
	}
	if cronExpr == nil {
		return nil, nil
	}
	expr := strings.TrimSpace(*cronExpr)
	if expr == "" {
		return nil, nil
	}
	if err := schedule.Validate(expr); err != nil {
		return nil, err
	}
	return schedule.Cron{Expression: expr}, nil
}

// writeRuleError maps schedule errors onto API error codes.
func writeRuleError(w http.ResponseWriter, err error) {
	if errors.Is(err, schedule.ErrNoNextRun) {
		writeError(w, http.StatusUnprocessableEntity, "no_next_run", schedule.Describe(err))
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_rule", schedule.Describe(err))
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func taskToResponse(task *core.Task) taskResponse {
	return taskResponse{
		ID:        task.ID,
		Name:      task.Name,
		Message:   task.Message,
		Rule:      schedule.SpecOf(task.Rule),
		Summary:   schedule.Summary(task.Rule),
		Status:    string(task.Status),
		LastRunAt: formatOptional(task.LastRunAt),
		NextRunAt: formatOptional(task.NextRunAt),
		CreatedAt: formatUTC(task.CreatedAt),
		UpdatedAt: formatUTC(task.UpdatedAt),
	}
}

func formatUTC(t time.Time) string {
	return schedule.FormatInstant(t.UTC())
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := formatUTC(*t)
	return &formatted
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
