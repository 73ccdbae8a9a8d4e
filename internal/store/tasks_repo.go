package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cronplan/internal/core"
	"cronplan/internal/schedule"
)

var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `id, name, message, rule_kind, rule_json, status, last_run_at, next_run_at, created_at, updated_at`

func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	ruleJSON, err := encodeRule(task.Rule)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, nullableString(task.Name), task.Message, task.Rule.Kind(), ruleJSON,
		task.Status, nullableTime(task.LastRunAt), nullableTime(task.NextRunAt),
		task.CreatedAt.Format(storedTimeLayout), task.UpdatedAt.Format(storedTimeLayout))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, task *core.Task) error {
	ruleJSON, err := encodeRule(task.Rule)
	if err != nil {
		return err
	}
	task.UpdatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET name = ?, message = ?, rule_kind = ?, rule_json = ?, status = ?, last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableString(task.Name), task.Message, task.Rule.Kind(), ruleJSON, task.Status,
		nullableTime(task.LastRunAt), nullableTime(task.NextRunAt), task.UpdatedAt.Format(storedTimeLayout), task.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectRows(res, ErrTaskNotFound)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete task runs: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectRows(res, ErrTaskNotFound)
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, status *core.TaskStatus) ([]*core.Task, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE status = ?
			ORDER BY created_at DESC
		`, *status)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			ORDER BY created_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) UpdateTaskScheduleInfo(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableTime(lastRunAt), nullableTime(nextRunAt), time.Now().UTC().Format(storedTimeLayout), id)
	if err != nil {
		return fmt.Errorf("update task schedule info: %w", err)
	}
	return nil
}

func (s *Store) UpdateTaskNextRun(ctx context.Context, id string, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableTime(nextRunAt), time.Now().UTC().Format(storedTimeLayout), id)
	if err != nil {
		return fmt.Errorf("update next_run_at: %w", err)
	}
	return nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status core.TaskStatus) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, status, time.Now().UTC().Format(storedTimeLayout), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// encodeRule stores a rule as its RuleSpec JSON.
func encodeRule(rule schedule.Rule) (string, error) {
	if rule == nil {
		return "", errors.New("encode rule: task has no rule")
	}
	data, err := json.Marshal(schedule.SpecOf(rule))
	if err != nil {
		return "", fmt.Errorf("encode rule: %w", err)
	}
	return string(data), nil
}

func decodeRule(ruleJSON string) (schedule.Rule, error) {
	var spec schedule.RuleSpec
	if err := json.Unmarshal([]byte(ruleJSON), &spec); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	rule, err := spec.Rule()
	if err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	return rule, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		id        string
		name      sql.NullString
		message   string
		ruleKind  string
		ruleJSON  string
		status    string
		lastRun   sql.NullString
		nextRun   sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&id, &name, &message, &ruleKind, &ruleJSON, &status, &lastRun, &nextRun, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	rule, err := decodeRule(ruleJSON)
	if err != nil {
		return nil, fmt.Errorf("task %s (%s): %w", id, ruleKind, err)
	}
	task := &core.Task{
		ID:      id,
		Message: message,
		Rule:    rule,
		Status:  core.TaskStatus(status),
	}
	if name.Valid {
		task.Name = &name.String
	}
	task.LastRunAt = parseNullTime(lastRun)
	task.NextRunAt = parseNullTime(nextRun)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		task.UpdatedAt = t
	}
	return task, nil
}

func expectRows(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(storedTimeLayout)
}
