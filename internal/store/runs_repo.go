package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cronplan/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, task_id, status, scheduled_at, delivered_at, error, created_at`

func (s *Store) InsertRun(ctx context.Context, run *core.Run) error {
	run.CreatedAt = time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, run.Status, run.ScheduledAt.UTC().Format(storedTimeLayout),
		nullableTime(run.DeliveredAt), nullableString(run.Error), run.CreatedAt.Format(storedTimeLayout))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) MarkRunDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, delivered_at = ?, error = NULL
		WHERE id = ?
	`, core.RunStatusDelivered, deliveredAt.UTC().Format(storedTimeLayout), id)
	if err != nil {
		return fmt.Errorf("mark run delivered: %w", err)
	}
	return expectRows(res, ErrRunNotFound)
}

func (s *Store) MarkRunFailed(ctx context.Context, id string, errMsg string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, error = ?
		WHERE id = ?
	`, core.RunStatusFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}
	return expectRows(res, ErrRunNotFound)
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, taskID string, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE task_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// PruneRuns deletes a task's runs beyond the retention limit, oldest first.
func (s *Store) PruneRuns(ctx context.Context, taskID string) error {
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM runs
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM runs
			WHERE task_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
	`, taskID, taskID, s.RunRetention)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.Run, error) {
	var (
		id          string
		taskID      string
		status      string
		scheduledAt string
		deliveredAt sql.NullString
		errMsg      sql.NullString
		createdAt   string
	)
	if err := scanner.Scan(&id, &taskID, &status, &scheduledAt, &deliveredAt, &errMsg, &createdAt); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run := &core.Run{
		ID:          id,
		TaskID:      taskID,
		Status:      core.RunStatus(status),
		DeliveredAt: parseNullTime(deliveredAt),
	}
	var err error
	if run.ScheduledAt, err = time.Parse(time.RFC3339Nano, scheduledAt); err != nil {
		return nil, fmt.Errorf("parse scheduled_at %q: %w", scheduledAt, err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return run, nil
}
