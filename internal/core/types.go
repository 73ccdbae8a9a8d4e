package core

import (
	"time"

	"cronplan/internal/schedule"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
)

// RunStatus describes the state of a single firing of a task.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusDelivered RunStatus = "delivered"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// Task is a reminder with a schedule rule. When the rule fires the message is
// delivered through the configured notifiers.
type Task struct {
	ID        string
	Name      *string
	Message   string
	Rule      schedule.Rule
	Status    TaskStatus
	LastRunAt *time.Time
	NextRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Title is the notification title for the task.
func (t *Task) Title() string {
	if t.Name != nil && *t.Name != "" {
		return *t.Name
	}
	return "cronplan " + t.ID
}

// Run records one firing of a task.
type Run struct {
	ID          string
	TaskID      string
	Status      RunStatus
	ScheduledAt time.Time
	DeliveredAt *time.Time
	Error       *string
	CreatedAt   time.Time
}
