package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cronplan/internal/schedule"
)

// ErrTaskBusy is returned by RunTaskNow while a delivery for the task is in flight.
var ErrTaskBusy = errors.New("task is already running")

// Store abstracts the persistence layer used by the scheduler.
type Store interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, status *TaskStatus) ([]*Task, error)
	UpdateTaskScheduleInfo(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
	UpdateTaskNextRun(ctx context.Context, id string, nextRunAt *time.Time) error
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error

	InsertRun(ctx context.Context, run *Run) error
	MarkRunDelivered(ctx context.Context, id string, deliveredAt time.Time) error
	MarkRunFailed(ctx context.Context, id string, errMsg string) error
	PruneRuns(ctx context.Context, taskID string) error
}

// Notifier delivers a task's message. notify.Notifier satisfies it.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Scheduler keeps one robfig cron entry per active task and records a Run
// each time an entry fires.
type Scheduler struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time

	cron    *cron.Cron
	entryMu sync.RWMutex
	entries map[string]cron.EntryID

	running sync.Map // taskID -> struct{}{}
	wg      sync.WaitGroup

	ctx context.Context
}

// NewScheduler constructs a scheduler. Rules are evaluated in location,
// which defaults to time.Local.
func NewScheduler(store Store, notifier Notifier, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		logger:   logger,
		location: location,
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(location)),
		entries:  make(map[string]cron.EntryID),
	}
}

// Location is the zone rules are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Start begins the scheduling loop. ctx is used for background store
// updates and deliveries.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop stops the cron loop and returns a context that is done once running
// jobs and in-flight deliveries have finished.
func (s *Scheduler) Stop() context.Context {
	cronDone := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// Sync loads all tasks from the store and schedules the active ones.
func (s *Scheduler) Sync(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for _, task := range tasks {
		if task.Status != TaskStatusActive {
			s.unscheduleTask(task.ID)
			continue
		}
		if err := s.scheduleTask(ctx, task); err != nil {
			s.logger.Error("schedule task", "task_id", task.ID, "err", err)
		}
	}
	return nil
}

// AddOrUpdateTask replaces the scheduler entry for a created or modified task.
func (s *Scheduler) AddOrUpdateTask(ctx context.Context, task *Task) error {
	s.unscheduleTask(task.ID)
	if task.Status != TaskStatusActive {
		return nil
	}
	return s.scheduleTask(ctx, task)
}

// RemoveTask stops scheduling for the given task ID.
func (s *Scheduler) RemoveTask(taskID string) {
	s.unscheduleTask(taskID)
}

// Scheduled reports whether the task currently has a cron entry.
func (s *Scheduler) Scheduled(taskID string) bool {
	_, ok := s.getEntryID(taskID)
	return ok
}

// RunTaskNow delivers the task's message immediately, outside its schedule.
func (s *Scheduler) RunTaskNow(ctx context.Context, task *Task) (*Run, error) {
	if s.isTaskRunning(task.ID) {
		return nil, ErrTaskBusy
	}
	run := &Run{
		ID:          NewID(),
		TaskID:      task.ID,
		Status:      RunStatusQueued,
		ScheduledAt: s.now().UTC(),
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	s.launchDelivery(task, run, false)
	return run, nil
}

func (s *Scheduler) scheduleTask(ctx context.Context, task *Task) error {
	if task.Rule == nil {
		return fmt.Errorf("task %s has no rule", task.ID)
	}
	now := s.now().In(s.location)
	next, err := NextRunAt(task.Rule, now)
	if err != nil {
		if errors.Is(err, schedule.ErrNoNextRun) {
			s.logger.Info("task has no future run", "task_id", task.ID, "rule", schedule.Summary(task.Rule))
			if err := s.store.UpdateTaskNextRun(ctx, task.ID, nil); err != nil {
				s.logger.Warn("clear next_run_at failed", "task_id", task.ID, "err", err)
			}
			return nil
		}
		return err
	}
	if err := s.store.UpdateTaskNextRun(ctx, task.ID, &next); err != nil {
		s.logger.Warn("update next_run_at failed", "task_id", task.ID, "err", err)
	}

	taskID := task.ID
	sched := ruleSchedule{
		rule: task.Rule,
		onError: func(err error) {
			s.logger.Warn("compute next run", "task_id", taskID, "err", err)
		},
	}
	job := func() {
		entryID, ok := s.getEntryID(taskID)
		if !ok {
			return
		}
		entry := s.cron.Entry(entryID)
		scheduledAt := entry.Prev
		if scheduledAt.IsZero() {
			scheduledAt = s.now().In(s.location)
		}
		var nextUTC *time.Time
		if !entry.Next.IsZero() {
			n := entry.Next.UTC()
			nextUTC = &n
		}
		if err := s.store.UpdateTaskNextRun(s.ctxOrBackground(), taskID, nextUTC); err != nil {
			s.logger.Error("update next_run_at", "task_id", taskID, "err", err)
		}
		s.handleScheduledTrigger(taskID, scheduledAt.UTC())
	}
	entryID := s.cron.Schedule(sched, cron.FuncJob(job))
	s.setEntryID(taskID, entryID)
	s.logger.Debug("task scheduled", "task_id", taskID, "next_run_at", schedule.FormatInstant(next))
	return nil
}

func (s *Scheduler) handleScheduledTrigger(taskID string, scheduledAt time.Time) {
	ctx := s.ctxOrBackground()
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.logger.Error("fetch task for scheduled run", "task_id", taskID, "err", err)
		return
	}
	if task.Status != TaskStatusActive {
		return
	}
	_, oneShot := task.Rule.(schedule.OneShot)
	if s.isTaskRunning(task.ID) {
		s.logger.Info("skipping run because task is already running", "task_id", task.ID)
		run := &Run{
			ID:          NewID(),
			TaskID:      task.ID,
			Status:      RunStatusSkipped,
			ScheduledAt: scheduledAt,
		}
		if err := s.store.InsertRun(ctx, run); err != nil {
			s.logger.Error("record skipped run", "task_id", task.ID, "err", err)
		}
		return
	}
	run := &Run{
		ID:          NewID(),
		TaskID:      task.ID,
		Status:      RunStatusQueued,
		ScheduledAt: scheduledAt,
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		s.logger.Error("insert run", "task_id", task.ID, "err", err)
		return
	}
	s.launchDelivery(task, run, oneShot)
}

func (s *Scheduler) launchDelivery(task *Task, run *Run, complete bool) {
	s.markTaskRunning(task.ID, true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.markTaskRunning(task.ID, false)
		s.deliver(s.ctxOrBackground(), task, run)
		if complete {
			s.completeTask(task.ID)
		}
	}()
}

func (s *Scheduler) deliver(ctx context.Context, task *Task, run *Run) {
	logger := s.logger.With("task_id", task.ID, "run_id", run.ID)
	err := s.notifier.Send(ctx, task.Title(), task.Message)
	deliveredAt := s.now().UTC()
	if err != nil {
		logger.Error("deliver task", "err", err)
		run.Status = RunStatusFailed
		msg := err.Error()
		run.Error = &msg
		if err := s.store.MarkRunFailed(ctx, run.ID, msg); err != nil {
			logger.Error("mark run failed", "err", err)
		}
	} else {
		logger.Info("task delivered", "scheduled_at", schedule.FormatInstant(run.ScheduledAt))
		run.Status = RunStatusDelivered
		run.DeliveredAt = &deliveredAt
		if err := s.store.MarkRunDelivered(ctx, run.ID, deliveredAt); err != nil {
			logger.Error("mark run delivered", "err", err)
		}
	}

	var nextRunAt *time.Time
	if id, ok := s.getEntryID(task.ID); ok {
		if next := s.cron.Entry(id).Next; !next.IsZero() {
			n := next.UTC()
			nextRunAt = &n
		}
	}
	if err := s.store.UpdateTaskScheduleInfo(ctx, task.ID, &deliveredAt, nextRunAt); err != nil {
		logger.Warn("update schedule info", "err", err)
	}
	if err := s.store.PruneRuns(ctx, task.ID); err != nil {
		logger.Warn("prune runs", "err", err)
	}
}

// completeTask retires a one-shot task after it has fired.
func (s *Scheduler) completeTask(taskID string) {
	s.unscheduleTask(taskID)
	ctx := s.ctxOrBackground()
	if err := s.store.UpdateTaskStatus(ctx, taskID, TaskStatusCompleted); err != nil {
		s.logger.Error("complete one-shot task", "task_id", taskID, "err", err)
	}
	if err := s.store.UpdateTaskNextRun(ctx, taskID, nil); err != nil {
		s.logger.Warn("clear next_run_at", "task_id", taskID, "err", err)
	}
}

func (s *Scheduler) setEntryID(taskID string, entryID cron.EntryID) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	s.entries[taskID] = entryID
}

func (s *Scheduler) getEntryID(taskID string) (cron.EntryID, bool) {
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()
	id, ok := s.entries[taskID]
	return id, ok
}

func (s *Scheduler) unscheduleTask(taskID string) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
	}
}

func (s *Scheduler) isTaskRunning(taskID string) bool {
	_, ok := s.running.Load(taskID)
	return ok
}

func (s *Scheduler) markTaskRunning(taskID string, running bool) {
	if running {
		s.running.Store(taskID, struct{}{})
	} else {
		s.running.Delete(taskID)
	}
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
