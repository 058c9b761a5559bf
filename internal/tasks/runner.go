package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/clock"
	"cirsqu_api/internal/models"
)

// Runner executes due scheduled tasks and records every attempt
type Runner struct {
	store    TaskStore
	registry *Registry
	clock    clock.Clock
	log      *logrus.Logger
}

func NewRunner(store TaskStore, registry *Registry, clk clock.Clock, log *logrus.Logger) *Runner {
	return &Runner{store: store, registry: registry, clock: clk, log: log}
}

// RunDue runs every active task whose due time has passed and returns how
// many were run.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	pending, err := r.store.ListDue(ctx, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("fetch due tasks: %w", err)
	}
	if len(pending) == 0 {
		r.log.Debug("no pending tasks")
		return 0, nil
	}

	r.log.WithField("count", len(pending)).Info("running due tasks")
	ran := 0
	for _, task := range pending {
		// Check context cancellation
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		r.execute(ctx, task)
		ran++
	}
	return ran, nil
}

func (r *Runner) execute(ctx context.Context, task models.ScheduledTask) {
	logger := r.log.WithFields(logrus.Fields{"task": task.TaskName, "task_id": task.ID})

	if task.Arguments == nil {
		task.Arguments = make(map[string]interface{})
	}

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		logger.Error("task handler not found, marking as failure")
		now := r.clock.Now()
		r.recordHistory(ctx, logger, &models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   1,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		})
		r.updateRun(ctx, logger, task.ID, models.ScheduledTaskStatusFailure, task.Due, now)
		return
	}

	maxAttempt := task.MaxAttempt
	if maxAttempt < 1 {
		maxAttempt = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempt; attempt++ {
		startTime := r.clock.Now()
		result, err := runHandler(ctx, handler, task)
		runtimeMs := int(r.clock.Now().Sub(startTime).Milliseconds())

		status := "success"
		if err != nil {
			status = "failure"
			if result == nil {
				result = map[string]interface{}{}
			}
			result["error"] = err.Error()
			logger.WithError(err).WithField("attempt", attempt).Warn("task attempt failed")
		}

		r.recordHistory(ctx, logger, &models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           startTime,
			RuntimeMs:       runtimeMs,
			Status:          status,
			AttemptNumber:   attempt,
			Arguments:       task.Arguments,
			Result:          result,
		})

		lastErr = err
		if err == nil || ctx.Err() != nil {
			break
		}
	}

	now := r.clock.Now()
	if lastErr == nil {
		status, due := task.Advance(now)
		logger.WithFields(logrus.Fields{"status": status, "next_due": due}).Info("task completed")
		r.updateRun(ctx, logger, task.ID, status, due, now)
		return
	}

	// A recurring task keeps its schedule after a failed run; a one-time task
	// is given up.
	if task.TaskType == models.ScheduledTaskTypeRecurring {
		status, due := task.Advance(now)
		logger.WithError(lastErr).WithField("next_due", due).Error("task failed, waiting for next occurrence")
		r.updateRun(ctx, logger, task.ID, status, due, now)
		return
	}
	logger.WithError(lastErr).Error("task failed")
	r.updateRun(ctx, logger, task.ID, models.ScheduledTaskStatusFailure, task.Due, now)
}

// runHandler reports a handler panic as an error
func runHandler(ctx context.Context, handler TaskHandler, task models.ScheduledTask) (result map[string]interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("task panicked: %v", p)
		}
	}()
	return handler(ctx, task)
}

func (r *Runner) recordHistory(ctx context.Context, logger *logrus.Entry, h *models.ScheduledTaskHistory) {
	if err := r.store.RecordHistory(context.WithoutCancel(ctx), h); err != nil {
		logger.WithError(err).Error("record task history")
	}
}

func (r *Runner) updateRun(ctx context.Context, logger *logrus.Entry, id uint, status models.ScheduledTaskStatus, due, lastRun time.Time) {
	if err := r.store.UpdateRun(context.WithoutCancel(ctx), id, status, due, lastRun); err != nil {
		logger.WithError(err).Error("update scheduled task")
	}
}

// EnsureScheduled creates task unless an active task with the same name
// already exists. It reports whether a task was created.
func (r *Runner) EnsureScheduled(ctx context.Context, task *models.ScheduledTask) (bool, error) {
	existing, err := r.store.FindActiveByName(ctx, task.TaskName)
	if err == nil {
		r.log.WithFields(logrus.Fields{"task": existing.TaskName, "task_id": existing.ID, "due": existing.Due}).Debug("task already scheduled")
		return false, nil
	}
	if !errors.Is(err, ErrTaskNotFound) {
		return false, err
	}
	if err := r.store.Create(ctx, task); err != nil {
		return false, fmt.Errorf("create task %s: %w", task.TaskName, err)
	}
	r.log.WithFields(logrus.Fields{"task": task.TaskName, "task_id": task.ID, "due": task.Due}).Info("task scheduled")
	return true, nil
}
