package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ifuryst/reelwave/internal/models"
)

// CreateTask persists a deferred task in the pending state
func (s *Store) CreateTask(ctx context.Context, task *models.ScheduledTask) error {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	task.Status = models.TaskStatusPending
	task.RunAt = task.RunAt.UTC()
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// DueTasks lists pending tasks whose run time has passed, oldest first
func (s *Store) DueTasks(ctx context.Context, now time.Time, limit int) ([]models.ScheduledTask, error) {
	var tasks []models.ScheduledTask
	err := s.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", models.TaskStatusPending, now.UTC()).
		Order("run_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", err)
	}
	return tasks, nil
}

// ClaimTask moves a pending task to running. It reports false when another
// worker claimed it first.
func (s *Store) ClaimTask(ctx context.Context, id uint, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("id = ? AND status = ?", id, models.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":     models.TaskStatusRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"claimed_at": now.UTC(),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim task: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// FinishTask records the terminal state of a running task
func (s *Store) FinishTask(ctx context.Context, id uint, status models.TaskStatus, lastError string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"last_error":  lastError,
			"finished_at": now.UTC(),
			"updated_at":  now,
		}).Error
}

// RetryTask puts a running task back to pending with a new run time
func (s *Store) RetryTask(ctx context.Context, id uint, runAt time.Time, lastError string) error {
	return s.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.TaskStatusPending,
			"run_at":     runAt.UTC(),
			"last_error": lastError,
			"updated_at": time.Now(),
		}).Error
}

// RequeueStaleTasks returns running tasks claimed before the cutoff to pending
func (s *Store) RequeueStaleTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("status = ? AND claimed_at < ?", models.TaskStatusRunning, cutoff.UTC()).
		Updates(map[string]interface{}{
			"status":     models.TaskStatusPending,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to requeue stale tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListTasks returns the tasks of a batch, oldest first
func (s *Store) ListTasks(ctx context.Context, batchName string) ([]models.ScheduledTask, error) {
	var tasks []models.ScheduledTask
	if err := s.db.WithContext(ctx).
		Where("batch_name = ?", batchName).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// PurgeFinishedTasks deletes terminal tasks that finished before the cutoff
func (s *Store) PurgeFinishedTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status IN ? AND finished_at < ?",
			[]models.TaskStatus{models.TaskStatusDone, models.TaskStatusSkipped, models.TaskStatusFailed}, cutoff.UTC()).
		Delete(&models.ScheduledTask{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}
