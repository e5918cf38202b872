package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/integrity"
	"github.com/ifuryst/reelwave/internal/service/store"
)

// Start requeues tasks left running by a previous process, then runs the
// delayed-send loop and the decision worker until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	interval, err := time.ParseDuration(s.cfg.PollInterval)
	if err != nil {
		s.logger.Error("Invalid poll interval", zap.String("interval", s.cfg.PollInterval), zap.Error(err))
		return err
	}

	cutoff := s.now().Add(-config.Duration(s.cfg.StaleTaskTimeout))
	requeued, err := s.store.RequeueStaleTasks(ctx, cutoff)
	if err != nil {
		return err
	}
	if requeued > 0 {
		s.logger.Warn("Requeued stale approval tasks", zap.Int64("count", requeued))
	}

	s.logger.Info("Starting approval scheduler", zap.String("poll_interval", s.cfg.PollInterval))
	s.ticker = time.NewTicker(interval)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.RunDue(ctx)
		for {
			select {
			case <-s.ticker.C:
				s.RunDue(ctx)
			case <-s.stopCh:
				s.logger.Info("Approval dispatcher stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Approval dispatcher context cancelled")
				return
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		s.runIntake(ctx)
	}()

	return nil
}

// Stop ends both loops and waits for queued decisions to be written
func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Approval scheduler shutdown completed")
}

// RunDue fires every pending task whose run time has passed
func (s *Scheduler) RunDue(ctx context.Context) {
	tasks, err := s.store.DueTasks(ctx, s.now(), 50)
	if err != nil {
		s.logger.Error("Failed to load due tasks", zap.Error(err))
		return
	}

	for _, task := range tasks {
		claimed, err := s.store.ClaimTask(ctx, task.ID, s.now())
		if err != nil {
			s.logger.Error("Failed to claim task", zap.String("task_id", task.TaskID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		s.runTask(ctx, task)
	}
}

func (s *Scheduler) runTask(ctx context.Context, task models.ScheduledTask) {
	logger := s.logger.With(zap.String("task_id", task.TaskID), zap.String("batch_id", task.BatchName))
	start := time.Now()

	status, err := s.fire(ctx, task)
	switch {
	case err == nil:
		logger.Info("Task finished", zap.String("status", string(status)), zap.Duration("duration", time.Since(start)))
		if err := s.store.FinishTask(ctx, task.ID, status, ""); err != nil {
			logger.Error("Failed to finish task", zap.Error(err))
		}
	case errors.Is(err, integrity.ErrViolation) || task.Attempts+1 >= taskMaxAttempts:
		logger.Error("Task failed", zap.Int("attempts", task.Attempts+1), zap.Error(err))
		if err := s.store.FinishTask(ctx, task.ID, models.TaskStatusFailed, err.Error()); err != nil {
			logger.Error("Failed to finish task", zap.Error(err))
		}
	default:
		logger.Warn("Task failed, retrying", zap.Int("attempts", task.Attempts+1), zap.Error(err))
		runAt := s.now().Add(config.Duration(s.cfg.PollInterval))
		if err := s.store.RetryTask(ctx, task.ID, runAt, err.Error()); err != nil {
			logger.Error("Failed to reschedule task", zap.Error(err))
		}
	}
}

// fire sends a delayed review request. A batch that was marked failed in the
// meantime, or already had its request sent, is skipped without sending. A
// request cut short by an earlier attempt is resumed in its thread.
func (s *Scheduler) fire(ctx context.Context, task models.ScheduledTask) (models.TaskStatus, error) {
	if task.Kind != models.TaskKindApprovalNotice {
		return "", fmt.Errorf("unknown task kind %q", task.Kind)
	}

	var payload taskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return "", fmt.Errorf("failed to decode task payload: %w", err)
	}

	batch, err := s.store.GetBatch(ctx, payload.BatchID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Delayed approval for unknown batch skipped", zap.String("batch_id", payload.BatchID))
		return models.TaskStatusSkipped, nil
	}
	if err != nil {
		return "", err
	}
	if batch.Status == models.BatchStatusFailed {
		s.logger.Info("Delayed approval for failed batch skipped", zap.String("batch_id", batch.BatchID))
		return models.TaskStatusSkipped, nil
	}
	existing, err := s.existingRequest(ctx, batch.BatchID)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.FullyPosted() {
		s.logger.Info("Approval request already sent", zap.String("batch_id", batch.BatchID))
		return models.TaskStatusSkipped, nil
	}

	full, items, err := s.prepare(ctx, batch.BatchID)
	if err != nil {
		return "", err
	}
	if _, err := s.sendFull(ctx, full, items, existing); err != nil {
		return "", err
	}
	return models.TaskStatusDone, nil
}
