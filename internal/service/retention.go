package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/service/monitoring"
	"github.com/ifuryst/reelwave/internal/service/store"
)

// RetentionWorker periodically removes old metric samples, resolved error logs
// and finished scheduled tasks
type RetentionWorker struct {
	monitor *monitoring.Service
	store   *store.Store
	logger  *zap.Logger
	keep    time.Duration
	ticker  *time.Ticker
	done    chan bool
}

func NewRetentionWorker(monitor *monitoring.Service, st *store.Store, logger *zap.Logger, interval time.Duration, days int) *RetentionWorker {
	return &RetentionWorker{
		monitor: monitor,
		store:   st,
		logger:  logger,
		keep:    time.Duration(days) * 24 * time.Hour,
		ticker:  time.NewTicker(interval),
		done:    make(chan bool),
	}
}

func (r *RetentionWorker) Start(ctx context.Context) {
	go func() {
		r.logger.Info("Starting retention worker")
		for {
			select {
			case <-r.done:
				r.logger.Info("Retention worker stopped")
				return
			case <-ctx.Done():
				r.logger.Info("Retention worker stopped due to context cancellation")
				return
			case <-r.ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

func (r *RetentionWorker) Stop() {
	r.ticker.Stop()
	close(r.done)
}

// RunOnce deletes everything older than the retention window
func (r *RetentionWorker) RunOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.keep)

	if err := r.monitor.CleanupOldData(ctx, cutoff); err != nil {
		r.logger.Error("Failed to cleanup monitoring data", zap.Error(err))
	}

	purged, err := r.store.PurgeFinishedTasks(ctx, cutoff)
	if err != nil {
		r.logger.Error("Failed to purge finished tasks", zap.Error(err))
		return
	}
	r.logger.Debug("Retention pass finished", zap.Int64("tasks_purged", purged), zap.Time("cutoff", cutoff))
}
