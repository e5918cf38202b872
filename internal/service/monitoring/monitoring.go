package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/reelwave/internal/models"
)

const (
	LevelError = "ERROR"
	LevelWarn  = "WARN"
	LevelInfo  = "INFO"
)

const (
	MetricCounter = "counter"
	MetricGauge   = "gauge"
)

type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With(zap.String("component", "monitoring")),
	}
}

// ErrorLogOption sets optional fields on an audit entry
type ErrorLogOption func(*models.ErrorLog)

// WithBatch sets the batch id
func WithBatch(batchID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.BatchID = batchID
	}
}

// WithScriptIndex sets the script index
func WithScriptIndex(index int) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if index >= 0 {
			e.ScriptIndex = &index
		}
	}
}

// WithContext attaches structured context
func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = datatypes.JSON(contextBytes)
		}
	}
}

// RecordError writes an audit entry and mirrors it to the log
func (m *Service) RecordError(ctx context.Context, level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}
	for _, option := range options {
		option(errorLog)
	}

	m.logger.Warn("Audit entry recorded",
		zap.String("level", level),
		zap.String("source", source),
		zap.String("batch_id", errorLog.BatchID),
		zap.String("title", title),
		zap.String("message", message))

	if err := m.db.WithContext(ctx).Create(errorLog).Error; err != nil {
		return fmt.Errorf("failed to record error log: %w", err)
	}
	return nil
}

// RecordMetric stores one metric sample. Failures are logged, not returned.
func (m *Service) RecordMetric(ctx context.Context, name, metricType string, value float64, tags map[string]interface{}) {
	metric := &models.MetricsSample{
		MetricName: name,
		MetricType: metricType,
		Value:      value,
		Timestamp:  time.Now(),
	}
	if tags != nil {
		if tagsBytes, err := json.Marshal(tags); err == nil {
			metric.Tags = datatypes.JSON(tagsBytes)
		}
	}

	if err := m.db.WithContext(ctx).Create(metric).Error; err != nil {
		m.logger.Error("Failed to record metric", zap.String("metric", name), zap.Error(err))
	}
}

// RecentErrors returns the newest audit entries, optionally filtered by source
func (m *Service) RecentErrors(ctx context.Context, source string, limit int) ([]models.ErrorLog, error) {
	var logs []models.ErrorLog
	query := m.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit)
	if source != "" {
		query = query.Where("source = ?", source)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list error logs: %w", err)
	}
	return logs, nil
}

// ResolveError marks an audit entry as handled
func (m *Service) ResolveError(ctx context.Context, id uint) error {
	now := time.Now()
	result := m.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": now})
	if result.Error != nil {
		return fmt.Errorf("failed to resolve error log: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CleanupOldData deletes metric samples and resolved audit entries older than the cutoff
func (m *Service) CleanupOldData(ctx context.Context, cutoff time.Time) error {
	if err := m.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.MetricsSample{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup metrics samples: %w", err)
	}

	if err := m.db.WithContext(ctx).Where("created_at < ? AND resolved = ?", cutoff, true).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", err)
	}

	return nil
}
