package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/integrity"
	"github.com/ifuryst/reelwave/pkg/util"
)

// NewBatch holds the request-time attributes of a batch
type NewBatch struct {
	SpreadsheetID   string
	TabName         string
	VoiceID         string
	Guidance        string
	BaseFootagePath string
	Market          string
	ScriptCount     int
}

// CreateBatch stores a new batch in the generating state
func (s *Store) CreateBatch(ctx context.Context, in NewBatch) (*models.ScriptBatch, error) {
	if in.ScriptCount <= 0 {
		return nil, fmt.Errorf("script count must be positive, got %d", in.ScriptCount)
	}

	batch := &models.ScriptBatch{
		BatchID:         util.NewBatchID(time.Now()),
		SpreadsheetID:   in.SpreadsheetID,
		TabName:         in.TabName,
		VoiceID:         in.VoiceID,
		Guidance:        in.Guidance,
		BaseFootagePath: in.BaseFootagePath,
		Market:          in.Market,
		ScriptCount:     in.ScriptCount,
		Status:          models.BatchStatusGenerating,
	}
	if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	s.logger.Info("Batch created", zap.String("batch_id", batch.BatchID), zap.Int("script_count", batch.ScriptCount))
	return batch, nil
}

// AddScripts stores every draft of a batch in one transaction. Indexes follow the
// draft order. If anything fails the batch is marked failed so it never
// references a partial script set.
func (s *Store) AddScripts(ctx context.Context, batchID string, drafts []models.ScriptDraft) ([]models.BatchScript, error) {
	var scripts []models.BatchScript
	// set once the batch is known to be generating with no scripts yet
	partial := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.ScriptBatch
		if err := tx.Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
			return notFound(err)
		}
		if batch.Status != models.BatchStatusGenerating {
			return fmt.Errorf("%w: batch is %s", ErrStatusRegression, batch.Status)
		}
		var existing int64
		if err := tx.Model(&models.BatchScript{}).Where("script_batch_id = ?", batch.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrScriptsExist
		}
		partial = true

		if len(drafts) != batch.ScriptCount {
			return fmt.Errorf("%w: declared %d, got %d drafts", ErrCountMismatch, batch.ScriptCount, len(drafts))
		}

		scripts = make([]models.BatchScript, len(drafts))
		for i, draft := range drafts {
			title := strings.TrimSpace(draft.Title)
			if title == "" || strings.TrimSpace(draft.Content) == "" {
				return fmt.Errorf("script %d has an empty title or content", i)
			}
			scripts[i] = models.BatchScript{
				ScriptBatchID: batch.ID,
				ScriptIndex:   i,
				Title:         title,
				Content:       draft.Content,
				ContentHash:   integrity.Fingerprint(draft.Content),
				Reasoning:     draft.Reasoning,
				TargetMetrics: models.StringArray(draft.TargetMetrics),
				FileName:      util.GenerateScriptFilename(i, title),
			}
		}
		return tx.Create(&scripts).Error
	})
	if err != nil {
		if partial {
			if markErr := s.MarkFailed(ctx, batchID, fmt.Sprintf("failed to store scripts: %v", err)); markErr != nil {
				s.logger.Error("Failed to mark batch failed", zap.String("batch_id", batchID), zap.Error(markErr))
			}
		}
		return nil, fmt.Errorf("failed to add scripts: %w", err)
	}

	s.logger.Info("Scripts stored", zap.String("batch_id", batchID), zap.Int("count", len(scripts)))
	return scripts, nil
}

// AdvanceStatus moves the batch forward. Moving to the current status is a no-op;
// moving backwards returns ErrStatusRegression.
func (s *Store) AdvanceStatus(ctx context.Context, batchID string, next models.BatchStatus) error {
	return s.advance(ctx, batchID, next, nil)
}

// MarkFailed moves the batch to failed and records why
func (s *Store) MarkFailed(ctx context.Context, batchID, reason string) error {
	return s.advance(ctx, batchID, models.BatchStatusFailed, map[string]interface{}{"failure_reason": reason})
}

func (s *Store) advance(ctx context.Context, batchID string, next models.BatchStatus, extra map[string]interface{}) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid batch status: %s", next)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.ScriptBatch
		if err := tx.Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
			return notFound(err)
		}
		if batch.Status == next {
			return nil
		}
		if !batch.Status.CanAdvanceTo(next) {
			return fmt.Errorf("%w: %s to %s", ErrStatusRegression, batch.Status, next)
		}

		if next == models.BatchStatusVideosGenerated || next == models.BatchStatusSlackSent {
			var count int64
			if err := tx.Model(&models.BatchScript{}).Where("script_batch_id = ?", batch.ID).Count(&count).Error; err != nil {
				return err
			}
			if int(count) != batch.ScriptCount {
				return fmt.Errorf("%w: declared %d, stored %d", ErrCountMismatch, batch.ScriptCount, count)
			}
		}

		updates := map[string]interface{}{"status": next, "updated_at": time.Now()}
		for k, v := range extra {
			updates[k] = v
		}
		result := tx.Model(&models.ScriptBatch{}).
			Where("id = ? AND status IN ?", batch.ID, next.Predecessors()).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update batch status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: concurrent status change on %s", ErrStatusRegression, batchID)
		}

		s.logger.Info("Batch status advanced",
			zap.String("batch_id", batchID),
			zap.String("from", string(batch.Status)),
			zap.String("to", string(next)))
		return nil
	})
}

// SetResultFolder records the shared output folder of the batch
func (s *Store) SetResultFolder(ctx context.Context, batchID string, folder models.Folder) error {
	result := s.db.WithContext(ctx).Model(&models.ScriptBatch{}).
		Where("batch_id = ?", batchID).
		Updates(map[string]interface{}{
			"result_folder_id":  folder.ID,
			"result_folder_url": folder.URL,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set result folder: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBatch fetches a batch by its external id
func (s *Store) GetBatch(ctx context.Context, batchID string) (*models.ScriptBatch, error) {
	var batch models.ScriptBatch
	if err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		return nil, notFound(err)
	}
	return &batch, nil
}

// GetBatchWithScripts fetches a batch and its scripts ordered by index
func (s *Store) GetBatchWithScripts(ctx context.Context, batchID string) (*models.ScriptBatch, error) {
	var batch models.ScriptBatch
	err := s.db.WithContext(ctx).
		Preload("Scripts", func(db *gorm.DB) *gorm.DB {
			return db.Order("script_index ASC")
		}).
		Where("batch_id = ?", batchID).
		First(&batch).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &batch, nil
}

// RecentBatches returns the newest batches with the number of finished videos each
func (s *Store) RecentBatches(ctx context.Context, limit int) ([]models.BatchOverview, error) {
	if limit <= 0 {
		limit = 20
	}

	var batches []models.ScriptBatch
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	if len(batches) == 0 {
		return []models.BatchOverview{}, nil
	}

	ids := make([]uint, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}

	var rows []struct {
		ScriptBatchID uint
		VideoCount    int
	}
	err := s.db.WithContext(ctx).Model(&models.BatchScript{}).
		Select("script_batch_id, COUNT(*) AS video_count").
		Where("script_batch_id IN ?", ids).
		Where("(video_file_id <> '' OR video_url <> '')").
		Group("script_batch_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count videos: %w", err)
	}

	counts := make(map[uint]int, len(rows))
	for _, row := range rows {
		counts[row.ScriptBatchID] = row.VideoCount
	}

	out := make([]models.BatchOverview, len(batches))
	for i, b := range batches {
		out[i] = models.BatchOverview{ScriptBatch: b, VideoCount: counts[b.ID]}
	}
	return out, nil
}
