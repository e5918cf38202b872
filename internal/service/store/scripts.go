package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ifuryst/reelwave/internal/models"
)

// VideoFields are the video columns of a script, written together
type VideoFields struct {
	Path   string
	URL    string
	FileID string
	Error  string
}

// AudioFields are the audio columns of a script, written together
type AudioFields struct {
	Path       string
	URL        string
	DurationMs int64
}

// ListScripts returns every script of a batch ordered by index
func (s *Store) ListScripts(ctx context.Context, batchID string) ([]models.BatchScript, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	var scripts []models.BatchScript
	if err := s.db.WithContext(ctx).
		Where("script_batch_id = ?", batch.ID).
		Order("script_index ASC").
		Find(&scripts).Error; err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	return scripts, nil
}

// GetScript fetches one script by id
func (s *Store) GetScript(ctx context.Context, id uint) (*models.BatchScript, error) {
	var script models.BatchScript
	if err := s.db.WithContext(ctx).First(&script, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &script, nil
}

// UpdateScriptVideo replaces only the video columns of a script and returns the updated record
func (s *Store) UpdateScriptVideo(ctx context.Context, id uint, video VideoFields) (*models.BatchScript, error) {
	return s.updateScript(ctx, id, map[string]interface{}{
		"video_path":    video.Path,
		"video_url":     video.URL,
		"video_file_id": video.FileID,
		"video_error":   video.Error,
	})
}

// RecordVideoError sets the video error of a script and leaves any finished video in place
func (s *Store) RecordVideoError(ctx context.Context, id uint, message string) (*models.BatchScript, error) {
	return s.updateScript(ctx, id, map[string]interface{}{"video_error": message})
}

// UpdateScriptAudio replaces only the audio columns of a script and returns the updated record
func (s *Store) UpdateScriptAudio(ctx context.Context, id uint, audio AudioFields) (*models.BatchScript, error) {
	return s.updateScript(ctx, id, map[string]interface{}{
		"audio_path":        audio.Path,
		"audio_url":         audio.URL,
		"audio_duration_ms": audio.DurationMs,
	})
}

func (s *Store) updateScript(ctx context.Context, id uint, updates map[string]interface{}) (*models.BatchScript, error) {
	updates["updated_at"] = time.Now()

	result := s.db.WithContext(ctx).Model(&models.BatchScript{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update script %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetScript(ctx, id)
}
