package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/ifuryst/reelwave/internal/models"
)

// GetRenderedAsset fetches the finished render of one (script, footage) combination
func (s *Store) GetRenderedAsset(ctx context.Context, scriptID uint, footageID string) (*models.RenderedAsset, error) {
	var asset models.RenderedAsset
	err := s.db.WithContext(ctx).
		Where("batch_script_id = ? AND footage_id = ?", scriptID, footageID).
		First(&asset).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &asset, nil
}

// SaveRenderedAsset inserts or replaces the render of a combination
func (s *Store) SaveRenderedAsset(ctx context.Context, asset *models.RenderedAsset) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "batch_script_id"}, {Name: "footage_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"footage_name", "footage_order", "file_name", "file_id", "link", "size_bytes", "subtitled", "updated_at",
		}),
	}).Create(asset).Error
	if err != nil {
		return fmt.Errorf("failed to save rendered asset: %w", err)
	}
	return nil
}

// ListRenderedAssets returns all renders of a batch ordered by script index,
// then by the footage's position in its run
func (s *Store) ListRenderedAssets(ctx context.Context, batchID string) ([]models.RenderedAsset, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	var assets []models.RenderedAsset
	err = s.db.WithContext(ctx).
		Joins("JOIN batch_scripts ON batch_scripts.id = rendered_assets.batch_script_id").
		Where("rendered_assets.script_batch_id = ?", batch.ID).
		Order("batch_scripts.script_index ASC, rendered_assets.footage_order ASC, rendered_assets.id ASC").
		Find(&assets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered assets: %w", err)
	}
	return assets, nil
}
