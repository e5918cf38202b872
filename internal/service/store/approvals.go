package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/ifuryst/reelwave/internal/models"
)

// SaveDecision records a reviewer decision. A repeated decision for the same
// (batch, item) replaces the earlier one.
func (s *Store) SaveDecision(ctx context.Context, decision *models.ApprovalDecision) error {
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "batch_name"}, {Name: "item_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"file_id", "approved", "channel_id", "message_ts", "reviewer_id", "decided_at", "updated_at",
		}),
	}).Create(decision).Error
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// ListDecisions returns the decisions of a batch ordered by item
func (s *Store) ListDecisions(ctx context.Context, batchName string) ([]models.ApprovalDecision, error) {
	var decisions []models.ApprovalDecision
	if err := s.db.WithContext(ctx).
		Where("batch_name = ?", batchName).
		Order("item_number ASC").
		Find(&decisions).Error; err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return decisions, nil
}

// SaveApprovalRequest records that the full approval notice for a batch went out
func (s *Store) SaveApprovalRequest(ctx context.Context, req *models.ApprovalRequest) error {
	if req.SentAt.IsZero() {
		req.SentAt = time.Now()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"item_count", "posted_items", "channel_id", "message_ts", "sent_at", "updated_at"}),
	}).Create(req).Error
	if err != nil {
		return fmt.Errorf("failed to save approval request: %w", err)
	}
	return nil
}

// GetApprovalRequest fetches the approval notice record of a batch
func (s *Store) GetApprovalRequest(ctx context.Context, batchName string) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	if err := s.db.WithContext(ctx).Where("batch_name = ?", batchName).First(&req).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

// MarkApprovalCompleted stamps the request as complete. It reports true only
// for the call that actually set the timestamp.
func (s *Store) MarkApprovalCompleted(ctx context.Context, batchName string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Where("batch_name = ? AND completed_at IS NULL", batchName).
		Updates(map[string]interface{}{"completed_at": at, "updated_at": time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to complete approval request: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
