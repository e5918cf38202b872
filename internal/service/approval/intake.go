package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/monitoring"
	"github.com/ifuryst/reelwave/internal/service/store"
)

// DecisionInput is one inbound reviewer action
type DecisionInput struct {
	BatchName  string `json:"batch_name"`
	ItemNumber int    `json:"item_number"`
	FileID     string `json:"file_id"`
	Approved   bool   `json:"approved"`
	ChannelID  string `json:"channel_id"`
	MessageTS  string `json:"message_ts"`
	ReviewerID string `json:"reviewer_id"`
}

func (d DecisionInput) validate() error {
	if strings.TrimSpace(d.BatchName) == "" {
		return fmt.Errorf("%w: batch name is required", ErrInvalidDecision)
	}
	if d.ItemNumber < 1 {
		return fmt.Errorf("%w: item number must be positive", ErrInvalidDecision)
	}
	return nil
}

// SubmitDecision queues a decision for asynchronous processing and returns
// immediately. It never waits on the database or any remote service.
func (s *Scheduler) SubmitDecision(d DecisionInput) error {
	if err := d.validate(); err != nil {
		return err
	}

	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}

	select {
	case s.intake <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Scheduler) runIntake(ctx context.Context) {
	for {
		select {
		case d := <-s.intake:
			s.handleDecision(ctx, d)
		case <-s.stopCh:
			s.drainIntake(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			s.drainIntake(context.WithoutCancel(ctx))
			return
		}
	}
}

func (s *Scheduler) drainIntake(ctx context.Context) {
	for {
		select {
		case d := <-s.intake:
			s.handleDecision(ctx, d)
		default:
			return
		}
	}
}

func (s *Scheduler) handleDecision(ctx context.Context, d DecisionInput) {
	if err := s.processDecision(ctx, d); err != nil {
		s.logger.Error("Failed to process decision",
			zap.String("batch_id", d.BatchName),
			zap.Int("item", d.ItemNumber),
			zap.Error(err))
	}
}

// processDecision stores the decision, then mirrors it to the decision log and
// the review message. Mirror failures are logged and do not undo the decision.
func (s *Scheduler) processDecision(ctx context.Context, d DecisionInput) error {
	logger := s.logger.With(zap.String("batch_id", d.BatchName), zap.Int("item", d.ItemNumber))

	req, err := s.store.GetApprovalRequest(ctx, d.BatchName)
	switch {
	case err == nil:
		if d.ItemNumber > req.ItemCount {
			msg := fmt.Sprintf("item %d is outside the %d reviewed items", d.ItemNumber, req.ItemCount)
			if auditErr := s.monitor.RecordError(ctx, monitoring.LevelWarn, "approval", "Decision ignored", msg,
				monitoring.WithBatch(d.BatchName)); auditErr != nil {
				logger.Error("Failed to audit ignored decision", zap.Error(auditErr))
			}
			return fmt.Errorf("%w: %s", ErrInvalidDecision, msg)
		}
	case errors.Is(err, store.ErrNotFound):
		logger.Warn("Decision for batch without a recorded review request")
		req = nil
	default:
		return err
	}

	decision := models.ApprovalDecision{
		BatchName:  d.BatchName,
		ItemNumber: d.ItemNumber,
		FileID:     d.FileID,
		Approved:   d.Approved,
		ChannelID:  d.ChannelID,
		MessageTS:  d.MessageTS,
		ReviewerID: d.ReviewerID,
		DecidedAt:  s.now(),
	}
	if err := s.store.SaveDecision(ctx, &decision); err != nil {
		return err
	}
	logger.Info("Decision recorded", zap.Bool("approved", d.Approved))

	if s.log != nil {
		if err := s.log.AppendDecision(ctx, decision); err != nil {
			logger.Warn("Failed to append decision to log", zap.Error(err))
		}
	}
	if d.MessageTS != "" {
		ref := MessageRef{ChannelID: d.ChannelID, TS: d.MessageTS}
		if err := s.notifier.UpdateDecision(ctx, ref, decision); err != nil {
			logger.Warn("Failed to update review message", zap.Error(err))
		}
	}

	if req != nil {
		return s.checkCompletion(ctx, req)
	}
	return nil
}

// checkCompletion posts the summary once every reviewed item has a decision
func (s *Scheduler) checkCompletion(ctx context.Context, req *models.ApprovalRequest) error {
	decisions, err := s.store.ListDecisions(ctx, req.BatchName)
	if err != nil {
		return err
	}
	if len(decisions) < req.ItemCount {
		return nil
	}

	first, err := s.store.MarkApprovalCompleted(ctx, req.BatchName, s.now())
	if err != nil || !first {
		return err
	}

	summary := CompletionSummary{
		BatchID: req.BatchName,
		Message: MessageRef{ChannelID: req.ChannelID, TS: req.MessageTS},
	}
	for _, d := range decisions {
		if d.Approved {
			summary.Approved++
		} else {
			summary.Rejected++
		}
	}

	s.monitor.RecordMetric(ctx, "approval.approved", monitoring.MetricCounter, float64(summary.Approved),
		map[string]interface{}{"batch_id": req.BatchName})
	if err := s.notifier.SendCompletion(ctx, summary); err != nil {
		return fmt.Errorf("failed to send completion summary: %w", err)
	}
	s.logger.Info("Review completed",
		zap.String("batch_id", req.BatchName),
		zap.Int("approved", summary.Approved),
		zap.Int("rejected", summary.Rejected))
	return nil
}
