package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/integrity"
	"github.com/ifuryst/reelwave/internal/service/monitoring"
	"github.com/ifuryst/reelwave/internal/service/store"
)

var (
	ErrNothingToReview = errors.New("batch has no finished assets to review")
	ErrQueueFull       = errors.New("decision queue is full")
	ErrStopped         = errors.New("approval scheduler is stopped")
	ErrInvalidDecision = errors.New("invalid approval decision")
	ErrAlreadySent     = errors.New("approval request already sent for batch")
)

// MessageRef identifies a posted chat message
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	TS        string `json:"ts"`
}

// ReviewItem is one asset offered for approval. Number is 1-based.
type ReviewItem struct {
	Number      int    `json:"number"`
	ScriptIndex int    `json:"script_index"`
	Title       string `json:"title"`
	FootageName string `json:"footage_name,omitempty"`
	FileName    string `json:"file_name"`
	FileID      string `json:"file_id"`
	Link        string `json:"link"`
}

// ApprovalMessage is the full review request for a batch. With Thread set,
// the items are posted as replies under that existing review message and no
// new header goes out.
type ApprovalMessage struct {
	BatchID   string       `json:"batch_id"`
	FolderURL string       `json:"folder_url,omitempty"`
	Items     []ReviewItem `json:"items"`
	Thread    *MessageRef  `json:"thread,omitempty"`
}

// PartialSendError is returned when the review message went out but only the
// first Posted items of the request reached the channel
type PartialSendError struct {
	Ref    MessageRef
	Posted int
	Err    error
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("review message %s posted with %d items: %v", e.Ref.TS, e.Posted, e.Err)
}

func (e *PartialSendError) Unwrap() error {
	return e.Err
}

// CompletionSummary is posted once every item of a batch has a decision
type CompletionSummary struct {
	BatchID  string     `json:"batch_id"`
	Approved int        `json:"approved"`
	Rejected int        `json:"rejected"`
	Message  MessageRef `json:"message"`
}

// Notifier delivers review traffic to reviewers
type Notifier interface {
	SendNotice(ctx context.Context, text string) (*MessageRef, error)
	SendApprovalRequest(ctx context.Context, msg ApprovalMessage) (*MessageRef, error)
	UpdateDecision(ctx context.Context, ref MessageRef, decision models.ApprovalDecision) error
	SendCompletion(ctx context.Context, summary CompletionSummary) error
}

// DecisionLog keeps an external record of every decision
type DecisionLog interface {
	AppendDecision(ctx context.Context, decision models.ApprovalDecision) error
}

type DispatchMode string

const (
	DispatchImmediate DispatchMode = "immediate"
	DispatchDelayed   DispatchMode = "delayed"
	// DispatchResumed posts the items a previous send left out under its header
	DispatchResumed DispatchMode = "resumed"
)

// Dispatch describes what ScheduleApproval did
type Dispatch struct {
	Mode        DispatchMode `json:"mode"`
	BatchID     string       `json:"batch_id"`
	ItemCount   int          `json:"item_count"`
	Message     *MessageRef  `json:"message,omitempty"`
	TaskID      string       `json:"task_id,omitempty"`
	RunAt       *time.Time   `json:"run_at,omitempty"`
	NoticeError string       `json:"notice_error,omitempty"`
}

type taskPayload struct {
	BatchID      string `json:"batch_id"`
	DelayMinutes int    `json:"delay_minutes"`
}

const taskMaxAttempts = 3

type Scheduler struct {
	cfg      *config.ApprovalConfig
	store    *store.Store
	monitor  *monitoring.Service
	notifier Notifier
	log      DecisionLog
	logger   *zap.Logger

	intake  chan DecisionInput
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	ticker  *time.Ticker
	now     func() time.Time
}

// NewScheduler builds the scheduler. decisionLog may be nil.
func NewScheduler(cfg *config.ApprovalConfig, st *store.Store, monitor *monitoring.Service, notifier Notifier, decisionLog DecisionLog, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		monitor:  monitor,
		notifier: notifier,
		log:      decisionLog,
		logger:   logger.With(zap.String("component", "approval")),
		intake:   make(chan DecisionInput, max(cfg.IntakeQueueSize, 1)),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// ScheduleApproval sends the review request for a batch now, or after
// delayMinutes. The integrity guard runs first either way; a rejected batch
// gets no external send at all. A delayed send is persisted and fired by the
// dispatcher loop, so it survives restarts.
func (s *Scheduler) ScheduleApproval(ctx context.Context, batchID string, delayMinutes int) (*Dispatch, error) {
	if delayMinutes < 0 {
		return nil, fmt.Errorf("delay_minutes must not be negative, got %d", delayMinutes)
	}

	batch, items, err := s.prepare(ctx, batchID)
	if err != nil {
		return nil, err
	}
	existing, err := s.existingRequest(ctx, batch.BatchID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.FullyPosted() {
			return nil, fmt.Errorf("%w: %s", ErrAlreadySent, batch.BatchID)
		}
		// the assets were already announced, so the rest goes out without delay
		ref, err := s.sendFull(ctx, batch, items, existing)
		if err != nil {
			return nil, err
		}
		return &Dispatch{Mode: DispatchResumed, BatchID: batch.BatchID, ItemCount: len(items), Message: ref}, nil
	}

	if delayMinutes == 0 {
		ref, err := s.sendFull(ctx, batch, items, nil)
		if err != nil {
			return nil, err
		}
		return &Dispatch{Mode: DispatchImmediate, BatchID: batch.BatchID, ItemCount: len(items), Message: ref}, nil
	}

	dispatch := &Dispatch{Mode: DispatchDelayed, BatchID: batch.BatchID, ItemCount: len(items)}
	notice := fmt.Sprintf("Batch %s is ready with %d videos. The review request follows in %d minutes.",
		batch.BatchID, len(items), delayMinutes)
	if ref, err := s.notifier.SendNotice(ctx, notice); err != nil {
		s.logger.Warn("Failed to send batch notice", zap.String("batch_id", batch.BatchID), zap.Error(err))
		dispatch.NoticeError = err.Error()
	} else {
		dispatch.Message = ref
	}

	payload, err := json.Marshal(taskPayload{BatchID: batch.BatchID, DelayMinutes: delayMinutes})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}
	task := &models.ScheduledTask{
		Kind:      models.TaskKindApprovalNotice,
		BatchName: batch.BatchID,
		Payload:   datatypes.JSON(payload),
		RunAt:     s.now().Add(time.Duration(delayMinutes) * time.Minute),
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	runAt := task.RunAt
	dispatch.TaskID = task.TaskID
	dispatch.RunAt = &runAt
	s.logger.Info("Approval request scheduled",
		zap.String("batch_id", batch.BatchID),
		zap.String("task_id", task.TaskID),
		zap.Time("run_at", runAt))
	return dispatch, nil
}

// Validate runs the pre-dispatch checks without sending or recording anything
func (s *Scheduler) Validate(ctx context.Context, batchID string) error {
	batch, err := s.store.GetBatchWithScripts(ctx, batchID)
	if err != nil {
		return err
	}
	return integrity.CheckDispatch(batch, batch.Scripts)
}

// prepare loads the batch, runs the integrity guard and builds the review items
func (s *Scheduler) prepare(ctx context.Context, batchID string) (*models.ScriptBatch, []ReviewItem, error) {
	batch, err := s.store.GetBatchWithScripts(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	if err := integrity.CheckDispatch(batch, batch.Scripts); err != nil {
		s.audit(ctx, batch.BatchID, err)
		return nil, nil, err
	}

	items, err := s.reviewItems(ctx, batch)
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 {
		return nil, nil, ErrNothingToReview
	}
	return batch, items, nil
}

func (s *Scheduler) audit(ctx context.Context, batchID string, err error) {
	var violation *integrity.Violation
	if !errors.As(err, &violation) {
		return
	}
	auditErr := s.monitor.RecordError(ctx, monitoring.LevelError, "integrity", "Approval dispatch rejected", violation.Error(),
		monitoring.WithBatch(batchID),
		monitoring.WithScriptIndex(violation.ScriptIndex),
		monitoring.WithContext(map[string]interface{}{
			"reason": string(violation.Reason),
			"title":  violation.Title,
			"detail": violation.Detail,
		}))
	if auditErr != nil {
		s.logger.Error("Failed to audit integrity violation", zap.String("batch_id", batchID), zap.Error(auditErr))
	}
}

// reviewItems lists every finished asset of the batch in script order
func (s *Scheduler) reviewItems(ctx context.Context, batch *models.ScriptBatch) ([]ReviewItem, error) {
	scripts := make(map[uint]*models.BatchScript, len(batch.Scripts))
	for i := range batch.Scripts {
		scripts[batch.Scripts[i].ID] = &batch.Scripts[i]
	}

	assets, err := s.store.ListRenderedAssets(ctx, batch.BatchID)
	if err != nil {
		return nil, err
	}

	var items []ReviewItem
	if len(assets) > 0 {
		for _, asset := range assets {
			item := ReviewItem{
				Number:      len(items) + 1,
				FootageName: asset.FootageName,
				FileName:    asset.FileName,
				FileID:      asset.FileID,
				Link:        asset.Link,
			}
			if script, ok := scripts[asset.BatchScriptID]; ok {
				item.ScriptIndex = script.ScriptIndex
				item.Title = script.Title
			}
			items = append(items, item)
		}
		return items, nil
	}

	for _, script := range batch.Scripts {
		if !script.HasVideo() {
			continue
		}
		items = append(items, ReviewItem{
			Number:      len(items) + 1,
			ScriptIndex: script.ScriptIndex,
			Title:       script.Title,
			FileName:    script.FileName + ".mp4",
			FileID:      script.VideoFileID,
			Link:        script.VideoURL,
		})
	}
	return items, nil
}

// existingRequest returns the recorded review request of a batch, or nil
func (s *Scheduler) existingRequest(ctx context.Context, batchID string) (*models.ApprovalRequest, error) {
	req, err := s.store.GetApprovalRequest(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// sendFull posts the review request, records it and advances the batch. With
// existing set, only the items it has not posted yet go out, threaded under
// its message. Progress is recorded as soon as the header is out, so a retry
// never posts a second header.
func (s *Scheduler) sendFull(ctx context.Context, batch *models.ScriptBatch, items []ReviewItem, existing *models.ApprovalRequest) (*MessageRef, error) {
	msg := ApprovalMessage{BatchID: batch.BatchID, FolderURL: batch.ResultFolderURL, Items: items}
	req := &models.ApprovalRequest{BatchName: batch.BatchID, ItemCount: len(items), SentAt: s.now()}
	posted := 0
	if existing != nil {
		posted = min(existing.PostedItems, len(items))
		req.ChannelID = existing.ChannelID
		req.MessageTS = existing.MessageTS
		req.SentAt = existing.SentAt
		msg.Items = items[posted:]
		msg.Thread = &MessageRef{ChannelID: existing.ChannelID, TS: existing.MessageTS}
	}

	ref, err := s.notifier.SendApprovalRequest(ctx, msg)
	if err != nil {
		var partial *PartialSendError
		if errors.As(err, &partial) {
			if existing == nil {
				req.ChannelID = partial.Ref.ChannelID
				req.MessageTS = partial.Ref.TS
			}
			req.PostedItems = posted + partial.Posted
			if saveErr := s.store.SaveApprovalRequest(ctx, req); saveErr != nil {
				s.logger.Error("Failed to record partial approval request", zap.String("batch_id", batch.BatchID), zap.Error(saveErr))
			}
			s.logger.Warn("Approval request partially posted",
				zap.String("batch_id", batch.BatchID),
				zap.Int("posted", req.PostedItems),
				zap.Int("items", len(items)))
		}
		return nil, fmt.Errorf("failed to send approval request: %w", err)
	}

	if existing == nil && ref != nil {
		req.ChannelID = ref.ChannelID
		req.MessageTS = ref.TS
	}
	req.PostedItems = len(items)
	if err := s.store.SaveApprovalRequest(ctx, req); err != nil {
		return ref, err
	}
	if err := s.store.AdvanceStatus(ctx, batch.BatchID, models.BatchStatusSlackSent); err != nil {
		return ref, err
	}

	s.logger.Info("Approval request sent", zap.String("batch_id", batch.BatchID), zap.Int("items", len(items)))
	return &MessageRef{ChannelID: req.ChannelID, TS: req.MessageTS}, nil
}
