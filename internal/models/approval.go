package models

import (
	"time"

	"gorm.io/datatypes"
)

// ApprovalRequest records a full approval notice that went out for a batch
type ApprovalRequest struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	BatchName   string     `gorm:"uniqueIndex;not null;size:64" json:"batch_name"`
	ItemCount   int        `gorm:"not null" json:"item_count"`
	PostedItems int        `gorm:"not null;default:0" json:"posted_items"`
	ChannelID   string     `gorm:"size:64" json:"channel_id"`
	MessageTS   string     `gorm:"size:64" json:"message_ts"`
	SentAt      time.Time  `json:"sent_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// FullyPosted reports whether every item of the request reached the channel
func (r *ApprovalRequest) FullyPosted() bool {
	return r.PostedItems >= r.ItemCount
}

// ApprovalDecision is a reviewer's verdict on one item. One row per (batch, item);
// a repeated decision replaces the previous one.
type ApprovalDecision struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	BatchName  string    `gorm:"size:64;not null;uniqueIndex:idx_decision_item" json:"batch_name"`
	ItemNumber int       `gorm:"not null;uniqueIndex:idx_decision_item" json:"item_number"`
	FileID     string    `gorm:"size:255" json:"file_id"`
	Approved   bool      `gorm:"not null" json:"approved"`
	ChannelID  string    `gorm:"size:64" json:"channel_id"`
	MessageTS  string    `gorm:"size:64" json:"message_ts"`
	ReviewerID string    `gorm:"size:64" json:"reviewer_id"`
	DecidedAt  time.Time `json:"decided_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
	TaskStatusSkipped TaskStatus = "skipped"
)

const TaskKindApprovalNotice = "approval_notice"

// ScheduledTask is a durable deferred job, fired once its RunAt has passed
type ScheduledTask struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	TaskID     string         `gorm:"uniqueIndex;not null;size:36" json:"task_id"`
	Kind       string         `gorm:"size:64;not null;index" json:"kind"`
	BatchName  string         `gorm:"size:64;index" json:"batch_name"`
	Payload    datatypes.JSON `json:"payload"`
	RunAt      time.Time      `gorm:"not null;index" json:"run_at"`
	Status     TaskStatus     `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Attempts   int            `gorm:"default:0" json:"attempts"`
	LastError  string         `gorm:"type:text" json:"last_error,omitempty"`
	ClaimedAt  *time.Time     `json:"claimed_at"`
	FinishedAt *time.Time     `json:"finished_at"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
