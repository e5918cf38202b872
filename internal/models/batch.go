package models

import (
	"time"
)

type BatchStatus string

const (
	BatchStatusGenerating      BatchStatus = "generating"
	BatchStatusVideosGenerated BatchStatus = "videos_generated"
	BatchStatusSlackSent       BatchStatus = "slack_sent"
	BatchStatusFailed          BatchStatus = "failed"
)

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusGenerating, BatchStatusVideosGenerated, BatchStatusSlackSent, BatchStatusFailed:
		return true
	}
	return false
}

// CanAdvanceTo reports whether moving from s to next keeps the status monotonic.
// Any non-failed status may move to failed; failed is terminal.
func (s BatchStatus) CanAdvanceTo(next BatchStatus) bool {
	if s == BatchStatusFailed || !next.IsValid() {
		return false
	}
	if next == BatchStatusFailed {
		return true
	}
	return next.rank() > s.rank()
}

// Predecessors lists the statuses that may legally advance to s
func (s BatchStatus) Predecessors() []BatchStatus {
	var out []BatchStatus
	for _, candidate := range []BatchStatus{BatchStatusGenerating, BatchStatusVideosGenerated, BatchStatusSlackSent} {
		if candidate.CanAdvanceTo(s) {
			out = append(out, candidate)
		}
	}
	return out
}

func (s BatchStatus) rank() int {
	switch s {
	case BatchStatusGenerating:
		return 0
	case BatchStatusVideosGenerated:
		return 1
	case BatchStatusSlackSent:
		return 2
	}
	return -1
}

// ScriptBatch is one generation request's worth of scripts
type ScriptBatch struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	BatchID         string      `gorm:"uniqueIndex;not null;size:64" json:"batch_id"`
	SpreadsheetID   string      `gorm:"size:255" json:"spreadsheet_id"`
	TabName         string      `gorm:"size:255" json:"tab_name"`
	VoiceID         string      `gorm:"size:128" json:"voice_id"`
	Guidance        string      `gorm:"type:text" json:"guidance,omitempty"`
	BaseFootagePath string      `gorm:"size:1024" json:"base_footage_path,omitempty"`
	Market          string      `gorm:"size:32" json:"market,omitempty"`
	ScriptCount     int         `gorm:"not null;default:0" json:"script_count"`
	Status          BatchStatus `gorm:"size:32;not null;default:'generating';index" json:"status"`
	ResultFolderID  string      `gorm:"size:255" json:"result_folder_id,omitempty"`
	ResultFolderURL string      `gorm:"size:1024" json:"result_folder_url,omitempty"`
	FailureReason   string      `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt       time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`

	Scripts []BatchScript `gorm:"constraint:OnDelete:CASCADE" json:"scripts,omitempty"`
}

// BatchScript is a single script entry owned by a ScriptBatch
type BatchScript struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	ScriptBatchID   uint        `gorm:"not null;uniqueIndex:idx_batch_script_index" json:"-"`
	ScriptIndex     int         `gorm:"not null;uniqueIndex:idx_batch_script_index" json:"index"`
	Title           string      `gorm:"size:500;not null" json:"title"`
	Content         string      `gorm:"type:text;not null" json:"content"`
	ContentHash     string      `gorm:"size:64;not null" json:"content_hash"`
	Reasoning       string      `gorm:"type:text" json:"reasoning,omitempty"`
	TargetMetrics   StringArray `json:"target_metrics"`
	FileName        string      `gorm:"size:255;not null" json:"file_name"`
	AudioPath       string      `gorm:"size:1024" json:"audio_path,omitempty"`
	AudioURL        string      `gorm:"size:1024" json:"audio_url,omitempty"`
	AudioDurationMs int64       `gorm:"default:0" json:"audio_duration_ms,omitempty"`
	VideoPath       string      `gorm:"size:1024" json:"video_path,omitempty"`
	VideoURL        string      `gorm:"size:1024" json:"video_url,omitempty"`
	VideoFileID     string      `gorm:"size:255" json:"video_file_id,omitempty"`
	VideoError      string      `gorm:"type:text" json:"video_error,omitempty"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasVideo reports whether the script carries a finished, remotely stored video
func (s *BatchScript) HasVideo() bool {
	return s.VideoFileID != "" || s.VideoURL != ""
}

// BatchOverview is a batch with derived counts for listings
type BatchOverview struct {
	ScriptBatch
	VideoCount int `json:"video_count"`
}

// ScriptDraft is script content that has not been stored yet
type ScriptDraft struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Reasoning     string   `json:"reasoning,omitempty"`
	TargetMetrics []string `json:"target_metrics,omitempty"`
}
