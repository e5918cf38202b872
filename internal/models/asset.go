package models

import (
	"time"
)

// NoScriptID is the reserved script identifier for footage uploaded without narration
const NoScriptID = "NO_SCRIPT"

// RenderedAsset records one finished (script, footage) combination
type RenderedAsset struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ScriptBatchID uint      `gorm:"not null;index" json:"-"`
	BatchScriptID uint      `gorm:"not null;uniqueIndex:idx_asset_combo" json:"script_id"`
	FootageID     string    `gorm:"size:255;not null;uniqueIndex:idx_asset_combo" json:"footage_id"`
	FootageName   string    `gorm:"size:500" json:"footage_name"`
	FootageOrder  int       `gorm:"not null;default:0" json:"footage_order"`
	FileName      string    `gorm:"size:500;not null" json:"file_name"`
	FileID        string    `gorm:"size:255;not null" json:"file_id"`
	Link          string    `gorm:"size:1024" json:"link"`
	SizeBytes     int64     `json:"size_bytes"`
	Subtitled     bool      `json:"subtitled"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UploadedAsset is the handoff unit between rendering, approval and publishing
type UploadedAsset struct {
	FileName  string `json:"file_name"`
	FileID    string `json:"file_id"`
	Link      string `json:"link"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// AssetEntry is one row of the spreadsheet-backed asset ledger
type AssetEntry struct {
	FootageID string `json:"footage_id"`
	ScriptID  string `json:"script_id"`
	Subtitled bool   `json:"subtitled"`
	FileName  string `json:"file_name,omitempty"`
}

// Folder is a remote storage folder
type Folder struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
