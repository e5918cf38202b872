package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ifuryst/reelwave/internal/models"
)

var (
	// ErrNoFootage means none of the footage inputs of a run could be prepared
	ErrNoFootage = errors.New("no footage could be prepared")
	// ErrRunFailed means every item of a run failed
	ErrRunFailed = errors.New("every item in the run failed")
)

// PreconditionError is returned before any work starts
type PreconditionError struct {
	Field  string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s %s", e.Field, e.Reason)
}

// Audio is a synthesized narration track
type Audio struct {
	Path       string
	DurationMs int64
}

// Synthesizer turns narration text into an audio file
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, outputPath string) (*Audio, error)
}

// CompositeJob describes one render. CaptionPath is empty for renders without burned-in captions.
type CompositeJob struct {
	FootagePath string
	AudioPath   string
	CaptionPath string
	OutputPath  string
}

// Compositor lays narration and captions over base footage
type Compositor interface {
	Composite(ctx context.Context, job CompositeJob) error
	ProbeDurationMs(ctx context.Context, mediaPath string) (int64, error)
}

// Storage is the remote file store for footage and finished assets
type Storage interface {
	CreateFolder(ctx context.Context, name, parentID string) (*models.Folder, error)
	Download(ctx context.Context, fileID, destPath string) error
	Upload(ctx context.Context, localPath, name, folderID string) (*models.UploadedAsset, error)
}

// Ledger assigns output file names to (footage, script) pairs. Names may appear
// some time after registration; LookupFileName returns "" until then.
type Ledger interface {
	RegisterAsset(ctx context.Context, entry models.AssetEntry) error
	LookupFileName(ctx context.Context, entry models.AssetEntry) (string, error)
}

// FootageRef points at base footage. LocalPath skips the download when set.
type FootageRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LocalPath string `json:"local_path,omitempty"`
}

func (f FootageRef) displayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

// Options tune a rendering run
type Options struct {
	Captions bool   `json:"captions"`
	Market   string `json:"market"`
	VoiceID  string `json:"voice_id"`
	// Force re-renders combinations that already have a finished asset
	Force bool `json:"force"`
}

// RenderRequest asks for every script of a batch to be rendered over every footage
type RenderRequest struct {
	BatchID string
	Footage []FootageRef
	Options Options
}

type ItemStatus string

const (
	ItemRendered ItemStatus = "rendered"
	ItemSkipped  ItemStatus = "skipped"
	ItemFailed   ItemStatus = "failed"
)

// ItemResult is the outcome of one (script, footage) combination
type ItemResult struct {
	ScriptIndex int                   `json:"script_index"`
	ScriptID    uint                  `json:"script_id"`
	Title       string                `json:"title"`
	FootageID   string                `json:"footage_id"`
	FootageName string                `json:"footage_name"`
	Status      ItemStatus            `json:"status"`
	Asset       *models.UploadedAsset `json:"asset,omitempty"`
	Error       string                `json:"error,omitempty"`

	footageOrder int
}

// RunResult is the outcome of a rendering run. Items are ordered by script index,
// then by footage order.
type RunResult struct {
	BatchID        string         `json:"batch_id"`
	Folder         *models.Folder `json:"folder,omitempty"`
	Items          []ItemResult   `json:"items"`
	Rendered       int            `json:"rendered"`
	Skipped        int            `json:"skipped"`
	Failed         int            `json:"failed"`
	VideosComplete bool           `json:"videos_complete"`
}

// Succeeded counts items that have a finished asset after the run
func (r *RunResult) Succeeded() int {
	return r.Rendered + r.Skipped
}

// Assets returns the finished assets of the run in item order
func (r *RunResult) Assets() []models.UploadedAsset {
	var out []models.UploadedAsset
	for _, item := range r.Items {
		if item.Asset != nil {
			out = append(out, *item.Asset)
		}
	}
	return out
}
