package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/monitoring"
	"github.com/ifuryst/reelwave/internal/service/store"
	"github.com/ifuryst/reelwave/internal/service/subtitle"
	"github.com/ifuryst/reelwave/pkg/util"
)

// Collaborators are the external capabilities the orchestrator drives.
// Ledger may be nil, in which case fallback names are always used.
type Collaborators struct {
	Synthesizer Synthesizer
	Compositor  Compositor
	Storage     Storage
	Ledger      Ledger
}

type Orchestrator struct {
	cfg            *config.PipelineConfig
	parentFolderID string
	store          *store.Store
	monitor        *monitoring.Service
	synth          Synthesizer
	compositor     Compositor
	storage        Storage
	ledger         Ledger
	logger         *zap.Logger
}

func NewOrchestrator(cfg *config.PipelineConfig, parentFolderID string, st *store.Store, monitor *monitoring.Service, c Collaborators, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:            cfg,
		parentFolderID: parentFolderID,
		store:          st,
		monitor:        monitor,
		synth:          c.Synthesizer,
		compositor:     c.Compositor,
		storage:        c.Storage,
		ledger:         c.Ledger,
		logger:         logger.With(zap.String("component", "pipeline")),
	}
}

type combo struct {
	script  *models.BatchScript
	footage *preparedFootage
	mirror  bool
	entry   models.AssetEntry
	// entry is in the ledger and its name can be polled for
	registered bool
}

// narration is the per-script output of the audio stage
type narration struct {
	audio       *Audio
	captionPath string
	err         error
}

// RenderBatch renders every script of the batch over every footage reference.
// Audio is synthesized once per script; compositing runs once per combination.
// All outputs of the run go to the batch's single result folder.
func (o *Orchestrator) RenderBatch(ctx context.Context, req RenderRequest) (*RunResult, error) {
	if len(req.Footage) == 0 {
		return nil, &PreconditionError{Field: "footage", Reason: "must not be empty"}
	}
	for _, f := range req.Footage {
		if f.ID == "" {
			return nil, &PreconditionError{Field: "footage.id", Reason: "is required"}
		}
	}

	batch, err := o.store.GetBatchWithScripts(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == models.BatchStatusFailed {
		return nil, &PreconditionError{Field: "batch", Reason: "is marked failed"}
	}
	if len(batch.Scripts) == 0 {
		return nil, &PreconditionError{Field: "batch", Reason: "has no scripts"}
	}
	voiceID := req.Options.VoiceID
	if voiceID == "" {
		voiceID = batch.VoiceID
	}
	if voiceID == "" {
		return nil, &PreconditionError{Field: "voice_id", Reason: "is required"}
	}

	logger := o.logger.With(zap.String("batch_id", batch.BatchID))
	runDir := filepath.Join(o.cfg.WorkDir, batch.BatchID)
	for _, dir := range []string{"footage", "audio", "captions", "renders"} {
		if err := os.MkdirAll(filepath.Join(runDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
	}

	folder, err := o.ensureFolder(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate batch folder: %w", err)
	}

	footage := o.prepareFootage(ctx, filepath.Join(runDir, "footage"), req.Footage)
	mirrorOrder, err := firstAvailable(footage)
	if err != nil {
		logger.Error("No footage available for run", zap.Error(err))
		return nil, err
	}

	result := &RunResult{BatchID: batch.BatchID, Folder: folder}
	var combos []combo
	needsAudio := make(map[uint]*models.BatchScript)

	for i := range batch.Scripts {
		script := &batch.Scripts[i]
		for j := range footage {
			f := &footage[j]
			item := newItem(script, f)
			if f.err != nil {
				item.Status = ItemFailed
				item.Error = f.err.Error()
				result.Items = append(result.Items, item)
				continue
			}

			if !req.Options.Force {
				existing, err := o.store.GetRenderedAsset(ctx, script.ID, f.ref.ID)
				if err == nil {
					item.Status = ItemSkipped
					item.Asset = &models.UploadedAsset{FileName: existing.FileName, FileID: existing.FileID, Link: existing.Link, SizeBytes: existing.SizeBytes}
					if f.order == mirrorOrder && !script.HasVideo() {
						o.mirrorVideo(ctx, script.ID, "", item.Asset)
					}
					result.Items = append(result.Items, item)
					continue
				}
				if !errors.Is(err, store.ErrNotFound) {
					item.Status = ItemFailed
					item.Error = err.Error()
					result.Items = append(result.Items, item)
					continue
				}
			}

			combos = append(combos, combo{
				script:  script,
				footage: f,
				mirror:  f.order == mirrorOrder,
				entry: models.AssetEntry{
					FootageID: f.ref.ID,
					ScriptID:  ledgerScriptID(batch, script),
					Subtitled: req.Options.Captions,
				},
			})
			needsAudio[script.ID] = script
		}
	}

	if len(combos) > 0 {
		sort.SliceStable(combos, func(a, b int) bool {
			if combos[a].script.ScriptIndex != combos[b].script.ScriptIndex {
				return combos[a].script.ScriptIndex < combos[b].script.ScriptIndex
			}
			return combos[a].footage.order < combos[b].footage.order
		})
		entries := make([]models.AssetEntry, len(combos))
		for i := range combos {
			entries[i] = combos[i].entry
		}
		for i, ok := range o.registerAll(ctx, entries) {
			combos[i].registered = ok
		}

		narrations := o.synthesizeAll(ctx, runDir, needsAudio, voiceID, req.Options)
		result.Items = append(result.Items, o.renderAll(ctx, runDir, batch, folder, combos, narrations, req.Options)...)
	}

	sort.SliceStable(result.Items, func(a, b int) bool {
		if result.Items[a].ScriptIndex != result.Items[b].ScriptIndex {
			return result.Items[a].ScriptIndex < result.Items[b].ScriptIndex
		}
		return result.Items[a].footageOrder < result.Items[b].footageOrder
	})
	for _, item := range result.Items {
		switch item.Status {
		case ItemRendered:
			result.Rendered++
		case ItemSkipped:
			result.Skipped++
		case ItemFailed:
			result.Failed++
		}
	}

	o.finishRun(ctx, batch, result)

	tags := map[string]interface{}{"batch_id": batch.BatchID, "market": req.Options.Market}
	o.monitor.RecordMetric(ctx, "pipeline.items.rendered", monitoring.MetricCounter, float64(result.Rendered), tags)
	o.monitor.RecordMetric(ctx, "pipeline.items.failed", monitoring.MetricCounter, float64(result.Failed), tags)

	logger.Info("Render run finished",
		zap.Int("rendered", result.Rendered),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Bool("videos_complete", result.VideosComplete))

	if result.Succeeded() == 0 {
		return result, fmt.Errorf("%w: %d items failed", ErrRunFailed, result.Failed)
	}
	return result, nil
}

func newItem(script *models.BatchScript, f *preparedFootage) ItemResult {
	return ItemResult{
		ScriptIndex:  script.ScriptIndex,
		ScriptID:     script.ID,
		Title:        script.Title,
		FootageID:    f.ref.ID,
		FootageName:  f.ref.displayName(),
		footageOrder: f.order,
	}
}

func (o *Orchestrator) ensureFolder(ctx context.Context, batch *models.ScriptBatch) (*models.Folder, error) {
	if batch.ResultFolderID != "" {
		return &models.Folder{ID: batch.ResultFolderID, URL: batch.ResultFolderURL}, nil
	}

	folder, err := o.storage.CreateFolder(ctx, batch.BatchID, o.parentFolderID)
	if err != nil {
		return nil, err
	}
	if err := o.store.SetResultFolder(ctx, batch.BatchID, *folder); err != nil {
		return nil, err
	}
	batch.ResultFolderID = folder.ID
	batch.ResultFolderURL = folder.URL
	return folder, nil
}

// synthesizeAll produces narration audio, and captions when requested, once per script
func (o *Orchestrator) synthesizeAll(ctx context.Context, runDir string, scripts map[uint]*models.BatchScript, voiceID string, opts Options) map[uint]*narration {
	ordered := make([]*models.BatchScript, 0, len(scripts))
	for _, s := range scripts {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(a, b int) bool { return ordered[a].ScriptIndex < ordered[b].ScriptIndex })

	results := make([]*narration, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.SynthConcurrency, 1))

	for i, script := range ordered {
		g.Go(func() error {
			results[i] = o.narrate(gctx, runDir, script, voiceID, opts)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[uint]*narration, len(ordered))
	for i, script := range ordered {
		out[script.ID] = results[i]
	}
	return out
}

func (o *Orchestrator) narrate(ctx context.Context, runDir string, script *models.BatchScript, voiceID string, opts Options) *narration {
	n := &narration{}

	if !opts.Force && script.AudioPath != "" && script.AudioDurationMs > 0 && fileExists(script.AudioPath) {
		n.audio = &Audio{Path: script.AudioPath, DurationMs: script.AudioDurationMs}
	} else {
		path := filepath.Join(runDir, "audio", script.FileName+".mp3")
		audio, err := o.synth.Synthesize(ctx, script.Content, voiceID, path)
		if err != nil {
			n.err = fmt.Errorf("failed to synthesize audio: %w", err)
			return n
		}
		if audio.DurationMs <= 0 {
			duration, err := o.compositor.ProbeDurationMs(ctx, audio.Path)
			if err != nil {
				n.err = fmt.Errorf("failed to probe audio duration: %w", err)
				return n
			}
			audio.DurationMs = duration
		}
		if _, err := o.store.UpdateScriptAudio(ctx, script.ID, store.AudioFields{Path: audio.Path, DurationMs: audio.DurationMs}); err != nil {
			n.err = err
			return n
		}
		n.audio = audio
	}

	if opts.Captions {
		srt, _, err := subtitle.Build(script.Content, n.audio.DurationMs)
		if err != nil {
			n.err = err
			return n
		}
		path := filepath.Join(runDir, "captions", script.FileName+".srt")
		if err := os.WriteFile(path, []byte(srt), 0o644); err != nil {
			n.err = fmt.Errorf("failed to write captions: %w", err)
			return n
		}
		n.captionPath = path
	}
	return n
}

func (o *Orchestrator) renderAll(ctx context.Context, runDir string, batch *models.ScriptBatch, folder *models.Folder, combos []combo, narrations map[uint]*narration, opts Options) []ItemResult {
	items := make([]ItemResult, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.RenderConcurrency, 1))

	for i, c := range combos {
		g.Go(func() error {
			item := newItem(c.script, c.footage)
			asset, err := o.renderOne(gctx, runDir, batch, folder, c, narrations[c.script.ID], opts)
			if err != nil {
				item.Status = ItemFailed
				item.Error = err.Error()
				o.recordItemFailure(gctx, batch, c, err)
			} else {
				item.Status = ItemRendered
				item.Asset = asset
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (o *Orchestrator) renderOne(ctx context.Context, runDir string, batch *models.ScriptBatch, folder *models.Folder, c combo, n *narration, opts Options) (*models.UploadedAsset, error) {
	if n == nil || n.err != nil {
		if n == nil {
			return nil, errors.New("no narration produced")
		}
		return nil, n.err
	}

	name := util.GenerateAssetFilename(c.script.ScriptIndex, c.script.Title, c.footage.label, opts.Captions)
	if c.registered {
		name = o.lookupFileName(ctx, c.entry, name)
	}

	dir := filepath.Join(runDir, "renders", fmt.Sprintf("%02d", c.footage.order+1))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}
	output := filepath.Join(dir, name)
	job := CompositeJob{
		FootagePath: c.footage.path,
		AudioPath:   n.audio.Path,
		CaptionPath: n.captionPath,
		OutputPath:  output,
	}
	if err := o.compositor.Composite(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to composite video: %w", err)
	}

	asset, err := o.upload(ctx, output, name, folder.ID)
	if err != nil {
		return nil, err
	}

	if err := o.store.SaveRenderedAsset(ctx, &models.RenderedAsset{
		ScriptBatchID: batch.ID,
		BatchScriptID: c.script.ID,
		FootageID:     c.footage.ref.ID,
		FootageName:   c.footage.ref.displayName(),
		FootageOrder:  c.footage.order,
		FileName:      asset.FileName,
		FileID:        asset.FileID,
		Link:          asset.Link,
		SizeBytes:     asset.SizeBytes,
		Subtitled:     opts.Captions,
	}); err != nil {
		return nil, err
	}

	if c.mirror {
		o.mirrorVideo(ctx, c.script.ID, output, asset)
	}
	return asset, nil
}

func (o *Orchestrator) upload(ctx context.Context, localPath, name, folderID string) (*models.UploadedAsset, error) {
	asset, err := o.storage.Upload(ctx, localPath, name, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if asset == nil || asset.FileID == "" {
		return nil, fmt.Errorf("upload of %s returned no file id", name)
	}
	if asset.FileName == "" {
		asset.FileName = name
	}
	if asset.SizeBytes == 0 {
		if info, err := os.Stat(localPath); err == nil {
			asset.SizeBytes = info.Size()
		}
	}
	return asset, nil
}

func (o *Orchestrator) mirrorVideo(ctx context.Context, scriptID uint, localPath string, asset *models.UploadedAsset) {
	_, err := o.store.UpdateScriptVideo(ctx, scriptID, store.VideoFields{Path: localPath, URL: asset.Link, FileID: asset.FileID})
	if err != nil {
		o.logger.Error("Failed to record video on script", zap.Uint("script_id", scriptID), zap.Error(err))
	}
}

func (o *Orchestrator) recordItemFailure(ctx context.Context, batch *models.ScriptBatch, c combo, cause error) {
	message := fmt.Sprintf("footage %s: %v", c.footage.ref.ID, cause)
	if _, err := o.store.RecordVideoError(ctx, c.script.ID, message); err != nil {
		o.logger.Error("Failed to record video error", zap.Uint("script_id", c.script.ID), zap.Error(err))
	}
	if err := o.monitor.RecordError(ctx, monitoring.LevelWarn, "pipeline", "Render failed", message,
		monitoring.WithBatch(batch.BatchID),
		monitoring.WithScriptIndex(c.script.ScriptIndex),
		monitoring.WithContext(map[string]interface{}{"footage_id": c.footage.ref.ID}),
	); err != nil {
		o.logger.Error("Failed to audit render failure", zap.Error(err))
	}
}

// finishRun advances the batch once every script carries a finished video
func (o *Orchestrator) finishRun(ctx context.Context, batch *models.ScriptBatch, result *RunResult) {
	scripts, err := o.store.ListScripts(ctx, batch.BatchID)
	if err != nil {
		o.logger.Error("Failed to reload scripts", zap.String("batch_id", batch.BatchID), zap.Error(err))
		return
	}

	complete := len(scripts) == batch.ScriptCount
	for i := range scripts {
		if !scripts[i].HasVideo() {
			complete = false
			break
		}
	}
	result.VideosComplete = complete

	if complete && batch.Status == models.BatchStatusGenerating {
		if err := o.store.AdvanceStatus(ctx, batch.BatchID, models.BatchStatusVideosGenerated); err != nil {
			o.logger.Error("Failed to advance batch status", zap.String("batch_id", batch.BatchID), zap.Error(err))
		}
	}
}

func ledgerScriptID(batch *models.ScriptBatch, script *models.BatchScript) string {
	return batch.BatchID + "/" + script.FileName
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func joinErrors(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}
