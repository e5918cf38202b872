package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/monitoring"
	"github.com/ifuryst/reelwave/pkg/util"
)

type preparedFootage struct {
	ref   FootageRef
	order int
	// label names the footage in output files; unique within a run
	label string
	path  string
	err   error
}

// prepareFootage downloads every footage reference into dir concurrently
func (o *Orchestrator) prepareFootage(ctx context.Context, dir string, refs []FootageRef) []preparedFootage {
	out := make([]preparedFootage, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.DownloadConcurrency, 1))

	for i, ref := range refs {
		out[i] = preparedFootage{ref: ref, order: i}
		g.Go(func() error {
			if ref.LocalPath != "" {
				if !fileExists(ref.LocalPath) {
					out[i].err = fmt.Errorf("footage %s not found at %s", ref.ID, ref.LocalPath)
					return nil
				}
				out[i].path = ref.LocalPath
				return nil
			}

			ext := filepath.Ext(ref.Name)
			if ext == "" {
				ext = ".mp4"
			}
			dest := filepath.Join(dir, fmt.Sprintf("%02d_%s%s", i+1, util.GenerateSlug(ref.ID), ext))
			if err := o.storage.Download(gctx, ref.ID, dest); err != nil {
				out[i].err = fmt.Errorf("failed to download footage %s: %w", ref.ID, err)
				return nil
			}
			out[i].path = dest
			return nil
		})
	}
	_ = g.Wait()
	labelFootage(out)
	return out
}

// labelFootage gives each footage its display name, suffixed with its
// one-based order when another footage of the run slugs to the same name
func labelFootage(footage []preparedFootage) {
	counts := make(map[string]int, len(footage))
	for _, f := range footage {
		counts[util.FootageSlug(f.ref.displayName())]++
	}
	used := make(map[string]bool, len(footage))
	for i := range footage {
		f := &footage[i]
		f.label = f.ref.displayName()
		if counts[util.FootageSlug(f.label)] > 1 {
			f.label = util.SuffixName(f.label, strconv.Itoa(f.order+1))
		}
		for used[util.FootageSlug(f.label)] {
			f.label = util.SuffixName(f.label, util.GenerateSlug(f.ref.ID))
		}
		used[util.FootageSlug(f.label)] = true
	}
}

// firstAvailable returns the order of the first usable footage, or ErrNoFootage
func firstAvailable(footage []preparedFootage) (int, error) {
	var errs []error
	for _, f := range footage {
		if f.err == nil {
			return f.order, nil
		}
		errs = append(errs, f.err)
	}
	return -1, fmt.Errorf("%w: %s", ErrNoFootage, joinErrors(errs))
}

// FootageUploadRequest uploads footage as-is, without narration or captions.
// BatchID is optional; without it a fresh folder is created.
type FootageUploadRequest struct {
	BatchID    string       `json:"batch_id"`
	FolderName string       `json:"folder_name"`
	Footage    []FootageRef `json:"footage"`
}

// UploadFootage stores raw footage under the reserved no-script identifier for
// campaigns that run footage without narration
func (o *Orchestrator) UploadFootage(ctx context.Context, req FootageUploadRequest) (*RunResult, error) {
	if len(req.Footage) == 0 {
		return nil, &PreconditionError{Field: "footage", Reason: "must not be empty"}
	}
	for _, f := range req.Footage {
		if f.ID == "" {
			return nil, &PreconditionError{Field: "footage.id", Reason: "is required"}
		}
	}

	var folder *models.Folder
	var runKey string
	if req.BatchID != "" {
		batch, err := o.store.GetBatch(ctx, req.BatchID)
		if err != nil {
			return nil, err
		}
		if folder, err = o.ensureFolder(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to allocate batch folder: %w", err)
		}
		runKey = batch.BatchID
	} else {
		name := req.FolderName
		if name == "" {
			name = fmt.Sprintf("footage_%d", time.Now().UnixMilli())
		}
		created, err := o.storage.CreateFolder(ctx, name, o.parentFolderID)
		if err != nil {
			return nil, fmt.Errorf("failed to create footage folder: %w", err)
		}
		folder = created
		runKey = util.GenerateSlug(name)
	}

	dir := filepath.Join(o.cfg.WorkDir, runKey, "raw")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	footage := o.prepareFootage(ctx, dir, req.Footage)
	if _, err := firstAvailable(footage); err != nil {
		return nil, err
	}

	entries := make([]models.AssetEntry, 0, len(footage))
	for _, f := range footage {
		if f.err == nil {
			entries = append(entries, models.AssetEntry{FootageID: f.ref.ID, ScriptID: models.NoScriptID})
		}
	}
	registered := make(map[string]bool, len(entries))
	for i, ok := range o.registerAll(ctx, entries) {
		registered[entries[i].FootageID] = ok
	}

	result := &RunResult{BatchID: req.BatchID, Folder: folder, Items: make([]ItemResult, len(footage))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.DownloadConcurrency, 1))

	for i := range footage {
		f := &footage[i]
		g.Go(func() error {
			item := ItemResult{
				ScriptIndex:  -1,
				FootageID:    f.ref.ID,
				FootageName:  f.ref.displayName(),
				footageOrder: f.order,
			}
			if f.err != nil {
				item.Status = ItemFailed
				item.Error = f.err.Error()
				result.Items[i] = item
				return nil
			}

			name := util.GenerateFootageFilename(f.label)
			if registered[f.ref.ID] {
				name = o.lookupFileName(gctx, models.AssetEntry{FootageID: f.ref.ID, ScriptID: models.NoScriptID}, name)
			}
			asset, err := o.upload(gctx, f.path, name, folder.ID)
			if err != nil {
				item.Status = ItemFailed
				item.Error = err.Error()
			} else {
				item.Status = ItemRendered
				item.Asset = asset
			}
			result.Items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range result.Items {
		if item.Status == ItemFailed {
			result.Failed++
		} else {
			result.Rendered++
		}
	}

	o.monitor.RecordMetric(ctx, "pipeline.footage.uploaded", monitoring.MetricCounter, float64(result.Rendered),
		map[string]interface{}{"folder_id": folder.ID})
	o.logger.Info("Raw footage upload finished",
		zap.String("folder_id", folder.ID),
		zap.Int("uploaded", result.Rendered),
		zap.Int("failed", result.Failed))

	if result.Rendered == 0 {
		return result, fmt.Errorf("%w: %d items failed", ErrRunFailed, result.Failed)
	}
	return result, nil
}
