package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/approval"
	"github.com/ifuryst/reelwave/internal/service/monitoring"
	"github.com/ifuryst/reelwave/internal/service/pipeline"
	"github.com/ifuryst/reelwave/internal/service/scriptgen"
	"github.com/ifuryst/reelwave/internal/service/store"
)

// ScriptWriter drafts scripts when a request carries none
type ScriptWriter interface {
	Write(ctx context.Context, req scriptgen.Request) ([]models.ScriptDraft, error)
}

// ScriptSheet receives a copy of the stored scripts
type ScriptSheet interface {
	WriteScripts(ctx context.Context, spreadsheetID, tab, batchID string, scripts []models.BatchScript) error
}

type Renderer interface {
	RenderBatch(ctx context.Context, req pipeline.RenderRequest) (*pipeline.RunResult, error)
}

type ApprovalScheduler interface {
	ScheduleApproval(ctx context.Context, batchID string, delayMinutes int) (*approval.Dispatch, error)
}

const ApprovalSkipped approval.DispatchMode = "skipped"

type GenerateRequest struct {
	SpreadsheetID   string                `json:"spreadsheet_id"`
	TabName         string                `json:"tab_name"`
	VoiceID         string                `json:"voice_id"`
	Guidance        string                `json:"guidance"`
	Product         string                `json:"product"`
	Market          string                `json:"market"`
	BaseFootagePath string                `json:"base_footage_path"`
	ScriptCount     int                   `json:"script_count"`
	Scripts         []models.ScriptDraft  `json:"scripts"`
	Footage         []pipeline.FootageRef `json:"footage"`
	Captions        bool                  `json:"captions"`
	DelayMinutes    int                   `json:"delay_minutes"`
}

type GenerateResponse struct {
	BatchID       string                `json:"batch_id"`
	Status        models.BatchStatus    `json:"status"`
	Render        *pipeline.RunResult   `json:"render,omitempty"`
	ApprovalMode  approval.DispatchMode `json:"approval_mode"`
	Approval      *approval.Dispatch    `json:"approval,omitempty"`
	ApprovalError string                `json:"approval_error,omitempty"`
	SheetError    string                `json:"sheet_error,omitempty"`
}

// GenerationService runs the whole generate-batch flow
type GenerationService struct {
	store    *store.Store
	monitor  *monitoring.Service
	writer   ScriptWriter
	sheet    ScriptSheet
	renderer Renderer
	approver ApprovalScheduler
	logger   *zap.Logger
}

// NewGenerationService wires the flow. writer and sheet may be nil.
func NewGenerationService(st *store.Store, monitor *monitoring.Service, writer ScriptWriter, sheet ScriptSheet, renderer Renderer, approver ApprovalScheduler, logger *zap.Logger) *GenerationService {
	return &GenerationService{
		store:    st,
		monitor:  monitor,
		writer:   writer,
		sheet:    sheet,
		renderer: renderer,
		approver: approver,
		logger:   logger.With(zap.String("component", "generation")),
	}
}

func (req *GenerateRequest) validate(canWrite bool) error {
	if len(req.Footage) == 0 {
		return &pipeline.PreconditionError{Field: "footage", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		return &pipeline.PreconditionError{Field: "voice_id", Reason: "is required"}
	}
	if req.DelayMinutes < 0 {
		return &pipeline.PreconditionError{Field: "delay_minutes", Reason: "must not be negative"}
	}
	if len(req.Scripts) == 0 {
		if req.ScriptCount <= 0 {
			return &pipeline.PreconditionError{Field: "script_count", Reason: "must be positive when no scripts are given"}
		}
		if !canWrite {
			return &pipeline.PreconditionError{Field: "scripts", Reason: "are required when script generation is not configured"}
		}
	}
	return nil
}

// Generate creates a batch, stores its scripts, renders every script over every
// footage reference and, if anything was rendered, schedules the approval send.
// The returned response is non-nil whenever a batch was created.
func (g *GenerationService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if err := req.validate(g.writer != nil); err != nil {
		return nil, err
	}

	count := req.ScriptCount
	if len(req.Scripts) > 0 {
		count = len(req.Scripts)
	}
	batch, err := g.store.CreateBatch(ctx, store.NewBatch{
		SpreadsheetID:   req.SpreadsheetID,
		TabName:         req.TabName,
		VoiceID:         req.VoiceID,
		Guidance:        req.Guidance,
		BaseFootagePath: req.BaseFootagePath,
		Market:          req.Market,
		ScriptCount:     count,
	})
	if err != nil {
		return nil, err
	}

	logger := g.logger.With(zap.String("batch_id", batch.BatchID))
	resp := &GenerateResponse{BatchID: batch.BatchID, Status: batch.Status, ApprovalMode: ApprovalSkipped}

	drafts := req.Scripts
	if len(drafts) == 0 {
		drafts, err = g.writer.Write(ctx, scriptgen.Request{
			Count:    count,
			Product:  req.Product,
			Guidance: req.Guidance,
			Market:   req.Market,
		})
		if err != nil {
			g.fail(ctx, batch.BatchID, "script generation failed", err)
			resp.Status = models.BatchStatusFailed
			return resp, fmt.Errorf("failed to generate scripts: %w", err)
		}
	}

	scripts, err := g.store.AddScripts(ctx, batch.BatchID, drafts)
	if err != nil {
		resp.Status = models.BatchStatusFailed
		return resp, fmt.Errorf("failed to store scripts: %w", err)
	}
	logger.Info("Scripts stored", zap.Int("count", len(scripts)))

	if g.sheet != nil && req.SpreadsheetID != "" && req.TabName != "" {
		if err := g.sheet.WriteScripts(ctx, req.SpreadsheetID, req.TabName, batch.BatchID, scripts); err != nil {
			logger.Warn("Failed to write scripts to spreadsheet", zap.Error(err))
			resp.SheetError = err.Error()
		}
	}

	result, err := g.renderer.RenderBatch(ctx, pipeline.RenderRequest{
		BatchID: batch.BatchID,
		Footage: req.Footage,
		Options: pipeline.Options{
			Captions: req.Captions,
			Market:   req.Market,
			VoiceID:  req.VoiceID,
		},
	})
	resp.Render = result
	if err != nil {
		g.refreshStatus(ctx, resp)
		return resp, err
	}

	dispatch, err := g.approver.ScheduleApproval(ctx, batch.BatchID, req.DelayMinutes)
	if err != nil {
		logger.Warn("Approval not scheduled", zap.Error(err))
		resp.ApprovalError = err.Error()
	} else {
		resp.Approval = dispatch
		resp.ApprovalMode = dispatch.Mode
	}

	g.refreshStatus(ctx, resp)
	return resp, nil
}

func (g *GenerationService) refreshStatus(ctx context.Context, resp *GenerateResponse) {
	batch, err := g.store.GetBatch(ctx, resp.BatchID)
	if err != nil {
		g.logger.Warn("Failed to reload batch", zap.String("batch_id", resp.BatchID), zap.Error(err))
		return
	}
	resp.Status = batch.Status
}

func (g *GenerationService) fail(ctx context.Context, batchID, title string, cause error) {
	if err := g.store.MarkFailed(ctx, batchID, cause.Error()); err != nil {
		g.logger.Error("Failed to mark batch failed", zap.String("batch_id", batchID), zap.Error(err))
	}
	if err := g.monitor.RecordError(ctx, monitoring.LevelError, "generation", title, cause.Error(), monitoring.WithBatch(batchID)); err != nil {
		g.logger.Error("Failed to audit generation failure", zap.String("batch_id", batchID), zap.Error(err))
	}
}
