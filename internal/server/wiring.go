package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/service"
	"github.com/ifuryst/reelwave/internal/service/ads"
	"github.com/ifuryst/reelwave/internal/service/ads/meta"
	"github.com/ifuryst/reelwave/internal/service/approval"
	"github.com/ifuryst/reelwave/internal/service/compositor"
	"github.com/ifuryst/reelwave/internal/service/google"
	"github.com/ifuryst/reelwave/internal/service/monitoring"
	"github.com/ifuryst/reelwave/internal/service/pipeline"
	"github.com/ifuryst/reelwave/internal/service/scriptgen"
	"github.com/ifuryst/reelwave/internal/service/slack"
	"github.com/ifuryst/reelwave/internal/service/store"
	"github.com/ifuryst/reelwave/internal/service/tts"
)

func requireSet(values map[string]string) error {
	for key, value := range values {
		if value == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	return nil
}

func buildServices(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (Services, error) {
	if err := requireSet(map[string]string{
		"tts.api_key":          cfg.TTS.APIKey,
		"slack.bot_token":      cfg.Slack.BotToken,
		"slack.channel_id":     cfg.Slack.ChannelID,
		"slack.signing_secret": cfg.Slack.SigningSecret,
	}); err != nil {
		return Services{}, err
	}

	st := store.New(db, logger)
	monitor := monitoring.NewService(db, logger)

	googleOpts, err := google.ClientOptions(ctx, cfg.Google.Credentials)
	if err != nil {
		return Services{}, fmt.Errorf("failed to load google credentials: %w", err)
	}
	drive, err := google.NewDrive(ctx, &cfg.Google, logger, googleOpts...)
	if err != nil {
		return Services{}, err
	}

	var (
		ledger      pipeline.Ledger
		decisionLog approval.DecisionLog
		sheet       service.ScriptSheet
	)
	sheets, err := google.NewSheets(ctx, &cfg.Google, logger, googleOpts...)
	if err != nil {
		return Services{}, err
	}
	sheet = sheets
	if cfg.Google.LedgerSpreadsheetID != "" {
		ledger = sheets
		decisionLog = sheets
	} else {
		logger.Warn("No ledger spreadsheet configured, using fallback file names and no approval log")
	}

	orchestrator := pipeline.NewOrchestrator(&cfg.Pipeline, cfg.Google.DriveParentFolderID, st, monitor, pipeline.Collaborators{
		Synthesizer: tts.NewClient(&cfg.TTS, logger),
		Compositor:  compositor.NewFFmpeg(&cfg.Compositor, logger),
		Storage:     drive,
		Ledger:      ledger,
	}, logger)

	scheduler := approval.NewScheduler(&cfg.Approval, st, monitor, slack.NewClient(&cfg.Slack, logger), decisionLog, logger)

	var writer service.ScriptWriter
	if cfg.OpenAI.APIKey != "" {
		writer = scriptgen.NewWriter(&cfg.OpenAI, logger)
	} else {
		logger.Warn("No OpenAI key configured, batches must carry their scripts")
	}

	svc := Services{
		Store:     st,
		Auth:      service.NewAuthService(&cfg.Auth, logger),
		Generator: service.NewGenerationService(st, monitor, writer, sheet, orchestrator, scheduler, logger),
		Renderer:  orchestrator,
		Approvals: scheduler,
		Scheduler: scheduler,
		Retention: service.NewRetentionWorker(monitor, st, logger, config.Duration(cfg.Retention.Interval), cfg.Retention.Days),
	}

	if cfg.Ads.AccessToken != "" && cfg.Ads.AdAccountID != "" {
		svc.Publisher = ads.NewPublisher(&cfg.Ads, meta.NewClient(&cfg.Ads, logger), drive, monitor, logger)
	} else {
		logger.Warn("Ads platform not configured, publish routes are disabled")
	}

	return svc, nil
}
