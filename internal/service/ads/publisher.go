package ads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/service/monitoring"
)

const defaultObjective = "OUTCOME_SALES"

// Publisher moves finished assets into the ads platform and builds paused
// campaigns from per-market templates. It never retries on its own; failures
// are reported per item so the caller can retry exactly what failed.
type Publisher struct {
	cfg      *config.AdsConfig
	platform Platform
	source   MediaSource
	monitor  *monitoring.Service
	logger   *zap.Logger
	now      func() time.Time
}

func NewPublisher(cfg *config.AdsConfig, platform Platform, source MediaSource, monitor *monitoring.Service, logger *zap.Logger) *Publisher {
	return &Publisher{
		cfg:      cfg,
		platform: platform,
		source:   source,
		monitor:  monitor,
		logger:   logger.With(zap.String("component", "ads")),
		now:      time.Now,
	}
}

// uploadTimeout grows with the file size
func (p *Publisher) uploadTimeout(sizeBytes int64) time.Duration {
	const mb = 1 << 20
	megabytes := (sizeBytes + mb - 1) / mb
	return config.Duration(p.cfg.UploadBaseTime) + time.Duration(megabytes)*config.Duration(p.cfg.UploadPerMBTime)
}

// UploadRaw sends one asset in a single request. A timeout is reported as
// KindResumable, telling the caller to use UploadRawResumable instead.
func (p *Publisher) UploadRaw(ctx context.Context, asset Asset) (string, error) {
	if err := asset.validate(); err != nil {
		return "", &UploadError{Kind: KindPermanent, FileName: asset.FileName, Err: err}
	}

	timeout := p.uploadTimeout(asset.SizeBytes)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := p.logger.With(zap.String("file_name", asset.FileName), zap.Duration("timeout", timeout))
	logger.Info("Uploading asset")

	rc, err := p.source.Open(ctx, asset.FileID)
	if err != nil {
		return "", p.uploadError(ctx, asset, fmt.Errorf("failed to open asset: %w", err))
	}
	defer rc.Close()

	mediaID, err := p.platform.UploadVideo(ctx, asset.FileName, rc)
	if err != nil {
		return "", p.uploadError(ctx, asset, err)
	}
	if strings.TrimSpace(mediaID) == "" {
		return "", &UploadError{Kind: KindPermanent, FileName: asset.FileName, Err: ErrMissingMediaID}
	}

	logger.Info("Asset uploaded", zap.String("media_id", mediaID))
	return mediaID, nil
}

func (p *Publisher) uploadError(ctx context.Context, asset Asset, err error) *UploadError {
	kind := classify(err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindResumable
	}
	p.logger.Warn("Asset upload failed",
		zap.String("file_name", asset.FileName),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return &UploadError{Kind: kind, FileName: asset.FileName, Err: err}
}

// UploadRawResumable sends one asset through the chunked upload session.
// There is no size-scaled deadline here; only ctx bounds it.
func (p *Publisher) UploadRawResumable(ctx context.Context, asset Asset) (string, error) {
	if err := asset.validate(); err != nil {
		return "", &UploadError{Kind: KindPermanent, FileName: asset.FileName, Err: err}
	}
	if asset.SizeBytes == 0 {
		return "", &UploadError{Kind: KindPermanent, FileName: asset.FileName,
			Err: fmt.Errorf("%w: size is required for resumable upload", ErrInvalidAsset)}
	}

	rc, err := p.source.Open(ctx, asset.FileID)
	if err != nil {
		return "", p.resumableError(asset, fmt.Errorf("failed to open asset: %w", err))
	}
	defer rc.Close()

	mediaID, err := p.platform.UploadVideoResumable(ctx, asset.FileName, rc, asset.SizeBytes)
	if err != nil {
		return "", p.resumableError(asset, err)
	}
	if strings.TrimSpace(mediaID) == "" {
		return "", &UploadError{Kind: KindPermanent, FileName: asset.FileName, Err: ErrMissingMediaID}
	}

	p.logger.Info("Asset uploaded via resumable session",
		zap.String("file_name", asset.FileName),
		zap.String("media_id", mediaID))
	return mediaID, nil
}

func (p *Publisher) resumableError(asset Asset, err error) *UploadError {
	kind := classify(err)
	if kind == KindResumable {
		kind = KindTransient
	}
	p.logger.Warn("Resumable upload failed",
		zap.String("file_name", asset.FileName),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return &UploadError{Kind: kind, FileName: asset.FileName, Err: err}
}

// UploadBatch runs UploadRaw for every asset. One failure never stops the
// others; outcomes keep the input order.
func (p *Publisher) UploadBatch(ctx context.Context, assets []Asset) *BatchUploadResult {
	result := &BatchUploadResult{Items: make([]UploadOutcome, len(assets))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.Concurrency, 1))
	for i, asset := range assets {
		g.Go(func() error {
			outcome := UploadOutcome{Index: i, FileName: asset.FileName}
			mediaID, err := p.UploadRaw(gctx, asset)
			if err != nil {
				outcome.Error = err.Error()
				outcome.Kind = KindPermanent
				var uploadErr *UploadError
				if errors.As(err, &uploadErr) {
					outcome.Kind = uploadErr.Kind
				}
			} else {
				outcome.MediaID = mediaID
			}
			result.Items[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range result.Items {
		if item.Error == "" {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	p.monitor.RecordMetric(ctx, "ads.uploads.succeeded", monitoring.MetricCounter, float64(result.Succeeded), nil)
	p.monitor.RecordMetric(ctx, "ads.uploads.failed", monitoring.MetricCounter, float64(result.Failed), nil)
	p.logger.Info("Batch upload finished",
		zap.Int("assets", len(assets)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
	return result
}

// CreateCampaign creates one paused campaign, clones the market's ad set
// template into it and clones one ad per asset. Ads that fail are reported per
// item. A failure before any ad can be attempted returns an error, with the
// partial result when a campaign already exists.
func (p *Publisher) CreateCampaign(ctx context.Context, req CampaignRequest) (*CampaignResult, error) {
	market, ok := p.cfg.Markets[req.Market]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, req.Market)
	}
	if market.TemplateAdSetID == "" || market.TemplateAdID == "" || market.PageID == "" {
		return nil, fmt.Errorf("%w: %s needs template ids and a page id", ErrMarketConfig, req.Market)
	}
	if len(req.Assets) == 0 {
		return nil, fmt.Errorf("%w: no assets to publish", ErrInvalidAsset)
	}

	now := p.now().UTC()
	result := &CampaignResult{
		Market:    req.Market,
		Name:      req.Name,
		StartTime: now,
		EndTime:   now.AddDate(0, 0, max(p.cfg.RunWindowDays, 1)),
	}
	if result.Name == "" {
		result.Name = fmt.Sprintf("%s %s", strings.ToUpper(req.Market), now.Format("2006-01-02 15:04"))
	}
	logger := p.logger.With(zap.String("market", req.Market), zap.String("campaign", result.Name))

	campaignID, err := p.platform.CreateCampaign(ctx, CampaignSpec{
		Name:      result.Name,
		Objective: defaultObjective,
		Status:    StatusPaused,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	result.CampaignID = campaignID
	logger.Info("Campaign created", zap.String("campaign_id", campaignID))

	adSetID, err := p.platform.CloneAdSet(ctx, AdSetSpec{
		TemplateID: market.TemplateAdSetID,
		CampaignID: campaignID,
		Name:       result.Name,
		Status:     StatusPaused,
		StartTime:  result.StartTime,
		EndTime:    result.EndTime,
	})
	if err != nil {
		return result, fmt.Errorf("failed to clone ad set: %w", err)
	}
	result.AdSetID = adSetID

	result.Ads = make([]AdResult, len(req.Assets))
	for i, asset := range req.Assets {
		ad := AdResult{Index: i, FileName: asset.FileName, MediaID: asset.MediaID}
		if err := p.createAd(ctx, market, adSetID, asset, &ad); err != nil {
			ad.Error = err.Error()
			result.Failed++
			logger.Warn("Ad creation failed", zap.String("file_name", asset.FileName), zap.Error(err))
		} else {
			result.Succeeded++
		}
		result.Ads[i] = ad
	}

	p.monitor.RecordMetric(ctx, "ads.ads.created", monitoring.MetricCounter, float64(result.Succeeded),
		map[string]interface{}{"market": req.Market, "campaign_id": campaignID})
	logger.Info("Campaign populated", zap.Int("succeeded", result.Succeeded), zap.Int("failed", result.Failed))

	if result.Succeeded == 0 {
		return result, ErrNoAdsCreated
	}
	return result, nil
}

func (p *Publisher) createAd(ctx context.Context, market config.MarketConfig, adSetID string, asset PublishedAsset, ad *AdResult) error {
	if strings.TrimSpace(asset.MediaID) == "" {
		return ErrMissingMediaID
	}

	name := strings.TrimSuffix(asset.FileName, ".mp4")
	if name == "" {
		name = asset.MediaID
	}

	creativeID, err := p.platform.CreateCreative(ctx, CreativeSpec{
		Name:         name,
		PageID:       market.PageID,
		VideoID:      asset.MediaID,
		Message:      market.Message,
		CallToAction: market.CallToAction,
		LinkURL:      market.LinkURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create creative: %w", err)
	}
	ad.CreativeID = creativeID

	adID, err := p.platform.CloneAd(ctx, AdSpec{
		TemplateID: market.TemplateAdID,
		AdSetID:    adSetID,
		CreativeID: creativeID,
		Name:       name,
		Status:     StatusPaused,
	})
	if err != nil {
		return fmt.Errorf("failed to clone ad: %w", err)
	}
	ad.AdID = adID
	return nil
}
