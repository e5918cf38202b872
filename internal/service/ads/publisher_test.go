package ads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/service/monitoring"
	"github.com/ifuryst/reelwave/internal/testutil"
)

type fakeSource struct {
	missing map[string]bool
}

func (f *fakeSource) Open(_ context.Context, fileID string) (io.ReadCloser, error) {
	if f.missing[fileID] {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return io.NopCloser(strings.NewReader("video:" + fileID)), nil
}

type platformError struct {
	transient bool
}

func (e *platformError) Error() string   { return "platform rejected request" }
func (e *platformError) Transient() bool { return e.transient }

type fakePlatform struct {
	mu          sync.Mutex
	uploads     []string
	resumable   []string
	campaigns   []CampaignSpec
	adSets      []AdSetSpec
	creatives   []CreativeSpec
	ads         []AdSpec
	emptyID     map[string]bool
	uploadErr   map[string]error
	slow        map[string]bool
	creativeErr map[string]error
	adSetErr    error
}

func (f *fakePlatform) UploadVideo(ctx context.Context, name string, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	if f.slow[name] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, name)
	if err := f.uploadErr[name]; err != nil {
		return "", err
	}
	if f.emptyID[name] {
		return "", nil
	}
	return "media-" + name, nil
}

func (f *fakePlatform) UploadVideoResumable(_ context.Context, name string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumable = append(f.resumable, fmt.Sprintf("%s:%d:%d", name, size, len(data)))
	return "media-r-" + name, nil
}

func (f *fakePlatform) CreateCampaign(_ context.Context, spec CampaignSpec) (string, error) {
	f.campaigns = append(f.campaigns, spec)
	return "camp-1", nil
}

func (f *fakePlatform) CloneAdSet(_ context.Context, spec AdSetSpec) (string, error) {
	if f.adSetErr != nil {
		return "", f.adSetErr
	}
	f.adSets = append(f.adSets, spec)
	return "adset-1", nil
}

func (f *fakePlatform) CreateCreative(_ context.Context, spec CreativeSpec) (string, error) {
	if err := f.creativeErr[spec.VideoID]; err != nil {
		return "", err
	}
	f.creatives = append(f.creatives, spec)
	return "creative-" + spec.VideoID, nil
}

func (f *fakePlatform) CloneAd(_ context.Context, spec AdSpec) (string, error) {
	f.ads = append(f.ads, spec)
	return "ad-" + spec.CreativeID, nil
}

func newPublisher(t *testing.T, platform *fakePlatform, source *fakeSource) *Publisher {
	cfg := &config.AdsConfig{
		UploadBaseTime:  "200ms",
		UploadPerMBTime: "10ms",
		RunWindowDays:   14,
		Concurrency:     2,
		Markets: map[string]config.MarketConfig{
			"us": {
				TemplateAdSetID: "tpl-adset",
				TemplateAdID:    "tpl-ad",
				PageID:          "page-1",
				CallToAction:    "SHOP_NOW",
				LinkURL:         "https://shop.example",
				Message:         "New drop",
			},
		},
	}
	monitor := monitoring.NewService(testutil.OpenDB(t), testutil.Logger())
	p := NewPublisher(cfg, platform, source, monitor, testutil.Logger())
	p.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func assets(n int) []Asset {
	out := make([]Asset, n)
	for i := range out {
		out[i] = Asset{FileName: fmt.Sprintf("%02d_ad.mp4", i+1), FileID: fmt.Sprintf("file-%d", i+1), SizeBytes: 1 << 20}
	}
	return out
}

func TestUploadBatchMissingMediaID(t *testing.T) {
	platform := &fakePlatform{emptyID: map[string]bool{"03_ad.mp4": true}}
	p := newPublisher(t, platform, &fakeSource{})

	result := p.UploadBatch(context.Background(), assets(5))

	require.Len(t, result.Items, 5)
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	for i, item := range result.Items {
		assert.Equal(t, i, item.Index)
		if i == 2 {
			assert.Empty(t, item.MediaID)
			assert.Contains(t, item.Error, ErrMissingMediaID.Error())
			assert.Equal(t, KindPermanent, item.Kind)
			continue
		}
		assert.Empty(t, item.Error)
		assert.Equal(t, "media-"+item.FileName, item.MediaID)
	}
	assert.Len(t, platform.uploads, 5)
}

func TestUploadRawClassifiesErrors(t *testing.T) {
	platform := &fakePlatform{
		uploadErr: map[string]error{
			"01_ad.mp4": &platformError{transient: true},
			"02_ad.mp4": &platformError{transient: false},
		},
		slow: map[string]bool{"03_ad.mp4": true},
	}
	p := newPublisher(t, platform, &fakeSource{missing: map[string]bool{"file-4": true}})
	batch := assets(4)

	var uploadErr *UploadError
	_, err := p.UploadRaw(context.Background(), batch[0])
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, KindTransient, uploadErr.Kind)

	_, err = p.UploadRaw(context.Background(), batch[1])
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, KindPermanent, uploadErr.Kind)

	start := time.Now()
	_, err = p.UploadRaw(context.Background(), batch[2])
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, KindResumable, uploadErr.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = p.UploadRaw(context.Background(), batch[3])
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, KindPermanent, uploadErr.Kind)
}

func TestUploadRawRejectsInvalidAsset(t *testing.T) {
	platform := &fakePlatform{}
	p := newPublisher(t, platform, &fakeSource{})

	_, err := p.UploadRaw(context.Background(), Asset{FileName: "a.mp4"})
	assert.ErrorIs(t, err, ErrInvalidAsset)
	assert.Empty(t, platform.uploads)
}

func TestUploadTimeoutScalesWithSize(t *testing.T) {
	p := newPublisher(t, &fakePlatform{}, &fakeSource{})

	assert.Equal(t, 200*time.Millisecond, p.uploadTimeout(0))
	assert.Equal(t, 210*time.Millisecond, p.uploadTimeout(1))
	assert.Equal(t, 300*time.Millisecond, p.uploadTimeout(10<<20))
}

func TestUploadRawResumable(t *testing.T) {
	platform := &fakePlatform{}
	p := newPublisher(t, platform, &fakeSource{})

	id, err := p.UploadRawResumable(context.Background(), Asset{FileName: "big.mp4", FileID: "f", SizeBytes: 7})
	require.NoError(t, err)
	assert.Equal(t, "media-r-big.mp4", id)
	assert.Equal(t, []string{"big.mp4:7:7"}, platform.resumable)

	_, err = p.UploadRawResumable(context.Background(), Asset{FileName: "big.mp4", FileID: "f"})
	assert.ErrorIs(t, err, ErrInvalidAsset)
}

func TestCreateCampaign(t *testing.T) {
	platform := &fakePlatform{creativeErr: map[string]error{"m2": errors.New("video still processing")}}
	p := newPublisher(t, platform, &fakeSource{})

	result, err := p.CreateCampaign(context.Background(), CampaignRequest{
		Market: "us",
		Assets: []PublishedAsset{
			{FileName: "01_a.mp4", MediaID: "m1"},
			{FileName: "02_b.mp4", MediaID: "m2"},
			{FileName: "03_c.mp4"},
			{FileName: "04_d.mp4", MediaID: "m4"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "camp-1", result.CampaignID)
	assert.Equal(t, "adset-1", result.AdSetID)
	assert.Equal(t, "US 2025-03-01 12:00", result.Name)
	require.Len(t, platform.campaigns, 1)
	assert.Equal(t, StatusPaused, platform.campaigns[0].Status)
	require.Len(t, platform.adSets, 1)
	assert.Equal(t, "tpl-adset", platform.adSets[0].TemplateID)
	assert.Equal(t, StatusPaused, platform.adSets[0].Status)
	assert.Equal(t, 14*24*time.Hour, platform.adSets[0].EndTime.Sub(platform.adSets[0].StartTime))

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Ads, 4)
	assert.Equal(t, "ad-creative-m1", result.Ads[0].AdID)
	assert.Contains(t, result.Ads[1].Error, "video still processing")
	assert.Contains(t, result.Ads[2].Error, ErrMissingMediaID.Error())
	assert.Equal(t, "ad-creative-m4", result.Ads[3].AdID)

	require.Len(t, platform.ads, 2)
	for _, ad := range platform.ads {
		assert.Equal(t, "tpl-ad", ad.TemplateID)
		assert.Equal(t, StatusPaused, ad.Status)
	}
	assert.Equal(t, "01_a", platform.creatives[0].Name)
	assert.Equal(t, "SHOP_NOW", platform.creatives[0].CallToAction)
}

func TestCreateCampaignPreconditions(t *testing.T) {
	platform := &fakePlatform{}
	p := newPublisher(t, platform, &fakeSource{})

	_, err := p.CreateCampaign(context.Background(), CampaignRequest{Market: "de", Assets: []PublishedAsset{{MediaID: "m"}}})
	assert.ErrorIs(t, err, ErrUnknownMarket)

	_, err = p.CreateCampaign(context.Background(), CampaignRequest{Market: "us"})
	assert.ErrorIs(t, err, ErrInvalidAsset)
	assert.Empty(t, platform.campaigns)
}

func TestCreateCampaignAdSetFailure(t *testing.T) {
	platform := &fakePlatform{adSetErr: errors.New("template archived")}
	p := newPublisher(t, platform, &fakeSource{})

	result, err := p.CreateCampaign(context.Background(), CampaignRequest{Market: "us", Assets: []PublishedAsset{{MediaID: "m"}}})
	assert.ErrorContains(t, err, "template archived")
	require.NotNil(t, result)
	assert.Equal(t, "camp-1", result.CampaignID)
}

func TestCreateCampaignNoAds(t *testing.T) {
	p := newPublisher(t, &fakePlatform{}, &fakeSource{})

	result, err := p.CreateCampaign(context.Background(), CampaignRequest{Market: "us", Assets: []PublishedAsset{{FileName: "a.mp4"}}})
	assert.ErrorIs(t, err, ErrNoAdsCreated)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Failed)
}
