package ads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"
)

var (
	ErrMissingMediaID = errors.New("asset has no remote media id")
	ErrUnknownMarket  = errors.New("unknown market")
	ErrMarketConfig   = errors.New("market is not fully configured")
	ErrInvalidAsset   = errors.New("invalid asset")
	ErrNoAdsCreated   = errors.New("no ads were created")
)

const StatusPaused = "PAUSED"

type ErrorKind string

const (
	// KindTransient may succeed if the same call is retried
	KindTransient ErrorKind = "transient"
	// KindResumable timed out on the single-request path; retry with the resumable upload
	KindResumable ErrorKind = "resumable"
	// KindPermanent was rejected and must not be retried as is
	KindPermanent ErrorKind = "permanent"
)

// UploadError carries the retry signal for a failed media upload
type UploadError struct {
	Kind     ErrorKind
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed (%s): %v", e.FileName, e.Kind, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// transientError is implemented by platform errors that know whether a retry may help
type transientError interface {
	Transient() bool
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindResumable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindResumable
	}
	var te transientError
	if errors.As(err, &te) {
		if te.Transient() {
			return KindTransient
		}
		return KindPermanent
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransient
	}
	return KindPermanent
}

// Asset is a finished video in remote storage, ready to be sent to the ads platform
type Asset struct {
	FileName  string `json:"file_name"`
	FileID    string `json:"file_id"`
	SizeBytes int64  `json:"size_bytes"`
}

func (a Asset) validate() error {
	if strings.TrimSpace(a.FileName) == "" {
		return fmt.Errorf("%w: file name is required", ErrInvalidAsset)
	}
	if strings.TrimSpace(a.FileID) == "" {
		return fmt.Errorf("%w: file id is required", ErrInvalidAsset)
	}
	if a.SizeBytes < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidAsset)
	}
	return nil
}

// PublishedAsset is an asset already in the platform's media library
type PublishedAsset struct {
	FileName string `json:"file_name"`
	MediaID  string `json:"media_id"`
}

// MediaSource opens finished assets for reading
type MediaSource interface {
	Open(ctx context.Context, fileID string) (io.ReadCloser, error)
}

type CampaignSpec struct {
	Name      string
	Objective string
	Status    string
}

type AdSetSpec struct {
	TemplateID string
	CampaignID string
	Name       string
	Status     string
	StartTime  time.Time
	EndTime    time.Time
}

type CreativeSpec struct {
	Name         string
	PageID       string
	VideoID      string
	Message      string
	CallToAction string
	LinkURL      string
}

type AdSpec struct {
	TemplateID string
	AdSetID    string
	CreativeID string
	Name       string
	Status     string
}

// Platform is the ads platform API
type Platform interface {
	UploadVideo(ctx context.Context, name string, r io.Reader) (string, error)
	UploadVideoResumable(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error)
	CloneAdSet(ctx context.Context, spec AdSetSpec) (string, error)
	CreateCreative(ctx context.Context, spec CreativeSpec) (string, error)
	CloneAd(ctx context.Context, spec AdSpec) (string, error)
}

// UploadOutcome is the result for one asset of UploadBatch
type UploadOutcome struct {
	Index    int       `json:"index"`
	FileName string    `json:"file_name"`
	MediaID  string    `json:"media_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	Kind     ErrorKind `json:"kind,omitempty"`
}

type BatchUploadResult struct {
	Items     []UploadOutcome `json:"items"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

type CampaignRequest struct {
	Market string           `json:"market"`
	Name   string           `json:"name"`
	Assets []PublishedAsset `json:"assets"`
}

type AdResult struct {
	Index      int    `json:"index"`
	FileName   string `json:"file_name"`
	MediaID    string `json:"media_id"`
	CreativeID string `json:"creative_id,omitempty"`
	AdID       string `json:"ad_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type CampaignResult struct {
	CampaignID string     `json:"campaign_id"`
	AdSetID    string     `json:"adset_id,omitempty"`
	Market     string     `json:"market"`
	Name       string     `json:"name"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time"`
	Ads        []AdResult `json:"ads"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
}
