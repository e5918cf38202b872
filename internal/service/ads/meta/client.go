package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/service/ads"
)

// APIError is the error object returned by the Graph API
type APIError struct {
	StatusCode  int    `json:"-"`
	Message     string `json:"message"`
	Type        string `json:"type"`
	Code        int    `json:"code"`
	Subcode     int    `json:"error_subcode"`
	IsTransient bool   `json:"is_transient"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error %d (%s, http %d): %s", e.Code, e.Type, e.StatusCode, e.Message)
}

// Transient reports whether retrying the same request may succeed.
// Codes 1, 2, 4, 17 and 341 are the platform's temporary and throttling errors.
func (e *APIError) Transient() bool {
	if e.IsTransient || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	switch e.Code {
	case 1, 2, 4, 17, 341:
		return true
	}
	return false
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// Client talks to the Graph marketing API
type Client struct {
	cfg    *config.AdsConfig
	client *http.Client
	logger *zap.Logger
}

func NewClient(cfg *config.AdsConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		// request deadlines come from the caller's context
		client: &http.Client{},
		logger: logger.With(zap.String("component", "meta")),
	}
}

var _ ads.Platform = (*Client)(nil)

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.APIVersion, strings.TrimLeft(path, "/"))
}

func (c *Client) account() string {
	if strings.HasPrefix(c.cfg.AdAccountID, "act_") {
		return c.cfg.AdAccountID
	}
	return "act_" + c.cfg.AdAccountID
}

// postForm sends a form-encoded POST and decodes the JSON reply into out
func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	form.Set("access_token", c.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

// postMultipart sends fields plus one file part. The body is streamed from
// file as the request is written.
func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, fileField, fileName string, file io.Reader, out interface{}) error {
	fields["access_token"] = c.cfg.AccessToken

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(writer, fields, fileField, fileName, file))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), pr)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	err = c.do(req, out)
	// unblock the writer if the transport stopped reading early
	pr.CloseWithError(io.ErrClosedPipe)
	return err
}

func writeMultipart(writer *multipart.Writer, fields map[string]string, fileField, fileName string, file io.Reader) error {
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write form field: %w", err)
		}
	}
	part, err := writer.CreateFormFile(fileField, fileName)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.StatusCode = resp.StatusCode
		return envelope.Error
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type idResponse struct {
	ID string `json:"id"`
}

// UploadVideo sends the whole file in one multipart request
func (c *Client) UploadVideo(ctx context.Context, name string, r io.Reader) (string, error) {
	var resp idResponse
	err := c.postMultipart(ctx, c.account()+"/advideos", map[string]string{"name": name}, "source", name, r, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

type uploadPhaseResponse struct {
	VideoID         string `json:"video_id"`
	UploadSessionID string `json:"upload_session_id"`
	StartOffset     string `json:"start_offset"`
	EndOffset       string `json:"end_offset"`
	Success         bool   `json:"success"`
}

// UploadVideoResumable runs the start, transfer and finish phases of a chunked
// upload session. The platform picks each chunk's offsets; r is read in order.
func (c *Client) UploadVideoResumable(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	path := c.account() + "/advideos"

	var start uploadPhaseResponse
	err := c.postForm(ctx, path, url.Values{
		"upload_phase": {"start"},
		"file_size":    {strconv.FormatInt(size, 10)},
	}, &start)
	if err != nil {
		return "", fmt.Errorf("failed to start upload session: %w", err)
	}
	if start.UploadSessionID == "" || start.VideoID == "" {
		return "", fmt.Errorf("upload session for %s returned no session or video id", name)
	}

	logger := c.logger.With(zap.String("file_name", name), zap.String("session_id", start.UploadSessionID))
	logger.Info("Upload session started", zap.Int64("size", size))

	maxChunk := int64(max(c.cfg.ChunkSizeMB, 1)) << 20
	startOffset, endOffset := start.StartOffset, start.EndOffset
	var sent int64
	for startOffset != endOffset {
		from, err := strconv.ParseInt(startOffset, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid start offset %q: %w", startOffset, err)
		}
		to, err := strconv.ParseInt(endOffset, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid end offset %q: %w", endOffset, err)
		}
		if from != sent || to <= from {
			return "", fmt.Errorf("unexpected chunk range %d-%d after %d bytes", from, to, sent)
		}

		length := min(to-from, maxChunk)
		chunk := make([]byte, length)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return "", fmt.Errorf("failed to read chunk at %d: %w", from, err)
		}

		var transfer uploadPhaseResponse
		err = c.postMultipart(ctx, path, map[string]string{
			"upload_phase":      "transfer",
			"upload_session_id": start.UploadSessionID,
			"start_offset":      startOffset,
		}, "video_file_chunk", name, bytes.NewReader(chunk), &transfer)
		if err != nil {
			return "", fmt.Errorf("failed to transfer chunk at %d: %w", from, err)
		}

		sent += length
		startOffset, endOffset = transfer.StartOffset, transfer.EndOffset
		logger.Debug("Chunk transferred", zap.Int64("sent", sent))
	}

	var finish uploadPhaseResponse
	err = c.postForm(ctx, path, url.Values{
		"upload_phase":      {"finish"},
		"upload_session_id": {start.UploadSessionID},
		"title":             {name},
	}, &finish)
	if err != nil {
		return "", fmt.Errorf("failed to finish upload session: %w", err)
	}
	if !finish.Success {
		return "", fmt.Errorf("upload session for %s did not finish", name)
	}

	logger.Info("Upload session finished", zap.String("video_id", start.VideoID))
	return start.VideoID, nil
}

func (c *Client) CreateCampaign(ctx context.Context, spec ads.CampaignSpec) (string, error) {
	var resp idResponse
	err := c.postForm(ctx, c.account()+"/campaigns", url.Values{
		"name":                  {spec.Name},
		"objective":             {spec.Objective},
		"status":                {spec.Status},
		"special_ad_categories": {"[]"},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

type copyResponse struct {
	CopiedAdSetID string `json:"copied_adset_id"`
	CopiedAdID    string `json:"copied_ad_id"`
}

// CloneAdSet copies the template ad set into the campaign, then sets its name
// and run window
func (c *Client) CloneAdSet(ctx context.Context, spec ads.AdSetSpec) (string, error) {
	var copied copyResponse
	err := c.postForm(ctx, spec.TemplateID+"/copies", url.Values{
		"campaign_id":   {spec.CampaignID},
		"deep_copy":     {"false"},
		"status_option": {spec.Status},
	}, &copied)
	if err != nil {
		return "", err
	}
	if copied.CopiedAdSetID == "" {
		return "", fmt.Errorf("copy of ad set %s returned no id", spec.TemplateID)
	}

	err = c.postForm(ctx, copied.CopiedAdSetID, url.Values{
		"name":       {spec.Name},
		"start_time": {spec.StartTime.Format(time.RFC3339)},
		"end_time":   {spec.EndTime.Format(time.RFC3339)},
	}, nil)
	if err != nil {
		return copied.CopiedAdSetID, fmt.Errorf("failed to update ad set %s: %w", copied.CopiedAdSetID, err)
	}
	return copied.CopiedAdSetID, nil
}

type callToAction struct {
	Type  string            `json:"type"`
	Value map[string]string `json:"value,omitempty"`
}

type videoData struct {
	VideoID      string        `json:"video_id"`
	Message      string        `json:"message,omitempty"`
	CallToAction *callToAction `json:"call_to_action,omitempty"`
}

type objectStorySpec struct {
	PageID    string    `json:"page_id"`
	VideoData videoData `json:"video_data"`
}

func (c *Client) CreateCreative(ctx context.Context, spec ads.CreativeSpec) (string, error) {
	story := objectStorySpec{
		PageID:    spec.PageID,
		VideoData: videoData{VideoID: spec.VideoID, Message: spec.Message},
	}
	if spec.CallToAction != "" {
		story.VideoData.CallToAction = &callToAction{Type: spec.CallToAction}
		if spec.LinkURL != "" {
			story.VideoData.CallToAction.Value = map[string]string{"link": spec.LinkURL}
		}
	}
	storyJSON, err := json.Marshal(story)
	if err != nil {
		return "", fmt.Errorf("failed to encode story spec: %w", err)
	}

	var resp idResponse
	err = c.postForm(ctx, c.account()+"/adcreatives", url.Values{
		"name":              {spec.Name},
		"object_story_spec": {string(storyJSON)},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CloneAd copies the template ad into the ad set and swaps in the creative
func (c *Client) CloneAd(ctx context.Context, spec ads.AdSpec) (string, error) {
	var copied copyResponse
	err := c.postForm(ctx, spec.TemplateID+"/copies", url.Values{
		"adset_id":      {spec.AdSetID},
		"status_option": {spec.Status},
	}, &copied)
	if err != nil {
		return "", err
	}
	if copied.CopiedAdID == "" {
		return "", fmt.Errorf("copy of ad %s returned no id", spec.TemplateID)
	}

	creative, err := json.Marshal(map[string]string{"creative_id": spec.CreativeID})
	if err != nil {
		return "", fmt.Errorf("failed to encode creative: %w", err)
	}
	err = c.postForm(ctx, copied.CopiedAdID, url.Values{
		"name":     {spec.Name},
		"creative": {string(creative)},
	}, nil)
	if err != nil {
		return copied.CopiedAdID, fmt.Errorf("failed to attach creative to ad %s: %w", copied.CopiedAdID, err)
	}
	return copied.CopiedAdID, nil
}
