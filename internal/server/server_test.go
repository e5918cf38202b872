package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service"
	"github.com/ifuryst/reelwave/internal/service/ads"
	"github.com/ifuryst/reelwave/internal/service/approval"
	"github.com/ifuryst/reelwave/internal/service/integrity"
	"github.com/ifuryst/reelwave/internal/service/pipeline"
	"github.com/ifuryst/reelwave/internal/service/store"
	"github.com/ifuryst/reelwave/internal/testutil"
)

type fakeGenerator struct {
	resp *service.GenerateResponse
	err  error
	got  *service.GenerateRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req service.GenerateRequest) (*service.GenerateResponse, error) {
	f.got = &req
	return f.resp, f.err
}

type fakeRenderer struct {
	result *pipeline.RunResult
	err    error
	render *pipeline.RenderRequest
	upload *pipeline.FootageUploadRequest
}

func (f *fakeRenderer) RenderBatch(_ context.Context, req pipeline.RenderRequest) (*pipeline.RunResult, error) {
	f.render = &req
	return f.result, f.err
}

func (f *fakeRenderer) UploadFootage(_ context.Context, req pipeline.FootageUploadRequest) (*pipeline.RunResult, error) {
	f.upload = &req
	return f.result, f.err
}

type fakeApprovals struct {
	dispatch  *approval.Dispatch
	err       error
	delay     int
	decisions []approval.DecisionInput
}

func (f *fakeApprovals) ScheduleApproval(_ context.Context, batchID string, delayMinutes int) (*approval.Dispatch, error) {
	f.delay = delayMinutes
	if f.err != nil {
		return nil, f.err
	}
	return f.dispatch, nil
}

func (f *fakeApprovals) Validate(_ context.Context, _ string) error {
	return f.err
}

func (f *fakeApprovals) SubmitDecision(d approval.DecisionInput) error {
	if f.err != nil {
		return f.err
	}
	f.decisions = append(f.decisions, d)
	return nil
}

type fakePublisher struct {
	upload   *ads.BatchUploadResult
	mediaID  string
	err      error
	campaign *ads.CampaignResult
}

func (f *fakePublisher) UploadBatch(_ context.Context, _ []ads.Asset) *ads.BatchUploadResult {
	return f.upload
}

func (f *fakePublisher) UploadRawResumable(_ context.Context, _ ads.Asset) (string, error) {
	return f.mediaID, f.err
}

func (f *fakePublisher) CreateCampaign(_ context.Context, _ ads.CampaignRequest) (*ads.CampaignResult, error) {
	return f.campaign, f.err
}

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type harness struct {
	srv       *Server
	store     *store.Store
	generator *fakeGenerator
	renderer  *fakeRenderer
	approvals *fakeApprovals
	publisher *fakePublisher
}

func newHarness(t *testing.T, authEnabled bool) *harness {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.Mode = gin.TestMode
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.TOTPSecret = "JBSWY3DPEHPK3PXP"
	cfg.Approval.DefaultDelayMin = 5
	cfg.Slack.SigningSecret = testSigningSecret

	h := &harness{
		store:     store.New(testutil.OpenDB(t), testutil.Logger()),
		generator: &fakeGenerator{},
		renderer:  &fakeRenderer{},
		approvals: &fakeApprovals{dispatch: &approval.Dispatch{Mode: approval.DispatchImmediate}},
		publisher: &fakePublisher{},
	}
	h.srv = New(cfg, Services{
		Store:     h.store,
		Auth:      service.NewAuthService(&cfg.Auth, testutil.Logger()),
		Generator: h.generator,
		Renderer:  h.renderer,
		Approvals: h.approvals,
		Publisher: h.publisher,
	}, testutil.Logger())
	return h
}

func (h *harness) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)
	w := h.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestGenerateBatch(t *testing.T) {
	h := newHarness(t, false)
	h.generator.resp = &service.GenerateResponse{
		BatchID:      "batch_1",
		Status:       models.BatchStatusSlackSent,
		ApprovalMode: approval.DispatchImmediate,
		Render:       &pipeline.RunResult{BatchID: "batch_1", Rendered: 2, Items: []pipeline.ItemResult{{Status: pipeline.ItemRendered}, {Status: pipeline.ItemRendered}}},
	}

	w := h.do(http.MethodPost, "/api/v1/batches", map[string]interface{}{
		"voice_id": "v1",
		"footage":  []map[string]string{{"id": "ft-1"}},
		"scripts":  []map[string]string{{"title": "A", "content": "a"}},
		"captions": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "batch_1", body["batch_id"])
	assert.Equal(t, "immediate", body["approval_mode"])
	assert.EqualValues(t, 2, body["succeeded"])
	assert.Len(t, body["items"], 2)

	require.NotNil(t, h.generator.got)
	assert.True(t, h.generator.got.Captions)
	assert.Equal(t, "ft-1", h.generator.got.Footage[0].ID)
}

func TestGenerateBatchHardFailureKeepsItems(t *testing.T) {
	h := newHarness(t, false)
	h.generator.resp = &service.GenerateResponse{
		BatchID: "batch_1",
		Status:  models.BatchStatusGenerating,
		Render:  &pipeline.RunResult{Failed: 1, Items: []pipeline.ItemResult{{Status: pipeline.ItemFailed, Error: "tts down"}}},
	}
	h.generator.err = pipeline.ErrRunFailed

	w := h.do(http.MethodPost, "/api/v1/batches", map[string]interface{}{})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Contains(t, body["error"], "every item")
	assert.Equal(t, "batch_1", body["batch_id"])
	assert.Equal(t, "generating", body["status"])
	assert.EqualValues(t, 1, body["failed"])
}

func TestGenerateBatchPrecondition(t *testing.T) {
	h := newHarness(t, false)
	h.generator.err = &pipeline.PreconditionError{Field: "footage", Reason: "must not be empty"}

	w := h.do(http.MethodPost, "/api/v1/batches", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAndListBatches(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	batch, err := h.store.CreateBatch(ctx, store.NewBatch{ScriptCount: 1, VoiceID: "v1"})
	require.NoError(t, err)
	_, err = h.store.AddScripts(ctx, batch.BatchID, []models.ScriptDraft{{Title: "A", Content: "a"}})
	require.NoError(t, err)

	w := h.do(http.MethodGet, "/api/v1/batches/"+batch.BatchID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)["batch"].(map[string]interface{})
	assert.Equal(t, batch.BatchID, got["batch_id"])

	w = h.do(http.MethodGet, "/api/v1/batches/batch_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodGet, "/api/v1/batches?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["batches"], 1)

	w = h.do(http.MethodGet, "/api/v1/batches?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateBatchViolation(t *testing.T) {
	h := newHarness(t, false)
	h.approvals.err = &integrity.Violation{Reason: "duplicate_title", BatchID: "batch_1", ScriptIndex: 1, Title: "A", Detail: "title duplicates item 0"}

	w := h.do(http.MethodGet, "/api/v1/batches/batch_1/validate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	violation := decode(t, w)["violation"].(map[string]interface{})
	assert.Equal(t, "batch_1", violation["batch_id"])
	assert.EqualValues(t, 1, violation["script_index"])
}

func TestRenderBatch(t *testing.T) {
	h := newHarness(t, false)
	h.renderer.result = &pipeline.RunResult{BatchID: "batch_1", Rendered: 1, Skipped: 1, Failed: 1}

	w := h.do(http.MethodPost, "/api/v1/batches/batch_1/render", map[string]interface{}{
		"footage": []map[string]string{{"id": "ft-1"}},
		"force":   true,
		"market":  "de",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["succeeded"])
	assert.EqualValues(t, 1, body["failed"])

	require.NotNil(t, h.renderer.render)
	assert.Equal(t, "batch_1", h.renderer.render.BatchID)
	assert.True(t, h.renderer.render.Options.Force)
	assert.Equal(t, "de", h.renderer.render.Options.Market)
}

func TestRenderNoFootageIsHardFailure(t *testing.T) {
	h := newHarness(t, false)
	h.renderer.err = pipeline.ErrNoFootage

	w := h.do(http.MethodPost, "/api/v1/batches/batch_1/render", map[string]interface{}{"footage": []map[string]string{{"id": "x"}}})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.NotContains(t, body, "items")
}

func TestUploadFootage(t *testing.T) {
	h := newHarness(t, false)
	h.renderer.result = &pipeline.RunResult{Rendered: 1}

	w := h.do(http.MethodPost, "/api/v1/footage/upload", map[string]interface{}{
		"folder_name": "raw",
		"footage":     []map[string]string{{"id": "ft-1", "name": "beach"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, h.renderer.upload)
	assert.Equal(t, "raw", h.renderer.upload.FolderName)
}

func TestScheduleApproval(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(http.MethodPost, "/api/v1/batches/batch_1/approval", map[string]int{"delay_minutes": 0})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, h.approvals.delay)

	h.approvals.dispatch = &approval.Dispatch{Mode: approval.DispatchDelayed}
	w = h.do(http.MethodPost, "/api/v1/batches/batch_1/approval", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 5, h.approvals.delay)

	w = h.do(http.MethodPost, "/api/v1/batches/batch_1/approval", map[string]int{"delay_minutes": -2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.approvals.err = approval.ErrNothingToReview
	w = h.do(http.MethodPost, "/api/v1/batches/batch_1/approval", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSubmitDecisionRequiresSession(t *testing.T) {
	h := newHarness(t, true)
	decision := approval.DecisionInput{BatchName: "batch_1", ItemNumber: 2, Approved: true}

	w := h.do(http.MethodPost, "/api/v1/decisions", decision)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, h.approvals.decisions)

	raw, _ := json.Marshal(decision)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/decisions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: service.SessionCookie, Value: h.srv.Auth.CreateSession()})
	rec := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.approvals.decisions, 1)
	assert.Equal(t, 2, h.approvals.decisions[0].ItemNumber)
}

const slackPayload = `{"type":"block_actions","user":{"id":"U1"},"container":{"channel_id":"C1","message_ts":"1.2"},` +
	`"actions":[{"action_id":"reject","block_id":"item_3","type":"button","value":"batch_1|3|file-3"}]}`

func signSlack(secret string, ts int64, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%d:%s", ts, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// postSlack sends a form post signed with secret at timestamp ts
func (h *harness) postSlack(secret string, ts int64, payload string) *httptest.ResponseRecorder {
	body := url.Values{"payload": {payload}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/approval", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Slack-Signature", signSlack(secret, ts, body))
	w := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(w, req)
	return w
}

func TestApprovalWebhookSlackForm(t *testing.T) {
	h := newHarness(t, true)

	w := h.postSlack(testSigningSecret, time.Now().Unix(), slackPayload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, h.approvals.decisions, 1)
	d := h.approvals.decisions[0]
	assert.Equal(t, "batch_1", d.BatchName)
	assert.Equal(t, 3, d.ItemNumber)
	assert.False(t, d.Approved)
	assert.Equal(t, "1.2", d.MessageTS)
	assert.Equal(t, "U1", d.ReviewerID)
}

func TestApprovalWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t, false)

	w := h.postSlack("wrong-secret", time.Now().Unix(), slackPayload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.postSlack(testSigningSecret, time.Now().Add(-10*time.Minute).Unix(), slackPayload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// unsigned JSON is no longer accepted on the Slack route
	w = h.do(http.MethodPost, "/api/v1/webhooks/approval", approval.DecisionInput{BatchName: "batch_1", ItemNumber: 2})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	h.srv.Config.Slack.SigningSecret = ""
	w = h.postSlack("", time.Now().Unix(), slackPayload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Empty(t, h.approvals.decisions)
}

func TestApprovalWebhookErrors(t *testing.T) {
	h := newHarness(t, false)
	now := time.Now().Unix()

	h.approvals.err = approval.ErrQueueFull
	w := h.postSlack(testSigningSecret, now, slackPayload)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = h.postSlack(testSigningSecret, now, `{"type":"view_submission"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.approvals.err = approval.ErrInvalidDecision
	w = h.do(http.MethodPost, "/api/v1/decisions", approval.DecisionInput{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperatorRoutesRequireSession(t *testing.T) {
	h := newHarness(t, true)

	w := h.do(http.MethodGet, "/api/v1/batches", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"token": "000000"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	session := h.srv.Auth.CreateSession()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil)
	req.AddCookie(&http.Cookie{Name: service.SessionCookie, Value: session})
	rec := httptest.NewRecorder()
	h.srv.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishUploads(t *testing.T) {
	h := newHarness(t, false)
	h.publisher.upload = &ads.BatchUploadResult{
		Items:     []ads.UploadOutcome{{Index: 0, MediaID: "m1"}, {Index: 1, Error: "boom", Kind: ads.KindPermanent}},
		Succeeded: 1,
		Failed:    1,
	}

	w := h.do(http.MethodPost, "/api/v1/publish/uploads", map[string]interface{}{
		"assets": []ads.Asset{{FileName: "a.mp4", FileID: "f1"}, {FileName: "b.mp4", FileID: "f2"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["succeeded"])
	assert.EqualValues(t, 1, body["failed"])

	h.publisher.upload = &ads.BatchUploadResult{Items: []ads.UploadOutcome{{Error: "boom"}}, Failed: 1}
	w = h.do(http.MethodPost, "/api/v1/publish/uploads", map[string]interface{}{"assets": []ads.Asset{{FileName: "a.mp4", FileID: "f1"}}})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = h.do(http.MethodPost, "/api/v1/publish/uploads", map[string]interface{}{"assets": []ads.Asset{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishResumable(t *testing.T) {
	h := newHarness(t, false)
	h.publisher.mediaID = "m-9"

	w := h.do(http.MethodPost, "/api/v1/publish/uploads/resumable", ads.Asset{FileName: "a.mp4", FileID: "f1", SizeBytes: 10})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "m-9", decode(t, w)["media_id"])

	h.publisher.err = &ads.UploadError{Kind: ads.KindTransient, FileName: "a.mp4", Err: errors.New("reset")}
	w = h.do(http.MethodPost, "/api/v1/publish/uploads/resumable", ads.Asset{FileName: "a.mp4", FileID: "f1", SizeBytes: 10})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "a.mp4", decode(t, w)["file_name"])
}

func TestPublishCampaign(t *testing.T) {
	h := newHarness(t, false)
	h.publisher.campaign = &ads.CampaignResult{
		CampaignID: "c1",
		Ads:        []ads.AdResult{{Index: 0, AdID: "ad1"}, {Index: 1, Error: "no media"}},
		Succeeded:  1,
		Failed:     1,
	}

	w := h.do(http.MethodPost, "/api/v1/publish/campaigns", ads.CampaignRequest{Market: "us", Assets: []ads.PublishedAsset{{MediaID: "m1"}, {}}})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["succeeded"])
	assert.Len(t, body["items"], 2)

	h.publisher.campaign = nil
	h.publisher.err = ads.ErrUnknownMarket
	w = h.do(http.MethodPost, "/api/v1/publish/campaigns", ads.CampaignRequest{Market: "zz"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishDisabled(t *testing.T) {
	h := newHarness(t, false)
	h.srv.Publisher = nil

	w := h.do(http.MethodPost, "/api/v1/publish/campaigns", ads.CampaignRequest{Market: "us"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
