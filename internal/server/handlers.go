package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/service"
	"github.com/ifuryst/reelwave/internal/service/approval"
	"github.com/ifuryst/reelwave/internal/service/pipeline"
	"github.com/ifuryst/reelwave/internal/service/slack"
)

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// runBody is the partial-outcome shape of a rendering run
func runBody(result *pipeline.RunResult) gin.H {
	return gin.H{
		"batch_id":        result.BatchID,
		"folder":          result.Folder,
		"items":           result.Items,
		"succeeded":       result.Succeeded(),
		"failed":          result.Failed,
		"rendered":        result.Rendered,
		"skipped":         result.Skipped,
		"videos_complete": result.VideosComplete,
	}
}

type loginRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if !s.Auth.Enabled() {
		c.JSON(http.StatusOK, gin.H{"message": "Authentication is disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !s.Auth.ValidateToken(req.Token) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	session := s.Auth.CreateSession()
	c.SetCookie(service.SessionCookie, session, 12*3600, "/", "", s.Config.Server.CertFile != "", true)
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "token": session})
}

func (s *Server) handleGenerateBatch(c *gin.Context) {
	var req service.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := s.Generator.Generate(c.Request.Context(), req)
	if err != nil {
		body := errorBody(err)
		if resp != nil {
			if resp.Render != nil {
				for k, v := range runBody(resp.Render) {
					body[k] = v
				}
			}
			body["batch_id"] = resp.BatchID
			body["status"] = resp.Status
		}
		c.JSON(statusFor(err), body)
		return
	}

	body := runBody(resp.Render)
	body["batch_id"] = resp.BatchID
	body["status"] = resp.Status
	body["approval_mode"] = resp.ApprovalMode
	body["approval"] = resp.Approval
	if resp.ApprovalError != "" {
		body["approval_error"] = resp.ApprovalError
	}
	if resp.SheetError != "" {
		body["sheet_error"] = resp.SheetError
	}
	c.JSON(http.StatusCreated, body)
}

func (s *Server) handleListBatches(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 200)
	}

	batches, err := s.Store.RecentBatches(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	batch, err := s.Store.GetBatchWithScripts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch})
}

func (s *Server) handleValidateBatch(c *gin.Context) {
	if err := s.Approvals.Validate(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

type renderRequest struct {
	Footage []pipeline.FootageRef `json:"footage"`
	pipeline.Options
}

func (s *Server) handleRenderBatch(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Renderer.RenderBatch(c.Request.Context(), pipeline.RenderRequest{
		BatchID: c.Param("id"),
		Footage: req.Footage,
		Options: req.Options,
	})
	s.respondRun(c, result, err)
}

func (s *Server) handleUploadFootage(c *gin.Context) {
	var req pipeline.FootageUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Renderer.UploadFootage(c.Request.Context(), req)
	s.respondRun(c, result, err)
}

// respondRun keeps the per-item results even when the whole run failed
func (s *Server) respondRun(c *gin.Context, result *pipeline.RunResult, err error) {
	if err != nil {
		if result == nil {
			s.respondError(c, err)
			return
		}
		body := runBody(result)
		body["error"] = err.Error()
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, runBody(result))
}

type approvalRequest struct {
	DelayMinutes *int `json:"delay_minutes"`
}

func (s *Server) handleScheduleApproval(c *gin.Context) {
	var req approvalRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	delay := s.Config.Approval.DefaultDelayMin
	if req.DelayMinutes != nil {
		delay = *req.DelayMinutes
	}
	if delay < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "delay_minutes must not be negative"})
		return
	}

	dispatch, err := s.Approvals.ScheduleApproval(c.Request.Context(), c.Param("id"), delay)
	if err != nil {
		s.respondError(c, err)
		return
	}

	status := http.StatusOK
	if dispatch.Mode == approval.DispatchDelayed {
		status = http.StatusAccepted
	}
	c.JSON(status, dispatch)
}

// maxWebhookBody bounds what the signature middleware reads into memory
const maxWebhookBody = 1 << 20

// slackSignatureMiddleware rejects requests whose X-Slack-Signature does not
// match the body under the signing secret, or whose timestamp is stale
func (s *Server) slackSignatureMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		if err := slack.VerifyRequest(c.Request.Header, body, s.Config.Slack.SigningSecret); err != nil {
			s.Logger.Warn("Rejected unsigned approval webhook", zap.String("client_ip", c.ClientIP()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid request signature"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// handleApprovalWebhook acknowledges a Slack button press before the decision
// is persisted
func (s *Server) handleApprovalWebhook(c *gin.Context) {
	payload := c.PostForm("payload")
	if payload == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
		return
	}
	decision, err := slack.ParseInteraction(payload)
	if err != nil {
		badRequest(c, err)
		return
	}
	s.submitDecision(c, decision)
}

// handleSubmitDecision takes a decision from an operator instead of Slack
func (s *Server) handleSubmitDecision(c *gin.Context) {
	var decision approval.DecisionInput
	if err := c.ShouldBindJSON(&decision); err != nil {
		badRequest(c, err)
		return
	}
	s.submitDecision(c, decision)
}

func (s *Server) submitDecision(c *gin.Context, decision approval.DecisionInput) {
	if err := s.Approvals.SubmitDecision(decision); err != nil {
		if !errors.Is(err, approval.ErrInvalidDecision) {
			s.Logger.Warn("Decision not queued", zap.String("batch", decision.BatchName), zap.Error(err))
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
