package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ifuryst/reelwave/internal/service/ads"
)

type uploadBatchRequest struct {
	Assets []ads.Asset `json:"assets" binding:"required"`
}

func (s *Server) publisherReady(c *gin.Context) bool {
	if s.Publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ads platform is not configured"})
		return false
	}
	return true
}

func (s *Server) handleUploadBatch(c *gin.Context) {
	if !s.publisherReady(c) {
		return
	}
	var req uploadBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Assets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assets must not be empty"})
		return
	}

	result := s.Publisher.UploadBatch(c.Request.Context(), req.Assets)
	status := http.StatusOK
	if result.Succeeded == 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

func (s *Server) handleUploadResumable(c *gin.Context) {
	if !s.publisherReady(c) {
		return
	}
	var asset ads.Asset
	if err := c.ShouldBindJSON(&asset); err != nil {
		badRequest(c, err)
		return
	}

	mediaID, err := s.Publisher.UploadRawResumable(c.Request.Context(), asset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ads.PublishedAsset{FileName: asset.FileName, MediaID: mediaID})
}

func (s *Server) handleCreateCampaign(c *gin.Context) {
	if !s.publisherReady(c) {
		return
	}
	var req ads.CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.Publisher.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		body := errorBody(err)
		if result != nil {
			body["campaign"] = result
			body["items"] = result.Ads
			body["succeeded"] = result.Succeeded
			body["failed"] = result.Failed
		}
		c.JSON(statusFor(err), body)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"campaign":  result,
		"items":     result.Ads,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
}
