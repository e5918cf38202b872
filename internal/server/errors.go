package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/service/ads"
	"github.com/ifuryst/reelwave/internal/service/approval"
	"github.com/ifuryst/reelwave/internal/service/integrity"
	"github.com/ifuryst/reelwave/internal/service/pipeline"
	"github.com/ifuryst/reelwave/internal/service/store"
)

func statusFor(err error) int {
	var precondition *pipeline.PreconditionError
	var upload *ads.UploadError
	switch {
	case errors.As(err, &precondition):
		return http.StatusBadRequest
	case errors.Is(err, integrity.ErrViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStatusRegression),
		errors.Is(err, store.ErrScriptsExist),
		errors.Is(err, store.ErrCountMismatch),
		errors.Is(err, approval.ErrNothingToReview),
		errors.Is(err, approval.ErrAlreadySent):
		return http.StatusConflict
	case errors.Is(err, approval.ErrInvalidDecision),
		errors.Is(err, ads.ErrUnknownMarket),
		errors.Is(err, ads.ErrMarketConfig),
		errors.Is(err, ads.ErrInvalidAsset):
		return http.StatusBadRequest
	case errors.Is(err, approval.ErrQueueFull), errors.Is(err, approval.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &upload) && upload.Kind == ads.KindResumable:
		return http.StatusGatewayTimeout
	case errors.As(err, &upload),
		errors.Is(err, ads.ErrMissingMediaID),
		errors.Is(err, ads.ErrNoAdsCreated),
		errors.Is(err, pipeline.ErrNoFootage),
		errors.Is(err, pipeline.ErrRunFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the hard-failure response. Integrity violations and upload
// failures carry their details.
func errorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}

	var violation *integrity.Violation
	if errors.As(err, &violation) {
		body["violation"] = violation
	}

	var upload *ads.UploadError
	if errors.As(err, &upload) {
		body["kind"] = upload.Kind
		body["file_name"] = upload.FileName
	}
	return body
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, errorBody(err))
}
