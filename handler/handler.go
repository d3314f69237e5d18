package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-pipeline/capture"
	"media-pipeline/constant"
	"media-pipeline/dto"
	"media-pipeline/errclass"
	"media-pipeline/pipeline"
	"media-pipeline/uploader"
)

// Handler binds the pipeline coordinator to the HTTP surface. Submissions
// run asynchronously; callers poll /pipeline/status.
type Handler struct {
	coord *pipeline.Coordinator
	// baseCtx carries the process logger into background runs that must
	// outlive their originating request.
	baseCtx context.Context
}

func New(coord *pipeline.Coordinator, baseCtx context.Context) *Handler {
	return &Handler{coord: coord, baseCtx: baseCtx}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/pipeline/status", h.status)
	r.GET("/pipeline/thumbnail", h.thumbnail)
	r.POST("/pipeline/select", h.selectFile)
	r.POST("/pipeline/submit", h.submit)
	r.POST("/pipeline/cancel", h.cancel)
	r.POST("/pipeline/reset", h.reset)
	r.POST("/capture/preview/start", h.startPreview)
	r.POST("/capture/preview/switch", h.switchFacing)
	r.POST("/capture/record/start", h.startRecording)
	r.POST("/capture/record/stop", h.stopRecording)
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.Status())
}

func (h *Handler) thumbnail(c *gin.Context) {
	frame, err := h.coord.Thumbnail(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.Data(http.StatusOK, frame.MimeType, frame.Data)
}

func (h *Handler) selectFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, constant.AbsoluteUploadCeilingBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}

	asset := dto.NewMediaAsset(data, fileHeader.Header.Get("Content-Type"), constant.AssetOriginPicked)
	if err := h.coord.Select(c.Request.Context(), asset); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.coord.Status())
}

func (h *Handler) submit(c *gin.Context) {
	userId, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	go func() {
		if err := h.coord.Submit(h.baseCtx, userId); err != nil {
			zerolog.Ctx(h.baseCtx).Error().Err(err).Str("user_id", userId.String()).Msg("pipeline run failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "submitted"})
}

func (h *Handler) cancel(c *gin.Context) {
	h.coord.Cancel(c.Request.Context())
	c.JSON(http.StatusOK, h.coord.Status())
}

func (h *Handler) reset(c *gin.Context) {
	if err := h.coord.Reset(c.Request.Context()); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.coord.Status())
}

func (h *Handler) startPreview(c *gin.Context) {
	facing := constant.FacingMode(c.DefaultQuery("facing", string(constant.FacingModeUser)))
	if facing != constant.FacingModeUser && facing != constant.FacingModeEnvironment {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid facing mode"})
		return
	}
	// Capture sessions outlive the request; the request context is cancelled
	// the moment the handler returns, which would tear down the device.
	if err := h.coord.StartPreview(h.baseCtx, facing); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.coord.Status())
}

func (h *Handler) switchFacing(c *gin.Context) {
	if err := h.coord.SwitchFacing(h.baseCtx); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.coord.Status())
}

func (h *Handler) startRecording(c *gin.Context) {
	if err := h.coord.StartRecording(h.baseCtx); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.coord.Status())
}

func (h *Handler) stopRecording(c *gin.Context) {
	if err := h.coord.StopRecording(c.Request.Context()); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.coord.Status())
}

func (h *Handler) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := ""
	switch {
	case errors.Is(err, pipeline.ErrRunInFlight):
		status, message = http.StatusConflict, "An upload is already in progress."
	case errors.Is(err, capture.ErrSwitchWhileRecording):
		status, message = http.StatusConflict, "Cannot switch camera while recording."
	case errors.Is(err, pipeline.ErrInvalidType):
		status, message = http.StatusBadRequest, "That file type is not supported. Upload an mp4, webm or mov video."
	case errors.Is(err, pipeline.ErrNothingStaged), errors.Is(err, capture.ErrNoActiveStream):
		status, message = http.StatusBadRequest, "Nothing to do. Select a file or start a recording first."
	case errors.Is(err, pipeline.ErrTooLarge), errors.Is(err, uploader.ErrFileTooLarge):
		status, message = http.StatusRequestEntityTooLarge, "File is too large to upload. Try a shorter video."
	case errors.Is(err, capture.ErrCameraUnavailable):
		status, message = http.StatusServiceUnavailable, "Camera unavailable. Check permissions and try again."
	default:
		info := errclass.Classify(err)
		message = info.UserMessage
		switch info.Category {
		case errclass.CategoryValidation:
			status = http.StatusBadRequest
		case errclass.CategoryAuthentication:
			status = http.StatusUnauthorized
		case errclass.CategoryRateLimit:
			status = http.StatusTooManyRequests
		case errclass.CategoryTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	c.JSON(status, gin.H{"error": message, "category": errclass.Classify(err).Category})
}
