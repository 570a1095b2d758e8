package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/clipmeter/internal/app/service/generation"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/response"
)

type VideoService interface {
	Create(ctx context.Context, req generation.CreateRequest) (*generation.CreateResult, error)
	HandleCallback(ctx context.Context, cb generation.Callback) (*models.Video, error)
	List(ctx context.Context, userID string, offset, limit int) ([]*models.Video, int64, error)
	Delete(ctx context.Context, userID, videoID string) error
}

type CreateVideoRequest struct {
	Prompt          string            `json:"prompt" binding:"required,max=2000"`
	ImageURL        string            `json:"image_url" binding:"omitempty,url"`
	DurationSeconds int               `json:"duration_seconds" binding:"required,gt=0,lte=60"`
	Options         map[string]string `json:"options"`
}

// @Summary      Create video
// @Description  Decides entitlement, reserves the video and submits it for rendering. A denial is returned in data with state "denied".
// @Tags         Videos
// @Accept       json
// @Produce      json
// @Param        X-Session-ID header string false "Browser session id"
// @Param        request body handlers.CreateVideoRequest true "Generation request"
// @Success      200  {object}  handlers.RespCreateVideo
// @Router       /api/v1/videos [post]
func ApiCreateVideo(svc VideoService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateVideoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.Create(c.Request.Context(), generation.CreateRequest{
			UserID:          currentUserID(c),
			SessionID:       sessionID(c),
			Prompt:          req.Prompt,
			ImageURL:        req.ImageURL,
			DurationSeconds: req.DurationSeconds,
			Options:         req.Options,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List videos
// @Tags         Videos
// @Produce      json
// @Param        offset query int false "Offset"
// @Param        limit  query int false "Page size (max 200)"
// @Success      200  {object}  handlers.RespVideos
// @Router       /api/v1/videos [get]
func ApiListVideos(svc VideoService) gin.HandlerFunc {
	return func(c *gin.Context) {
		offset, limit := pagination(c)
		rows, total, err := svc.List(c.Request.Context(), currentUserID(c), offset, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(Page[*models.Video]{Items: rows, Total: total}))
	}
}

// @Summary      Delete video
// @Description  Hides the video. It still counts toward the monthly quota.
// @Tags         Videos
// @Produce      json
// @Param        id path string true "Video id"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/videos/{id} [delete]
func ApiDeleteVideo(svc VideoService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// @Summary      Render callback
// @Description  Called by the renderer with the outcome of a job. Authenticated by the X-Render-Secret header.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        request body generation.Callback true "Render outcome"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/videos/render_callback [post]
func ApiRenderCallback(svc VideoService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cb generation.Callback
		if err := c.ShouldBindJSON(&cb); err != nil {
			badRequest(c, err)
			return
		}
		v, err := svc.HandleCallback(c.Request.Context(), cb)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]any{"id": v.ID, "status": v.Status}))
	}
}

func RegisterVideoRoutes(r gin.IRouter, svc VideoService) {
	r.POST("/videos", ApiCreateVideo(svc))
	r.GET("/videos", ApiListVideos(svc))
	r.DELETE("/videos/:id", ApiDeleteVideo(svc))
}

// RegisterRenderCallbackRoutes mounts the callback; r must already carry the shared-secret guard.
func RegisterRenderCallbackRoutes(r gin.IRouter, svc VideoService) {
	r.POST("/videos/render_callback", ApiRenderCallback(svc))
}
