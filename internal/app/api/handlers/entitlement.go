package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/clipmeter/internal/app/service/entitlement"
	"github.com/fatflowers/clipmeter/pkg/response"
	"github.com/fatflowers/clipmeter/pkg/types"
)

type EntitlementService interface {
	GetStatus(ctx context.Context, userID, sessionID string) (*entitlement.Status, error)
	CanCreateVideo(ctx context.Context, userID string) (entitlement.Decision, error)
	DismissBanner(userID, sessionID string)
	HasFeature(ctx context.Context, userID string, feature types.Feature) (bool, error)
}

type PlanCatalog interface {
	All() []*types.Plan
	ByID(id types.PlanID) *types.Plan
}

// @Summary      Entitlement status
// @Description  Current plan, usage in the billing period, credit balance and whether a video can be created now.
// @Tags         Entitlement
// @Produce      json
// @Param        X-Session-ID header string false "Browser session id"
// @Success      200  {object}  handlers.RespEntitlementStatus
// @Router       /api/v1/entitlement/status [get]
func ApiEntitlementStatus(svc EntitlementService) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.GetStatus(c.Request.Context(), currentUserID(c), sessionID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(st))
	}
}

// @Summary      Can create video
// @Description  Fresh entitlement decision. Denials carry a reason and a code.
// @Tags         Entitlement
// @Produce      json
// @Success      200  {object}  handlers.RespDecision
// @Router       /api/v1/entitlement/can_create_video [post]
func ApiCanCreateVideo(svc EntitlementService) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.CanCreateVideo(c.Request.Context(), currentUserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(d))
	}
}

// @Summary      Dismiss upgrade banner
// @Description  Hides the upgrade banner for the calling session only.
// @Tags         Entitlement
// @Produce      json
// @Param        X-Session-ID header string true "Browser session id"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/entitlement/dismiss_banner [post]
func ApiDismissBanner(svc EntitlementService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := sessionID(c)
		if sid == "" {
			c.JSON(http.StatusOK, response.ErrorMsg(response.APIResponseCodeBadRequest, "missing "+SessionHeader+" header"))
			return
		}
		svc.DismissBanner(currentUserID(c), sid)
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

type featureResp struct {
	Feature types.Feature `json:"feature"`
	Enabled bool          `json:"enabled"`
}

// @Summary      Feature access
// @Tags         Entitlement
// @Produce      json
// @Param        feature_id path string true "Feature id"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/entitlement/feature/{feature_id} [get]
func ApiHasFeature(svc EntitlementService) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := types.Feature(c.Param("feature_id"))
		ok, err := svc.HasFeature(c.Request.Context(), currentUserID(c), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(featureResp{Feature: f, Enabled: ok}))
	}
}

// @Summary      Plan catalog
// @Tags         Entitlement
// @Produce      json
// @Success      200  {object}  handlers.RespPlans
// @Router       /api/v1/plans [get]
func ApiListPlans(plans PlanCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT(plans.All()))
	}
}

func RegisterPublicEntitlementRoutes(r gin.IRouter, plans PlanCatalog) {
	r.GET("/plans", ApiListPlans(plans))
}

func RegisterEntitlementRoutes(r gin.IRouter, svc EntitlementService) {
	r.GET("/entitlement/status", ApiEntitlementStatus(svc))
	r.POST("/entitlement/can_create_video", ApiCanCreateVideo(svc))
	r.POST("/entitlement/dismiss_banner", ApiDismissBanner(svc))
	r.GET("/entitlement/feature/:feature_id", ApiHasFeature(svc))
}
