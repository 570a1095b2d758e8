package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/app/api/middleware"
	"github.com/fatflowers/clipmeter/internal/platform/stripeapi"
	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/response"
	"github.com/fatflowers/clipmeter/pkg/types"
)

type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req stripeapi.CheckoutRequest) (*stripeapi.CheckoutSession, error)
}

type StripeWebhookHandler interface {
	HandleStripe(ctx context.Context, payload []byte, signature string) error
}

type CheckoutRequest struct {
	Kind   string `json:"kind" binding:"required,checkout_kind"`
	ItemID string `json:"item_id" binding:"required"`
}

// @Summary      Create checkout
// @Description  Starts a hosted checkout for a subscription plan or a credit pack.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        request body handlers.CheckoutRequest true "Checkout request"
// @Success      200  {object}  handlers.RespCheckout
// @Router       /api/v1/payment/checkout [post]
func ApiCreateCheckout(creator CheckoutCreator, plans PlanCatalog, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		kind := stripeapi.CheckoutKind(req.Kind)
		var priceID string
		switch kind {
		case stripeapi.CheckoutKindSubscription:
			if p := plans.ByID(types.PlanID(req.ItemID)); p != nil {
				priceID = p.PriceID
			}
		case stripeapi.CheckoutKindCreditPack:
			if p := cfg.GetCreditPackByID(req.ItemID); p != nil {
				priceID = p.PriceID
			}
		}
		if priceID == "" {
			c.JSON(http.StatusOK, response.ErrorMsg(response.APIResponseCodeNotFound, "unknown item "+req.ItemID))
			return
		}

		sess, err := creator.CreateCheckout(c.Request.Context(), stripeapi.CheckoutRequest{
			UserID:  currentUserID(c),
			Email:   c.GetString(middleware.EmailKey),
			Kind:    kind,
			ItemID:  req.ItemID,
			PriceID: priceID,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sess))
	}
}

// @Summary      Stripe webhook
// @Description  Receives Stripe events. The Stripe-Signature header is verified against the raw body.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v2/payment/webhook/stripe [post]
func ApiStripeWebhook(h StripeWebhookHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		lg := logctx.FromGin(c, zap.S())
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			badRequest(c, err)
			return
		}
		if err := h.HandleStripe(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
			if errorCode(err) == response.APIResponseCodeBadRequest {
				c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, nil))
				return
			}
			lg.Errorw("webhook_stripe_handle_error", "error", err.Error())
			// non-2xx makes Stripe redeliver
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterPaymentRoutes(r gin.IRouter, creator CheckoutCreator, plans PlanCatalog, cfg *config.Config) {
	r.POST("/payment/checkout", ApiCreateCheckout(creator, plans, cfg))
}

func RegisterPaymentWebhookRoutes(r gin.IRouter, h StripeWebhookHandler) {
	r.POST("/webhook/stripe", ApiStripeWebhook(h))
}
