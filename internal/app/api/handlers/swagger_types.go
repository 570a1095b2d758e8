package handlers

import (
	"github.com/fatflowers/clipmeter/internal/app/service/entitlement"
	"github.com/fatflowers/clipmeter/internal/app/service/generation"
	"github.com/fatflowers/clipmeter/internal/app/service/gift"
	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/internal/app/service/statistics"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/internal/platform/stripeapi"
	"github.com/fatflowers/clipmeter/pkg/response"
	"github.com/fatflowers/clipmeter/pkg/types"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespEntitlementStatus struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    entitlement.Status       `json:"data"`
}

type RespDecision struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    entitlement.Decision     `json:"data"`
}

type RespPlans struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []types.Plan             `json:"data"`
}

type RespBalance struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    balanceResp              `json:"data"`
}

type RespCreditTransactions struct {
	Code    response.APIResponseCode        `json:"code"`
	Message string                          `json:"message"`
	Data    Page[*models.CreditTransaction] `json:"data"`
}

type RespCreateVideo struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    generation.CreateResult  `json:"data"`
}

type RespVideos struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    Page[*models.Video]      `json:"data"`
}

type RespCheckout struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    stripeapi.CheckoutSession `json:"data"`
}

type RespGift struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    gift.Result              `json:"data"`
}

type RespUsers struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    Page[*UserItem]          `json:"data"`
}

type RespReconciliation struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ledger.Reconciliation    `json:"data"`
}

type RespStatistic struct {
	Code    response.APIResponseCode      `json:"code"`
	Message string                        `json:"message"`
	Data    statistics.StatisticResponse  `json:"data"`
}
