package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/response"
)

type CreditService interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	ListTransactions(ctx context.Context, userID string, offset, limit int) ([]*models.CreditTransaction, int64, error)
}

type balanceResp struct {
	Balance int64 `json:"balance"`
}

// @Summary      Credit balance
// @Tags         Credits
// @Produce      json
// @Success      200  {object}  handlers.RespBalance
// @Router       /api/v1/credits/balance [get]
func ApiCreditBalance(svc CreditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := svc.GetBalance(c.Request.Context(), currentUserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(balanceResp{Balance: b}))
	}
}

// @Summary      Credit history
// @Description  The caller's ledger rows, most recent first.
// @Tags         Credits
// @Produce      json
// @Param        offset query int false "Offset"
// @Param        limit  query int false "Page size (max 200)"
// @Success      200  {object}  handlers.RespCreditTransactions
// @Router       /api/v1/credits/transactions [get]
func ApiCreditTransactions(svc CreditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		offset, limit := pagination(c)
		rows, total, err := svc.ListTransactions(c.Request.Context(), currentUserID(c), offset, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(Page[*models.CreditTransaction]{Items: rows, Total: total}))
	}
}

func RegisterCreditRoutes(r gin.IRouter, svc CreditService) {
	r.GET("/credits/balance", ApiCreditBalance(svc))
	r.GET("/credits/transactions", ApiCreditTransactions(svc))
}
