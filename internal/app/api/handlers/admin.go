package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/fatflowers/clipmeter/internal/app/service/gift"
	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/internal/app/service/statistics"
	"github.com/fatflowers/clipmeter/internal/app/service/user"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/response"
	"github.com/fatflowers/clipmeter/pkg/types"
)

type GiftService interface {
	GiftCredits(ctx context.Context, req gift.Request, operator string) (*gift.Result, error)
}

type UserDirectory interface {
	List(ctx context.Context, req user.ListRequest) ([]*models.User, int64, error)
}

type LedgerAdmin interface {
	ListFiltered(ctx context.Context, filters types.FiltersAnd, offset, limit int) ([]*models.CreditTransaction, int64, error)
	Reconcile(ctx context.Context, userID string) (*ledger.Reconciliation, error)
}

type StatisticService interface {
	GetDailyStatistic(ctx context.Context, req *statistics.StatisticRequest) (*statistics.StatisticResponse, error)
}

// @Summary      Gift credits (Admin)
// @Description  Grants credits to the user registered under an email address and emails them.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body gift.Request true "Gift request"
// @Success      200  {object}  handlers.RespGift
// @Router       /api/v1/admin/gift_credits [post]
func ApiGiftCredits(svc GiftService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req gift.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.GiftCredits(c.Request.Context(), req, currentUserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type UserItem struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Credits   int64     `json:"credits"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// @Summary      List users (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body user.ListRequest true "Pagination and email search"
// @Success      200  {object}  handlers.RespUsers
// @Router       /api/v1/admin/list_users [post]
func ApiListUsers(users UserDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req user.ListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		rows, total, err := users.List(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		items := lo.Map(rows, func(u *models.User, _ int) *UserItem {
			return &UserItem{ID: u.ID, Email: u.Email, Credits: u.CreditBalance, IsAdmin: u.IsAdmin, CreatedAt: u.CreatedAt}
		})
		c.JSON(http.StatusOK, response.OKT(Page[*UserItem]{Items: items, Total: total}))
	}
}

type ListCreditTransactionsRequest struct {
	Filters []*types.CommonFilter `json:"filters"`
	From    int                   `json:"from" binding:"min=0"`
	Size    int                   `json:"size" binding:"omitempty,min=1,max=200"`
}

// filterable columns of credit_transactions
var creditTransactionFields = []string{"user_id", "kind", "reference_id", "created_at", "amount"}

// @Summary      List credit transactions (Admin)
// @Description  Filterable ledger listing across users, most recent first.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.ListCreditTransactionsRequest true "Filters and pagination"
// @Success      200  {object}  handlers.RespCreditTransactions
// @Router       /api/v1/admin/list_credit_transactions [post]
func ApiListCreditTransactions(l LedgerAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListCreditTransactionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		for _, f := range req.Filters {
			if f == nil || !lo.Contains(creditTransactionFields, f.Field) {
				badRequest(c, fmt.Errorf("unsupported filter field"))
				return
			}
		}
		rows, total, err := l.ListFiltered(c.Request.Context(), types.FiltersAnd(req.Filters), req.From, req.Size)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(Page[*models.CreditTransaction]{Items: rows, Total: total}))
	}
}

// @Summary      Reconcile user balance (Admin)
// @Description  Compares the stored balance with the sum of the user's ledger rows.
// @Tags         Admin
// @Produce      json
// @Param        user_id path string true "User id"
// @Success      200  {object}  handlers.RespReconciliation
// @Router       /api/v1/admin/reconcile/{user_id} [get]
func ApiReconcile(l LedgerAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := l.Reconcile(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Get statistics (Admin)
// @Description  Daily videos, credits granted by kind, credits consumed and active subscriptions by plan.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.StatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistic
// @Router       /api/v1/admin/get_statistic [post]
func ApiGetStatistic(svc StatisticService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.StatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.GetDailyStatistic(c.Request.Context(), &req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, gifts GiftService, users UserDirectory, l LedgerAdmin, stats StatisticService) {
	r.POST("/gift_credits", ApiGiftCredits(gifts))
	r.POST("/list_users", ApiListUsers(users))
	r.POST("/list_credit_transactions", ApiListCreditTransactions(l))
	r.GET("/reconcile/:user_id", ApiReconcile(l))
	r.POST("/get_statistic", ApiGetStatistic(stats))
}
