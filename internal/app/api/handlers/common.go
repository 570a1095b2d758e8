package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/app/service/entitlement"
	"github.com/fatflowers/clipmeter/internal/app/service/generation"
	"github.com/fatflowers/clipmeter/internal/app/service/gift"
	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	nh "github.com/fatflowers/clipmeter/internal/app/service/notification_handler"
	"github.com/fatflowers/clipmeter/internal/app/service/statistics"
	"github.com/fatflowers/clipmeter/internal/app/service/user"
	"github.com/fatflowers/clipmeter/internal/platform/stripeapi"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/response"
)

// SessionHeader carries the browser session id used for per-session display state.
const SessionHeader = "X-Session-ID"

func currentUserID(c *gin.Context) string {
	return c.GetString(logctx.GinUserIDKey)
}

func sessionID(c *gin.Context) string {
	return c.GetHeader(SessionHeader)
}

// errorCode maps service errors onto envelope codes.
func errorCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidKind),
		errors.Is(err, generation.ErrInvalidRequest),
		errors.Is(err, gift.ErrInvalidQuantity),
		errors.Is(err, statistics.ErrInvalidFilter),
		errors.Is(err, nh.ErrInvalidSignature):
		return response.APIResponseCodeBadRequest
	case errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, user.ErrUserNotFound),
		errors.Is(err, gift.ErrUserNotFound),
		errors.Is(err, generation.ErrVideoNotFound):
		return response.APIResponseCodeNotFound
	case errors.Is(err, ledger.ErrInsufficientCredit),
		errors.Is(err, ledger.ErrDuplicateEntry),
		errors.Is(err, generation.ErrQuotaRace),
		errors.Is(err, entitlement.ErrCommitDenied):
		return response.APIResponseCodeConflict
	default:
		return response.APIResponseCodeError
	}
}

// writeError answers with the mapped code. Internal failures never leak their
// message; client errors carry it.
func writeError(c *gin.Context, err error) {
	code := errorCode(err)
	if code == response.APIResponseCodeError {
		logctx.FromGin(c, zap.S()).Errorw("request_failed", "path", c.FullPath(), "err", err)
		if errors.Is(err, stripeapi.ErrNotConfigured) {
			c.JSON(http.StatusOK, response.ErrorMsg(code, "payments are not available"))
			return
		}
		c.JSON(http.StatusOK, response.ErrorT[any](code, nil))
		return
	}
	c.JSON(http.StatusOK, response.ErrorMsg(code, err.Error()))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
}

// pagination reads offset/limit query params; invalid values fall back to defaults.
func pagination(c *gin.Context) (offset, limit int) {
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	return offset, limit
}

type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}
