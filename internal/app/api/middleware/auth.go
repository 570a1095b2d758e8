package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/app/service/user"
	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/logctx"
	"github.com/fatflowers/clipmeter/pkg/response"
)

// Gin keys set by AuthMiddleware.
const (
	EmailKey   = "email"
	IsAdminKey = "is_admin"
)

var ErrInvalidToken = errors.New("invalid access token")

// Claims are the access token claims issued by the identity provider.
type Claims struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

type Provisioner interface {
	EnsureUser(ctx context.Context, id user.Identity) (bool, error)
}

type Authenticator struct {
	cfg    *config.Config
	secret []byte
	users  Provisioner
	log    *zap.SugaredLogger
}

func NewAuthenticator(cfg *config.Config, users Provisioner, log *zap.SugaredLogger) *Authenticator {
	return &Authenticator{cfg: cfg, secret: []byte(cfg.Auth.JWTSecret), users: users, log: log}
}

// Parse verifies an HS256 token and returns its identity.
func (a *Authenticator) Parse(token string) (user.Identity, error) {
	if len(a.secret) == 0 {
		return user.Identity{}, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return user.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return user.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return user.Identity{UserID: claims.Subject, Email: claims.Email, IsAdmin: claims.IsAdmin}.Normalize(a.cfg), nil
}

// AuthMiddleware requires a bearer token, provisions the user on first sight
// and scopes the request logger to the user.
func (a *Authenticator) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		id, err := a.Parse(strings.TrimSpace(raw))
		if err != nil {
			logctx.FromGin(c, a.log).Infow("auth_rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}

		ctx := logctx.WithUserID(c.Request.Context(), id.UserID)
		c.Request = c.Request.WithContext(ctx)
		setLogger(c, logctx.FromGin(c, a.log).With("user_id", id.UserID))

		if _, err := a.users.EnsureUser(c.Request.Context(), id); err != nil {
			logctx.FromGin(c, a.log).Errorw("user provisioning failed", "err", err)
			c.AbortWithStatusJSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}

		c.Set(logctx.GinUserIDKey, id.UserID)
		c.Set(EmailKey, id.Email)
		c.Set(IsAdminKey, id.IsAdmin)
		c.Next()
	}
}

// AdminOnly must run after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(IsAdminKey) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorT[any](response.APIResponseCodeForbidden, nil))
			return
		}
		c.Next()
	}
}

// SharedSecret guards machine-to-machine callbacks with a static header value.
func SharedSecret(header, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(header)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		c.Next()
	}
}
