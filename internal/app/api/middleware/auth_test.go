package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/internal/app/service/user"
	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/logctx"
)

const secret = "test-secret"

type stubProvisioner struct {
	seen []user.Identity
}

func (s *stubProvisioner) EnsureUser(_ context.Context, id user.Identity) (bool, error) {
	s.seen = append(s.seen, id)
	return len(s.seen) == 1, nil
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func validClaims() Claims {
	return Claims{
		Email: "Ana@Example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func newAuthRouter(t *testing.T, admins ...string) (*gin.Engine, *stubProvisioner) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = secret
	cfg.Auth.AdminEmails = admins
	p := &stubProvisioner{}
	a := NewAuthenticator(cfg, p, zap.NewNop().Sugar())

	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(zap.NewNop().Sugar()))
	g := r.Group("/", a.AuthMiddleware())
	g.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":  c.GetString(logctx.GinUserIDKey),
			"email":    c.GetString(EmailKey),
			"is_admin": c.GetBool(IsAdminKey),
		})
	})
	g.GET("/admin", AdminOnly(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r, p
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	r, p := newAuthRouter(t)
	w := get(r, "/me", sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims()))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user_id":"u1","email":"ana@example.com","is_admin":false}`, w.Body.String())
	require.Len(t, p.seen, 1)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSubject := validClaims()
	noSubject.Subject = ""
	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	cases := map[string]string{
		"missing":    "",
		"garbage":    "not-a-jwt",
		"wrong key":  sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims()),
		"wrong alg":  sign(t, jwt.SigningMethodHS384, []byte(secret), validClaims()),
		"expired":    sign(t, jwt.SigningMethodHS256, []byte(secret), expired),
		"no subject": sign(t, jwt.SigningMethodHS256, []byte(secret), noSubject),
		"no expiry":  sign(t, jwt.SigningMethodHS256, []byte(secret), noExpiry),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			r, p := newAuthRouter(t)
			w := get(r, "/me", token)
			require.Equal(t, http.StatusUnauthorized, w.Code)
			require.Empty(t, p.seen)
		})
	}
}

func TestAdminOnly(t *testing.T) {
	r, _ := newAuthRouter(t)
	token := sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims())
	require.Equal(t, http.StatusForbidden, get(r, "/admin", token).Code)

	claims := validClaims()
	claims.IsAdmin = true
	require.Equal(t, http.StatusNoContent, get(r, "/admin", sign(t, jwt.SigningMethodHS256, []byte(secret), claims)).Code)

	// configured admin emails match case-insensitively
	r, _ = newAuthRouter(t, "ana@example.com")
	require.Equal(t, http.StatusNoContent, get(r, "/admin", token).Code)
}

func TestSharedSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/cb", SharedSecret("X-Render-Secret", "s3"), func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(v string) int {
		req := httptest.NewRequest(http.MethodPost, "/cb", nil)
		if v != "" {
			req.Header.Set("X-Render-Secret", v)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	require.Equal(t, http.StatusOK, send("s3"))
	require.Equal(t, http.StatusUnauthorized, send("nope"))
	require.Equal(t, http.StatusUnauthorized, send(""))

	r2 := gin.New()
	r2.POST("/cb", SharedSecret("X-Render-Secret", ""), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodPost, "/cb", nil)
	w := httptest.NewRecorder()
	r2.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code, "an unset secret locks the endpoint")
}
