package middleware_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func init() { gin.SetMode(gin.TestMode) }

func newRouter(rl *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	authed := r.Group("/", middleware.Auth(secret))
	if rl != nil {
		authed.Use(rl.Middleware())
	}
	authed.GET("/me", func(c *gin.Context) {
		id, _ := middleware.UserID(c)
		c.String(http.StatusOK, id.String())
	})
	authed.GET("/internal", middleware.RequireScope(middleware.ScopeInternal), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthSetsUserFromSubject(t *testing.T) {
	r := newRouter(nil)
	user := uuid.New()
	token, err := middleware.Sign(secret, user)
	require.NoError(t, err)

	w := get(r, "/me", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.String(), w.Body.String())

	w = get(r, "/me?token="+token, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejectsBadTokens(t *testing.T) {
	r := newRouter(nil)
	user := uuid.New()

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "").Code)

	forged, err := middleware.Sign([]byte("other"), user)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", forged).Code)

	notUUID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString(secret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", notUUID).Code)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": user.String()}).SignedString(secret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", hs512).Code)
}

func TestRequireScope(t *testing.T) {
	r := newRouter(nil)
	user := uuid.New()

	plain, err := middleware.Sign(secret, user)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get(r, "/internal", plain).Code)

	internal, err := middleware.Sign(secret, user, "read", middleware.ScopeInternal)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, get(r, "/internal", internal).Code)
}

func TestRateLimiterIsPerUser(t *testing.T) {
	r := newRouter(middleware.NewRateLimiter(0.001, 2))
	a, err := middleware.Sign(secret, uuid.New())
	require.NoError(t, err)
	b, err := middleware.Sign(secret, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(r, "/me", a).Code)
	assert.Equal(t, http.StatusOK, get(r, "/me", a).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/me", a).Code)
	assert.Equal(t, http.StatusOK, get(r, "/me", b).Code)
}
