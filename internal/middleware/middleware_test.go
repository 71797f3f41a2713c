package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkzdsb-lab/community-feed/internal/pkg"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/who", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":   c.GetUint64(ContextUserIDKey),
			"entity_id": c.GetUint64(ContextEntityIDKey),
		})
	})
	return r
}

func do(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	codec := pkg.NewTokenCodec("secret")
	r := newEngine(AuthMiddleware(codec))

	assert.Equal(t, http.StatusUnauthorized, do(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, map[string]string{"Authorization": "Token abc"}).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, map[string]string{"Authorization": "Bearer abc"}).Code)

	token, err := codec.Issue(5, 9, time.Now())
	require.NoError(t, err)
	w := do(r, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":5,"entity_id":9}`, w.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	codec := pkg.NewTokenCodec("secret")
	r := newEngine(OptionalAuth(codec))

	assert.Equal(t, http.StatusBadRequest, do(r, nil).Code)

	w := do(r, map[string]string{EntityHeader: "9"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":0,"entity_id":9}`, w.Body.String())

	// 携带了无效 token 不降级为匿名
	assert.Equal(t, http.StatusUnauthorized, do(r, map[string]string{"Authorization": "Bearer bad", EntityHeader: "9"}).Code)
}

func TestRequireTenantAdmin(t *testing.T) {
	codec := pkg.NewTokenCodec("secret")
	r := newEngine(AuthMiddleware(codec), RequireTenantAdmin())

	user, err := codec.Issue(5, 9, time.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(r, map[string]string{"Authorization": "Bearer " + user}).Code)

	admin, err := codec.IssueTenantAdmin(5, 9, time.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(r, map[string]string{"Authorization": "Bearer " + admin}).Code)
}

func TestIPRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))

	now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("1.1.1.1"))

	// 闲置过期后被清理
	now = now.Add(limiterIdle + time.Second)
	l.Allow("3.3.3.3")
	l.mu.Lock()
	_, ok := l.limiters["2.2.2.2"]
	l.mu.Unlock()
	assert.False(t, ok)
}

func TestIPRateLimiter_SweepsOnInterval(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := t0
	l := NewIPRateLimiter(60)
	l.now = func() time.Time { return now }
	tracked := func(key string) bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		_, ok := l.limiters[key]
		return ok
	}

	l.Allow("1.1.1.1")
	now = t0.Add(4*time.Minute + 50*time.Second)
	l.Allow("2.2.2.2")
	assert.True(t, tracked("1.1.1.1"))

	// 已过期，但距上次清理不足 sweepEvery
	now = t0.Add(5*time.Minute + 10*time.Second)
	l.Allow("2.2.2.2")
	assert.True(t, tracked("1.1.1.1"))

	now = t0.Add(5*time.Minute + 51*time.Second)
	l.Allow("2.2.2.2")
	assert.False(t, tracked("1.1.1.1"))
	assert.True(t, tracked("2.2.2.2"))
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newEngine(RateLimitMiddleware(NewIPRateLimiter(1)))
	assert.Equal(t, http.StatusOK, do(r, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, nil).Code)
}
