package router_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lkzdsb-lab/community-feed/internal/config"
	"github.com/lkzdsb-lab/community-feed/internal/handler"
	"github.com/lkzdsb-lab/community-feed/internal/middleware"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql/mysqltest"
	"github.com/lkzdsb-lab/community-feed/internal/router"
	"github.com/lkzdsb-lab/community-feed/internal/service"
)

const tenant = uint64(3)

type api struct {
	t     *testing.T
	r     http.Handler
	codec *pkg.TokenCodec
}

func newAPI(t *testing.T) api {
	gin.SetMode(gin.TestMode)
	db := mysqltest.NewDB(t)
	cfg := config.Default()
	cfg.RateLimitPerMinute = 10000
	d := service.Deps{DB: db, Logger: zap.NewNop(), Feed: cfg.Feed}
	codec := pkg.NewTokenCodec("secret")
	r := router.InitRouter(cfg, codec, router.Handlers{
		Community: handler.NewCommunityHandler(service.NewCommunityService(d), service.NewTrendingService(d)),
		Feed:      handler.NewFeedHandler(service.NewFeedService(d), service.NewModerationService(d)),
	}, zap.NewNop())
	return api{t: t, r: r, codec: codec}
}

// call userID 为 0 时匿名访问
func (a api) call(method, path string, userID uint64, body any) (int, pkg.Response) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID == 0 {
		req.Header.Set(middleware.EntityHeader, strconv.FormatUint(tenant, 10))
	} else {
		token, err := a.codec.Issue(userID, tenant, time.Now())
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	var resp pkg.Response
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func field(t *testing.T, data any, key string) any {
	t.Helper()
	m, ok := data.(map[string]any)
	require.True(t, ok, "data is %T", data)
	return m[key]
}

func TestRouter_CommunityAndFeedFlow(t *testing.T) {
	a := newAPI(t)
	const admin, member = uint64(10), uint64(11)

	code, resp := a.call(http.MethodPost, "/api/communities", admin, map[string]any{
		"name":                             "gophers",
		"require_admin_approval_for_posts": true,
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
	cid := uint64(field(t, resp.Data, "id").(float64))

	code, _ = a.call(http.MethodPost, fmt.Sprintf("/api/communities/%d/join", cid), member, nil)
	require.Equal(t, http.StatusOK, code)

	code, resp = a.call(http.MethodPost, fmt.Sprintf("/api/communities/%d/feeds", cid), member, map[string]any{"content": "hello world"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	assert.Equal(t, "PENDING", field(t, resp.Data, "status"))
	linkID := uint64(field(t, resp.Data, "id").(float64))

	// 匿名只能看到已通过的帖子
	code, resp = a.call(http.MethodGet, fmt.Sprintf("/api/communities/%d/feeds", cid), 0, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, field(t, resp.Data, "total_count"))

	code, _ = a.call(http.MethodPost, fmt.Sprintf("/api/feeds/%d/approve", linkID), member, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = a.call(http.MethodPost, fmt.Sprintf("/api/feeds/%d/approve", linkID), admin, map[string]any{"note": "ok"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	assert.Equal(t, "APPROVED", field(t, resp.Data, "status"))

	code, resp = a.call(http.MethodGet, fmt.Sprintf("/api/communities/%d/feeds", cid), 0, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, field(t, resp.Data, "total_count"))

	code, resp = a.call(http.MethodGet, fmt.Sprintf("/api/communities/%d", cid), 0, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, field(t, resp.Data, "post_count"))
	assert.EqualValues(t, 2, field(t, resp.Data, "member_count"))
}

func TestRouter_ErrorMapping(t *testing.T) {
	a := newAPI(t)

	code, _ := a.call(http.MethodGet, "/api/communities/999", 0, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.call(http.MethodGet, "/api/communities/abc", 0, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.call(http.MethodGet, "/api/feeds/joined", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.call(http.MethodPut, "/api/admin/trending/config", 10, map[string]any{"length": 3})
	assert.Equal(t, http.StatusForbidden, code)
}
