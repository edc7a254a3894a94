package middleware

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	hzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SafeCircle/config"
	"SafeCircle/internal/model"
	"SafeCircle/internal/repository"
	"SafeCircle/pkg/token"
)

type fakeUsers map[int64]*model.User

func (f fakeUsers) GetByPublicID(_ context.Context, publicID int64) (*model.User, error) {
	if u, ok := f[publicID]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func newEngine() *route.Engine {
	return route.NewEngine(hzconfig.NewOptions(nil))
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload.Error.Code
}

func TestCORSAllowList(t *testing.T) {
	e := newEngine()
	e.Use(corsWithOrigins([]string{"https://circle.example.com/"}))
	e.GET("/v1/alerts", func(ctx context.Context, c *app.RequestContext) {
		c.String(consts.StatusOK, "ok")
	})

	w := ut.PerformRequest(e, consts.MethodGet, "/v1/alerts", nil,
		ut.Header{Key: "Origin", Value: "https://circle.example.com"})
	resp := w.Result()
	assert.Equal(t, consts.StatusOK, resp.StatusCode())
	assert.Equal(t, "https://circle.example.com", string(resp.Header.Peek("Access-Control-Allow-Origin")))

	w = ut.PerformRequest(e, consts.MethodOptions, "/v1/alerts", nil,
		ut.Header{Key: "Origin", Value: "https://circle.example.com"})
	assert.Equal(t, consts.StatusNoContent, w.Result().StatusCode())

	w = ut.PerformRequest(e, consts.MethodOptions, "/v1/alerts", nil,
		ut.Header{Key: "Origin", Value: "https://evil.example.com"})
	assert.Equal(t, consts.StatusForbidden, w.Result().StatusCode())

	w = ut.PerformRequest(e, consts.MethodGet, "/v1/alerts", nil,
		ut.Header{Key: "Origin", Value: "https://evil.example.com"})
	resp = w.Result()
	assert.Equal(t, consts.StatusOK, resp.StatusCode())
	assert.Empty(t, resp.Header.Peek("Access-Control-Allow-Origin"))
}

func TestCORSWithoutOrigin(t *testing.T) {
	e := newEngine()
	e.Use(corsWithOrigins(nil))
	e.POST("/v1/voice/calls/:token", func(ctx context.Context, c *app.RequestContext) {
		c.String(consts.StatusOK, "ok")
	})

	w := ut.PerformRequest(e, consts.MethodPost, "/v1/voice/calls/abc", nil)
	resp := w.Result()
	assert.Equal(t, consts.StatusOK, resp.StatusCode())
	assert.Empty(t, resp.Header.Peek("Access-Control-Allow-Origin"))
}

func TestAuthMiddleware(t *testing.T) {
	prev := config.Cfg
	config.Cfg.JWTSecret = "test-secret"
	config.Cfg.JWTExpireMinutes = 30
	t.Cleanup(func() { config.Cfg = prev })

	require.NoError(t, token.Init())
	require.NoError(t, Init(fakeUsers{
		1001: {BaseModel: model.BaseModel{ID: 1}, PublicID: 1001, Status: model.UserStatusActive},
		1002: {BaseModel: model.BaseModel{ID: 2}, PublicID: 1002, Status: model.UserStatusDisabled},
	}))

	e := newEngine()
	authed := e.Group("/v1", AuthMiddleware()...)
	authed.GET("/me", func(ctx context.Context, c *app.RequestContext) {
		userID, ok := GetUserID(ctx, c)
		if !ok {
			c.String(consts.StatusInternalServerError, "missing")
			return
		}
		c.JSON(consts.StatusOK, map[string]int64{"user_id": userID})
	})

	bearer := func(publicID int64) ut.Header {
		tok, _, err := token.GenerateAccessToken(publicID)
		require.NoError(t, err)
		return ut.Header{Key: "Authorization", Value: "Bearer " + tok}
	}

	t.Run("active user", func(t *testing.T) {
		w := ut.PerformRequest(e, consts.MethodGet, "/v1/me", nil, bearer(1001))
		resp := w.Result()
		require.Equal(t, consts.StatusOK, resp.StatusCode())
		assert.JSONEq(t, `{"user_id":1}`, string(resp.Body()))
	})

	t.Run("missing token", func(t *testing.T) {
		w := ut.PerformRequest(e, consts.MethodGet, "/v1/me", nil)
		resp := w.Result()
		assert.Equal(t, consts.StatusUnauthorized, resp.StatusCode())
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, resp.Body()))
	})

	t.Run("disabled user", func(t *testing.T) {
		w := ut.PerformRequest(e, consts.MethodGet, "/v1/me", nil, bearer(1002))
		assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())
	})

	t.Run("unknown user", func(t *testing.T) {
		w := ut.PerformRequest(e, consts.MethodGet, "/v1/me", nil, bearer(9999))
		assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())
	})
}
