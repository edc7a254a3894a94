package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"SafeCircle/config"
)

// CORSMiddleware 按 CORS_ALLOWED_ORIGINS 放行浏览器端（支持者网页）跨域请求
// 移动端和 Twilio 回调不带 Origin，直接放过
func CORSMiddleware() app.HandlerFunc {
	return corsWithOrigins(config.Cfg.CORSAllowedOrigins)
}

func corsWithOrigins(allowed []string) app.HandlerFunc {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}

	return func(ctx context.Context, c *app.RequestContext) {
		origin := string(c.Request.Header.Get("Origin"))
		if origin == "" {
			c.Next(ctx)
			return
		}
		if _, ok := set[origin]; !ok && !allowAll {
			if string(c.Method()) == consts.MethodOptions {
				c.AbortWithStatus(consts.StatusForbidden)
				return
			}
			c.Next(ctx)
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-Id")
		c.Header("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		c.Header("Access-Control-Max-Age", "86400")

		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}

		c.Next(ctx)
	}
}
