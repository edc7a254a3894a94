package handler

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"SafeCircle/storage/database"
	"SafeCircle/storage/redis"
)

const healthCheckTimeout = 2 * time.Second

// Healthz 存活与依赖状态，数据库不可用时返回 503，Redis 只影响 degraded 标记
// GET /healthz
func Healthz(ctx context.Context, c *app.RequestContext) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := consts.StatusOK
	checks := map[string]string{"database": "ok", "redis": "ok"}

	if err := database.Ping(ctx); err != nil {
		status = consts.StatusServiceUnavailable
		checks["database"] = "unavailable"
	}

	switch err := redis.Ping(ctx); {
	case errors.Is(err, redis.ErrNotReady):
		checks["redis"] = "disabled"
	case err != nil:
		checks["redis"] = "degraded"
	}

	c.JSON(status, checks)
}
