package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"SafeCircle/pkg/logger"
	"SafeCircle/storage/database"
	"SafeCircle/storage/mq"
	"SafeCircle/storage/redis"
)

type closer struct {
	name  string
	close func(context.Context) error
}

// 先停 MQ 不再收发事件，再关 Redis，最后关数据库
var closers = []closer{
	{name: "rabbitmq", close: mq.Close},
	{name: "redis", close: redis.Close},
	{name: "database", close: database.Close},
}

// Close 按顺序关闭已初始化的连接，未初始化的组件直接跳过
func Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, c := range closers {
		if err := c.close(ctx); err != nil {
			logger.L().Error("Failed to close storage", zap.String("component", c.name), zap.Error(err))
			continue
		}
		logger.L().Debug("Storage closed", zap.String("component", c.name))
	}
	logger.L().Info("Storage connections closed")
}
