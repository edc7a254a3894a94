package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/internal/bootstrap"
	"SafeCircle/internal/schedule"
	"SafeCircle/pkg/logger"
	"SafeCircle/storage"
	"SafeCircle/storage/database"
	"SafeCircle/storage/redis"
)

// 单次 tick，供 cron 调用：成功退出码 0，存储或查询失败退出码 1
// Redis 可选，缺失时不加 tick 租约也不发截止前提醒；不发布生命周期事件
func main() {
	logger.Init("tick")
	os.Exit(exitCode(run))
}

var syncLogs = logger.Sync

// exitCode os.Exit 不执行 defer，退出前在这里刷新日志
func exitCode(fn func() int) int {
	defer syncLogs()
	return fn()
}

func run() int {
	if err := storage.Init(storage.Options{}); err != nil {
		logger.Logger.Error("Failed to initialize database", zap.Error(err))
		return 1
	}
	defer storage.Close()

	redisReady := redis.Init() == nil
	if !redisReady {
		logger.Logger.Warn("Redis unavailable, running tick without lease")
	}

	repos := bootstrap.NewRepositories(database.DB())
	dispatcher, err := bootstrap.Dispatcher(&config.Cfg, repos, redisReady)
	if err != nil {
		logger.Logger.Error("Failed to build notification dispatcher", zap.Error(err))
		return 1
	}
	var events schedule.EventPublisher
	engine, err := bootstrap.Engine(&config.Cfg, repos, dispatcher, events, redisReady)
	if err != nil {
		logger.Logger.Error("Failed to build escalation engine", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Cfg.TickTimeout)
	defer cancel()

	result, err := engine.Tick(ctx)
	if err != nil {
		logger.Logger.Error("Escalation tick failed", zap.Error(err))
		return 1
	}
	logger.Logger.Info("Escalation tick finished", zap.Any("result", result))
	return 0
}
