package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/internal/bootstrap"
	"SafeCircle/internal/queue"
	"SafeCircle/pkg/logger"
	"SafeCircle/storage"
	"SafeCircle/storage/database"
)

func main() {
	logger.Init("worker")
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Logger.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	defer bootstrap.Telemetry(ctx, &config.Cfg, "worker")()

	if err := storage.Init(storage.Options{Redis: true, MQ: true}); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	repos := bootstrap.NewRepositories(database.DB())
	// 后续通知只走推送和邮件
	dispatcher, err := bootstrap.Dispatcher(&config.Cfg, repos, false)
	if err != nil {
		logger.Logger.Fatal("Failed to build notification dispatcher", zap.Error(err))
	}

	logger.Logger.Info("Worker service starting",
		zap.String("service", config.Cfg.ServiceName+"-worker"),
		zap.String("environment", config.Cfg.Environment),
	)

	queue.NewConsumers(repos.Alerts, dispatcher, queue.RedisMarks{}).StartAll(ctx)

	logger.Logger.Info("Worker service shutting down gracefully")
}
