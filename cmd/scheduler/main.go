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
	"SafeCircle/pkg/snowflake"
	"SafeCircle/storage"
	"SafeCircle/storage/database"
)

// 常驻模式：按 ESCALATION_TICK_INTERVAL 循环执行升级 tick
func main() {
	logger.Init("scheduler")
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	defer bootstrap.Telemetry(ctx, &config.Cfg, "scheduler")()

	if err := storage.Init(storage.Options{Redis: true, MQ: true}); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for scheduler", zap.Error(err))
	}

	repos := bootstrap.NewRepositories(database.DB())
	dispatcher, err := bootstrap.Dispatcher(&config.Cfg, repos, true)
	if err != nil {
		logger.Logger.Fatal("Failed to build notification dispatcher", zap.Error(err))
	}
	engine, err := bootstrap.Engine(&config.Cfg, repos, dispatcher, queue.NewProducer(), true)
	if err != nil {
		logger.Logger.Fatal("Failed to build escalation engine", zap.Error(err))
	}

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", config.Cfg.ServiceName+"-scheduler"),
		zap.Duration("interval", config.Cfg.TickInterval),
		zap.Duration("timeout", config.Cfg.TickTimeout),
	)

	engine.Run(ctx, config.Cfg.TickInterval, config.Cfg.TickTimeout)

	logger.Logger.Info("Scheduler service shutting down gracefully")
}
