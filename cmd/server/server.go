package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/internal/bootstrap"
	"SafeCircle/internal/middleware"
	"SafeCircle/internal/queue"
	"SafeCircle/internal/router"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/snowflake"
	"SafeCircle/pkg/token"
	"SafeCircle/storage"
	"SafeCircle/storage/database"
)

func main() {
	logger.Init("api")
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

	defer bootstrap.Telemetry(ctx, &config.Cfg, "api")()

	if err := storage.Init(storage.Options{Redis: true, MQ: true}); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	repos := bootstrap.NewRepositories(database.DB())
	dispatcher, err := bootstrap.Dispatcher(&config.Cfg, repos, true)
	if err != nil {
		logger.Logger.Fatal("Failed to build notification dispatcher", zap.Error(err))
	}
	if err := bootstrap.Services(&config.Cfg, repos, dispatcher, queue.NewProducer()); err != nil {
		logger.Logger.Fatal("Failed to initialize services", zap.Error(err))
	}

	// token 在中间件前初始化，middleware 依赖 token
	if err := token.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize token package", zap.Error(err))
	}
	if err := middleware.Init(repos.Users); err != nil {
		logger.Logger.Fatal("Failed to initialize middlewares", zap.Error(err))
	}

	addr := net.JoinHostPort(config.Cfg.ServerHost, config.Cfg.ServerPort)
	tracerOpt, tracerMiddleware := middleware.NewServerTracerConfig()
	h := server.Default(server.WithHostPorts(addr), tracerOpt)
	h.Use(tracerMiddleware)

	router.Register(h)

	go func() {
		<-ctx.Done()
		logger.Logger.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}()

	logger.Logger.Info("HTTP server listening",
		zap.String("addr", addr),
		zap.String("environment", config.Cfg.Environment),
	)

	h.Spin()

	logger.Logger.Info("Server shutting down gracefully")
}
