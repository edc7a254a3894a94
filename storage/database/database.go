package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"SafeCircle/config"
	dbotel "SafeCircle/pkg/database"
	"SafeCircle/pkg/logger"
)

var (
	db     *gorm.DB
	dbOnce sync.Once
	dbErr  error
)

// Init 打开 PostgreSQL 连接，按配置执行迁移
// 告警状态机依赖条件更新和唯一索引，所以所有时间统一写 UTC
func Init() error {
	dbOnce.Do(func() {
		db, dbErr = open(&config.Cfg)
	})
	return dbErr
}

func open(cfg *config.Config) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		PrepareStmt:                              true,
		SkipDefaultTransaction:                   true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
		Logger:                                   newGormLogger(cfg),
	})
	if err != nil {
		logger.L().Error("Failed to open database",
			zap.String("host", cfg.PostgreSQLHost),
			zap.String("database", cfg.PostgreSQLDatabase),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := dbotel.WithOTELPlugin(gormDB, dbotel.DefaultPluginConfig(cfg.ServiceName)); err != nil {
		logger.L().Warn("Failed to register gorm otel plugin", zap.Error(err))
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.PostgreSQLMaxIdle)
	sqlDB.SetMaxOpenConns(cfg.PostgreSQLMaxOpen)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	sqlDB.SetConnMaxLifetime(2 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.DatabaseAutoMigrate {
		if err := Migrate(gormDB); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	logger.L().Info("Database initialized",
		zap.String("host", cfg.PostgreSQLHost),
		zap.Bool("auto_migrate", cfg.DatabaseAutoMigrate),
	)
	return gormDB, nil
}

func DB() *gorm.DB {
	return db
}

// Ping 健康检查用，未初始化视为不可用
func Ping(ctx context.Context) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(ctx context.Context) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- sqlDB.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func newGormLogger(cfg *config.Config) gormlogger.Interface {
	level := gormlogger.Warn
	switch cfg.LoggerLevel {
	case "DEBUG":
		level = gormlogger.Info
	case "ERROR":
		level = gormlogger.Error
	}

	return gormlogger.New(zapWriter{}, gormlogger.Config{
		SlowThreshold:             cfg.PostgreSQLSlowSQL,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.Named("gorm").Sugar().Infof(format, args...)
}
