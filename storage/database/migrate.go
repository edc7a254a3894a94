package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"SafeCircle/internal/model"
	"SafeCircle/pkg/logger"
)

// Models 所有需要迁移的模型，测试库也用同一份列表
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Schedule{},
		&model.CheckIn{},
		&model.CircleLink{},
		&model.DeviceToken{},
		&model.AlertEvent{},
		&model.NotificationAttempt{},
	}
}

// Migrate 运行数据库迁移，唯一索引（一天一条告警、一条生效计划）也由此创建
func Migrate(db *gorm.DB) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.L().Info("Starting database migration...")

	if err := db.AutoMigrate(Models()...); err != nil {
		logger.L().Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.L().Info("Database migration completed successfully")
	return nil
}
