package middleware

import (
	"go.uber.org/zap"

	"SafeCircle/pkg/logger"
)

// Init 初始化鉴权中间件，users 用于把令牌中的 public_id 换成内部用户 ID
func Init(users UserResolver) error {
	if err := initAuthMiddleware(users); err != nil {
		logger.L().Error("Failed to initialize auth middleware", zap.Error(err))
		return err
	}

	logger.L().Info("All middlewares initialized successfully")
	return nil
}
