package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/response"
)

// RecoverConfig recover 中间件配置
type RecoverConfig struct {
	EnableStackTrace bool
	// 非生产环境在响应中附带 panic 信息
	ExposeDetails bool
	RecordInSpan  bool
}

func NewRecoverConfig() RecoverConfig {
	return RecoverConfig{
		EnableStackTrace: true,
		ExposeDetails:    !config.Cfg.IsProduction(),
		RecordInSpan:     true,
	}
}

func RecoverMiddleware() app.HandlerFunc {
	return RecoverMiddlewareWithConfig(NewRecoverConfig())
}

func RecoverMiddlewareWithConfig(cfg RecoverConfig) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				handlePanic(ctx, c, err, cfg)
			}
		}()
		c.Next(ctx)
	}
}

func handlePanic(ctx context.Context, c *app.RequestContext, err interface{}, cfg RecoverConfig) {
	var stack []byte
	if cfg.EnableStackTrace {
		stack = trimStack(debug.Stack())
	}

	fields := []zap.Field{
		zap.String("panic", fmt.Sprintf("%v", err)),
		zap.String("path", string(c.Path())),
		zap.String("method", string(c.Method())),
		zap.String("client_ip", c.ClientIP()),
		zap.String("request_id", string(c.GetHeader("X-Request-Id"))),
	}
	if userID, ok := GetUserID(ctx, c); ok {
		fields = append(fields, zap.Int64("user_id", userID))
	}
	if len(stack) > 0 {
		fields = append(fields, zap.ByteString("stack", stack))
	}
	logger.Ctx(ctx).Error("[PANIC RECOVERED]", fields...)

	if cfg.RecordInSpan {
		span := trace.SpanFromContext(ctx)
		span.RecordError(fmt.Errorf("panic: %v", err))
		span.SetStatus(codes.Error, "panic")
	}

	c.Abort()
	if cfg.ExposeDetails {
		response.ErrorWithDetails(ctx, c, errors.InternalError, map[string]interface{}{
			"panic": fmt.Sprintf("%v", err),
		})
		return
	}
	response.Error(ctx, c, errors.InternalError)
}

// trimStack 去掉 runtime 和 recover 自身的栈帧
func trimStack(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")
	filtered := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "runtime/") || strings.Contains(line, "middleware.handlePanic") ||
			strings.Contains(line, "middleware.RecoverMiddlewareWithConfig") {
			i++ // 跳过对应的文件行
			continue
		}
		filtered = append(filtered, line)
	}
	return []byte(strings.Join(filtered, "\n"))
}
