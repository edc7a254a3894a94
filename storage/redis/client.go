package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/pkg/logger"
	redisotel "SafeCircle/pkg/redis"
)

// ErrNotReady Redis 未初始化或初始化失败
var ErrNotReady = errors.New("redis not ready")

var (
	client *redis.Client
	once   sync.Once
	err    error
)

// Init 连接 Redis，失败时保留错误，Ready 返回 false
// Redis 只承载锁、幂等标记、限流和语音回调上下文，不可用时各调用方自行降级
func Init() error {
	once.Do(func() {
		cfg := config.Cfg

		c := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			MinIdleConns: 5,
			MaxRetries:   3,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err = c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			logger.L().Warn("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			return
		}

		redisotel.InstrumentClient(c, cfg.ServiceName, cfg.RedisDB)
		client = c
		logger.L().Info("Redis initialized", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
	})

	return err
}

func Client() *redis.Client {
	if client == nil {
		panic("Redis client not init")
	}
	return client
}

// Ready 是否已初始化，调用方可据此降级
func Ready() bool {
	return client != nil && err == nil
}

// Ping 健康检查用
func Ping(ctx context.Context) error {
	if !Ready() {
		return ErrNotReady
	}
	return client.Ping(ctx).Err()
}

func Close(ctx context.Context) error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// Key 拼接带前缀的键，例如 sc:escalation:tick
func Key(parts ...string) string {
	prefix := config.Cfg.RedisPrefix
	if prefix == "" {
		prefix = "sc"
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	for _, part := range parts {
		if part != "" {
			sb.WriteString(":")
			sb.WriteString(part)
		}
	}

	return sb.String()
}
