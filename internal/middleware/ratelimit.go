package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/response"
	"SafeCircle/storage/redis"
)

// RateLimitConfig 滑动窗口限流配置
type RateLimitConfig struct {
	Window        time.Duration
	MaxRequests   int
	KeyPrefix     string
	BlockDuration time.Duration // 超限后的封禁时长，0 表示不封禁
}

// DefaultRateLimitConfig 已登录接口的通用限流，按用户
var DefaultRateLimitConfig = RateLimitConfig{
	Window:      time.Minute,
	MaxRequests: 120,
	KeyPrefix:   "rate:api",
}

// SOSRateLimitConfig 手动求助
var SOSRateLimitConfig = RateLimitConfig{
	Window:        10 * time.Minute,
	MaxRequests:   3,
	KeyPrefix:     "rate:sos",
	BlockDuration: 30 * time.Minute,
}

// VoiceRateLimitConfig 语音回调按 IP
var VoiceRateLimitConfig = RateLimitConfig{
	Window:      time.Minute,
	MaxRequests: 60,
	KeyPrefix:   "rate:voice",
}

type RateLimiter struct {
	config RateLimitConfig
	client func() *redislib.Client
	now    func() time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{config: cfg, client: redis.Client, now: time.Now}
}

// identity 已登录按用户，否则按 IP
func (rl *RateLimiter) identity(ctx context.Context, c *app.RequestContext) string {
	if userID, ok := GetUserID(ctx, c); ok {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	return "ip:" + c.ClientIP()
}

// Allow zset 滑动窗口，返回窗口内请求数
func (rl *RateLimiter) Allow(ctx context.Context, id string) (bool, int, error) {
	key := redis.Key(rl.config.KeyPrefix, id)
	now := rl.now()
	windowStart := now.Add(-rl.config.Window)

	pipe := rl.client().Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redislib.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, rl.config.Window+10*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute pipeline: %w", err)
	}

	count := int(card.Val())
	return count <= rl.config.MaxRequests, count, nil
}

func (rl *RateLimiter) blockKey(id string) string {
	return redis.Key(rl.config.KeyPrefix, "block", id)
}

func (rl *RateLimiter) Block(ctx context.Context, id string) error {
	if rl.config.BlockDuration <= 0 {
		return nil
	}
	return rl.client().Set(ctx, rl.blockKey(id), "1", rl.config.BlockDuration).Err()
}

func (rl *RateLimiter) IsBlocked(ctx context.Context, id string) (bool, error) {
	if rl.config.BlockDuration <= 0 {
		return false, nil
	}
	n, err := rl.client().Exists(ctx, rl.blockKey(id)).Result()
	return n > 0, err
}

// RateLimitMiddleware Redis 不可用时放行，只记录日志
func RateLimitMiddleware(cfg RateLimitConfig) app.HandlerFunc {
	limiter := NewRateLimiter(cfg)

	return func(ctx context.Context, c *app.RequestContext) {
		if !config.Cfg.RateLimitEnabled || !redis.Ready() {
			c.Next(ctx)
			return
		}
		id := limiter.identity(ctx, c)

		blocked, err := limiter.IsBlocked(ctx, id)
		if err != nil {
			logger.L().Warn("Failed to check block status", zap.String("key_prefix", cfg.KeyPrefix), zap.Error(err))
			c.Next(ctx)
			return
		}
		if blocked {
			c.Abort()
			response.Error(ctx, c, errors.TooManyRequests)
			return
		}

		allowed, count, err := limiter.Allow(ctx, id)
		if err != nil {
			logger.L().Warn("Failed to check rate limit", zap.String("key_prefix", cfg.KeyPrefix), zap.Error(err))
			c.Next(ctx)
			return
		}

		remaining := cfg.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(limiter.now().Add(cfg.Window).Unix(), 10))

		if !allowed {
			if err := limiter.Block(ctx, id); err != nil {
				logger.L().Error("Failed to block client", zap.String("key_prefix", cfg.KeyPrefix), zap.Error(err))
			}
			c.Abort()
			response.Error(ctx, c, errors.TooManyRequests)
			return
		}

		c.Next(ctx)
	}
}

func GeneralRateLimitMiddleware() app.HandlerFunc {
	return RateLimitMiddleware(DefaultRateLimitConfig)
}

func SOSRateLimitMiddleware() app.HandlerFunc {
	return RateLimitMiddleware(SOSRateLimitConfig)
}

func VoiceRateLimitMiddleware() app.HandlerFunc {
	return RateLimitMiddleware(VoiceRateLimitConfig)
}
