package queue

import (
	"context"
	"time"

	"SafeCircle/internal/cache"
)

// 消息幂等标记的有效期
const (
	processingTTL = 24 * time.Hour
	processedTTL  = 48 * time.Hour
)

// Marks 消息去重
type Marks interface {
	TryMark(ctx context.Context, messageID string) (bool, error)
	Unmark(ctx context.Context, messageID string) error
	Done(ctx context.Context, messageID string) error
}

// RedisMarks 基于 SETNX 的去重标记
type RedisMarks struct{}

func (RedisMarks) TryMark(ctx context.Context, messageID string) (bool, error) {
	return cache.TryMarkMessageProcessing(ctx, messageID, processingTTL)
}

func (RedisMarks) Unmark(ctx context.Context, messageID string) error {
	return cache.UnmarkMessageProcessing(ctx, messageID)
}

func (RedisMarks) Done(ctx context.Context, messageID string) error {
	return cache.MarkMessageProcessed(ctx, messageID, processedTTL)
}
