package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"SafeCircle/storage/redis"
)

const (
	messageProcessedPrefix = "message:processed"
	nudgeSentPrefix        = "checkin:nudge"

	processedTTL = 48 * time.Hour
	nudgeTTL     = 36 * time.Hour
)

// TryMarkMessageProcessing 尝试原子性地标记消息正在处理（使用 SETNX）
// 返回 true 表示成功标记（首次处理），false 表示已被标记（重复消息或正在处理）
func TryMarkMessageProcessing(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	key := redis.Key(messageProcessedPrefix, messageID)
	if ttl <= 0 {
		ttl = processedTTL
	}

	result, err := redis.Client().SetNX(ctx, key, "processing", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark message as processing: %w", err)
	}
	return result, nil
}

// UnmarkMessageProcessing 处理失败时清除标记，允许重投递后重试
func UnmarkMessageProcessing(ctx context.Context, messageID string) error {
	key := redis.Key(messageProcessedPrefix, messageID)
	return redis.Client().Del(ctx, key).Err()
}

// MarkMessageProcessed 处理成功后标记完成并刷新 TTL
func MarkMessageProcessed(ctx context.Context, messageID string, ttl time.Duration) error {
	key := redis.Key(messageProcessedPrefix, messageID)
	if ttl <= 0 {
		ttl = processedTTL
	}
	return redis.Client().Set(ctx, key, "completed", ttl).Err()
}

// NudgeMarker 截止前提醒的去重标记，每个打卡人每个打卡日一次
type NudgeMarker struct{}

func (NudgeMarker) TryMark(ctx context.Context, day string, checkerID int64) (bool, error) {
	key := redis.Key(nudgeSentPrefix, day, strconv.FormatInt(checkerID, 10))
	ok, err := redis.Client().SetNX(ctx, key, "1", nudgeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark nudge: %w", err)
	}
	return ok, nil
}
