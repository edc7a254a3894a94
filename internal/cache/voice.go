package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"SafeCircle/storage/redis"
)

const (
	voiceCallPrefix = "voice:call"
	voiceCallTTL    = 24 * time.Hour
)

// CallContext 语音外呼回调需要的上下文，token 出现在回调 URL 中
type CallContext struct {
	AlertID      int64  `json:"alert_id"`
	CircleLinkID int64  `json:"circle_link_id"`
	CheckerName  string `json:"checker_name"`
	CheckerPhone string `json:"checker_phone,omitempty"`
	HoursMissed  int    `json:"hours_missed"`
	LastLocation string `json:"last_location,omitempty"`
}

// CallStore 基于 Redis 的外呼上下文存储
type CallStore struct{}

// Register 保存上下文并返回不可猜测的 token
func (CallStore) Register(ctx context.Context, call CallContext) (string, error) {
	token := uuid.NewString()
	data, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("failed to marshal call context: %w", err)
	}
	if err := redis.Client().Set(ctx, redis.Key(voiceCallPrefix, token), data, voiceCallTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to save call context: %w", err)
	}
	return token, nil
}

// Lookup 未找到时返回 ok=false
func (CallStore) Lookup(ctx context.Context, token string) (*CallContext, bool, error) {
	raw, err := redis.Client().Get(ctx, redis.Key(voiceCallPrefix, token)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load call context: %w", err)
	}

	var call CallContext
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal call context: %w", err)
	}
	return &call, true, nil
}
