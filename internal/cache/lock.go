package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"SafeCircle/storage/redis"
)

// 分布式锁，SETNX + 持有者校验释放
const (
	lockPrefix = "lock"
)

// 只有持有者才能释放，避免锁过期后误删别人的锁
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	fullkey := redis.Key(lockPrefix, key)

	ok, err := redis.Client().SetNX(ctx, fullkey, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func Unlock(ctx context.Context, key, owner string) error {
	fullkey := redis.Key(lockPrefix, key)
	return unlockScript.Run(ctx, redis.Client(), []string{fullkey}, owner).Err()
}

// TickLease tick 级别的租约，只用于减少重复工作，正确性由数据库条件更新保证
type TickLease struct {
	Key string
	TTL time.Duration
}

// Acquire 获取成功时返回释放函数
func (l TickLease) Acquire(ctx context.Context) (release func(context.Context), ok bool, err error) {
	owner := uuid.NewString()
	ok, err = TryLock(ctx, l.Key, owner, l.TTL)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func(ctx context.Context) {
		_ = Unlock(ctx, l.Key, owner)
	}, true, nil
}
