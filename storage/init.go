package storage

import (
	"fmt"

	"SafeCircle/storage/database"
	"SafeCircle/storage/mq"
	"SafeCircle/storage/redis"
)

// Options 各进程按需初始化存储，tick 进程不依赖 MQ 也能工作
type Options struct {
	Redis bool
	MQ    bool
}

// Init 数据库为必需，Redis 与 MQ 按 Options 初始化
func Init(opts Options) error {
	if err := database.Init(); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}

	if opts.Redis {
		if err := redis.Init(); err != nil {
			return fmt.Errorf("failed to init redis: %w", err)
		}
	}

	if opts.MQ {
		if err := mq.Init(); err != nil {
			return fmt.Errorf("failed to init rabbitmq: %w", err)
		}
	}

	return nil
}
