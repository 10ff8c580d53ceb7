package database

import (
	"context"
	"fmt"

	"chatwithcode/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 是对话窗口与工作区锁共用的 Redis 客户端。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接
func InitRedis(ctx context.Context, addr, password string, db int) error {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	RDB = client
	log.Info("Redis client connected successfully")
	return nil
}
