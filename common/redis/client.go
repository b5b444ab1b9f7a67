// Package redis Redis 连接（任务锁与快照缓存共用）
package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"loan-monitor/common/config"
)

// NewRedisClient 按配置创建客户端（不建立连接）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return redis.NewClient(opts)
}

// Connect 创建客户端并 Ping，失败时关闭客户端
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)
	if err := Ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close 允许传入 nil（未启用 Redis）
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
