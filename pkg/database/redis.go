package database

import (
	"askto-go/internal/config"
	"askto-go/pkg/log"
	"context"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接，会话缓存、轮次锁和重试计数都使用它。
func InitRedis(cfg config.RedisConfig) {
	RDB = NewRedisClient(cfg)
	if err := RDB.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}
	log.Infof("Redis client connected successfully, poolSize=%d", cfg.PoolSize)
}

// NewRedisClient 按配置创建客户端，不做连通性检查。
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		PoolTimeout: cfg.PoolTimeout,
	})
}
