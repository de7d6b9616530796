// Package database 负责初始化外部存储连接。
package database

import (
	"context"

	"agri-assist-go/internal/config"
	"agri-assist-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。未配置地址时返回 false，调用方改用进程内存储。
func InitRedis(cfg config.RedisConfig) bool {
	if cfg.Addr == "" {
		log.Info("未配置 Redis，会话吊销记录将保存在进程内存中")
		return false
	}
	RDB = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	if err := RDB.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
	return true
}
