// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionRepository 定义了会话吊销记录的操作接口。
// 会话本身是自包含的签名 Cookie，这里只记录已登出的会话 id。
type SessionRepository interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewSessionRepository 创建一个基于 Redis 的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

func revokedKey(sessionID string) string {
	return fmt.Sprintf("session:revoked:%s", sessionID)
}

// Revoke 将会话标记为已吊销，过期时间与会话剩余有效期一致。
func (r *redisSessionRepository) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		// 已过期的会话无需记录
		return nil
	}
	if err := r.redisClient.Set(ctx, revokedKey(sessionID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsRevoked 判断会话是否已被吊销。
func (r *redisSessionRepository) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, revokedKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n > 0, nil
}

type memorySessionRepository struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemorySessionRepository 创建一个进程内的 SessionRepository，未配置 Redis 时使用。
func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{revoked: make(map[string]time.Time), now: time.Now}
}

func (r *memorySessionRepository) Revoke(_ context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	// 顺带清理已过期的记录
	for id, exp := range r.revoked {
		if !exp.After(now) {
			delete(r.revoked, id)
		}
	}
	r.revoked[sessionID] = now.Add(ttl)
	return nil
}

func (r *memorySessionRepository) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.revoked[sessionID]
	if !ok {
		return false, nil
	}
	if !exp.After(r.now()) {
		delete(r.revoked, sessionID)
		return false, nil
	}
	return true, nil
}
