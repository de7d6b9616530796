// Package service 包含了代理层的业务逻辑。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agri-assist-go/internal/repository"
	"agri-assist-go/pkg/log"
	"agri-assist-go/pkg/token"
)

// ErrSessionRevoked 表示会话已经登出。
var ErrSessionRevoked = errors.New("session has been revoked")

// SessionService 接口定义了会话 Cookie 的签发、校验和吊销。
type SessionService interface {
	Issue(email string) (string, *token.SessionClaims, error)
	Authenticate(ctx context.Context, tokenString string) (*token.SessionClaims, error)
	Revoke(ctx context.Context, claims *token.SessionClaims) error
	Duration() time.Duration
}

type sessionService struct {
	manager     *token.SessionManager
	sessionRepo repository.SessionRepository
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(manager *token.SessionManager, sessionRepo repository.SessionRepository) SessionService {
	return &sessionService{
		manager:     manager,
		sessionRepo: sessionRepo,
	}
}

// Issue 为登录成功的用户签发会话 token。
func (s *sessionService) Issue(email string) (string, *token.SessionClaims, error) {
	return s.manager.Issue(email)
}

// Authenticate 校验签名和有效期，并检查会话是否已被吊销。
func (s *sessionService) Authenticate(ctx context.Context, tokenString string) (*token.SessionClaims, error) {
	if tokenString == "" {
		return nil, errors.New("missing session cookie")
	}
	claims, err := s.manager.Verify(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}
	revoked, err := s.sessionRepo.IsRevoked(ctx, claims.ID)
	if err != nil {
		// 存储不可用时拒绝请求，避免已登出的会话继续生效
		log.Errorf("检查会话吊销状态失败, session: %s, error: %v", claims.ID, err)
		return nil, err
	}
	if revoked {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

// Revoke 吊销会话，记录保留到会话原本的过期时间。
func (s *sessionService) Revoke(ctx context.Context, claims *token.SessionClaims) error {
	if claims == nil || claims.ID == "" {
		return nil
	}
	ttl := time.Duration(0)
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if err := s.sessionRepo.Revoke(ctx, claims.ID, ttl); err != nil {
		return err
	}
	log.Infof("会话已吊销, email: %s, session: %s", claims.Email, claims.ID)
	return nil
}

// Duration 返回会话有效期，用于设置 Cookie 的 Max-Age。
func (s *sessionService) Duration() time.Duration {
	return s.manager.Duration()
}
