// Package token 提供了会话 Cookie 中使用的 JSON Web Token 的签发和验证。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionManager 负责签发和验证会话 token。
type SessionManager struct {
	secretKey  []byte        // secretKey 用于签名和验证 token 的密钥
	sessionDur time.Duration // sessionDur 定义了会话的有效期
}

// SessionClaims 定义了会话 token 中存储的数据。
// ID（jti）作为会话标识，登出时用于吊销。
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewSessionManager 创建一个新的 SessionManager 实例。
// expireHours: 会话的过期时间（小时）。
func NewSessionManager(secret string, expireHours int) *SessionManager {
	return &SessionManager{
		secretKey:  []byte(secret),
		sessionDur: time.Duration(expireHours) * time.Hour,
	}
}

// Duration 返回会话的有效期。
func (m *SessionManager) Duration() time.Duration {
	return m.sessionDur
}

// Issue 为给定邮箱签发一个新的会话 token。
func (m *SessionManager) Issue(email string) (string, *SessionClaims, error) {
	if email == "" {
		return "", nil, errors.New("email is required")
	}
	now := time.Now()
	claims := &SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        GenerateRandomString(16),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.sessionDur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.secretKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, claims, nil
}

// Verify 验证给定的 token 字符串，有效时返回 SessionClaims。
func (m *SessionManager) Verify(tokenString string) (*SessionClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := tok.Claims.(*SessionClaims)
	if !ok || !tok.Valid || claims.Email == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// GenerateRandomString generates a random hex string of a given length.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
