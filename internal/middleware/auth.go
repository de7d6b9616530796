// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"

	"agri-assist-go/internal/service"
	"agri-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 上下文中保存会话信息的键。
const (
	ContextEmail  = "email"
	ContextClaims = "claims"
)

// SessionMiddleware 创建一个 Gin 中间件，从会话 Cookie 中解析当前用户。
// 校验通过时把邮箱和 claims 存入上下文，否则返回 401。
func SessionMiddleware(cookieName string, sessionService service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(cookieName)
		if err != nil || cookie == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Not authenticated"})
			return
		}

		claims, err := sessionService.Authenticate(c.Request.Context(), cookie)
		if err != nil {
			log.Warnf("会话校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Not authenticated"})
			return
		}

		c.Set(ContextEmail, claims.Email)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}
