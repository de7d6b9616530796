// Package handler 包含了代理层处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"errors"
	"net/http"

	"agri-assist-go/internal/middleware"
	"agri-assist-go/pkg/backend"

	"github.com/gin-gonic/gin"
)

// fail 以统一的 {success:false, error} 格式返回错误。
func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// sessionEmail 返回 SessionMiddleware 写入上下文的邮箱。
func sessionEmail(c *gin.Context) string {
	return c.GetString(middleware.ContextEmail)
}

// resolveEmail 校验请求中携带的邮箱必须与会话一致，未携带时使用会话邮箱。
// 不一致时直接写出 403 并返回 false。
func resolveEmail(c *gin.Context, supplied string) (string, bool) {
	email := sessionEmail(c)
	if supplied != "" && supplied != email {
		fail(c, http.StatusForbidden, "Email does not match the signed-in user")
		return "", false
	}
	return email, true
}

// isTimeout 判断错误是否由转发请求的超时引起。
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// asStatusError 提取后端返回的状态码错误。
func asStatusError(err error) (*backend.StatusError, bool) {
	var se *backend.StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// forwardError 把后端错误映射为代理层的响应：后端状态码原样透传，
// 超时返回 408，无法解析的响应返回 500，其余传输失败返回 503。
func forwardError(c *gin.Context, err error, fallback string) {
	if se, ok := asStatusError(err); ok {
		message := se.Message
		if message == "" {
			message = fallback
		}
		// 2xx 但 success:false 时同样原样透传状态码
		fail(c, se.Status, message)
		return
	}
	switch {
	case isTimeout(err):
		fail(c, http.StatusRequestTimeout, "Request timeout")
	case errors.Is(err, backend.ErrInvalidResponse):
		fail(c, http.StatusInternalServerError, "Backend error: Invalid response format")
	default:
		fail(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
	}
}
