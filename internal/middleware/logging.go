package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"agri-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader 是请求 id 所在的响应头。
const RequestIDHeader = "X-Request-ID"

// maxLoggedBody 限制日志中记录的请求体和响应体长度。
const maxLoggedBody = 2048

// 日志中需要脱敏的字段
var sensitiveFields = []string{"password", "new_password", "images"}

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if w.body.Len() < maxLoggedBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// 密码和图片字段会被替换，multipart 请求体和二进制响应不记录。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		var requestBody []byte
		contentType := c.ContentType()
		if c.Request.Body != nil && !strings.HasPrefix(contentType, "multipart/") {
			// 只读取日志需要的前缀，带图片的请求体可能有几十 MB
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody+1))
			// 将读取的部分拼回请求体，以便后续处理函数可以读到完整内容
			c.Request.Body = prefixedBody{
				Reader: io.MultiReader(bytes.NewReader(requestBody), c.Request.Body),
				Closer: c.Request.Body,
			}
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		responseBody := "<binary>"
		if strings.HasPrefix(blw.Header().Get("Content-Type"), "application/json") {
			responseBody = truncate(blw.body.String())
		}
		loggedRequest := "<multipart>"
		if !strings.HasPrefix(contentType, "multipart/") {
			loggedRequest = loggedBody(requestBody)
		}

		fields := []interface{}{
			"requestID", requestID,
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", loggedRequest,
			"responseBody", responseBody,
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warnw("HTTP Request Log", fields...)
			return
		}
		log.Infow("HTTP Request Log", fields...)
	}
}

// prefixedBody 把已读取的前缀和剩余的请求体重新组合，关闭时关闭原始请求体。
type prefixedBody struct {
	io.Reader
	io.Closer
}

// loggedBody 返回请求体在日志中的形式。超过长度限制的请求体无法完整解析，
// 也就无法脱敏，只记录一个占位符。
func loggedBody(prefix []byte) string {
	if len(prefix) > maxLoggedBody {
		return "<truncated>"
	}
	return redact(prefix)
}

// redact 替换 JSON 请求体中的敏感字段。无法解析时原样返回。
func redact(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return string(body)
	}
	changed := false
	for _, field := range sensitiveFields {
		if _, ok := payload[field]; ok {
			payload[field] = "***"
			changed = true
		}
	}
	if !changed {
		return string(body)
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(out)
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}
