package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// AuthenticationError 表示没有有效会话，只能通过重新登录解决。
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "not authenticated"
	}
	return "not authenticated: " + e.Message
}

// BackendError 表示服务可达，但返回了业务失败（success:false）或非 2xx 状态码。
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error (HTTP %d)", e.Status)
	}
	return e.Message
}

// TimeoutError 表示请求在配置的时间内没有完成。
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return e.Op + ": request timed out"
}

// NetworkError 表示完全没有收到响应的传输层失败。
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTransient 判断错误是否值得提示用户重试（超时、网络失败、服务暂不可用）。
func IsTransient(err error) bool {
	var te *TimeoutError
	var ne *NetworkError
	if errors.As(err, &te) || errors.As(err, &ne) {
		return true
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Status == http.StatusServiceUnavailable || be.Status == http.StatusGatewayTimeout
	}
	return false
}

// IsAuthentication 判断错误是否需要重新登录。
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// transportError 将 http.Client 返回的错误归类。
func transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op}
	}
	return &NetworkError{Op: op, Err: err}
}

// statusError 将代理层的失败响应归类。
func statusError(op string, status int, message string) error {
	switch status {
	case http.StatusUnauthorized:
		return &AuthenticationError{Message: message}
	case http.StatusRequestTimeout:
		return &TimeoutError{Op: op}
	}
	if message == "" {
		message = fmt.Sprintf("%s failed", op)
	}
	return &BackendError{Status: status, Message: message}
}
