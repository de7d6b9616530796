package handler

import (
	"context"
	"net/http"
	"strings"

	"agri-assist-go/internal/config"
	"agri-assist-go/internal/model"
	"agri-assist-go/internal/service"
	"agri-assist-go/pkg/backend"
	"agri-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// minPasswordLength 是注册时允许的最短密码长度。
const minPasswordLength = 6

// AuthHandler 负责登录、注册、会话查询和密码重置。
type AuthHandler struct {
	backend        backend.Client
	sessionService service.SessionService
	session        config.SessionConfig
	timeouts       config.TimeoutsConfig
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(backendClient backend.Client, sessionService service.SessionService, session config.SessionConfig, timeouts config.TimeoutsConfig) *AuthHandler {
	return &AuthHandler{
		backend:        backendClient,
		sessionService: sessionService,
		session:        session,
		timeouts:       timeouts,
	}
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.session.CookieName, value, maxAge, "/", "", h.session.Secure, true)
}

// Login 处理登录请求，成功后签发会话 Cookie。
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.Credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Default)
	defer cancel()
	resp, err := h.backend.Login(ctx, req)
	if err != nil {
		log.Warnf("Login: 登录失败, email: %s, error: %v", req.Email, err)
		forwardError(c, err, "Login failed")
		return
	}

	signed, _, err := h.sessionService.Issue(resp.User.Email)
	if err != nil {
		log.Errorf("Login: 签发会话失败, email: %s, error: %v", resp.User.Email, err)
		fail(c, http.StatusInternalServerError, "Failed to create session")
		return
	}
	h.setSessionCookie(c, signed, int(h.sessionService.Duration().Seconds()))

	log.Infof("用户 '%s' 登录成功", resp.User.Email)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": resp.User, "message": resp.Message})
}

// Signup 处理注册请求。注册成功后不会自动登录。
func (h *AuthHandler) Signup(c *gin.Context) {
	var req model.Credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "Email and password are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		fail(c, http.StatusBadRequest, "Password must be at least 6 characters long")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Signup)
	defer cancel()
	_, err := h.backend.Signup(ctx, req)
	if err != nil {
		log.Warnf("Signup: 注册失败, email: %s, error: %v", req.Email, err)
		if se, ok := asStatusError(err); ok {
			switch {
			case se.Status == http.StatusConflict:
				fail(c, http.StatusConflict, "User already exists with this email")
				return
			case se.Status < 300:
				message := se.Message
				if message == "" {
					message = "Registration failed"
				}
				fail(c, http.StatusBadRequest, message)
				return
			}
		}
		if isTimeout(err) {
			fail(c, http.StatusRequestTimeout, "Registration timeout. Please try again.")
			return
		}
		fail(c, http.StatusServiceUnavailable, "Registration service unavailable. Please try again later.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Account created successfully. Please login."})
}

// Me 返回当前会话对应的用户。
func (h *AuthHandler) Me(c *gin.Context) {
	email := sessionEmail(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Default)
	defer cancel()
	user, err := h.backend.Me(ctx, email)
	if err != nil {
		log.Warnf("Me: 查询用户失败, email: %s, error: %v", email, err)
		forwardError(c, err, "Not logged in")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// Logout 吊销会话并清除 Cookie。没有有效会话时也会清除 Cookie。
func (h *AuthHandler) Logout(c *gin.Context) {
	if cookie, err := c.Cookie(h.session.CookieName); err == nil && cookie != "" {
		claims, err := h.sessionService.Authenticate(c.Request.Context(), cookie)
		if err == nil {
			if err := h.sessionService.Revoke(c.Request.Context(), claims); err != nil {
				log.Errorf("Logout: 吊销会话失败, email: %s, error: %v", claims.Email, err)
				fail(c, http.StatusInternalServerError, "Failed to logout")
				return
			}
		}
	}
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

// ForgotPassword 请求发送重置验证码。
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	h.passwordFlow(c, "forgot-password", func(ctx context.Context, req model.PasswordResetRequest) (*model.AuthResponse, error) {
		if req.Email == "" {
			return nil, validationError("Email is required")
		}
		return h.backend.ForgotPassword(ctx, req)
	})
}

// VerifyResetCode 校验重置验证码。
func (h *AuthHandler) VerifyResetCode(c *gin.Context) {
	h.passwordFlow(c, "verify-reset-code", func(ctx context.Context, req model.PasswordResetRequest) (*model.AuthResponse, error) {
		if req.Email == "" || req.Code == "" {
			return nil, validationError("Email and code are required")
		}
		return h.backend.VerifyResetCode(ctx, req)
	})
}

// ResetPassword 使用验证码设置新密码。
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	h.passwordFlow(c, "reset-password", func(ctx context.Context, req model.PasswordResetRequest) (*model.AuthResponse, error) {
		if req.Email == "" || req.Code == "" || req.NewPassword == "" {
			return nil, validationError("Email, code and new password are required")
		}
		if len(req.NewPassword) < minPasswordLength {
			return nil, validationError("Password must be at least 6 characters long")
		}
		return h.backend.ResetPassword(ctx, req)
	})
}

type validationError string

func (e validationError) Error() string { return string(e) }

func (h *AuthHandler) passwordFlow(c *gin.Context, name string, call func(context.Context, model.PasswordResetRequest) (*model.AuthResponse, error)) {
	var req model.PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Default)
	defer cancel()
	resp, err := call(ctx, req)
	if err != nil {
		if msg, ok := err.(validationError); ok {
			fail(c, http.StatusBadRequest, string(msg))
			return
		}
		log.Warnf("%s: 请求失败, email: %s, error: %v", name, req.Email, err)
		forwardError(c, err, "Request failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": resp.Message})
}
