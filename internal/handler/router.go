package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总了代理层的所有处理器。
type Handlers struct {
	Auth         *AuthHandler
	Chat         *ChatHandler
	Conversation *ConversationHandler
	Feedback     *FeedbackHandler
	Transcribe   *TranscribeHandler
}

// RegisterRoutes 注册代理层的全部路由。requireSession 用于需要登录的接口。
func RegisterRoutes(r *gin.Engine, h Handlers, requireSession gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	api := r.Group("/api")
	{
		// Auth 路由组
		auth := api.Group("/auth")
		{
			auth.POST("/login", h.Auth.Login)
			auth.POST("/signup", h.Auth.Signup)
			auth.POST("/logout", h.Auth.Logout)
			auth.POST("/forgot-password", h.Auth.ForgotPassword)
			auth.POST("/verify-reset-code", h.Auth.VerifyResetCode)
			auth.POST("/reset-password", h.Auth.ResetPassword)
			auth.GET("/me", requireSession, h.Auth.Me)
		}

		// 以下路由均需要登录
		authed := api.Group("/")
		authed.Use(requireSession)
		{
			authed.POST("/chat", h.Chat.Send)
			authed.GET("/chat", h.Chat.History)
			authed.POST("/chat/new", h.Chat.NewConversation)
			authed.POST("/memory/refresh", h.Chat.RefreshMemory)

			authed.GET("/conversation/:id", h.Conversation.Get)
			authed.DELETE("/conversation/:id", h.Conversation.Delete)
			authed.GET("/conversation/:id/export", h.Conversation.Export)

			authed.POST("/message/feedback", h.Feedback.Submit)
			authed.POST("/transcribe", h.Transcribe.Transcribe)
		}
	}
}
