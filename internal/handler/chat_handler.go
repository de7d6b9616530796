package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agri-assist-go/internal/config"
	"agri-assist-go/internal/model"
	"agri-assist-go/pkg/backend"
	"agri-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// historyLimit 是侧边栏加载的最近对话数。
const historyLimit = 20

// ChatHandler 负责发送消息、对话列表、新建对话和记忆刷新。
type ChatHandler struct {
	backend   backend.Client
	timeouts  config.TimeoutsConfig
	maxImages int
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(backendClient backend.Client, timeouts config.TimeoutsConfig, upload config.UploadConfig) *ChatHandler {
	return &ChatHandler{
		backend:   backendClient,
		timeouts:  timeouts,
		maxImages: upload.MaxImages,
	}
}

// Send 将消息转发给后端并返回助手回复。
func (h *ChatHandler) Send(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" || req.Email == "" {
		fail(c, http.StatusBadRequest, "Message and user email are required")
		return
	}
	if _, ok := resolveEmail(c, req.Email); !ok {
		return
	}
	if h.maxImages > 0 && len(req.Images) > h.maxImages {
		fail(c, http.StatusBadRequest, fmt.Sprintf("Maximum %d images allowed per message", h.maxImages))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Chat)
	defer cancel()
	resp, err := h.backend.Chat(ctx, req)
	if err != nil {
		log.Warnf("Chat: 转发消息失败, email: %s, images: %d, error: %v", req.Email, len(req.Images), err)
		h.chatError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"response":        resp.Response,
		"conversation_id": resp.ConversationID,
	})
}

func (h *ChatHandler) chatError(c *gin.Context, err error) {
	if se, ok := asStatusError(err); ok {
		message := se.Message
		if message == "" {
			message = "Backend processing failed"
		}
		c.JSON(se.Status, gin.H{"success": false, "error": message})
		return
	}
	if isTimeout(err) {
		c.JSON(http.StatusRequestTimeout, gin.H{
			"success":  false,
			"error":    "Request timeout",
			"response": "The request took too long. Please try again.",
		})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"success":  false,
		"error":    "Service temporarily unavailable",
		"response": "I'm currently experiencing high demand. Please try again.",
	})
}

// History 返回用户最近的对话列表。后端失败时返回空列表。
func (h *ChatHandler) History(c *gin.Context) {
	email, ok := resolveEmail(c, c.Query("userEmail"))
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.History)
	defer cancel()
	resp, err := h.backend.History(ctx, email, historyLimit)
	if err != nil {
		log.Warnf("History: 获取对话历史失败, email: %s, error: %v", email, err)
		// 后端明确拒绝时仍返回 200，由调用方按 success:false 降级
		status, message := http.StatusInternalServerError, "Failed to fetch history"
		if se, ok := asStatusError(err); ok {
			status = http.StatusOK
			if se.Message != "" {
				message = se.Message
			}
		} else if isTimeout(err) {
			status, message = http.StatusRequestTimeout, "Request timeout"
		}
		c.JSON(status, gin.H{
			"success":       false,
			"error":         message,
			"history":       []json.RawMessage{},
			"conversations": []model.Conversation{},
		})
		return
	}

	history := resp.History
	if history == nil {
		history = []json.RawMessage{}
	}
	conversations := resp.Conversations
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"history":       history,
		"conversations": conversations,
	})
}

// NewConversation 为当前用户创建一个空对话。
func (h *ChatHandler) NewConversation(c *gin.Context) {
	var req model.NewConversationRequest
	// 请求体可以为空
	_ = c.ShouldBindJSON(&req)
	email, ok := resolveEmail(c, req.Email)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Default)
	defer cancel()
	id, err := h.backend.NewConversation(ctx, email)
	if err != nil {
		log.Warnf("NewConversation: 新建对话失败, email: %s, error: %v", email, err)
		forwardError(c, err, "Failed to start new chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation_id": id})
}

// RefreshMemory 触发后端的记忆刷新。
func (h *ChatHandler) RefreshMemory(c *gin.Context) {
	var req model.MemoryRefreshRequest
	_ = c.ShouldBindJSON(&req)
	email, ok := resolveEmail(c, req.Email)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Default)
	defer cancel()
	if err := h.backend.RefreshMemory(ctx, email); err != nil {
		log.Warnf("RefreshMemory: 记忆刷新失败, email: %s, error: %v", email, err)
		forwardError(c, err, "Memory refresh failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
