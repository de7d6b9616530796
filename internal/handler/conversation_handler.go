package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"agri-assist-go/internal/config"
	"agri-assist-go/internal/model"
	"agri-assist-go/pkg/backend"
	"agri-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 负责单个对话的获取、删除和导出。
type ConversationHandler struct {
	backend  backend.Client
	timeouts config.TimeoutsConfig
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(backendClient backend.Client, timeouts config.TimeoutsConfig) *ConversationHandler {
	return &ConversationHandler{backend: backendClient, timeouts: timeouts}
}

func (h *ConversationHandler) target(c *gin.Context) (string, model.ID, bool) {
	email, ok := resolveEmail(c, c.Query("email"))
	if !ok {
		return "", "", false
	}
	id := model.ID(c.Param("id"))
	if id == "" || id.IsTemp() {
		fail(c, http.StatusBadRequest, "Invalid conversation id")
		return "", "", false
	}
	return email, id, true
}

// Get 返回对话的全部消息。
func (h *ConversationHandler) Get(c *gin.Context) {
	email, id, ok := h.target(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Default)
	defer cancel()
	resp, err := h.backend.Conversation(ctx, email, id)
	if err != nil {
		log.Warnf("Conversation: 获取对话失败, conversation: %s, error: %v", id, err)
		forwardError(c, err, "Failed to load conversation")
		return
	}

	messages := resp.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	body := gin.H{"success": true, "messages": messages}
	if resp.Conversation != nil {
		body["conversation"] = resp.Conversation
	}
	c.JSON(http.StatusOK, body)
}

// Delete 删除对话。
func (h *ConversationHandler) Delete(c *gin.Context) {
	email, id, ok := h.target(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Default)
	defer cancel()
	if err := h.backend.DeleteConversation(ctx, email, id); err != nil {
		log.Warnf("Conversation: 删除对话失败, conversation: %s, error: %v", id, err)
		forwardError(c, err, "Failed to delete")
		return
	}
	log.Infof("对话已删除, email: %s, conversation: %s", email, id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Export 将后端生成的 PDF 原样流式返回。
func (h *ConversationHandler) Export(c *gin.Context) {
	email, id, ok := h.target(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeouts.Default)
	defer cancel()
	dl, err := h.backend.ExportConversation(ctx, email, id)
	if err != nil {
		log.Warnf("Conversation: 导出对话失败, conversation: %s, error: %v", id, err)
		forwardError(c, err, "Failed to export conversation")
		return
	}
	defer dl.Body.Close()

	c.Header("Content-Type", dl.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, dl.Filename))
	if dl.ContentLength >= 0 {
		c.Header("Content-Length", strconv.FormatInt(dl.ContentLength, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, dl.Body); err != nil {
		log.Warnf("Conversation: 导出流中断, conversation: %s, error: %v", id, err)
	}
}
