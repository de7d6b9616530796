package handler

import (
	"net/http"

	"agri-assist-go/internal/model"
	"agri-assist-go/internal/service"
	"agri-assist-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// FeedbackHandler 负责消息反馈。
type FeedbackHandler struct {
	feedbackService service.FeedbackService
}

// NewFeedbackHandler 创建一个新的 FeedbackHandler 实例。
func NewFeedbackHandler(feedbackService service.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedbackService: feedbackService}
}

// Submit 转发反馈，后端的状态码和响应体原样返回。
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req model.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MessageID == "" || req.FeedbackType == "" {
		fail(c, http.StatusBadRequest, "Message ID and feedback type required")
		return
	}

	email := sessionEmail(c)
	resp, err := h.feedbackService.Submit(c.Request.Context(), email, req)
	if err != nil {
		log.Warnf("Feedback: 提交反馈失败, message: %s, error: %v", req.MessageID, err)
		forwardError(c, err, "Failed to save feedback")
		return
	}
	c.JSON(http.StatusOK, resp)
}
