package service

import (
	"context"
	"time"

	"agri-assist-go/internal/model"
	"agri-assist-go/pkg/backend"
	"agri-assist-go/pkg/kafka"
	"agri-assist-go/pkg/log"
	"agri-assist-go/pkg/tasks"
)

// publishTimeout 限制单次发布反馈事件的时间。
const publishTimeout = 5 * time.Second

// FeedbackService 接口定义了消息反馈的处理。
type FeedbackService interface {
	Submit(ctx context.Context, email string, req model.FeedbackRequest) (*model.Envelope, error)
}

type feedbackService struct {
	backend   backend.Client
	publisher kafka.FeedbackPublisher
	now       func() time.Time
}

// NewFeedbackService 创建一个新的 FeedbackService 实例。
func NewFeedbackService(backendClient backend.Client, publisher kafka.FeedbackPublisher) FeedbackService {
	return &feedbackService{
		backend:   backendClient,
		publisher: publisher,
		now:       time.Now,
	}
}

// Submit 将反馈转发给后端，然后发布一条反馈事件。
// 事件发布失败只记录日志，不影响返回结果。
func (s *feedbackService) Submit(ctx context.Context, email string, req model.FeedbackRequest) (*model.Envelope, error) {
	resp, err := s.backend.Feedback(ctx, email, req)

	event := tasks.FeedbackEvent{
		MessageID:    req.MessageID.String(),
		FeedbackType: req.FeedbackType,
		Comment:      req.Comment,
		Email:        email,
		Accepted:     err == nil && resp != nil && resp.Success,
		CreatedAt:    s.now().UTC(),
	}
	// 使用独立的 context，客户端断开不影响事件发布
	pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if pubErr := s.publisher.PublishFeedback(pubCtx, event); pubErr != nil {
		log.Warnf("发布反馈事件失败, message: %s, error: %v", event.MessageID, pubErr)
	}

	return resp, err
}
