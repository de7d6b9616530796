// Package tasks defines the structure for events that are sent to Kafka.
package tasks

import "time"

// FeedbackEvent 是用户对助手回复的一次反馈，供离线分析使用。
type FeedbackEvent struct {
	MessageID    string    `json:"message_id"`
	FeedbackType string    `json:"feedback_type"`
	Comment      string    `json:"comment,omitempty"`
	Email        string    `json:"email"`
	Accepted     bool      `json:"accepted"` // 后端是否成功保存
	CreatedAt    time.Time `json:"created_at"`
}
