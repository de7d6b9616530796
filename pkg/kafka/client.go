// Package kafka 提供了向 Kafka 发布反馈事件的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agri-assist-go/internal/config"
	"agri-assist-go/pkg/log"
	"agri-assist-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// FeedbackPublisher 定义了发布反馈事件的接口。
type FeedbackPublisher interface {
	PublishFeedback(ctx context.Context, event tasks.FeedbackEvent) error
	Close() error
}

type producer struct {
	writer *kafka.Writer
}

// NewFeedbackPublisher 初始化 Kafka 生产者。未配置 brokers 时返回一个空实现。
func NewFeedbackPublisher(cfg config.KafkaConfig) FeedbackPublisher {
	if cfg.Brokers == "" {
		log.Info("未配置 Kafka，反馈事件不会被发布")
		return noopPublisher{}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.FeedbackTopic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Infof("Kafka 生产者初始化成功, topic: %s", cfg.FeedbackTopic)
	return &producer{writer: w}
}

// PublishFeedback 发送一条反馈事件，以消息 id 作为分区键。
func (p *producer) PublishFeedback(ctx context.Context, event tasks.FeedbackEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.MessageID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish feedback event: %w", err)
	}
	return nil
}

// Close 刷新并关闭底层 writer。
func (p *producer) Close() error {
	return p.writer.Close()
}

type noopPublisher struct{}

func (noopPublisher) PublishFeedback(context.Context, tasks.FeedbackEvent) error { return nil }
func (noopPublisher) Close() error                                               { return nil }
