package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/snowflake"
	"SafeCircle/storage/mq"
)

type publishFunc func(ctx context.Context, exchange, routingKey, messageID string, body interface{}) error

// Producer 告警生命周期事件发布者，routing key 即事件类型
type Producer struct {
	publish publishFunc
	nextID  func(prefix string) (string, error)
	now     func() time.Time
}

func NewProducer() *Producer {
	return &Producer{
		publish: mq.PublishMessage,
		nextID:  snowflake.NextMessageID,
		now:     time.Now,
	}
}

// PublishAlertEvent 发布一条告警事件
func (p *Producer) PublishAlertEvent(ctx context.Context, eventType model.AlertEventType, alert *model.AlertEvent) error {
	messageID, err := p.nextID(string(eventType))
	if err != nil {
		return fmt.Errorf("failed to generate message ID: %w", err)
	}

	msg := model.AlertEventMessage{
		MessageID:  messageID,
		EventType:  eventType,
		AlertID:    alert.ID,
		CheckerID:  alert.CheckerID,
		Level:      alert.Level,
		Status:     alert.Status,
		OccurredAt: p.now().UTC().Format(time.RFC3339),
	}

	routingKey := string(eventType)
	if err := p.publish(ctx, mq.ExchangeAlertEvents, routingKey, messageID, msg); err != nil {
		logger.Ctx(ctx).Error("Failed to publish alert event",
			zap.String("message_id", messageID),
			zap.String("routing_key", routingKey),
			zap.Int64("alert_id", alert.ID),
			zap.Error(err),
		)
		return err
	}

	logger.Ctx(ctx).Info("Published alert event",
		zap.String("message_id", messageID),
		zap.String("routing_key", routingKey),
		zap.Int64("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
	)
	return nil
}
