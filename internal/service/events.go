package service

import (
	"context"

	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/pkg/logger"
)

// publish 尽力而为，事件只驱动后续通知，丢失不影响告警状态
func publish(ctx context.Context, events EventPublisher, eventType model.AlertEventType, alert *model.AlertEvent) {
	if events == nil {
		return
	}
	if err := events.PublishAlertEvent(ctx, eventType, alert); err != nil {
		logger.Ctx(ctx).Warn("Failed to publish alert event",
			zap.Int64("alert_id", alert.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}
