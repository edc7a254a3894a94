package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/internal/repository"
	apperrors "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/storage/mq"
)

// AlertLoader 消费时重新读取告警最新状态
type AlertLoader interface {
	GetByID(ctx context.Context, id int64) (*model.AlertEvent, error)
}

// FollowUp 事件驱动的后续通知
type FollowUp interface {
	AllClear(ctx context.Context, alert *model.AlertEvent) (int, error)
	HeadsUp(ctx context.Context, alert *model.AlertEvent) error
}

// Consumers 告警事件消费者
type Consumers struct {
	alerts   AlertLoader
	followUp FollowUp
	marks    Marks
	logger   *zap.Logger
}

func NewConsumers(alerts AlertLoader, followUp FollowUp, marks Marks) *Consumers {
	if marks == nil {
		marks = RedisMarks{}
	}
	return &Consumers{
		alerts:   alerts,
		followUp: followUp,
		marks:    marks,
		logger:   logger.Named("consumer"),
	}
}

// HandleAllClear 告警关闭后通知已联系过的支持者
func (c *Consumers) HandleAllClear(ctx context.Context, body []byte) error {
	return c.handle(ctx, body, func(msg *model.AlertEventMessage, alert *model.AlertEvent) error {
		if msg.EventType != model.AlertEventResolved && msg.EventType != model.AlertEventCancelled {
			return apperrors.ErrSkipMessage
		}
		if alert.IsOpen() {
			c.logger.Warn("All-clear for open alert, skipping",
				zap.Int64("alert_id", alert.ID),
				zap.String("status", string(alert.Status)),
			)
			return apperrors.ErrSkipMessage
		}
		_, err := c.followUp.AllClear(ctx, alert)
		return err
	})
}

// HandleHeadsUp 升级后提醒打卡人，告警已关闭或已被更高档覆盖时跳过
func (c *Consumers) HandleHeadsUp(ctx context.Context, body []byte) error {
	return c.handle(ctx, body, func(msg *model.AlertEventMessage, alert *model.AlertEvent) error {
		if msg.EventType != model.AlertEventEscalated {
			return apperrors.ErrSkipMessage
		}
		if !alert.IsOpen() || alert.Level != msg.Level {
			return apperrors.ErrSkipMessage
		}
		return c.followUp.HeadsUp(ctx, alert)
	})
}

func (c *Consumers) handle(ctx context.Context, body []byte, fn func(*model.AlertEventMessage, *model.AlertEvent) error) error {
	var msg model.AlertEventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("Dropping malformed alert event", zap.Error(err))
		return apperrors.ErrSkipMessage
	}

	marked, err := c.marks.TryMark(ctx, msg.MessageID)
	if err != nil {
		// 标记失败时继续处理，可能重复发送
		c.logger.Warn("Failed to check message processed status",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
	} else if !marked {
		c.logger.Info("Message already processed or being processed, skipping",
			zap.String("message_id", msg.MessageID),
			zap.Int64("alert_id", msg.AlertID),
		)
		return apperrors.ErrSkipMessage
	}

	alert, err := c.alerts.GetByID(ctx, msg.AlertID)
	if errors.Is(err, repository.ErrNotFound) {
		c.done(ctx, msg.MessageID)
		return apperrors.ErrSkipMessage
	}
	if err != nil {
		c.unmark(ctx, msg.MessageID)
		return fmt.Errorf("failed to load alert %d: %w", msg.AlertID, err)
	}

	if err := fn(&msg, alert); err != nil {
		if errors.Is(err, apperrors.ErrSkipMessage) {
			c.done(ctx, msg.MessageID)
			return err
		}
		c.unmark(ctx, msg.MessageID)
		return fmt.Errorf("failed to handle %s for alert %d: %w", msg.EventType, msg.AlertID, err)
	}

	c.done(ctx, msg.MessageID)
	c.logger.Info("Processed alert event",
		zap.String("message_id", msg.MessageID),
		zap.String("event_type", string(msg.EventType)),
		zap.Int64("alert_id", msg.AlertID),
	)
	return nil
}

func (c *Consumers) unmark(ctx context.Context, messageID string) {
	if err := c.marks.Unmark(ctx, messageID); err != nil {
		c.logger.Warn("Failed to unmark message", zap.String("message_id", messageID), zap.Error(err))
	}
}

func (c *Consumers) done(ctx context.Context, messageID string) {
	if err := c.marks.Done(ctx, messageID); err != nil {
		c.logger.Warn("Failed to mark message as processed", zap.String("message_id", messageID), zap.Error(err))
	}
}

// StartAll 启动全部消费者，阻塞直到 ctx 结束
func (c *Consumers) StartAll(ctx context.Context) {
	var wg sync.WaitGroup

	consumers := []mq.ConsumeOptions{
		{Queue: mq.QueueAllClear, ConsumerTag: "all_clear_consumer", PrefetchCount: 10, Handler: c.HandleAllClear},
		{Queue: mq.QueueCheckerHeadsUp, ConsumerTag: "heads_up_consumer", PrefetchCount: 10, Handler: c.HandleHeadsUp},
	}

	for _, opts := range consumers {
		wg.Add(1)
		go func(opts mq.ConsumeOptions) {
			defer wg.Done()

			c.logger.Info("Starting consumer", zap.String("queue", opts.Queue))
			if err := mq.Consume(ctx, opts); err != nil {
				c.logger.Error("Consumer exited with error",
					zap.String("queue", opts.Queue),
					zap.Error(err),
				)
			}
		}(opts)
	}

	wg.Wait()
	c.logger.Info("All consumers stopped")
}
