package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"SafeCircle/config"
	"SafeCircle/pkg/logger"
)

const (
	// ExchangeAlertEvents 告警生命周期事件，topic 交换机，routing key 为事件类型
	ExchangeAlertEvents = "events.alert"

	QueueAllClear       = "alerts.all_clear"
	QueueCheckerHeadsUp = "alerts.checker_heads_up"
)

// bindings 队列 -> routing keys
var bindings = map[string][]string{
	QueueAllClear:       {"alert.resolved", "alert.cancelled"},
	QueueCheckerHeadsUp: {"alert.escalated"},
}

var (
	conn     *amqp.Connection
	connOnce sync.Once
	connErr  error
)

func Init() error {
	connOnce.Do(func() {
		conn, connErr = amqp.Dial(config.Cfg.GetRabbitMQURL())
		if connErr != nil {
			connErr = fmt.Errorf("failed to dial rabbitmq: %w", connErr)
			return
		}

		if err := declareTopology(); err != nil {
			connErr = err
			return
		}

		logger.L().Info("RabbitMQ initialized successfully",
			zap.String("exchange", ExchangeAlertEvents),
		)
	})
	return connErr
}

// declareTopology 声明交换机、队列和绑定，重复声明是幂等的
func declareTopology() error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(ExchangeAlertEvents, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", ExchangeAlertEvents, err)
	}

	for queue, keys := range bindings {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		for _, key := range keys {
			if err := ch.QueueBind(queue, key, ExchangeAlertEvents, false, nil); err != nil {
				return fmt.Errorf("failed to bind queue %s to %s: %w", queue, key, err)
			}
		}
	}
	return nil
}

// Connection 返回底层连接，未初始化时为 nil
func Connection() *amqp.Connection {
	return conn
}

func Close(ctx context.Context) error {
	closePublisher()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
