package model

// AlertEventType 告警生命周期事件
type AlertEventType string

const (
	AlertEventCreated      AlertEventType = "alert.created"
	AlertEventEscalated    AlertEventType = "alert.escalated"
	AlertEventAcknowledged AlertEventType = "alert.acknowledged"
	AlertEventResolved     AlertEventType = "alert.resolved"
	AlertEventCancelled    AlertEventType = "alert.cancelled"
)

// AlertEventMessage 发布到 events.alert 交换机的消息，routing key 即 EventType
type AlertEventMessage struct {
	MessageID  string         `json:"message_id"` // 消息唯一ID，用于幂等性检查
	EventType  AlertEventType `json:"event_type"`
	AlertID    int64          `json:"alert_id"`
	CheckerID  int64          `json:"checker_id"`
	Level      AlertLevel     `json:"level"`
	Status     AlertStatus    `json:"status"`
	OccurredAt string         `json:"occurred_at"` // RFC3339
}
