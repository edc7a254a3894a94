package model

import "time"

// NotificationChannel 通知渠道
type NotificationChannel string

const (
	NotificationChannelPush  NotificationChannel = "push"
	NotificationChannelSMS   NotificationChannel = "sms"
	NotificationChannelEmail NotificationChannel = "email"
	NotificationChannelVoice NotificationChannel = "voice"
)

// AttemptStatus 单次发送结果
type AttemptStatus string

const (
	AttemptStatusSent    AttemptStatus = "sent"
	AttemptStatusFailed  AttemptStatus = "failed"
	AttemptStatusSkipped AttemptStatus = "skipped"
)

// NotificationAttempt 每个渠道每个收件人一条发送记录
type NotificationAttempt struct {
	BaseModel
	AlertID         int64               `gorm:"not null;index:idx_notification_attempts_alert" json:"alert_id"`
	Level           AlertLevel          `gorm:"type:varchar(16);not null" json:"level"`
	CircleLinkID    *int64              `gorm:"index" json:"circle_link_id,omitempty"` // 提醒打卡人本人时为空
	RecipientUserID *int64              `json:"recipient_user_id,omitempty"`
	Channel         NotificationChannel `gorm:"type:varchar(16);not null" json:"channel"`
	Status          AttemptStatus       `gorm:"type:varchar(16);not null" json:"status"`
	ProviderRef     *string             `gorm:"type:varchar(128)" json:"provider_ref,omitempty"`
	ErrorMessage    *string             `gorm:"type:varchar(255)" json:"error_message,omitempty"`
	AttemptedAt     time.Time           `gorm:"not null" json:"attempted_at"`
}

// TableName 指定表名
func (NotificationAttempt) TableName() string {
	return "notification_attempts"
}
