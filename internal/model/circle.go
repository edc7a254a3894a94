package model

import "time"

// CircleLink 打卡人 -> 支持者 的有向关系
// 支持者可以是 app 用户，也可以只是一个手机号/邮箱联系人
type CircleLink struct {
	BaseModel
	CheckerID       int64   `gorm:"not null;index:idx_circle_links_checker_priority,priority:1" json:"checker_id"`
	SupporterUserID *int64  `gorm:"index" json:"supporter_user_id,omitempty"`
	ContactName     string  `gorm:"type:varchar(64);not null;default:''" json:"contact_name"`
	ContactPhone    *string `gorm:"type:varchar(20)" json:"-"` // E.164
	ContactEmail    *string `gorm:"type:varchar(255)" json:"-"`

	CanSeeMood     bool `gorm:"not null" json:"can_see_mood"`
	CanSeeLocation bool `gorm:"not null;default:false" json:"can_see_location"`
	CanSeeSelfie   bool `gorm:"not null;default:false" json:"can_see_selfie"`
	CanPoke        bool `gorm:"not null" json:"can_poke"`

	AlertViaPush  bool `gorm:"not null" json:"alert_via_push"`
	AlertViaSMS   bool `gorm:"not null;default:false" json:"alert_via_sms"`
	AlertViaEmail bool `gorm:"not null;default:false" json:"alert_via_email"`

	AlertPriority int        `gorm:"type:smallint;not null;index:idx_circle_links_checker_priority,priority:2" json:"alert_priority"`
	IsActive      bool       `gorm:"not null" json:"is_active"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
}

// TableName 指定表名
func (CircleLink) TableName() string {
	return "circle_links"
}

// Eligible 未接受邀请或已停用的关系不参与提醒和通知
func (l *CircleLink) Eligible() bool {
	return l.IsActive && l.AcceptedAt != nil
}

// IsAppUser 支持者是否为 app 用户（可接收推送）
func (l *CircleLink) IsAppUser() bool {
	return l.SupporterUserID != nil && *l.SupporterUserID > 0
}

func (l *CircleLink) Phone() string {
	if l.ContactPhone == nil {
		return ""
	}
	return *l.ContactPhone
}

func (l *CircleLink) Email() string {
	if l.ContactEmail == nil {
		return ""
	}
	return *l.ContactEmail
}

// DeviceToken 推送设备令牌
type DeviceToken struct {
	BaseModel
	UserID     int64      `gorm:"not null;index:idx_device_tokens_user_active,priority:1" json:"user_id"`
	Platform   string     `gorm:"type:varchar(16);not null;default:'ios'" json:"platform"`
	Token      string     `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`
	IsActive   bool       `gorm:"not null;index:idx_device_tokens_user_active,priority:2" json:"is_active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// TableName 指定表名
func (DeviceToken) TableName() string {
	return "device_tokens"
}
