package model

// UserStatus 用户状态枚举
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User 用户模型，打卡人和 app 内的支持者都是 User
type User struct {
	BaseModel
	PublicID int64      `gorm:"uniqueIndex;not null" json:"public_id"`
	Nickname string     `gorm:"type:varchar(64);not null;default:''" json:"nickname"`
	Phone    *string    `gorm:"type:varchar(20)" json:"-"` // E.164
	Email    *string    `gorm:"type:varchar(255)" json:"-"`
	Timezone string     `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone"`
	Status   UserStatus `gorm:"type:varchar(16);not null;default:'active';index:idx_users_status" json:"status"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// DisplayName 通知文案中使用的称呼
func (u *User) DisplayName() string {
	if u == nil || u.Nickname == "" {
		return "Your contact"
	}
	return u.Nickname
}
