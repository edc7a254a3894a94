package model

import (
	"strconv"
	"time"
)

// CheckIn 打卡记录，创建后只允许补充照片引用
type CheckIn struct {
	BaseModel
	CheckerID      int64      `gorm:"not null;index:idx_check_ins_checker_time,priority:1" json:"checker_id"`
	CheckedInAt    time.Time  `gorm:"not null;index:idx_check_ins_checker_time,priority:2" json:"checked_in_at"`
	MoodScore      int        `gorm:"type:smallint;not null" json:"mood_score"`
	EnergyScore    int        `gorm:"type:smallint;not null" json:"energy_score"`
	SleepScore     int        `gorm:"type:smallint;not null" json:"sleep_score"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	Address        *string    `gorm:"type:varchar(255)" json:"address,omitempty"`
	PhotoKey       *string    `gorm:"type:varchar(255)" json:"photo_key,omitempty"`
	PhotoExpiresAt *time.Time `json:"photo_expires_at,omitempty"`
}

// TableName 指定表名
func (CheckIn) TableName() string {
	return "check_ins"
}

// LocationText 告警快照使用的位置描述，优先使用地址
func (c *CheckIn) LocationText() *string {
	if c == nil {
		return nil
	}
	if c.Address != nil && *c.Address != "" {
		addr := *c.Address
		return &addr
	}
	if c.Latitude != nil && c.Longitude != nil {
		text := formatLatLng(*c.Latitude, *c.Longitude)
		return &text
	}
	return nil
}

func formatLatLng(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', 5, 64) + "," + strconv.FormatFloat(lng, 'f', 5, 64)
}
