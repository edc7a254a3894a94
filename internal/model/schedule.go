package model

import "time"

// WeekdaySet 星期位图，bit0 = 周日 ... bit6 = 周六
type WeekdaySet uint8

// EveryDay 每天都生效
const EveryDay WeekdaySet = 0x7f

// NewWeekdaySet 由星期列表构造位图
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var set WeekdaySet
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			set |= 1 << uint(d)
		}
	}
	return set
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Days 返回位图中的星期索引（0=周日）
func (s WeekdaySet) Days() []int {
	days := make([]int, 0, 7)
	for d := 0; d < 7; d++ {
		if s&(1<<uint(d)) != 0 {
			days = append(days, d)
		}
	}
	return days
}

// Schedule 打卡计划，每个打卡人同一时间只有一条生效的计划
type Schedule struct {
	BaseModel
	CheckerID           int64      `gorm:"not null;index;uniqueIndex:idx_schedules_one_active,where:is_active = true" json:"checker_id"`
	WindowStartHour     int        `gorm:"type:smallint;not null" json:"window_start_hour"`
	WindowStartMinute   int        `gorm:"type:smallint;not null;default:0" json:"window_start_minute"`
	WindowEndHour       int        `gorm:"type:smallint;not null" json:"window_end_hour"`
	WindowEndMinute     int        `gorm:"type:smallint;not null;default:0" json:"window_end_minute"`
	Timezone            string     `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone"`
	ActiveDays          WeekdaySet `gorm:"type:smallint;not null" json:"active_days"`
	GraceMinutes        int        `gorm:"not null" json:"grace_minutes"`
	ReminderLeadMinutes int        `gorm:"not null;default:0" json:"reminder_lead_minutes"`
	IsActive            bool       `gorm:"not null" json:"is_active"`
}

// TableName 指定表名
func (Schedule) TableName() string {
	return "schedules"
}
