package model

import (
	"time"

	"gorm.io/datatypes"
)

// AlertLevel 告警升级档位，按 Rank 全序
type AlertLevel string

const (
	AlertLevelReminder   AlertLevel = "reminder"
	AlertLevelSoft       AlertLevel = "soft"
	AlertLevelHard       AlertLevel = "hard"
	AlertLevelEscalation AlertLevel = "escalation"
)

// AlertLevels 按升级顺序排列
var AlertLevels = []AlertLevel{AlertLevelReminder, AlertLevelSoft, AlertLevelHard, AlertLevelEscalation}

// Rank reminder=0 ... escalation=3，未知档位返回 -1
func (l AlertLevel) Rank() int {
	for i, lv := range AlertLevels {
		if lv == l {
			return i
		}
	}
	return -1
}

func (l AlertLevel) Valid() bool {
	return l.Rank() >= 0
}

// Next 下一档位，已是最高档时 ok=false
func (l AlertLevel) Next() (AlertLevel, bool) {
	r := l.Rank()
	if r < 0 || r+1 >= len(AlertLevels) {
		return l, false
	}
	return AlertLevels[r+1], true
}

// AlertStatus 告警生命周期状态
type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusSent         AlertStatus = "sent"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusCancelled    AlertStatus = "cancelled"
)

// OpenAlertStatuses 未关闭的状态，升级扫描和关闭操作都基于此集合
var OpenAlertStatuses = []string{
	string(AlertStatusPending),
	string(AlertStatusSent),
	string(AlertStatusAcknowledged),
}

func (s AlertStatus) Terminal() bool {
	return s == AlertStatusResolved || s == AlertStatusCancelled
}

// AlertSource 告警来源
type AlertSource string

const (
	AlertSourceMissedWindow AlertSource = "missed_window"
	AlertSourceManual       AlertSource = "manual"
)

// ResolutionReason 手动关闭原因
type ResolutionReason string

const (
	ResolutionCheckedIn     ResolutionReason = "checked_in"
	ResolutionContacted     ResolutionReason = "contacted"
	ResolutionSafeConfirmed ResolutionReason = "safe_confirmed"
	ResolutionFalseAlarm    ResolutionReason = "false_alarm"
	ResolutionOther         ResolutionReason = "other"
	// ResolutionCancelled 打卡人主动取消
	ResolutionCancelled ResolutionReason = "cancelled"
)

// ValidSupporterReason 支持者可选的关闭原因
func (r ResolutionReason) ValidSupporterReason() bool {
	switch r {
	case ResolutionCheckedIn, ResolutionContacted, ResolutionSafeConfirmed, ResolutionFalseAlarm, ResolutionOther:
		return true
	}
	return false
}

// AlertEvent 告警实例，同时也是审计记录，不做物理删除
// (checker_id, alert_day, source) 唯一，保证同一打卡日只有一条漏打卡告警
// idx_alert_events_open_day 保证同一打卡人同一天最多一条 pending/sent 告警，不论来源
type AlertEvent struct {
	BaseModel
	CheckerID int64       `gorm:"not null;uniqueIndex:idx_alert_events_checker_day,priority:1;uniqueIndex:idx_alert_events_open_day,priority:1,where:(status = 'pending' OR status = 'sent')" json:"checker_id"`
	AlertDay  string      `gorm:"type:varchar(10);not null;uniqueIndex:idx_alert_events_checker_day,priority:2;uniqueIndex:idx_alert_events_open_day,priority:2,where:(status = 'pending' OR status = 'sent')" json:"alert_day"`
	Source    AlertSource `gorm:"type:varchar(16);not null;default:'missed_window';uniqueIndex:idx_alert_events_checker_day,priority:3" json:"source"`

	Level  AlertLevel  `gorm:"type:varchar(16);not null;default:'reminder'" json:"level"`
	Status AlertStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_alert_events_status" json:"status"`

	TriggeredAt       time.Time  `gorm:"not null" json:"triggered_at"`
	MissedWindowAt    time.Time  `gorm:"not null" json:"missed_window_at"`
	LastCheckInAt     *time.Time `json:"last_check_in_at"`
	LastKnownLocation *string    `gorm:"type:varchar(255)" json:"last_known_location"`

	AcknowledgedAt  *time.Time        `json:"acknowledged_at"`
	AcknowledgedBy  *int64            `json:"acknowledged_by"` // circle link id
	ResolvedAt      *time.Time        `gorm:"index" json:"resolved_at"`
	ResolvedBy      *int64            `json:"resolved_by"` // circle link id，打卡人自己关闭时为空
	Resolution      *ResolutionReason `gorm:"type:varchar(16)" json:"resolution"`
	ResolutionNotes *string           `gorm:"type:text" json:"resolution_notes"`

	NotifiedSupporterIDs datatypes.JSONSlice[int64] `json:"notified_supporter_ids"`

	// 扇出派发记录：升级 CAS 成功时置位，扇出完成后清除
	// 进程在两者之间崩溃时，租约过期后由下一次 tick 重新认领
	DispatchPending    bool       `gorm:"not null;default:false" json:"-"`
	DispatchToken      *string    `gorm:"type:varchar(64)" json:"-"`
	DispatchLeaseUntil *time.Time `json:"-"`
}

// TableName 指定表名
func (AlertEvent) TableName() string {
	return "alert_events"
}

// IsOpen 未被关闭且未被解决
func (a *AlertEvent) IsOpen() bool {
	return a.ResolvedAt == nil && !a.Status.Terminal()
}

// Notified 支持者是否已在之前的档位被联系过
func (a *AlertEvent) Notified(linkID int64) bool {
	for _, id := range a.NotifiedSupporterIDs {
		if id == linkID {
			return true
		}
	}
	return false
}

// DispatchClaim 派发认领凭证
type DispatchClaim struct {
	Token      string
	LeaseUntil time.Time
}
