package model

import "time"

// RecordCheckInRequest 打卡请求
type RecordCheckInRequest struct {
	MoodScore   int      `json:"mood_score"`
	EnergyScore int      `json:"energy_score"`
	SleepScore  int      `json:"sleep_score"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Address     *string  `json:"address,omitempty"`
}

// CheckInResponse 打卡结果
type CheckInResponse struct {
	CheckIn        CheckIn `json:"check_in"`
	ResolvedAlerts []int64 `json:"resolved_alert_ids"`
}

// TodayCheckInResponse 当天打卡状态
type TodayCheckInResponse struct {
	Day        string     `json:"day"`
	CheckedIn  bool       `json:"checked_in"`
	LastAt     *time.Time `json:"last_checked_in_at,omitempty"`
	WindowEnd  *time.Time `json:"window_end,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	OpenAlerts int64      `json:"open_alerts"`
}

// ResolveAlertRequest 支持者手动关闭告警
type ResolveAlertRequest struct {
	Reason ResolutionReason `json:"reason"`
	Notes  *string          `json:"notes,omitempty"`
}

// AlertView 对外暴露的告警结构
type AlertView struct {
	ID                   int64             `json:"id"`
	CheckerID            int64             `json:"checker_id"`
	CheckerName          string            `json:"checker_name"`
	Level                AlertLevel        `json:"level"`
	Status               AlertStatus       `json:"status"`
	TriggeredAt          time.Time         `json:"triggered_at"`
	MissedWindowAt       time.Time         `json:"missed_window_at"`
	LastCheckInAt        *time.Time        `json:"last_check_in_at"`
	LastKnownLocation    *string           `json:"last_known_location"`
	AcknowledgedAt       *time.Time        `json:"acknowledged_at"`
	AcknowledgedBy       *int64            `json:"acknowledged_by"`
	ResolvedAt           *time.Time        `json:"resolved_at"`
	ResolvedBy           *int64            `json:"resolved_by"`
	Resolution           *ResolutionReason `json:"resolution"`
	ResolutionNotes      *string           `json:"resolution_notes"`
	NotifiedSupporterIDs []int64           `json:"notified_supporter_ids"`
}

// NewAlertView 组装对外结构，位置信息按可见性裁剪
func NewAlertView(a *AlertEvent, checkerName string, canSeeLocation bool) AlertView {
	notified := make([]int64, 0, len(a.NotifiedSupporterIDs))
	notified = append(notified, a.NotifiedSupporterIDs...)

	v := AlertView{
		ID:                   a.ID,
		CheckerID:            a.CheckerID,
		CheckerName:          checkerName,
		Level:                a.Level,
		Status:               a.Status,
		TriggeredAt:          a.TriggeredAt,
		MissedWindowAt:       a.MissedWindowAt,
		LastCheckInAt:        a.LastCheckInAt,
		AcknowledgedAt:       a.AcknowledgedAt,
		AcknowledgedBy:       a.AcknowledgedBy,
		ResolvedAt:           a.ResolvedAt,
		ResolvedBy:           a.ResolvedBy,
		Resolution:           a.Resolution,
		ResolutionNotes:      a.ResolutionNotes,
		NotifiedSupporterIDs: notified,
	}
	if canSeeLocation {
		v.LastKnownLocation = a.LastKnownLocation
	}
	return v
}

// RegisterDeviceRequest 注册推送设备
type RegisterDeviceRequest struct {
	Platform string `json:"platform"`
	Token    string `json:"token"`
}
