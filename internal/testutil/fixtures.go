package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"SafeCircle/internal/model"
)

var publicIDSeq int64 = 1000

// SeedUser 创建一个打卡人或 app 内支持者
func SeedUser(t testing.TB, db *gorm.DB, nickname, tz string) *model.User {
	t.Helper()
	publicIDSeq++
	u := &model.User{
		PublicID: publicIDSeq,
		Nickname: nickname,
		Timezone: tz,
		Status:   model.UserStatusActive,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// SeedSchedule 每天生效的计划
func SeedSchedule(t testing.TB, db *gorm.DB, checkerID int64, tz string, endHour, graceMinutes int) *model.Schedule {
	t.Helper()
	s := &model.Schedule{
		CheckerID:       checkerID,
		WindowStartHour: 7,
		WindowEndHour:   endHour,
		Timezone:        tz,
		ActiveDays:      model.EveryDay,
		GraceMinutes:    graceMinutes,
		IsActive:        true,
	}
	require.NoError(t, db.Create(s).Error)
	return s
}

// LinkOption 调整支持者关系
type LinkOption func(*model.CircleLink)

func WithPhone(phone string) LinkOption {
	return func(l *model.CircleLink) { l.ContactPhone = &phone }
}

func WithEmail(email string) LinkOption {
	return func(l *model.CircleLink) { l.ContactEmail = &email }
}

func WithSupporterUser(userID int64) LinkOption {
	return func(l *model.CircleLink) { l.SupporterUserID = &userID }
}

func WithChannels(push, sms, email bool) LinkOption {
	return func(l *model.CircleLink) {
		l.AlertViaPush = push
		l.AlertViaSMS = sms
		l.AlertViaEmail = email
	}
}

// Pending 邀请未接受
func Pending() LinkOption {
	return func(l *model.CircleLink) { l.AcceptedAt = nil }
}

func Inactive() LinkOption {
	return func(l *model.CircleLink) { l.IsActive = false }
}

// SeedLink 默认已接受、生效、只开推送
func SeedLink(t testing.TB, db *gorm.DB, checkerID int64, name string, priority int, opts ...LinkOption) *model.CircleLink {
	t.Helper()
	accepted := time.Now().UTC().Add(-72 * time.Hour)
	l := &model.CircleLink{
		CheckerID:     checkerID,
		ContactName:   name,
		CanSeeMood:    true,
		CanPoke:       true,
		AlertViaPush:  true,
		AlertPriority: priority,
		IsActive:      true,
		AcceptedAt:    &accepted,
	}
	for _, opt := range opts {
		opt(l)
	}
	require.NoError(t, db.Create(l).Error)
	return l
}

// SeedAlert 直接写入一条告警
func SeedAlert(t testing.TB, db *gorm.DB, checkerID int64, day string, level model.AlertLevel, missedAt time.Time) *model.AlertEvent {
	t.Helper()
	a := &model.AlertEvent{
		CheckerID:      checkerID,
		AlertDay:       day,
		Source:         model.AlertSourceMissedWindow,
		Level:          level,
		Status:         model.AlertStatusPending,
		TriggeredAt:    missedAt.UTC(),
		MissedWindowAt: missedAt.UTC(),
	}
	if level != model.AlertLevelReminder {
		a.Status = model.AlertStatusSent
	}
	require.NoError(t, db.Create(a).Error)
	return a
}
