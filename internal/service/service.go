package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"SafeCircle/internal/cache"
	"SafeCircle/internal/model"
)

// 服务层依赖的存储接口，实现位于 internal/repository

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error)
}

type ScheduleStore interface {
	ActiveFor(ctx context.Context, checkerID int64) (*model.Schedule, error)
}

type CheckInStore interface {
	Create(ctx context.Context, c *model.CheckIn) error
	HasCheckedInSince(ctx context.Context, checkerID int64, since time.Time) (bool, error)
	Latest(ctx context.Context, checkerID int64) (*model.CheckIn, error)
}

type AlertStore interface {
	CreateIfAbsent(ctx context.Context, alert *model.AlertEvent) (bool, error)
	GetByID(ctx context.Context, id int64) (*model.AlertEvent, error)
	OpenForDay(ctx context.Context, checkerID int64, day string) (*model.AlertEvent, error)
	TryAdvance(ctx context.Context, id int64, expected, next model.AlertLevel, claim model.DispatchClaim) (bool, error)
	CountOpenForChecker(ctx context.Context, checkerID int64) (int64, error)
	Acknowledge(ctx context.Context, id, linkID int64, now time.Time) (bool, error)
	Resolve(ctx context.Context, id int64, resolvedBy *int64, reason model.ResolutionReason, notes *string, now time.Time) (bool, error)
	Cancel(ctx context.Context, id int64, now time.Time) (bool, error)
	ResolveOpenForChecker(ctx context.Context, checkerID int64, now time.Time) ([]model.AlertEvent, error)
	ListForCheckers(ctx context.Context, checkerIDs []int64, beforeID int64, limit int) ([]model.AlertEvent, error)
	CompleteDispatch(ctx context.Context, id int64, token string, notified []int64) (bool, error)
}

type CircleStore interface {
	LinkForSupporter(ctx context.Context, checkerID, supporterUserID int64) (*model.CircleLink, error)
	LinksForSupporter(ctx context.Context, supporterUserID int64) ([]model.CircleLink, error)
}

type DeviceStore interface {
	Register(ctx context.Context, userID int64, platform, token string, now time.Time) error
}

// EventPublisher 告警生命周期事件，发布失败只记录日志
type EventPublisher interface {
	PublishAlertEvent(ctx context.Context, eventType model.AlertEventType, alert *model.AlertEvent) error
}

// Dispatcher 手动告警的扇出
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *model.AlertEvent, level model.AlertLevel) ([]int64, error)
}

// CallLookup 语音回调上下文
type CallLookup interface {
	Lookup(ctx context.Context, token string) (*cache.CallContext, bool, error)
}

// Deps 服务层依赖，Events 可为空
type Deps struct {
	Users     UserStore
	Schedules ScheduleStore
	CheckIns  CheckInStore
	Alerts    AlertStore
	Circles   CircleStore
	Devices   DeviceStore

	Events     EventPublisher
	Dispatcher Dispatcher
	Calls      CallLookup

	PublicBaseURL string
	DispatchLease time.Duration
	Now           func() time.Time
}

var (
	checkInService *CheckInService
	alertService   *AlertService
	voiceService   *VoiceService
	deviceService  *DeviceService
	initOnce       sync.Once
	initErr        error
)

// Init 构建全部服务单例，只生效一次
func Init(d Deps) error {
	initOnce.Do(func() {
		if d.Users == nil || d.Alerts == nil || d.CheckIns == nil {
			initErr = errors.New("service: users, alerts and check-ins stores required")
			return
		}
		checkInService = NewCheckInService(d)
		alertService = NewAlertService(d)
		voiceService = NewVoiceService(d)
		deviceService = NewDeviceService(d)
	})
	return initErr
}

func CheckIn() *CheckInService { return checkInService }

func Alert() *AlertService { return alertService }

func Voice() *VoiceService { return voiceService }

func Device() *DeviceService { return deviceService }

func nowFunc(d Deps) func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}
