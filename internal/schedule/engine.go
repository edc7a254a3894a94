package schedule

// 告警升级引擎：每次 tick 先检测漏打卡，再推进已有告警的档位并扇出通知
// 重叠 tick 的正确性完全依赖存储层的唯一索引和条件更新

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/pkg/logger"
)

// ScheduleStore 生效计划来源
type ScheduleStore interface {
	ForEachActiveBatch(ctx context.Context, fn func([]model.Schedule) error) error
}

// CheckInStore 打卡记录查询
type CheckInStore interface {
	HasCheckedInSince(ctx context.Context, checkerID int64, since time.Time) (bool, error)
	Latest(ctx context.Context, checkerID int64) (*model.CheckIn, error)
}

// AlertStore 告警存储，写操作均为条件更新
type AlertStore interface {
	CreateIfAbsent(ctx context.Context, alert *model.AlertEvent) (bool, error)
	ExistsForDay(ctx context.Context, checkerID int64, day string) (bool, error)
	ListOpen(ctx context.Context) ([]model.AlertEvent, error)
	TryAdvance(ctx context.Context, id int64, expected, next model.AlertLevel, claim model.DispatchClaim) (bool, error)
	ClaimDispatch(ctx context.Context, id int64, level model.AlertLevel, claim model.DispatchClaim, now time.Time) (bool, error)
	CompleteDispatch(ctx context.Context, id int64, token string, notified []int64) (bool, error)
}

// Dispatcher 通知扇出
// Dispatch 返回本次至少尝试联系过一次的支持者（circle link id）
// 渠道发送失败不算错误，只有加载收件人等存储失败才返回 error
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *model.AlertEvent, level model.AlertLevel) ([]int64, error)
	NudgeChecker(ctx context.Context, checkerID int64, windowEnd time.Time) error
}

// EventPublisher 告警生命周期事件，发布失败只记录日志
type EventPublisher interface {
	PublishAlertEvent(ctx context.Context, eventType model.AlertEventType, alert *model.AlertEvent) error
}

// Lease tick 级租约，拿不到时本次 tick 直接跳过
type Lease interface {
	Acquire(ctx context.Context) (release func(context.Context), ok bool, err error)
}

// NudgeMarker 截止前提醒去重
type NudgeMarker interface {
	TryMark(ctx context.Context, day string, checkerID int64) (bool, error)
}

type Options struct {
	Schedules  ScheduleStore
	CheckIns   CheckInStore
	Alerts     AlertStore
	Dispatcher Dispatcher

	// 以下可选
	Events EventPublisher
	Lease  Lease
	Nudges NudgeMarker

	Thresholds    Thresholds
	Workers       int
	DispatchLease time.Duration
	Now           func() time.Time
	Logger        *zap.Logger
}

type Engine struct {
	schedules  ScheduleStore
	checkIns   CheckInStore
	alerts     AlertStore
	dispatcher Dispatcher
	events     EventPublisher
	lease      Lease
	nudges     NudgeMarker

	thresholds    Thresholds
	workers       int
	dispatchLease time.Duration
	now           func() time.Time
	logger        *zap.Logger

	mu          sync.Mutex
	running     bool
	lastTickEnd time.Time
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Schedules == nil || opts.CheckIns == nil || opts.Alerts == nil || opts.Dispatcher == nil {
		return nil, errors.New("schedule: stores and dispatcher are required")
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.DispatchLease <= 0 {
		opts.DispatchLease = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("escalation")
	}

	return &Engine{
		schedules:     opts.Schedules,
		checkIns:      opts.CheckIns,
		alerts:        opts.Alerts,
		dispatcher:    opts.Dispatcher,
		events:        opts.Events,
		lease:         opts.Lease,
		nudges:        opts.Nudges,
		thresholds:    opts.Thresholds,
		workers:       opts.Workers,
		dispatchLease: opts.DispatchLease,
		now:           opts.Now,
		logger:        opts.Logger,
	}, nil
}

// Thresholds 当前生效的阈值
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// newClaim 每次认领一个新的随机 token
func (e *Engine) newClaim(now time.Time) model.DispatchClaim {
	return model.DispatchClaim{
		Token:      uuid.NewString(),
		LeaseUntil: now.Add(e.dispatchLease).UTC(),
	}
}

// publish 事件发布是尽力而为
func (e *Engine) publish(ctx context.Context, eventType model.AlertEventType, alert *model.AlertEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishAlertEvent(ctx, eventType, alert); err != nil {
		e.logger.Warn("Failed to publish alert event",
			zap.Int64("alert_id", alert.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

// dispatch 扇出并在结束后一次性写入已通知集合
// 扇出失败时保留 dispatch_pending，租约过期后由后续 tick 重新认领
func (e *Engine) dispatch(ctx context.Context, alert *model.AlertEvent, level model.AlertLevel, claim model.DispatchClaim) error {
	notified, err := e.dispatcher.Dispatch(ctx, alert, level)
	if err != nil {
		return fmt.Errorf("failed to dispatch alert %d at %s: %w", alert.ID, level, err)
	}

	union := mergeIDs(alert.NotifiedSupporterIDs, notified)
	ok, err := e.alerts.CompleteDispatch(ctx, alert.ID, claim.Token, union)
	if err != nil {
		return err
	}
	if !ok {
		// 租约已过期被其他 tick 接管，对方会写入自己的结果
		e.logger.Warn("Dispatch claim lost before completion",
			zap.Int64("alert_id", alert.ID),
			zap.String("level", string(level)),
		)
		return nil
	}
	alert.NotifiedSupporterIDs = union
	alert.DispatchPending = false
	return nil
}

// mergeIDs 保持原有顺序的并集
func mergeIDs(prev []int64, added []int64) []int64 {
	seen := make(map[int64]struct{}, len(prev)+len(added))
	out := make([]int64, 0, len(prev)+len(added))
	for _, ids := range [][]int64{prev, added} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// LastTickEnd 最近一次 tick 结束时间，尚未执行过时为零值
func (e *Engine) LastTickEnd() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTickEnd
}
