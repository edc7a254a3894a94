package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/internal/repository"
	pkgerrors "SafeCircle/pkg/errors"
)

// TriggerSOS 打卡人手动求助，直接以 hard 档扇出
// 当天已有未关闭的漏打卡告警时就地升级到 hard，不再新建一条
// 否则创建 manual 告警，每个打卡日最多一次
// 扇出失败时保留派发认领，由升级 tick 在租约过期后补发
func (s *AlertService) TriggerSOS(ctx context.Context, checkerID int64) (*model.AlertView, error) {
	checker, err := s.users.GetByID(ctx, checkerID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(checker.Timezone)
	if err != nil {
		loc = time.UTC
	}

	now := s.now().UTC()
	day := now.In(loc).Format("2006-01-02")

	open, err := s.alerts.OpenForDay(ctx, checkerID, day)
	if err == nil {
		return s.escalateForSOS(ctx, checker, open, now)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	claim := s.newClaim(now)
	alert := &model.AlertEvent{
		CheckerID:          checkerID,
		AlertDay:           day,
		Source:             model.AlertSourceManual,
		Level:              model.AlertLevelHard,
		Status:             model.AlertStatusSent,
		TriggeredAt:        now,
		MissedWindowAt:     now,
		DispatchPending:    true,
		DispatchToken:      &claim.Token,
		DispatchLeaseUntil: &claim.LeaseUntil,
	}

	created, err := s.alerts.CreateIfAbsent(ctx, alert)
	if err != nil {
		return nil, err
	}
	if !created {
		// 并发 tick 可能刚插入当天的漏打卡告警
		if open, err := s.alerts.OpenForDay(ctx, checkerID, day); err == nil {
			return s.escalateForSOS(ctx, checker, open, now)
		}
		return nil, pkgerrors.ManualAlertExhausted
	}
	publish(ctx, s.events, model.AlertEventCreated, alert)
	s.logger.Warn("SOS alert raised",
		zap.Int64("alert_id", alert.ID),
		zap.Int64("checker_id", checkerID),
	)

	if err := s.fanOutHard(ctx, alert, claim.Token); err != nil {
		return nil, err
	}
	v := model.NewAlertView(alert, checker.DisplayName(), true)
	return &v, nil
}

// escalateForSOS 把当天未关闭的漏打卡告警升到 hard
func (s *AlertService) escalateForSOS(ctx context.Context, checker *model.User, alert *model.AlertEvent, now time.Time) (*model.AlertView, error) {
	if alert.Source == model.AlertSourceManual {
		return nil, pkgerrors.ManualAlertExhausted
	}
	if alert.Level.Rank() >= model.AlertLevelHard.Rank() {
		v := model.NewAlertView(alert, checker.DisplayName(), true)
		return &v, nil
	}

	claim := s.newClaim(now)
	ok, err := s.alerts.TryAdvance(ctx, alert.ID, alert.Level, model.AlertLevelHard, claim)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.load(ctx, alert.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case current.Status.Terminal():
			return nil, pkgerrors.AlertClosed
		case current.Level.Rank() >= model.AlertLevelHard.Rank():
			v := model.NewAlertView(current, checker.DisplayName(), true)
			return &v, nil
		default:
			return nil, pkgerrors.AlertDispatchBusy
		}
	}

	from := alert.Level
	alert.Level = model.AlertLevelHard
	if alert.Status == model.AlertStatusPending {
		alert.Status = model.AlertStatusSent
	}
	alert.DispatchPending = true
	alert.DispatchToken = &claim.Token
	alert.DispatchLeaseUntil = &claim.LeaseUntil

	publish(ctx, s.events, model.AlertEventEscalated, alert)
	s.logger.Warn("SOS escalated open alert",
		zap.Int64("alert_id", alert.ID),
		zap.Int64("checker_id", alert.CheckerID),
		zap.String("from_level", string(from)),
	)

	if err := s.fanOutHard(ctx, alert, claim.Token); err != nil {
		return nil, err
	}
	v := model.NewAlertView(alert, checker.DisplayName(), true)
	return &v, nil
}

func (s *AlertService) newClaim(now time.Time) model.DispatchClaim {
	return model.DispatchClaim{Token: uuid.NewString(), LeaseUntil: now.Add(s.lease)}
}

// fanOutHard 扇出失败只记录，认领留给恢复流程
func (s *AlertService) fanOutHard(ctx context.Context, alert *model.AlertEvent, token string) error {
	if s.dispatcher == nil {
		return nil
	}
	notified, err := s.dispatcher.Dispatch(ctx, alert, model.AlertLevelHard)
	if err != nil {
		s.logger.Error("SOS fan-out failed, left for recovery",
			zap.Int64("alert_id", alert.ID),
			zap.Error(err),
		)
		return nil
	}

	union := mergeIDs(alert.NotifiedSupporterIDs, notified)
	ok, err := s.alerts.CompleteDispatch(ctx, alert.ID, token, union)
	if err != nil {
		return err
	}
	if ok {
		alert.NotifiedSupporterIDs = union
		alert.DispatchPending = false
		alert.DispatchToken = nil
		alert.DispatchLeaseUntil = nil
	}
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
