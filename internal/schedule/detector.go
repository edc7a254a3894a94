package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/pkg/metrics"
)

// detect 扫描所有生效计划，为错过窗口且当天未打卡的打卡人创建 reminder 告警
func (e *Engine) detect(ctx context.Context, now time.Time, stats *tickStats) error {
	return e.schedules.ForEachActiveBatch(ctx, func(batch []model.Schedule) error {
		g := e.group()
		for i := range batch {
			s := &batch[i]
			g.Go(func() error {
				return e.detectOne(ctx, s, now, stats)
			})
		}
		return g.Wait()
	})
}

func (e *Engine) detectOne(ctx context.Context, s *model.Schedule, now time.Time, stats *tickStats) error {
	stats.scanned.Add(1)

	w, missed := MissedWindow(s, now)
	if !missed {
		e.maybeNudge(ctx, s, now, stats)
		return nil
	}

	// 当天已有漏打卡告警，或手动求助等其他未关闭告警时不再创建
	exists, err := e.alerts.ExistsForDay(ctx, s.CheckerID, w.Day)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	checkedIn, err := e.checkIns.HasCheckedInSince(ctx, s.CheckerID, w.DayStart)
	if err != nil {
		return err
	}
	if checkedIn {
		return nil
	}

	latest, err := e.checkIns.Latest(ctx, s.CheckerID)
	if err != nil {
		return err
	}

	claim := e.newClaim(now)
	alert := &model.AlertEvent{
		CheckerID:          s.CheckerID,
		AlertDay:           w.Day,
		Source:             model.AlertSourceMissedWindow,
		Level:              model.AlertLevelReminder,
		Status:             model.AlertStatusPending,
		TriggeredAt:        now.UTC(),
		MissedWindowAt:     w.Deadline.UTC(),
		DispatchPending:    true,
		DispatchToken:      &claim.Token,
		DispatchLeaseUntil: &claim.LeaseUntil,
	}
	if latest != nil {
		at := latest.CheckedInAt.UTC()
		alert.LastCheckInAt = &at
		alert.LastKnownLocation = latest.LocationText()
	}

	created, err := e.alerts.CreateIfAbsent(ctx, alert)
	if err != nil {
		return err
	}
	if !created {
		stats.conflicts.Add(1)
		metrics.GetMetrics().RecordCASConflict(ctx, "create")
		return nil
	}

	stats.created.Add(1)
	metrics.GetMetrics().RecordAlertCreated(ctx, string(model.AlertSourceMissedWindow))
	e.logger.Info("Missed check-in detected",
		zap.Int64("alert_id", alert.ID),
		zap.Int64("checker_id", s.CheckerID),
		zap.String("alert_day", w.Day),
		zap.Time("deadline", w.Deadline),
	)
	e.publish(ctx, model.AlertEventCreated, alert)

	if err := e.dispatch(ctx, alert, model.AlertLevelReminder, claim); err != nil {
		return err
	}
	stats.dispatched.Add(1)
	return nil
}

// maybeNudge 截止前 ReminderLeadMinutes 给打卡人推送一次提醒
// 去重依赖 Redis 标记，标记失败时宁可不发
func (e *Engine) maybeNudge(ctx context.Context, s *model.Schedule, now time.Time, stats *tickStats) {
	if e.nudges == nil || !IsActiveDay(s, now) {
		return
	}

	w := WindowFor(s, now)
	at, ok := NudgeAt(s, w)
	if !ok || now.Before(at) || !now.Before(w.End) {
		return
	}

	checkedIn, err := e.checkIns.HasCheckedInSince(ctx, s.CheckerID, w.DayStart)
	if err != nil {
		e.logger.Warn("Failed to check today's check-in for nudge",
			zap.Int64("checker_id", s.CheckerID),
			zap.Error(err),
		)
		return
	}
	if checkedIn {
		return
	}

	marked, err := e.nudges.TryMark(ctx, w.Day, s.CheckerID)
	if err != nil {
		e.logger.Warn("Failed to mark nudge, skipping",
			zap.Int64("checker_id", s.CheckerID),
			zap.Error(err),
		)
		return
	}
	if !marked {
		return
	}

	if err := e.dispatcher.NudgeChecker(ctx, s.CheckerID, w.End); err != nil {
		e.logger.Warn("Failed to nudge checker",
			zap.Int64("checker_id", s.CheckerID),
			zap.Error(fmt.Errorf("nudge: %w", err)),
		)
		return
	}
	stats.nudged.Add(1)
}
