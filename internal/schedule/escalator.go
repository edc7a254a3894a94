package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/pkg/metrics"
)

// escalate 推进所有未关闭告警的档位
func (e *Engine) escalate(ctx context.Context, now time.Time, stats *tickStats) error {
	open, err := e.alerts.ListOpen(ctx)
	if err != nil {
		return err
	}

	g := e.group()
	for i := range open {
		alert := &open[i]
		g.Go(func() error {
			return e.escalateOne(ctx, alert, now, stats)
		})
	}
	return g.Wait()
}

func (e *Engine) escalateOne(ctx context.Context, alert *model.AlertEvent, now time.Time, stats *tickStats) error {
	if alert.DispatchPending {
		if alert.DispatchLeaseUntil != nil && alert.DispatchLeaseUntil.After(now) {
			// 其他 tick 正在扇出
			return nil
		}
		recovered, err := e.recoverDispatch(ctx, alert, now, stats)
		if err != nil || !recovered {
			return err
		}
	}

	target := e.thresholds.LevelFor(now.Sub(alert.MissedWindowAt))
	for alert.Level.Rank() < target.Rank() {
		next, _ := alert.Level.Next()
		claim := e.newClaim(now)

		ok, err := e.alerts.TryAdvance(ctx, alert.ID, alert.Level, next, claim)
		if err != nil {
			return err
		}
		if !ok {
			stats.conflicts.Add(1)
			metrics.GetMetrics().RecordCASConflict(ctx, "advance")
			e.logger.Debug("Escalation race lost, skipping alert this tick",
				zap.Int64("alert_id", alert.ID),
				zap.String("level", string(alert.Level)),
			)
			return nil
		}

		from := alert.Level
		alert.Level = next
		if alert.Status == model.AlertStatusPending {
			alert.Status = model.AlertStatusSent
		}
		stats.advanced.Add(1)
		metrics.GetMetrics().RecordEscalation(ctx, string(from), string(next))
		e.logger.Info("Alert escalated",
			zap.Int64("alert_id", alert.ID),
			zap.Int64("checker_id", alert.CheckerID),
			zap.String("from", string(from)),
			zap.String("to", string(next)),
			zap.Duration("since_deadline", now.Sub(alert.MissedWindowAt)),
		)
		e.publish(ctx, model.AlertEventEscalated, alert)

		if err := e.dispatch(ctx, alert, next, claim); err != nil {
			return err
		}
		stats.dispatched.Add(1)
	}
	return nil
}

// recoverDispatch 接管租约过期的扇出，重新按当前档位派发
func (e *Engine) recoverDispatch(ctx context.Context, alert *model.AlertEvent, now time.Time, stats *tickStats) (bool, error) {
	claim := e.newClaim(now)
	ok, err := e.alerts.ClaimDispatch(ctx, alert.ID, alert.Level, claim, now)
	if err != nil {
		return false, err
	}
	if !ok {
		stats.conflicts.Add(1)
		metrics.GetMetrics().RecordCASConflict(ctx, "claim")
		return false, nil
	}

	stats.recovered.Add(1)
	metrics.GetMetrics().RecordDispatchRecovered(ctx, string(alert.Level))
	e.logger.Warn("Recovering interrupted dispatch",
		zap.Int64("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
	)

	if err := e.dispatch(ctx, alert, alert.Level, claim); err != nil {
		return false, err
	}
	stats.dispatched.Add(1)
	return true, nil
}
