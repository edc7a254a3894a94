package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"SafeCircle/internal/model"
	"SafeCircle/utils"
)

// NudgeChecker 截止前提醒打卡人，未配置推送时直接跳过
func (d *Dispatcher) NudgeChecker(ctx context.Context, checkerID int64, windowEnd time.Time) error {
	if d.push == nil {
		d.logSkipOnce(model.NotificationChannelPush)
		return nil
	}
	checker, err := d.users.GetByID(ctx, checkerID)
	if err != nil {
		return fmt.Errorf("failed to load checker %d: %w", checkerID, err)
	}

	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	results, err := d.push.Send(sctx, checkerID, nudgePush(checker, windowEnd))
	if err != nil {
		return err
	}
	d.logger.Debug("Check-in nudge sent",
		zap.Int64("checker_id", checkerID),
		zap.Int("devices", len(results)),
	)
	return nil
}

// AllClear 告警关闭后通知此前被联系过的支持者
// 只走推送和邮件，不写发送记录
func (d *Dispatcher) AllClear(ctx context.Context, alert *model.AlertEvent) (int, error) {
	if len(alert.NotifiedSupporterIDs) == 0 {
		return 0, nil
	}
	checker, err := d.users.GetByID(ctx, alert.CheckerID)
	if err != nil {
		return 0, fmt.Errorf("failed to load checker %d: %w", alert.CheckerID, err)
	}
	links, err := d.circles.GetByIDs(ctx, alert.NotifiedSupporterIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to load notified supporters: %w", err)
	}

	base := messageContext{Checker: checker, Alert: alert, Level: alert.Level}
	var sends []send
	for i := range links {
		l := links[i]
		m := base
		m.Link = &l
		if l.AlertViaPush && l.IsAppUser() {
			sends = append(sends, send{Channel: model.NotificationChannelPush, Link: &l, UserID: l.SupporterUserID, Msg: m, push: allClearPush(m)})
		}
		if l.AlertViaEmail && l.Email() != "" {
			sends = append(sends, send{Channel: model.NotificationChannelEmail, Link: &l, Msg: m, email: allClearEmail(m)})
		}
	}

	attempts := d.run(ctx, alert, alert.Level, sends)
	sent := 0
	for _, a := range attempts {
		if a.Status == model.AttemptStatusSent {
			sent++
		}
	}
	d.logger.Info("All-clear sent",
		zap.Int64("alert_id", alert.ID),
		zap.Int("sends", len(sends)),
		zap.Int("delivered", sent),
	)
	return sent, nil
}

// HeadsUp 升级后提醒打卡人支持者已被联系
func (d *Dispatcher) HeadsUp(ctx context.Context, alert *model.AlertEvent) error {
	if alert.Level.Rank() < model.AlertLevelSoft.Rank() {
		return nil
	}
	checker, err := d.users.GetByID(ctx, alert.CheckerID)
	if err != nil {
		return fmt.Errorf("failed to load checker %d: %w", alert.CheckerID, err)
	}

	checkerID := checker.ID
	m := messageContext{
		Checker:     checker,
		Alert:       alert,
		Level:       alert.Level,
		HoursMissed: utils.HoursSince(alert.MissedWindowAt, d.now()),
	}
	attempts := d.run(ctx, alert, alert.Level, []send{{
		Channel: model.NotificationChannelPush,
		UserID:  &checkerID,
		Msg:     m,
		push:    headsUpPush(m),
	}})
	if len(attempts) == 1 && attempts[0].Status == model.AttemptStatusFailed && attempts[0].ErrorMessage != nil {
		return fmt.Errorf("heads-up push failed: %s", *attempts[0].ErrorMessage)
	}
	return nil
}
