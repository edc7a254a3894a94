package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"SafeCircle/internal/model"
)

// AlertRepo 告警存储，所有状态变更都是带条件的 UPDATE，靠影响行数判断是否成功
type AlertRepo struct {
	db *gorm.DB
}

func NewAlertRepo(db *gorm.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// openGuard 未被关闭的告警
func openGuard(db *gorm.DB) *gorm.DB {
	return db.Where("resolved_at IS NULL AND status IN ?", model.OpenAlertStatuses)
}

// CreateIfAbsent 依赖 (checker_id, alert_day, source) 唯一索引和当天未关闭告警的部分唯一索引
// 返回 false 表示同一天已有告警（并发 tick 抢先插入，或已有手动求助）
func (r *AlertRepo) CreateIfAbsent(ctx context.Context, alert *model.AlertEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(alert)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create alert: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ExistsForDay 该打卡日是否已有漏打卡告警（无论状态），或任一来源的未关闭告警
func (r *AlertRepo) ExistsForDay(ctx context.Context, checkerID int64, day string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.AlertEvent{}).
		Where("checker_id = ? AND alert_day = ?", checkerID, day).
		Where(r.db.Where("source = ?", string(model.AlertSourceMissedWindow)).
			Or("resolved_at IS NULL AND status IN ?", model.OpenAlertStatuses)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check alert for day: %w", err)
	}
	return count > 0, nil
}

// OpenForDay 该打卡日未关闭的告警，没有时返回 ErrNotFound
func (r *AlertRepo) OpenForDay(ctx context.Context, checkerID int64, day string) (*model.AlertEvent, error) {
	var alert model.AlertEvent
	err := openGuard(r.db.WithContext(ctx)).
		Where("checker_id = ? AND alert_day = ?", checkerID, day).
		Order("id ASC").
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open alert for day: %w", err)
	}
	return &alert, nil
}

func (r *AlertRepo) GetByID(ctx context.Context, id int64) (*model.AlertEvent, error) {
	var alert model.AlertEvent
	err := r.db.WithContext(ctx).First(&alert, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return &alert, nil
}

// ListOpen 升级扫描的输入：pending/sent/acknowledged 且未解决
func (r *AlertRepo) ListOpen(ctx context.Context) ([]model.AlertEvent, error) {
	var alerts []model.AlertEvent
	err := openGuard(r.db.WithContext(ctx)).
		Order("id ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}
	return alerts, nil
}

// ListOpenForChecker 某个打卡人所有未关闭的告警
func (r *AlertRepo) ListOpenForChecker(ctx context.Context, checkerID int64) ([]model.AlertEvent, error) {
	var alerts []model.AlertEvent
	err := openGuard(r.db.WithContext(ctx)).
		Where("checker_id = ?", checkerID).
		Order("id ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts for checker %d: %w", checkerID, err)
	}
	return alerts, nil
}

// CountOpenForChecker 某个打卡人未关闭告警数
func (r *AlertRepo) CountOpenForChecker(ctx context.Context, checkerID int64) (int64, error) {
	var count int64
	err := openGuard(r.db.WithContext(ctx).Model(&model.AlertEvent{})).
		Where("checker_id = ?", checkerID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open alerts: %w", err)
	}
	return count, nil
}

// TryAdvance 档位 CAS：只有库中档位仍为 expected 且告警未关闭时才写入 next
// 上一档的扇出尚未完成时不推进，保证已通知集合逐档写入
// 成功的调用方同时拿到派发认领（dispatch_pending + token + lease），负责扇出
// pending 变为 sent，acknowledged 保持不变
func (r *AlertRepo) TryAdvance(ctx context.Context, id int64, expected, next model.AlertLevel, claim model.DispatchClaim) (bool, error) {
	if next.Rank() <= expected.Rank() {
		return false, fmt.Errorf("invalid level transition %s -> %s", expected, next)
	}

	res := openGuard(r.db.WithContext(ctx).Model(&model.AlertEvent{})).
		Where("id = ? AND level = ? AND dispatch_pending = ?", id, string(expected), false).
		Updates(map[string]interface{}{
			"level": string(next),
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				string(model.AlertStatusPending), string(model.AlertStatusSent)),
			"dispatch_pending":     true,
			"dispatch_token":       claim.Token,
			"dispatch_lease_until": claim.LeaseUntil.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to advance alert %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClaimDispatch 重新认领一个派发中断（租约过期）的告警
func (r *AlertRepo) ClaimDispatch(ctx context.Context, id int64, level model.AlertLevel, claim model.DispatchClaim, now time.Time) (bool, error) {
	res := openGuard(r.db.WithContext(ctx).Model(&model.AlertEvent{})).
		Where("id = ? AND level = ? AND dispatch_pending = ?", id, string(level), true).
		Where("dispatch_lease_until IS NULL OR dispatch_lease_until < ?", now.UTC()).
		Updates(map[string]interface{}{
			"dispatch_token":       claim.Token,
			"dispatch_lease_until": claim.LeaseUntil.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim dispatch for alert %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteDispatch 扇出结束后一次性写入已通知集合并释放认领
// 只有持有 token 的调用方能写入
func (r *AlertRepo) CompleteDispatch(ctx context.Context, id int64, token string, notified []int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.AlertEvent{}).
		Where("id = ? AND dispatch_token = ?", id, token).
		Updates(map[string]interface{}{
			"notified_supporter_ids": datatypes.JSONSlice[int64](notified),
			"dispatch_pending":       false,
			"dispatch_token":         nil,
			"dispatch_lease_until":   nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete dispatch for alert %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Acknowledge 支持者确认，升级仍继续
func (r *AlertRepo) Acknowledge(ctx context.Context, id, linkID int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.AlertEvent{}).
		Where("id = ? AND resolved_at IS NULL AND status IN ?", id,
			[]string{string(model.AlertStatusPending), string(model.AlertStatusSent)}).
		Updates(map[string]interface{}{
			"status":          string(model.AlertStatusAcknowledged),
			"acknowledged_at": now.UTC(),
			"acknowledged_by": linkID,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to acknowledge alert %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Resolve 关闭单条告警，resolvedBy 为空表示打卡人本人
func (r *AlertRepo) Resolve(ctx context.Context, id int64, resolvedBy *int64, reason model.ResolutionReason, notes *string, now time.Time) (bool, error) {
	return r.close(ctx, id, model.AlertStatusResolved, resolvedBy, reason, notes, now)
}

// Cancel 打卡人主动取消
func (r *AlertRepo) Cancel(ctx context.Context, id int64, now time.Time) (bool, error) {
	return r.close(ctx, id, model.AlertStatusCancelled, nil, model.ResolutionCancelled, nil, now)
}

func (r *AlertRepo) close(ctx context.Context, id int64, status model.AlertStatus, by *int64, reason model.ResolutionReason, notes *string, now time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":           string(status),
		"resolved_at":      now.UTC(),
		"resolution":       string(reason),
		"dispatch_pending": false,
	}
	if by != nil {
		updates["resolved_by"] = *by
	}
	if notes != nil {
		updates["resolution_notes"] = *notes
	}

	res := openGuard(r.db.WithContext(ctx).Model(&model.AlertEvent{})).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to close alert %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ResolveOpenForChecker 打卡后关闭该打卡人所有未关闭告警，返回实际被本次关闭的告警
func (r *AlertRepo) ResolveOpenForChecker(ctx context.Context, checkerID int64, now time.Time) ([]model.AlertEvent, error) {
	open, err := r.ListOpenForChecker(ctx, checkerID)
	if err != nil {
		return nil, err
	}

	resolved := make([]model.AlertEvent, 0, len(open))
	for _, alert := range open {
		ok, err := r.Resolve(ctx, alert.ID, nil, model.ResolutionCheckedIn, nil, now)
		if err != nil {
			return resolved, err
		}
		if !ok {
			continue
		}
		alert.Status = model.AlertStatusResolved
		resolvedAt := now.UTC()
		alert.ResolvedAt = &resolvedAt
		reason := model.ResolutionCheckedIn
		alert.Resolution = &reason
		resolved = append(resolved, alert)
	}
	return resolved, nil
}

// ListForCheckers 告警历史，按 id 倒序，beforeID > 0 时用于翻页
func (r *AlertRepo) ListForCheckers(ctx context.Context, checkerIDs []int64, beforeID int64, limit int) ([]model.AlertEvent, error) {
	if len(checkerIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	q := r.db.WithContext(ctx).Where("checker_id IN ?", checkerIDs)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var alerts []model.AlertEvent
	if err := q.Order("id DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert history: %w", err)
	}
	return alerts, nil
}
