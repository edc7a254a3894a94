package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"SafeCircle/internal/model"
)

// scheduleBatchSize 扫描生效计划时每批读取的条数
const scheduleBatchSize = 500

type ScheduleRepo struct {
	db *gorm.DB
}

func NewScheduleRepo(db *gorm.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

// ActiveFor 打卡人当前生效的计划，没有时返回 nil, nil
func (r *ScheduleRepo) ActiveFor(ctx context.Context, checkerID int64) (*model.Schedule, error) {
	var s model.Schedule
	err := r.db.WithContext(ctx).
		Where("checker_id = ? AND is_active = ?", checkerID, true).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active schedule for checker %d: %w", checkerID, err)
	}
	return &s, nil
}

// ListActive 所有生效计划，分批读取后合并
func (r *ScheduleRepo) ListActive(ctx context.Context) ([]model.Schedule, error) {
	var all []model.Schedule
	err := r.ForEachActiveBatch(ctx, func(batch []model.Schedule) error {
		all = append(all, batch...)
		return nil
	})
	return all, err
}

// ForEachActiveBatch 按主键分批遍历生效计划
func (r *ScheduleRepo) ForEachActiveBatch(ctx context.Context, fn func([]model.Schedule) error) error {
	var batch []model.Schedule
	res := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		FindInBatches(&batch, scheduleBatchSize, func(tx *gorm.DB, _ int) error {
			out := make([]model.Schedule, len(batch))
			copy(out, batch)
			return fn(out)
		})
	if res.Error != nil {
		return fmt.Errorf("failed to scan active schedules: %w", res.Error)
	}
	return nil
}

// Activate 停用旧计划后写入新计划，同一事务内完成
func (r *ScheduleRepo) Activate(ctx context.Context, s *model.Schedule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Schedule{}).
			Where("checker_id = ? AND is_active = ?", s.CheckerID, true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate schedules: %w", err)
		}
		s.IsActive = true
		if err := tx.Create(s).Error; err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}
		return nil
	})
}
