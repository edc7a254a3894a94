package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"SafeCircle/internal/model"
)

type CheckInRepo struct {
	db *gorm.DB
}

func NewCheckInRepo(db *gorm.DB) *CheckInRepo {
	return &CheckInRepo{db: db}
}

func (r *CheckInRepo) Create(ctx context.Context, c *model.CheckIn) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create check-in: %w", err)
	}
	return nil
}

// HasCheckedInSince since 之后（含）是否有打卡，调用方传入打卡日的本地零点
func (r *CheckInRepo) HasCheckedInSince(ctx context.Context, checkerID int64, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.CheckIn{}).
		Where("checker_id = ? AND checked_in_at >= ?", checkerID, since.UTC()).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query check-ins for checker %d: %w", checkerID, err)
	}
	return count > 0, nil
}

// Latest 最近一次打卡，没有时返回 nil, nil
func (r *CheckInRepo) Latest(ctx context.Context, checkerID int64) (*model.CheckIn, error) {
	var c model.CheckIn
	err := r.db.WithContext(ctx).
		Where("checker_id = ?", checkerID).
		Order("checked_in_at DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest check-in for checker %d: %w", checkerID, err)
	}
	return &c, nil
}

// AttachPhoto 打卡记录唯一允许的后续修改，且只能写一次
func (r *CheckInRepo) AttachPhoto(ctx context.Context, id, checkerID int64, key string, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.CheckIn{}).
		Where("id = ? AND checker_id = ? AND photo_key IS NULL", id, checkerID).
		Updates(map[string]interface{}{
			"photo_key":        key,
			"photo_expires_at": expiresAt.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to attach photo to check-in %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}
