package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"SafeCircle/internal/model"
)

type DeviceRepo struct {
	db *gorm.DB
}

func NewDeviceRepo(db *gorm.DB) *DeviceRepo {
	return &DeviceRepo{db: db}
}

// Register 同一 token 换绑用户时覆盖原记录
func (r *DeviceRepo) Register(ctx context.Context, userID int64, platform, token string, now time.Time) error {
	now = now.UTC()
	d := model.DeviceToken{
		UserID:     userID,
		Platform:   platform,
		Token:      token,
		IsActive:   true,
		LastSeenAt: &now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "is_active", "last_seen_at", "updated_at"}),
	}).Create(&d).Error
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// ActiveTokens 用户所有可用的推送令牌
func (r *DeviceRepo) ActiveTokens(ctx context.Context, userID int64) ([]string, error) {
	var tokens []string
	err := r.db.WithContext(ctx).Model(&model.DeviceToken{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id ASC").
		Pluck("token", &tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens for user %d: %w", userID, err)
	}
	return tokens, nil
}

// Deactivate APNs 返回 Unregistered / BadDeviceToken 时调用
func (r *DeviceRepo) Deactivate(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&model.DeviceToken{}).
		Where("token IN ?", tokens).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate device tokens: %w", err)
	}
	return nil
}
