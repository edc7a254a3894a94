package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"SafeCircle/internal/model"
)

type AttemptRepo struct {
	db *gorm.DB
}

func NewAttemptRepo(db *gorm.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

func (r *AttemptRepo) CreateBatch(ctx context.Context, attempts []model.NotificationAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(attempts, 100).Error; err != nil {
		return fmt.Errorf("failed to record notification attempts: %w", err)
	}
	return nil
}

func (r *AttemptRepo) ListForAlert(ctx context.Context, alertID int64) ([]model.NotificationAttempt, error) {
	var attempts []model.NotificationAttempt
	err := r.db.WithContext(ctx).
		Where("alert_id = ?", alertID).
		Order("id ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for alert %d: %w", alertID, err)
	}
	return attempts, nil
}
