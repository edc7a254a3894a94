package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"SafeCircle/internal/model"
)

type CircleRepo struct {
	db *gorm.DB
}

func NewCircleRepo(db *gorm.DB) *CircleRepo {
	return &CircleRepo{db: db}
}

func (r *CircleRepo) Create(ctx context.Context, link *model.CircleLink) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		return fmt.Errorf("failed to create circle link: %w", err)
	}
	return nil
}

// eligible 已接受且生效的关系
func eligible(db *gorm.DB) *gorm.DB {
	return db.Where("is_active = ? AND accepted_at IS NOT NULL", true)
}

// ActiveSupporters 按优先级升序返回可通知的支持者
func (r *CircleRepo) ActiveSupporters(ctx context.Context, checkerID int64) ([]model.CircleLink, error) {
	var links []model.CircleLink
	err := eligible(r.db.WithContext(ctx)).
		Where("checker_id = ?", checkerID).
		Order("alert_priority ASC, id ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list supporters for checker %d: %w", checkerID, err)
	}
	return links, nil
}

// LinkForSupporter 支持者用户与打卡人之间的有效关系
func (r *CircleRepo) LinkForSupporter(ctx context.Context, checkerID, supporterUserID int64) (*model.CircleLink, error) {
	var link model.CircleLink
	err := eligible(r.db.WithContext(ctx)).
		Where("checker_id = ? AND supporter_user_id = ?", checkerID, supporterUserID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get circle link: %w", err)
	}
	return &link, nil
}

// LinksForSupporter 支持者关注的所有打卡人
func (r *CircleRepo) LinksForSupporter(ctx context.Context, supporterUserID int64) ([]model.CircleLink, error) {
	var links []model.CircleLink
	err := eligible(r.db.WithContext(ctx)).
		Where("supporter_user_id = ?", supporterUserID).
		Order("id ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list links for supporter %d: %w", supporterUserID, err)
	}
	return links, nil
}

// GetByIDs 不过滤状态，用于解决后通知曾被联系过的支持者
func (r *CircleRepo) GetByIDs(ctx context.Context, ids []int64) ([]model.CircleLink, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var links []model.CircleLink
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("alert_priority ASC, id ASC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to get circle links: %w", err)
	}
	return links, nil
}
