package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"gorm.io/gorm"
)

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	UpdateTier(ctx context.Context, id string, tier domain.Tier, changedAt time.Time) (bool, error)
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) Create(ctx context.Context, u *domain.User) error {
	model := userModelFromDomain(u)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
		return err
	}
	if u != nil {
		*u = *userModelToDomain(model)
	}
	return nil
}

func (r *GormUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return userModelToDomain(&model), nil
}

// UpdateTier applies a tier change unless a newer change was already recorded.
// It reports false when the event is stale.
func (r *GormUserRepo) UpdateTier(ctx context.Context, id string, tier domain.Tier, changedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ? AND (tier_changed_at IS NULL OR tier_changed_at <= ?)", id, changedAt).
		Updates(map[string]any{
			"subscription_tier": tier,
			"tier_changed_at":   changedAt,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
