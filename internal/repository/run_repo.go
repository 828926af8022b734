package repository

import (
	"context"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"gorm.io/gorm"
)

const defaultRunListLimit = 50

type DeliveryRunRepository interface {
	Create(ctx context.Context, run *domain.DeliveryRun) error
	ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]domain.DeliveryRun, error)
}

type GormDeliveryRunRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRunRepo(db *gorm.DB) *GormDeliveryRunRepo {
	return &GormDeliveryRunRepo{db: db}
}

func (r *GormDeliveryRunRepo) Create(ctx context.Context, run *domain.DeliveryRun) error {
	model, err := runModelFromDomain(run)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormDeliveryRunRepo) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]domain.DeliveryRun, error) {
	if limit < 1 {
		limit = defaultRunListLimit
	}

	var models []DeliveryRunModel
	err := r.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("triggered_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	runs := make([]domain.DeliveryRun, 0, len(models))
	for i := range models {
		run, err := runModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}
