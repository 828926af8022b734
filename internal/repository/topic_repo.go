package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"gorm.io/gorm"
)

type TopicRepository interface {
	Create(ctx context.Context, t *domain.Topic) error
	GetByID(ctx context.Context, id string) (*domain.Topic, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Topic, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	DeleteCascade(ctx context.Context, ownerID string, id string, now time.Time) (int64, error)
}

type GormTopicRepo struct {
	db *gorm.DB
}

func NewGormTopicRepo(db *gorm.DB) *GormTopicRepo {
	return &GormTopicRepo{db: db}
}

func (r *GormTopicRepo) Create(ctx context.Context, t *domain.Topic) error {
	model := topicModelFromDomain(t)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if t != nil {
		*t = *topicModelToDomain(model)
	}
	return nil
}

func (r *GormTopicRepo) GetByID(ctx context.Context, id string) (*domain.Topic, error) {
	var model TopicModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return topicModelToDomain(&model), nil
}

func (r *GormTopicRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Topic, error) {
	var models []TopicModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	topics := make([]domain.Topic, 0, len(models))
	for i := range models {
		topics = append(topics, *topicModelToDomain(&models[i]))
	}
	return topics, nil
}

func (r *GormTopicRepo) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&TopicModel{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error
	return count, err
}

// DeleteCascade removes the topic and orphans its schedules in one transaction.
// It returns the number of schedules that were orphaned.
func (r *GormTopicRepo) DeleteCascade(ctx context.Context, ownerID string, id string, now time.Time) (int64, error) {
	var orphaned int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&TopicModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}

		updated := tx.Model(&ScheduleModel{}).
			Where("topic_id = ? AND orphaned_at IS NULL", id).
			Updates(map[string]any{
				"active":      false,
				"orphaned_at": now,
				"updated_at":  now,
			})
		if updated.Error != nil {
			return updated.Error
		}
		orphaned = updated.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orphaned, nil
}
