package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/policy"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"go.uber.org/zap"
)

type TopicService struct {
	users  repository.UserRepository
	topics repository.TopicRepository
	logger *zap.Logger
	now    func() time.Time
}

type CreateTopicInput struct {
	Name        string
	Keywords    []string
	CountryCode string
	Language    string
}

func NewTopicService(
	users repository.UserRepository,
	topics repository.TopicRepository,
	logger *zap.Logger,
) (*TopicService, error) {
	if users == nil || topics == nil {
		return nil, fmt.Errorf("user and topic repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TopicService{
		users:  users,
		topics: topics,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *TopicService) Create(ctx context.Context, ownerID string, in CreateTopicInput) (*domain.Topic, error) {
	owner, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	topic := &domain.Topic{
		ID:          uuid.NewString(),
		OwnerID:     owner.ID,
		Name:        in.Name,
		Keywords:    in.Keywords,
		CountryCode: in.CountryCode,
		Language:    in.Language,
		CreatedAt:   s.now().UTC(),
	}
	topic.Normalize()
	if err := topic.Validate(); err != nil {
		return nil, err
	}

	count, err := s.topics.CountByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count topics: %w", err)
	}
	if err := policy.CheckQuota("topics", policy.MaxTopics(owner.SubscriptionTier), count); err != nil {
		return nil, err
	}

	if err := s.topics.Create(ctx, topic); err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}

	s.logger.Info("topic created",
		zap.String("userId", owner.ID),
		zap.String("topicId", topic.ID),
		zap.Int("keywords", len(topic.Keywords)),
	)
	return topic, nil
}

func (s *TopicService) List(ctx context.Context, ownerID string) ([]domain.Topic, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	return s.topics.ListByOwner(ctx, ownerID)
}

// Delete removes the topic and orphans its schedules in the same transaction.
func (s *TopicService) Delete(ctx context.Context, ownerID, topicID string) error {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(topicID) == "" {
		return fmt.Errorf("%w: owner and topic id are required", domain.ErrValidation)
	}

	orphaned, err := s.topics.DeleteCascade(ctx, ownerID, topicID, s.now().UTC())
	if err != nil {
		return err
	}

	s.logger.Info("topic deleted",
		zap.String("userId", ownerID),
		zap.String("topicId", topicID),
		zap.Int64("orphanedSchedules", orphaned),
	)
	return nil
}
