package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/observability"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"go.uber.org/zap"
)

// Tier event sources, used for logs and metrics.
const (
	TierSourceWebhook = "webhook"
	TierSourceBroker  = "broker"
)

type AccountService struct {
	users   repository.UserRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewAccountService(users repository.UserRepository, logger *zap.Logger) (*AccountService, error) {
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AccountService{
		users:  users,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *AccountService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// CreateUser registers a free-tier account. Tiers only change through tier events.
func (s *AccountService) CreateUser(ctx context.Context, email, timezone string) (*domain.User, error) {
	now := s.now().UTC()
	user := &domain.User{
		ID:               uuid.NewString(),
		Email:            strings.ToLower(strings.TrimSpace(email)),
		SubscriptionTier: domain.TierFree,
		Timezone:         strings.TrimSpace(timezone),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if user.Timezone == "" {
		user.Timezone = "UTC"
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user created", zap.String("userId", user.ID))
	return user, nil
}

func (s *AccountService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return s.users.GetByID(ctx, id)
}

// ApplyTierChange records a new tier for the user. Live schedules are not touched
// here; the orchestrator re-validates admission on every fire. Events older than
// the last applied change are ignored and reported as not applied.
func (s *AccountService) ApplyTierChange(ctx context.Context, change domain.TierChange, source string) (bool, error) {
	if err := change.Validate(); err != nil {
		s.metrics.IncTierEvent(source, "invalid")
		return false, err
	}

	occurredAt := change.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("userId", change.UserID),
		zap.String("eventId", change.EventID),
		zap.String("tier", change.Tier.String()),
		zap.String("source", source),
	)

	applied, err := s.users.UpdateTier(ctx, change.UserID, change.Tier, occurredAt)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.IncTierEvent(source, "unknown_user")
			logger.Warn("tier change for unknown user")
			return false, err
		}
		s.metrics.IncTierEvent(source, "error")
		return false, fmt.Errorf("failed to apply tier change: %w", err)
	}
	if !applied {
		s.metrics.IncTierEvent(source, "stale")
		logger.Info("stale tier change ignored", zap.Time("occurredAt", occurredAt))
		return false, nil
	}

	s.metrics.IncTierEvent(source, "applied")
	logger.Info("tier change applied")
	return true, nil
}
