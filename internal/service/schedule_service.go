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

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 200
)

type ScheduleService struct {
	users        repository.UserRepository
	topics       repository.TopicRepository
	schedules    repository.ScheduleRepository
	runs         repository.DeliveryRunRepository
	runner       runExecutor
	logger       *zap.Logger
	claimTimeout time.Duration
	now          func() time.Time
	newToken     func() string
}

type CreateScheduleInput struct {
	TopicID   string
	Frequency string
	TimeOfDay string
	Active    *bool
}

// PatchScheduleInput carries optional changes; nil fields are left untouched.
type PatchScheduleInput struct {
	Active    *bool
	Frequency *string
	TimeOfDay *string
}

func NewScheduleService(
	users repository.UserRepository,
	topics repository.TopicRepository,
	schedules repository.ScheduleRepository,
	runs repository.DeliveryRunRepository,
	runner runExecutor,
	claimTimeout time.Duration,
	logger *zap.Logger,
) (*ScheduleService, error) {
	if users == nil || topics == nil || schedules == nil || runs == nil {
		return nil, fmt.Errorf("all repositories are required")
	}
	if runner == nil {
		return nil, fmt.Errorf("run executor is required")
	}
	if claimTimeout <= 0 {
		claimTimeout = defaultClaimTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ScheduleService{
		users:        users,
		topics:       topics,
		schedules:    schedules,
		runs:         runs,
		runner:       runner,
		logger:       logger,
		claimTimeout: claimTimeout,
		now:          time.Now,
		newToken:     uuid.NewString,
	}, nil
}

// Create admits the cadence against the owner's tier before anything is stored.
func (s *ScheduleService) Create(ctx context.Context, ownerID string, in CreateScheduleInput) (*domain.Schedule, error) {
	owner, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	frequency, err := domain.ParseFrequencyFromString(in.Frequency)
	if err != nil {
		return nil, err
	}
	if err := policy.Admit(owner.SubscriptionTier, frequency).Err(); err != nil {
		return nil, err
	}

	topicID := strings.TrimSpace(in.TopicID)
	if topicID == "" {
		return nil, fmt.Errorf("%w: topic_id is required", domain.ErrValidation)
	}
	topic, err := s.topics.GetByID(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic.OwnerID != owner.ID {
		return nil, domain.ErrNotFound
	}

	count, err := s.schedules.CountByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count schedules: %w", err)
	}
	if err := policy.CheckQuota("schedules", policy.MaxSchedules(owner.SubscriptionTier), count); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	schedule := &domain.Schedule{
		ID:        uuid.NewString(),
		OwnerID:   owner.ID,
		TopicID:   topic.ID,
		Frequency: frequency,
		TimeOfDay: in.TimeOfDay,
		Active:    in.Active == nil || *in.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	schedule.Normalize()
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	next, err := schedule.NextDue(owner.Location())
	if err != nil {
		return nil, err
	}
	schedule.NextDueAt = next

	if err := s.schedules.Create(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	s.logger.Info("schedule created",
		zap.String("userId", owner.ID),
		zap.String("scheduleId", schedule.ID),
		zap.String("frequency", frequency.String()),
		zap.Time("nextDueAt", next),
	)
	return schedule, nil
}

func (s *ScheduleService) List(ctx context.Context, ownerID string) ([]domain.Schedule, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	schedules, err := s.schedules.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for i := range schedules {
		schedules[i].Running = schedules[i].LeaseLive(now, s.claimTimeout)
	}
	return schedules, nil
}

// Get hides schedules owned by someone else behind ErrNotFound.
func (s *ScheduleService) Get(ctx context.Context, ownerID, scheduleID string) (*domain.Schedule, error) {
	if strings.TrimSpace(scheduleID) == "" {
		return nil, fmt.Errorf("%w: schedule id is required", domain.ErrValidation)
	}

	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	schedule.Running = schedule.LeaseLive(s.now().UTC(), s.claimTimeout)
	return schedule, nil
}

// Patch never waits on or touches an in-flight run. A pause is seen by the next tick.
func (s *ScheduleService) Patch(ctx context.Context, ownerID, scheduleID string, in PatchScheduleInput) (*domain.Schedule, error) {
	current, err := s.Get(ctx, ownerID, scheduleID)
	if err != nil {
		return nil, err
	}
	if current.Orphaned() {
		return nil, fmt.Errorf("%w: schedule topic was deleted", domain.ErrConflict)
	}

	updated := *current
	if in.Frequency != nil {
		frequency, err := domain.ParseFrequencyFromString(*in.Frequency)
		if err != nil {
			return nil, err
		}
		updated.Frequency = frequency
	}
	if in.TimeOfDay != nil {
		updated.TimeOfDay = *in.TimeOfDay
	}
	if in.Active != nil {
		updated.Active = *in.Active
	}
	updated.Normalize()
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	cadenceChanged := updated.Frequency != current.Frequency || updated.TimeOfDay != current.TimeOfDay
	reactivated := updated.Active && !current.Active

	owner, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if cadenceChanged || reactivated {
		if err := policy.Admit(owner.SubscriptionTier, updated.Frequency).Err(); err != nil {
			return nil, err
		}
	}

	change := repository.ScheduleUpdate{}
	if in.Active != nil {
		change.Active = &updated.Active
	}
	if cadenceChanged {
		change.Frequency = &updated.Frequency
		change.TimeOfDay = &updated.TimeOfDay
	}
	if cadenceChanged || reactivated {
		next, err := s.resumeDue(&updated, owner.Location())
		if err != nil {
			return nil, err
		}
		change.NextDueAt = &next
	}

	if err := s.schedules.Update(ctx, current.ID, change); err != nil {
		return nil, err
	}

	s.logger.Info("schedule updated",
		zap.String("userId", ownerID),
		zap.String("scheduleId", current.ID),
		zap.Bool("active", updated.Active),
		zap.String("frequency", updated.Frequency.String()),
	)
	return s.Get(ctx, ownerID, current.ID)
}

// resumeDue recomputes next_due_at without a catch-up burst of missed periods.
func (s *ScheduleService) resumeDue(schedule *domain.Schedule, loc *time.Location) (time.Time, error) {
	now := s.now().UTC()

	next, err := schedule.NextDue(loc)
	if err != nil {
		return time.Time{}, err
	}
	if !next.Before(now) {
		return next, nil
	}
	if schedule.Frequency == domain.FrequencyHourly {
		return now, nil
	}
	return schedule.NextDueAfter(now, loc)
}

func (s *ScheduleService) ListRuns(ctx context.Context, ownerID, scheduleID string, limit int) ([]domain.DeliveryRun, error) {
	schedule, err := s.Get(ctx, ownerID, scheduleID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	limit = min(limit, maxRunListLimit)

	return s.runs.ListBySchedule(ctx, schedule.ID, limit)
}

// TriggerNow runs the schedule immediately under the same claim the scheduler
// uses, so a manual run never overlaps a scheduled or another manual one.
func (s *ScheduleService) TriggerNow(ctx context.Context, ownerID, scheduleID string) (*domain.DeliveryRun, error) {
	schedule, err := s.Get(ctx, ownerID, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule.Orphaned() {
		return nil, fmt.Errorf("%w: schedule topic was deleted", domain.ErrConflict)
	}
	if !schedule.Active {
		return nil, fmt.Errorf("%w: schedule is inactive", domain.ErrConflict)
	}

	now := s.now().UTC()
	token := s.newToken()
	claimed, err := s.schedules.Claim(ctx, repository.ClaimRequest{
		ScheduleID:  schedule.ID,
		Token:       token,
		Now:         now,
		StaleBefore: now.Add(-s.claimTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim schedule: %w", err)
	}
	if !claimed {
		return nil, domain.ErrClaimHeld
	}

	if fresh, err := s.schedules.GetByID(ctx, schedule.ID); err == nil {
		schedule = fresh
	}

	// The run outlives a dropped HTTP request but never the claim itself.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.claimTimeout)
	defer cancel()

	outcome, err := s.runner.Execute(runCtx, RunRequest{
		Schedule:    *schedule,
		Token:       token,
		Trigger:     domain.TriggerManual,
		TriggeredAt: now,
	})
	if err != nil && (outcome == nil || outcome.Run == nil) {
		return nil, err
	}
	if err != nil {
		s.logger.Error("manual run finished with bookkeeping errors",
			zap.String("scheduleId", schedule.ID),
			zap.Error(err),
		)
	}
	return outcome.Run, nil
}
