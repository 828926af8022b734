package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/observability"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerTick        = time.Minute
	defaultClaimTimeout         = 5 * time.Minute
	defaultMaxConcurrentRuns    = 10
	defaultSchedulerBatchFactor = 2
)

type SchedulerConfig struct {
	Tick          time.Duration
	ClaimTimeout  time.Duration
	MaxConcurrent int
}

// Scheduler polls for due schedules on a fixed tick, claims each one and hands
// it to a bounded pool of orchestrator runs.
type Scheduler struct {
	schedules    repository.ScheduleRepository
	runner       runExecutor
	logger       *zap.Logger
	metrics      *observability.Metrics
	tick         time.Duration
	claimTimeout time.Duration
	slots        chan struct{}
	inflight     sync.WaitGroup
	now          func() time.Time
	newToken     func() string
}

func NewScheduler(
	schedules repository.ScheduleRepository,
	runner runExecutor,
	cfg SchedulerConfig,
	logger *zap.Logger,
) (*Scheduler, error) {
	if schedules == nil {
		return nil, fmt.Errorf("schedule repository is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("run executor is required")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultSchedulerTick
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = defaultClaimTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrentRuns
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		schedules:    schedules,
		runner:       runner,
		logger:       logger,
		tick:         cfg.Tick,
		claimTimeout: cfg.ClaimTimeout,
		slots:        make(chan struct{}, cfg.MaxConcurrent),
		now:          time.Now,
		newToken:     uuid.NewString,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start blocks until ctx is done. Runs already dispatched keep going; call Wait to drain them.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Info("scheduler started",
		zap.Duration("tick", s.tick),
		zap.Duration("claimTimeout", s.claimTimeout),
		zap.Int("maxConcurrent", cap(s.slots)),
	)

	if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick claims and dispatches due schedules while pool slots are free. It returns
// the number of runs dispatched.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now().UTC()
	staleBefore := now.Add(-s.claimTimeout)

	free := cap(s.slots) - len(s.slots)
	if free <= 0 {
		s.logger.Debug("scheduler pool saturated, skipping tick")
		return 0, nil
	}

	due, err := s.schedules.ListDue(ctx, now, staleBefore, free*defaultSchedulerBatchFactor)
	if err != nil {
		return 0, fmt.Errorf("failed to list due schedules: %w", err)
	}

	dispatched := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		schedule := due[i]

		if !s.acquireSlot() {
			break
		}

		token := s.newToken()
		claimed, err := s.schedules.Claim(ctx, repository.ClaimRequest{
			ScheduleID:  schedule.ID,
			Token:       token,
			Now:         now,
			StaleBefore: staleBefore,
			RequireDue:  true,
		})
		if err != nil {
			s.releaseSlot()
			s.logger.Error("failed to claim schedule", zap.String("scheduleId", schedule.ID), zap.Error(err))
			continue
		}
		if !claimed {
			// Another replica or a manual trigger won the claim.
			s.releaseSlot()
			continue
		}

		if schedule.ClaimToken != nil {
			s.metrics.IncClaimExpired()
			fields := []zap.Field{zap.String("scheduleId", schedule.ID)}
			if schedule.ClaimedAt != nil {
				fields = append(fields, zap.Time("claimedAt", *schedule.ClaimedAt))
			}
			s.logger.Warn("reclaimed schedule with expired claim", fields...)
		}

		schedule.ClaimToken = &token
		schedule.ClaimedAt = &now

		s.inflight.Add(1)
		go s.execute(context.WithoutCancel(ctx), schedule, token, now)
		dispatched++
	}

	return dispatched, nil
}

// Wait blocks until every dispatched run has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) execute(ctx context.Context, schedule domain.Schedule, token string, triggeredAt time.Time) {
	defer s.inflight.Done()
	defer s.releaseSlot()

	s.metrics.IncDeliveriesInFlight()
	defer s.metrics.DecDeliveriesInFlight()

	defer func() {
		if r := recover(); r != nil {
			// The claim is left to expire and the schedule is retried after the timeout.
			s.logger.Error("delivery run panicked", zap.String("scheduleId", schedule.ID), zap.Any("panic", r))
		}
	}()

	// Scheduled runs correlate by claim token.
	ctx, _ = observability.EnsureCorrelationID(ctx, token)
	runCtx, cancel := context.WithTimeout(ctx, s.claimTimeout)
	defer cancel()

	if _, err := s.runner.Execute(runCtx, RunRequest{
		Schedule:    schedule,
		Token:       token,
		Trigger:     domain.TriggerScheduled,
		TriggeredAt: triggeredAt,
	}); err != nil {
		s.logger.Error("delivery run failed", zap.String("scheduleId", schedule.ID), zap.Error(err))
	}
}

func (s *Scheduler) acquireSlot() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) releaseSlot() {
	<-s.slots
}
