package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/observability"
	"github.com/kursadbilgin/newswire-engine/internal/policy"
	"github.com/kursadbilgin/newswire-engine/internal/provider"
	"github.com/kursadbilgin/newswire-engine/internal/queue"
	"github.com/kursadbilgin/newswire-engine/internal/ratelimit"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxConcurrentSendsPerRun = 5
	settleTimeout            = 10 * time.Second
)

// DefaultRetryDelays is the backoff between attempts of one external call.
var DefaultRetryDelays = []time.Duration{2 * time.Second, 8 * time.Second, 32 * time.Second}

// RunRequest is a claimed schedule handed to the orchestrator.
type RunRequest struct {
	Schedule    domain.Schedule
	Token       string
	Trigger     domain.TriggerKind
	TriggeredAt time.Time
}

type RunOutcome struct {
	Run         *domain.DeliveryRun
	Deactivated bool
}

// runExecutor is the part of the orchestrator the scheduler and manual trigger depend on.
type runExecutor interface {
	Execute(ctx context.Context, req RunRequest) (*RunOutcome, error)
}

type OrchestratorDeps struct {
	Users     repository.UserRepository
	Topics    repository.TopicRepository
	Phones    repository.PhoneNumberRepository
	Schedules repository.ScheduleRepository
	Runs      repository.DeliveryRunRepository
	Content   provider.ContentProvider
	Transport provider.Transport
	Throttle  ratelimit.Throttle
	// Events is optional; run events are skipped when nil.
	Events queue.RunEventPublisher
}

type OrchestratorConfig struct {
	CallTimeout time.Duration
	RetryDelays []time.Duration
}

// Orchestrator executes one claimed run end to end and always gives the claim back.
type Orchestrator struct {
	users       repository.UserRepository
	topics      repository.TopicRepository
	phones      repository.PhoneNumberRepository
	schedules   repository.ScheduleRepository
	runs        repository.DeliveryRunRepository
	content     provider.ContentProvider
	sender      *messageSender
	events      queue.RunEventPublisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	callTimeout time.Duration
	retryDelays []time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Users == nil || deps.Topics == nil || deps.Phones == nil || deps.Schedules == nil || deps.Runs == nil {
		return nil, fmt.Errorf("all repositories are required")
	}
	if deps.Content == nil {
		return nil, fmt.Errorf("content provider is required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultExternalTimeout
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = DefaultRetryDelays
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		users:       deps.Users,
		topics:      deps.Topics,
		phones:      deps.Phones,
		schedules:   deps.Schedules,
		runs:        deps.Runs,
		content:     deps.Content,
		sender:      newMessageSender(deps.Transport, deps.Throttle, cfg.CallTimeout),
		events:      deps.Events,
		logger:      logger,
		callTimeout: cfg.CallTimeout,
		retryDelays: cfg.RetryDelays,
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
	o.sender.metrics = metrics
}

// Execute runs the delivery pipeline for a schedule whose claim is held under req.Token.
func (o *Orchestrator) Execute(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	schedule := req.Schedule
	triggeredAt := req.TriggeredAt.UTC()
	if triggeredAt.IsZero() {
		triggeredAt = o.now().UTC()
	}

	logger := observability.WithContextLogger(o.logger, ctx).With(
		zap.String("scheduleId", schedule.ID),
		zap.String("trigger", string(req.Trigger)),
	)

	run := &domain.DeliveryRun{
		ID:          uuid.NewString(),
		ScheduleID:  schedule.ID,
		Trigger:     req.Trigger,
		TriggeredAt: triggeredAt,
	}
	if req.Trigger == domain.TriggerScheduled {
		due := schedule.NextDueAt
		run.DueAt = &due
	}

	owner, err := o.users.GetByID(ctx, schedule.OwnerID)
	if err != nil {
		o.abandon(ctx, req, logger)
		return nil, fmt.Errorf("failed to load schedule owner: %w", err)
	}

	if decision := policy.Admit(owner.SubscriptionTier, schedule.Frequency); !decision.Allowed {
		run.Status = domain.RunStatusSkippedTierDowngraded
		run.Error = decision.Err().Error()
		return o.finish(ctx, req, owner, run, logger)
	}

	recipients, err := o.phones.ListVerifiedByOwner(ctx, owner.ID)
	if err != nil {
		o.abandon(ctx, req, logger)
		return nil, fmt.Errorf("failed to resolve verified numbers: %w", err)
	}
	recipients = eligibleOnly(recipients)
	if len(recipients) == 0 {
		run.Status = domain.RunStatusSkippedNoVerifiedNumber
		return o.finish(ctx, req, owner, run, logger)
	}

	topic, bundle, attempts, err := o.fetchContent(ctx, schedule.TopicID)
	run.AttemptCount = attempts
	if err != nil {
		run.Status = domain.RunStatusContentFailed
		run.Error = err.Error()
		logger.Warn("content fetch failed", zap.Int("attempts", attempts), zap.Error(err))
		return o.finish(ctx, req, owner, run, logger)
	}

	run.Content = provider.RenderDigest(topic.Name, bundle)
	run.Recipients = o.sendAll(ctx, recipients, run.Content)

	run.Status = domain.RunStatusSuccess
	for _, r := range run.Recipients {
		run.AttemptCount += r.Attempts
		if r.Status != domain.RecipientSent {
			run.Status = domain.RunStatusSendFailed
		}
	}

	return o.finish(ctx, req, owner, run, logger)
}

// fetchContent retries transient provider failures with backoff. Permanent
// failures end the period immediately.
func (o *Orchestrator) fetchContent(ctx context.Context, topicID string) (*domain.Topic, *provider.ContentBundle, int, error) {
	topic, err := o.topics.GetByID(ctx, topicID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, 0, fmt.Errorf("topic %s no longer exists", topicID)
		}
		return nil, nil, 0, fmt.Errorf("failed to load topic: %w", err)
	}

	query := provider.ContentQuery{
		Keywords:    topic.Keywords,
		CountryCode: topic.CountryCode,
		Language:    topic.Language,
	}

	attempts := 0
	for {
		attempts++

		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		start := o.now()
		bundle, err := o.content.Fetch(callCtx, query)
		cancel()

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		o.metrics.ObserveContentFetch(outcome, o.now().Sub(start))

		if err == nil {
			return topic, bundle, attempts, nil
		}
		if !provider.IsTransient(err) || attempts > len(o.retryDelays) {
			return topic, nil, attempts, err
		}
		if sleepErr := o.sleep(ctx, o.retryDelays[attempts-1]); sleepErr != nil {
			return topic, nil, attempts, err
		}
	}
}

// sendAll delivers to every recipient independently; one failure never stops the others.
func (o *Orchestrator) sendAll(ctx context.Context, recipients []domain.PhoneNumber, message string) []domain.RecipientResult {
	results := make([]domain.RecipientResult, len(recipients))

	var g errgroup.Group
	g.SetLimit(maxConcurrentSendsPerRun)
	for i := range recipients {
		i := i
		g.Go(func() error {
			results[i] = o.sendOne(ctx, recipients[i], message)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// sendOne treats every transport error as retryable.
func (o *Orchestrator) sendOne(ctx context.Context, number domain.PhoneNumber, message string) domain.RecipientResult {
	result := domain.RecipientResult{
		PhoneNumberID: number.ID,
		Phone:         number.E164,
		Status:        domain.RecipientFailed,
	}

	for {
		result.Attempts++

		sent, err := o.sender.send(ctx, sendPurposeDigest, number.E164, message)
		if err == nil {
			result.Status = domain.RecipientSent
			result.Error = ""
			if sent != nil {
				result.ProviderMessageID = sent.MessageID
			}
			return result
		}

		result.Error = err.Error()
		if result.Attempts > len(o.retryDelays) {
			return result
		}
		if sleepErr := o.sleep(ctx, o.retryDelays[result.Attempts-1]); sleepErr != nil {
			return result
		}
	}
}

// finish records the run, settles the claim according to the run status and
// announces the outcome.
func (o *Orchestrator) finish(
	ctx context.Context,
	req RunRequest,
	owner *domain.User,
	run *domain.DeliveryRun,
	logger *zap.Logger,
) (*RunOutcome, error) {
	run.CompletedAt = o.now().UTC()
	outcome := &RunOutcome{Run: run}

	// Bookkeeping still happens when the run used up its deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var recordErr error
	if err := o.runs.Create(ctx, run); err != nil {
		recordErr = fmt.Errorf("failed to record delivery run: %w", err)
		logger.Error("failed to record delivery run", zap.String("runId", run.ID), zap.Error(err))
	}

	settleErr := o.settle(ctx, req, owner, run, outcome)
	switch {
	case errors.Is(settleErr, domain.ErrClaimLost):
		o.metrics.IncClaimLost()
		logger.Warn("schedule claim lost before run settled", zap.String("runId", run.ID))
		settleErr = nil
	case settleErr != nil:
		logger.Error("failed to settle schedule claim", zap.String("runId", run.ID), zap.Error(settleErr))
	}

	o.metrics.IncRun(run.Status.String(), string(run.Trigger))
	logger.Info("delivery run finished",
		zap.String("runId", run.ID),
		zap.String("status", run.Status.String()),
		zap.Int("attempts", run.AttemptCount),
		zap.Int("recipients", len(run.Recipients)),
		zap.Bool("deactivated", outcome.Deactivated),
	)

	if recordErr == nil {
		o.publish(ctx, owner.ID, run, outcome.Deactivated, logger)
	}

	return outcome, errors.Join(recordErr, settleErr)
}

func (o *Orchestrator) settle(
	ctx context.Context,
	req RunRequest,
	owner *domain.User,
	run *domain.DeliveryRun,
	outcome *RunOutcome,
) error {
	schedule := req.Schedule
	loc := owner.Location()

	switch {
	case run.Status == domain.RunStatusSkippedTierDowngraded:
		if err := o.schedules.DeactivateClaimed(ctx, schedule.ID, req.Token); err != nil {
			return err
		}
		outcome.Deactivated = true
		return nil

	case run.Status == domain.RunStatusSkippedNoVerifiedNumber:
		// The period stays open for manual runs; scheduled runs wait for the next slot.
		if req.Trigger != domain.TriggerScheduled {
			return o.schedules.Release(ctx, schedule.ID, req.Token, nil)
		}
		next, err := schedule.NextDueAfter(run.TriggeredAt, loc)
		if err != nil {
			return o.schedules.Release(ctx, schedule.ID, req.Token, nil)
		}
		return o.schedules.Release(ctx, schedule.ID, req.Token, &next)

	case run.Status.StampsLastRun():
		// Cadence may have been patched while the run was in flight.
		current := schedule
		if fresh, err := o.schedules.GetByID(ctx, schedule.ID); err == nil {
			current = *fresh
		}
		next, err := current.NextDueAfter(run.TriggeredAt, loc)
		if err != nil {
			_ = o.schedules.Release(ctx, schedule.ID, req.Token, nil)
			return fmt.Errorf("failed to compute next due time: %w", err)
		}
		return o.schedules.Complete(ctx, schedule.ID, req.Token, run.TriggeredAt, next)

	default:
		return o.schedules.Release(ctx, schedule.ID, req.Token, nil)
	}
}

// abandon gives the claim back after a store failure so the next tick can retry.
func (o *Orchestrator) abandon(ctx context.Context, req RunRequest, logger *zap.Logger) {
	if err := o.schedules.Release(ctx, req.Schedule.ID, req.Token, nil); err != nil && !errors.Is(err, domain.ErrClaimLost) {
		logger.Error("failed to release schedule claim", zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, ownerID string, run *domain.DeliveryRun, deactivated bool, logger *zap.Logger) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishRun(ctx, queue.NewRunEventMessage(ownerID, *run, deactivated)); err != nil {
		logger.Warn("failed to publish run event", zap.String("runId", run.ID), zap.Error(err))
	}
}

func eligibleOnly(numbers []domain.PhoneNumber) []domain.PhoneNumber {
	eligible := numbers[:0]
	for i := range numbers {
		if numbers[i].Eligible() {
			eligible = append(eligible, numbers[i])
		}
	}
	return eligible
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
