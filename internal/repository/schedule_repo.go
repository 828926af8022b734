package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"gorm.io/gorm"
)

// ScheduleUpdate carries the owner-editable fields of a schedule; nil means unchanged.
type ScheduleUpdate struct {
	Active    *bool
	Frequency *domain.Frequency
	TimeOfDay *string
	NextDueAt *time.Time
}

// ClaimRequest describes a compare-and-set attempt on a schedule lease.
type ClaimRequest struct {
	ScheduleID  string
	Token       string
	Now         time.Time
	StaleBefore time.Time
	// RequireDue restricts the claim to active schedules whose next_due_at has passed.
	RequireDue bool
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.Schedule) error
	GetByID(ctx context.Context, id string) (*domain.Schedule, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Schedule, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	Update(ctx context.Context, id string, update ScheduleUpdate) error
	ListDue(ctx context.Context, now time.Time, staleBefore time.Time, limit int) ([]domain.Schedule, error)
	Claim(ctx context.Context, req ClaimRequest) (bool, error)
	Complete(ctx context.Context, id string, token string, lastRunAt time.Time, nextDueAt time.Time) error
	Release(ctx context.Context, id string, token string, nextDueAt *time.Time) error
	DeactivateClaimed(ctx context.Context, id string, token string) error
}

type GormScheduleRepo struct {
	db *gorm.DB
}

func NewGormScheduleRepo(db *gorm.DB) *GormScheduleRepo {
	return &GormScheduleRepo{db: db}
}

func (r *GormScheduleRepo) Create(ctx context.Context, s *domain.Schedule) error {
	model := scheduleModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if s != nil {
		*s = *scheduleModelToDomain(model)
	}
	return nil
}

func (r *GormScheduleRepo) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	var model ScheduleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return scheduleModelToDomain(&model), nil
}

func (r *GormScheduleRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Schedule, error) {
	var models []ScheduleModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return scheduleModelsToDomain(models), nil
}

// CountByOwner counts schedules that still hold a quota slot.
func (r *GormScheduleRepo) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ScheduleModel{}).
		Where("owner_id = ? AND orphaned_at IS NULL", ownerID).
		Count(&count).Error
	return count, err
}

// Update never touches last_run_at or the claim columns, so it cannot race a run.
func (r *GormScheduleRepo) Update(ctx context.Context, id string, update ScheduleUpdate) error {
	fields := map[string]any{"updated_at": time.Now().UTC()}
	if update.Active != nil {
		fields["active"] = *update.Active
	}
	if update.Frequency != nil {
		fields["frequency"] = *update.Frequency
	}
	if update.TimeOfDay != nil {
		fields["time_of_day"] = *update.TimeOfDay
	}
	if update.NextDueAt != nil {
		fields["next_due_at"] = *update.NextDueAt
	}

	result := r.db.WithContext(ctx).
		Model(&ScheduleModel{}).
		Where("id = ? AND orphaned_at IS NULL", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListDue returns active schedules past their due time that are unclaimed or hold an expired claim.
func (r *GormScheduleRepo) ListDue(ctx context.Context, now time.Time, staleBefore time.Time, limit int) ([]domain.Schedule, error) {
	var models []ScheduleModel
	err := r.db.WithContext(ctx).
		Where("active = ? AND orphaned_at IS NULL AND next_due_at <= ?", true, now).
		Where("claim_token IS NULL OR claimed_at < ?", staleBefore).
		Order("next_due_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return scheduleModelsToDomain(models), nil
}

// Claim takes the lease with a single conditional UPDATE; only one caller can win.
func (r *GormScheduleRepo) Claim(ctx context.Context, req ClaimRequest) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&ScheduleModel{}).
		Where("id = ? AND orphaned_at IS NULL", req.ScheduleID).
		Where("claim_token IS NULL OR claimed_at < ?", req.StaleBefore)
	if req.RequireDue {
		query = query.Where("active = ? AND next_due_at <= ?", true, req.Now)
	}

	result := query.Updates(map[string]any{
		"claim_token": req.Token,
		"claimed_at":  req.Now,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Complete closes a period: stamps last_run_at, moves next_due_at and drops the lease.
func (r *GormScheduleRepo) Complete(ctx context.Context, id string, token string, lastRunAt time.Time, nextDueAt time.Time) error {
	return r.releaseWith(ctx, id, token, map[string]any{
		"last_run_at": lastRunAt,
		"next_due_at": nextDueAt,
	})
}

func (r *GormScheduleRepo) Release(ctx context.Context, id string, token string, nextDueAt *time.Time) error {
	fields := map[string]any{}
	if nextDueAt != nil {
		fields["next_due_at"] = *nextDueAt
	}
	return r.releaseWith(ctx, id, token, fields)
}

func (r *GormScheduleRepo) DeactivateClaimed(ctx context.Context, id string, token string) error {
	return r.releaseWith(ctx, id, token, map[string]any{"active": false})
}

func (r *GormScheduleRepo) releaseWith(ctx context.Context, id string, token string, fields map[string]any) error {
	fields["claim_token"] = nil
	fields["claimed_at"] = nil
	fields["updated_at"] = time.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&ScheduleModel{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

func scheduleModelsToDomain(models []ScheduleModel) []domain.Schedule {
	schedules := make([]domain.Schedule, 0, len(models))
	for i := range models {
		schedules = append(schedules, *scheduleModelToDomain(&models[i]))
	}
	return schedules
}
