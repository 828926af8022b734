package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"gorm.io/gorm"
)

type PhoneNumberRepository interface {
	Create(ctx context.Context, p *domain.PhoneNumber) error
	GetByID(ctx context.Context, id string) (*domain.PhoneNumber, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.PhoneNumber, error)
	ListVerifiedByOwner(ctx context.Context, ownerID string) ([]domain.PhoneNumber, error)
	CountActiveByOwner(ctx context.Context, ownerID string) (int64, error)
	IncrementAttempts(ctx context.Context, id string, now time.Time) (int, error)
	MarkVerified(ctx context.Context, id string, code string, verifiedAt time.Time) error
	ReissueCode(ctx context.Context, id string, code string, expiresAt time.Time) error
	Revoke(ctx context.Context, id string, revokedAt time.Time) error
}

type GormPhoneNumberRepo struct {
	db *gorm.DB
}

func NewGormPhoneNumberRepo(db *gorm.DB) *GormPhoneNumberRepo {
	return &GormPhoneNumberRepo{db: db}
}

func (r *GormPhoneNumberRepo) Create(ctx context.Context, p *domain.PhoneNumber) error {
	model := phoneModelFromDomain(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateNumber
		}
		return err
	}
	if p != nil {
		*p = *phoneModelToDomain(model)
	}
	return nil
}

func (r *GormPhoneNumberRepo) GetByID(ctx context.Context, id string) (*domain.PhoneNumber, error) {
	var model PhoneNumberModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return phoneModelToDomain(&model), nil
}

func (r *GormPhoneNumberRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.PhoneNumber, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("owner_id = ?", ownerID))
}

func (r *GormPhoneNumberRepo) ListVerifiedByOwner(ctx context.Context, ownerID string) ([]domain.PhoneNumber, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("owner_id = ? AND state = ?", ownerID, domain.PhoneStateVerified))
}

func (r *GormPhoneNumberRepo) list(_ context.Context, query *gorm.DB) ([]domain.PhoneNumber, error) {
	var models []PhoneNumberModel
	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	numbers := make([]domain.PhoneNumber, 0, len(models))
	for i := range models {
		numbers = append(numbers, *phoneModelToDomain(&models[i]))
	}
	return numbers, nil
}

// CountActiveByOwner counts numbers that still occupy a quota slot.
func (r *GormPhoneNumberRepo) CountActiveByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PhoneNumberModel{}).
		Where("owner_id = ? AND state <> ?", ownerID, domain.PhoneStateRevoked).
		Count(&count).Error
	return count, err
}

// IncrementAttempts records a failed code submission and returns the new count.
// The attempt budget is enforced in the UPDATE itself, so concurrent guesses
// against the same code can never exceed it.
func (r *GormPhoneNumberRepo) IncrementAttempts(ctx context.Context, id string, now time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&PhoneNumberModel{}).
		Where("id = ? AND state = ? AND attempt_count < ?", id, domain.PhoneStatePending, domain.MaxVerificationAttempts).
		Updates(map[string]any{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, r.rejection(ctx, id, now, domain.ErrConflict)
	}

	var model PhoneNumberModel
	if err := r.db.WithContext(ctx).Select("attempt_count").First(&model, "id = ?", id).Error; err != nil {
		return 0, err
	}
	return model.AttemptCount, nil
}

// MarkVerified checks the code, its expiry and the attempt budget in the same
// statement that moves the number to verified.
func (r *GormPhoneNumberRepo) MarkVerified(ctx context.Context, id string, code string, verifiedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&PhoneNumberModel{}).
		Where("id = ? AND state = ?", id, domain.PhoneStatePending).
		Where("attempt_count < ? AND code_expires_at > ? AND verification_code = ?",
			domain.MaxVerificationAttempts, verifiedAt, code).
		Updates(map[string]any{
			"state":             domain.PhoneStateVerified,
			"verified_at":       verifiedAt,
			"verification_code": "",
			"code_expires_at":   nil,
			"updated_at":        verifiedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.rejection(ctx, id, verifiedAt, domain.ErrCodeMismatch)
	}
	return nil
}

// rejection explains a guarded update that matched no row, reading the
// current row. fallback is returned when the row still accepts codes.
func (r *GormPhoneNumberRepo) rejection(ctx context.Context, id string, now time.Time, fallback error) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := current.AcceptsCode(now); err != nil {
		return err
	}
	return fallback
}

func (r *GormPhoneNumberRepo) ReissueCode(ctx context.Context, id string, code string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&PhoneNumberModel{}).
		Where("id = ? AND state = ?", id, domain.PhoneStatePending).
		Updates(map[string]any{
			"verification_code": code,
			"code_expires_at":   expiresAt,
			"attempt_count":     0,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Revoke is idempotent: revoking an already revoked number is a no-op.
func (r *GormPhoneNumberRepo) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&PhoneNumberModel{}).
		Where("id = ? AND state <> ?", id, domain.PhoneStateRevoked).
		Updates(map[string]any{
			"state":             domain.PhoneStateRevoked,
			"revoked_at":        revokedAt,
			"verification_code": "",
			"code_expires_at":   nil,
			"updated_at":        revokedAt,
		}).Error
}
