package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/observability"
	"github.com/kursadbilgin/newswire-engine/internal/policy"
	"github.com/kursadbilgin/newswire-engine/internal/provider"
	"github.com/kursadbilgin/newswire-engine/internal/ratelimit"
	"github.com/kursadbilgin/newswire-engine/internal/repository"
	"go.uber.org/zap"
)

// Registration is the outcome of issuing a verification code. CodeSent is false
// when the transport failed; the number stays pending and the code can be resent.
type Registration struct {
	Number   *domain.PhoneNumber
	CodeSent bool
}

// VerificationService drives the phone number lifecycle: pending, verified, revoked.
type VerificationService struct {
	users        repository.UserRepository
	phones       repository.PhoneNumberRepository
	sender       *messageSender
	logger       *zap.Logger
	codeTTL      time.Duration
	now          func() time.Time
	generateCode func() (string, error)
}

type VerificationConfig struct {
	CodeTTL     time.Duration
	SendTimeout time.Duration
}

func NewVerificationService(
	users repository.UserRepository,
	phones repository.PhoneNumberRepository,
	transport provider.Transport,
	throttle ratelimit.Throttle,
	cfg VerificationConfig,
	logger *zap.Logger,
) (*VerificationService, error) {
	if users == nil || phones == nil {
		return nil, fmt.Errorf("user and phone number repositories are required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = domain.DefaultVerificationCodeTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &VerificationService{
		users:        users,
		phones:       phones,
		sender:       newMessageSender(transport, throttle, cfg.SendTimeout),
		logger:       logger,
		codeTTL:      cfg.CodeTTL,
		now:          time.Now,
		generateCode: generateNumericCode,
	}, nil
}

func (s *VerificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.sender.metrics = metrics
}

// Register creates a pending number for the owner and dispatches its first code.
func (s *VerificationService) Register(ctx context.Context, ownerID, rawPhone string) (*Registration, error) {
	owner, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	phone := domain.NormalizePhone(rawPhone)
	if err := domain.ValidateE164(phone); err != nil {
		return nil, err
	}

	count, err := s.phones.CountActiveByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count phone numbers: %w", err)
	}
	if err := policy.CheckQuota("phone numbers", policy.MaxNumbers(owner.SubscriptionTier), count); err != nil {
		return nil, err
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification code: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.codeTTL)
	number := &domain.PhoneNumber{
		ID:               uuid.NewString(),
		OwnerID:          owner.ID,
		E164:             phone,
		State:            domain.PhoneStatePending,
		VerificationCode: code,
		CodeExpiresAt:    &expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// Duplicate numbers surface as ErrDuplicateNumber from the unique index.
	if err := s.phones.Create(ctx, number); err != nil {
		return nil, err
	}

	return &Registration{Number: number, CodeSent: s.dispatchCode(ctx, number)}, nil
}

// SubmitCode checks a code against the pending number. Five mismatches lock the
// code; the owner then has to request a new one through ResendCode.
func (s *VerificationService) SubmitCode(ctx context.Context, ownerID, phoneID, code string) (*domain.PhoneNumber, error) {
	number, err := s.ownedNumber(ctx, ownerID, phoneID)
	if err != nil {
		return nil, err
	}

	// The snapshot may already be stale under concurrent submissions; the
	// repository re-checks state, budget, expiry and code when it writes.
	now := s.now().UTC()
	if err := number.AcceptsCode(now); err != nil {
		return nil, err
	}

	submitted := strings.TrimSpace(code)
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(number.VerificationCode)) != 1 {
		return nil, s.recordMismatch(ctx, number.ID, now)
	}

	if err := s.phones.MarkVerified(ctx, number.ID, submitted, now); err != nil {
		if errors.Is(err, domain.ErrCodeMismatch) {
			// A resend replaced the code after the snapshot was read.
			return nil, s.recordMismatch(ctx, number.ID, now)
		}
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mark phone number verified: %w", err)
	}

	number.State = domain.PhoneStateVerified
	number.VerifiedAt = &now
	number.VerificationCode = ""
	number.CodeExpiresAt = nil
	number.UpdatedAt = now

	s.logger.Info("phone number verified", zap.String("userId", ownerID), zap.String("phoneNumberId", number.ID))
	return number, nil
}

func (s *VerificationService) recordMismatch(ctx context.Context, phoneID string, now time.Time) error {
	attempts, err := s.phones.IncrementAttempts(ctx, phoneID, now)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to record verification attempt: %w", err)
	}
	s.logger.Info("verification code mismatch",
		zap.String("phoneNumberId", phoneID),
		zap.Int("attempts", attempts),
	)
	remaining := max(domain.MaxVerificationAttempts-attempts, 0)
	return fmt.Errorf("%w: %d attempts remaining", domain.ErrCodeMismatch, remaining)
}

// ResendCode issues a fresh code for a pending number and resets its attempt budget.
func (s *VerificationService) ResendCode(ctx context.Context, ownerID, phoneID string) (*Registration, error) {
	number, err := s.ownedNumber(ctx, ownerID, phoneID)
	if err != nil {
		return nil, err
	}
	if number.State != domain.PhoneStatePending {
		return nil, fmt.Errorf("%w: codes can only be resent for pending numbers", domain.ErrConflict)
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification code: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.codeTTL)
	if err := s.phones.ReissueCode(ctx, number.ID, code, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to reissue verification code: %w", err)
	}

	number.VerificationCode = code
	number.CodeExpiresAt = &expiresAt
	number.AttemptCount = 0
	number.UpdatedAt = now

	return &Registration{Number: number, CodeSent: s.dispatchCode(ctx, number)}, nil
}

// Revoke moves the number to revoked from any state. Revoking twice is a no-op.
func (s *VerificationService) Revoke(ctx context.Context, ownerID, phoneID string) error {
	number, err := s.ownedNumber(ctx, ownerID, phoneID)
	if err != nil {
		return err
	}
	if number.State == domain.PhoneStateRevoked {
		return nil
	}

	if err := s.phones.Revoke(ctx, number.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to revoke phone number: %w", err)
	}

	s.logger.Info("phone number revoked", zap.String("userId", ownerID), zap.String("phoneNumberId", number.ID))
	return nil
}

func (s *VerificationService) List(ctx context.Context, ownerID string) ([]domain.PhoneNumber, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	return s.phones.ListByOwner(ctx, ownerID)
}

func (s *VerificationService) ownedNumber(ctx context.Context, ownerID, phoneID string) (*domain.PhoneNumber, error) {
	if strings.TrimSpace(phoneID) == "" {
		return nil, fmt.Errorf("%w: phone number id is required", domain.ErrValidation)
	}

	number, err := s.phones.GetByID(ctx, phoneID)
	if err != nil {
		return nil, err
	}
	if number.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return number, nil
}

func (s *VerificationService) dispatchCode(ctx context.Context, number *domain.PhoneNumber) bool {
	_, err := s.sender.send(ctx, sendPurposeVerification, number.E164, provider.VerificationMessage(number.VerificationCode))
	if err != nil {
		observability.WithContextLogger(s.logger, ctx).Error("failed to dispatch verification code",
			zap.String("phoneNumberId", number.ID),
			zap.Bool("transient", provider.IsTransient(err)),
			zap.Error(err),
		)
		return false
	}
	return true
}

func generateNumericCode() (string, error) {
	upper := big.NewInt(1)
	for range domain.VerificationCodeLength {
		upper.Mul(upper, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", domain.VerificationCodeLength, n.Int64()), nil
}
