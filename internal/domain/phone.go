package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

const (
	VerificationCodeLength     = 6
	MaxVerificationAttempts    = 5
	DefaultVerificationCodeTTL = 10 * time.Minute
)

// PhoneState is the verification lifecycle state of a phone number.
type PhoneState string

const (
	PhoneStatePending  PhoneState = "pending"
	PhoneStateVerified PhoneState = "verified"
	PhoneStateRevoked  PhoneState = "revoked"
)

func (s PhoneState) String() string { return string(s) }

func (s PhoneState) IsValid() bool {
	switch s {
	case PhoneStatePending, PhoneStateVerified, PhoneStateRevoked:
		return true
	}
	return false
}

// PhoneNumber is a WhatsApp destination registered by a user.
type PhoneNumber struct {
	ID               string
	OwnerID          string
	E164             string
	State            PhoneState
	VerificationCode string
	CodeExpiresAt    *time.Time
	AttemptCount     int
	VerifiedAt       *time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NormalizePhone strips formatting characters users commonly type.
func NormalizePhone(raw string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return replacer.Replace(strings.TrimSpace(raw))
}

func ValidateE164(phone string) error {
	if !e164Pattern.MatchString(phone) {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, phone)
	}
	return nil
}

// Eligible reports whether the number may receive deliveries.
func (p *PhoneNumber) Eligible() bool {
	return p != nil && p.State == PhoneStateVerified
}

// CodeExpired reports whether the outstanding code is no longer valid at now.
func (p *PhoneNumber) CodeExpired(now time.Time) bool {
	if p.CodeExpiresAt == nil {
		return true
	}
	return !now.Before(*p.CodeExpiresAt)
}

// AcceptsCode reports why a code submission cannot be checked against p at now.
// A nil error means the outstanding code is still open for guesses.
func (p *PhoneNumber) AcceptsCode(now time.Time) error {
	switch p.State {
	case PhoneStatePending:
	case PhoneStateVerified:
		return fmt.Errorf("%w: phone number already verified", ErrConflict)
	default:
		return fmt.Errorf("%w: phone number is %s", ErrConflict, p.State)
	}
	if p.AttemptCount >= MaxVerificationAttempts {
		return ErrTooManyAttempts
	}
	if p.CodeExpired(now) {
		return ErrCodeExpired
	}
	return nil
}
