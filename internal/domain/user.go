package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the subscription level controlling cadence and quotas.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

func (t Tier) String() string { return string(t) }

func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPremium:
		return true
	}
	return false
}

func ParseTierFromString(s string) (Tier, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	// The original dashboard labelled the upgraded tier "paid".
	if normalized == "paid" {
		normalized = string(TierPremium)
	}
	t := Tier(normalized)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid tier %q", ErrValidation, s)
	}
	return t, nil
}

// User owns topics, phone numbers and schedules. Credentials live outside the core.
type User struct {
	ID               string
	Email            string
	SubscriptionTier Tier
	Timezone         string
	PasswordHash     string
	TierChangedAt    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Location resolves the user's configured timezone, falling back to UTC.
func (u *User) Location() *time.Location {
	if u == nil {
		return time.UTC
	}
	loc, err := LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func LoadLocation(name string) (*time.Location, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || strings.EqualFold(trimmed, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q", ErrValidation, name)
	}
	return loc, nil
}

func (u *User) Validate() error {
	if strings.TrimSpace(u.Email) == "" || !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if !u.SubscriptionTier.IsValid() {
		return fmt.Errorf("%w: invalid tier %q", ErrValidation, u.SubscriptionTier)
	}
	if _, err := LoadLocation(u.Timezone); err != nil {
		return err
	}
	return nil
}

// TierChange is the trusted event emitted by the payment collaborator.
type TierChange struct {
	EventID    string
	UserID     string
	Tier       Tier
	OccurredAt time.Time
}

func (e TierChange) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if !e.Tier.IsValid() {
		return fmt.Errorf("%w: invalid tier %q", ErrValidation, e.Tier)
	}
	return nil
}
