// Package policy holds the subscription tier admission rules.
package policy

import (
	"fmt"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
)

// Unlimited marks a quota without an upper bound.
const Unlimited = -1

const (
	freeMaxTopics    = 3
	freeMaxNumbers   = 1
	freeMaxSchedules = 3
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  error
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason error) Decision { return Decision{Reason: reason} }

// Err returns nil when the decision allows, the denial reason otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == nil {
		return domain.ErrUpgradeRequired
	}
	return d.Reason
}

// Admit decides whether tier may run a schedule at the requested frequency.
func Admit(tier domain.Tier, frequency domain.Frequency) Decision {
	if !frequency.IsValid() {
		return deny(fmt.Errorf("%w: invalid frequency %q", domain.ErrValidation, frequency))
	}

	switch tier {
	case domain.TierPremium:
		return allow()
	case domain.TierFree:
		if frequency == domain.FrequencyHourly {
			return deny(fmt.Errorf("%w: hourly schedules require the premium tier", domain.ErrUpgradeRequired))
		}
		return allow()
	default:
		return deny(fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, tier))
	}
}

func MaxTopics(tier domain.Tier) int {
	if tier == domain.TierPremium {
		return Unlimited
	}
	return freeMaxTopics
}

func MaxNumbers(tier domain.Tier) int {
	if tier == domain.TierPremium {
		return Unlimited
	}
	return freeMaxNumbers
}

func MaxSchedules(tier domain.Tier) int {
	if tier == domain.TierPremium {
		return Unlimited
	}
	return freeMaxSchedules
}

// CheckQuota returns ErrQuotaExceeded when adding one more item would pass limit.
func CheckQuota(resource string, limit int, current int64) error {
	if limit == Unlimited {
		return nil
	}
	if current >= int64(limit) {
		return fmt.Errorf("%w: %s limited to %d on the free tier", domain.ErrQuotaExceeded, resource, limit)
	}
	return nil
}
