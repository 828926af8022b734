package ratelimit

import "context"

// Throttle bounds outbound sends per sender key across all engine replicas.
type Throttle interface {
	Wait(ctx context.Context, sender string) error
}

// Unlimited never throttles. Used when no shared store is configured.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
