package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
)

const (
	// EventsExchange is the topic exchange for delivery run events.
	EventsExchange = "newswire.events"
	// TierChangedQueue receives tier change events from the billing collaborator.
	TierChangedQueue = "billing.tier_changed"

	dlxExchangeName = "newswire.dlx"
	runRoutingRoot  = "run"
)

// RunEventPublisher announces finished delivery runs.
type RunEventPublisher interface {
	PublishRun(ctx context.Context, msg RunEventMessage) error
	Close() error
}

// TierEventHandler applies one consumed tier change.
type TierEventHandler func(ctx context.Context, change domain.TierChange) error

// TierEventConsumer consumes tier change events until ctx is done.
type TierEventConsumer interface {
	Consume(ctx context.Context, handler TierEventHandler) error
	Close() error
}

// RunRoutingKey returns the routing key for a run status, e.g. run.success.
func RunRoutingKey(status domain.RunStatus) string {
	return fmt.Sprintf("%s.%s", runRoutingRoot, status)
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.billing.tier_changed.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}
