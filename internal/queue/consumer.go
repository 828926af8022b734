package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ TierEventConsumer = (*TierChangedConsumer)(nil)

// TierChangedConsumer reads billing tier events from TierChangedQueue.
type TierChangedConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewTierChangedConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *TierChangedConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TierChangedConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is done, reconnecting with backoff when the channel drops.
func (c *TierChangedConsumer) Consume(ctx context.Context, handler TierEventHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("tier event handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("tier event consumer interrupted", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *TierChangedConsumer) consumeOnce(ctx context.Context, handler TierEventHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(TierChangedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", TierChangedQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *TierChangedConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler TierEventHandler) error {
	action, change := c.process(ctx, d.Body, handler)

	switch action {
	case ackMessage:
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
	case rejectMessage:
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("failed to reject delivery: %w", err)
		}
	case requeueMessage:
		if err := d.Nack(false, true); err != nil {
			return fmt.Errorf("failed to nack delivery for user %q: %w", change.UserID, err)
		}
	}

	return nil
}

type deliveryAction int

const (
	ackMessage deliveryAction = iota
	rejectMessage
	requeueMessage
)

// process decodes and applies one payload. Malformed or permanently failing
// events are dead-lettered; anything else is requeued.
func (c *TierChangedConsumer) process(ctx context.Context, body []byte, handler TierEventHandler) (deliveryAction, domain.TierChange) {
	var msg TierChangedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Warn("rejecting tier event: invalid JSON", zap.Error(err))
		return rejectMessage, domain.TierChange{}
	}

	change, err := msg.ToDomain()
	if err != nil {
		c.logger.Warn("rejecting tier event: validation failed",
			zap.Error(err),
			zap.String("eventId", msg.EventID),
			zap.String("userId", msg.UserID),
		)
		return rejectMessage, domain.TierChange{}
	}

	if err := handler(ctx, change); err != nil {
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("rejecting tier event: not applicable",
				zap.Error(err),
				zap.String("eventId", change.EventID),
				zap.String("userId", change.UserID),
			)
			return rejectMessage, change
		}
		c.logger.Error("tier event handler failed, requeueing",
			zap.Error(err),
			zap.String("eventId", change.EventID),
			zap.String("userId", change.UserID),
		)
		return requeueMessage, change
	}

	return ackMessage, change
}

func (c *TierChangedConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
