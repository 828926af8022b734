package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/observability"
	"github.com/kursadbilgin/newswire-engine/internal/provider"
	"github.com/kursadbilgin/newswire-engine/internal/ratelimit"
)

const (
	whatsappSenderKey      = "whatsapp"
	defaultExternalTimeout = 15 * time.Second

	sendPurposeDigest       = "digest"
	sendPurposeVerification = "verification"
)

// messageSender puts every outbound message behind the shared throttle and a per-call timeout.
type messageSender struct {
	transport provider.Transport
	throttle  ratelimit.Throttle
	timeout   time.Duration
	metrics   *observability.Metrics
	now       func() time.Time
}

func newMessageSender(transport provider.Transport, throttle ratelimit.Throttle, timeout time.Duration) *messageSender {
	if throttle == nil {
		throttle = ratelimit.Unlimited{}
	}
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	return &messageSender{
		transport: transport,
		throttle:  throttle,
		timeout:   timeout,
		now:       time.Now,
	}
}

func (m *messageSender) send(ctx context.Context, purpose, phone, body string) (*provider.SendResult, error) {
	if err := m.throttle.Wait(ctx, whatsappSenderKey); err != nil {
		return nil, fmt.Errorf("send throttle wait failed: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	result, err := m.transport.Send(callCtx, phone, body)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.metrics.ObserveSend(purpose, outcome, m.now().Sub(start))

	return result, err
}
