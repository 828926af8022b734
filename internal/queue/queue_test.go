package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"go.uber.org/zap"
)

func TestRoutingNames(t *testing.T) {
	if got := RunRoutingKey(domain.RunStatusSuccess); got != "run.success" {
		t.Fatalf("RunRoutingKey = %s, want run.success", got)
	}
	if got := RunRoutingKey(domain.RunStatusSkippedTierDowngraded); got != "run.skipped_tier_downgraded" {
		t.Fatalf("RunRoutingKey = %s, want run.skipped_tier_downgraded", got)
	}
	if got := DLQName(TierChangedQueue); got != "dlq.billing.tier_changed" {
		t.Fatalf("DLQName = %s, want dlq.billing.tier_changed", got)
	}
}

func TestTierChangedMessageToDomain(t *testing.T) {
	occurred := time.Date(2026, 3, 10, 8, 0, 0, 0, time.FixedZone("TRT", 3*3600))

	change, err := TierChangedMessage{
		EventID:    " evt-1 ",
		UserID:     "u1",
		Tier:       "PAID",
		OccurredAt: occurred,
	}.ToDomain()
	if err != nil {
		t.Fatalf("ToDomain() unexpected error: %v", err)
	}
	if change.Tier != domain.TierPremium {
		t.Fatalf("Tier = %s, want premium", change.Tier)
	}
	if change.EventID != "evt-1" {
		t.Fatalf("EventID = %q, want evt-1", change.EventID)
	}
	if change.OccurredAt.Location() != time.UTC || !change.OccurredAt.Equal(occurred) {
		t.Fatalf("OccurredAt = %v, want %v in UTC", change.OccurredAt, occurred)
	}

	if _, err := (TierChangedMessage{UserID: "u1", Tier: "gold"}).ToDomain(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ToDomain() error = %v, want ErrValidation for unknown tier", err)
	}
	if _, err := (TierChangedMessage{Tier: "free"}).ToDomain(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ToDomain() error = %v, want ErrValidation for missing user", err)
	}
}

func TestNewRunEventMessage(t *testing.T) {
	run := domain.DeliveryRun{
		ID:         "r1",
		ScheduleID: "s1",
		Trigger:    domain.TriggerManual,
		Status:     domain.RunStatusSendFailed,
		Recipients: []domain.RecipientResult{
			{Status: domain.RecipientSent},
			{Status: domain.RecipientFailed},
			{Status: domain.RecipientSent},
		},
	}

	msg := NewRunEventMessage("u1", run, false)
	if msg.Sent != 2 || msg.Failed != 1 {
		t.Fatalf("sent/failed = %d/%d, want 2/1", msg.Sent, msg.Failed)
	}
	if msg.Trigger != "manual" || msg.OwnerID != "u1" {
		t.Fatalf("msg = %+v", msg)
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.RunID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty run id")
	}

	msg.RunID = "r1"
	msg.Status = domain.RunStatus("weird")
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestTierChangedConsumerProcess(t *testing.T) {
	consumer := NewTierChangedConsumer(nil, 1, zap.NewNop())
	valid := []byte(`{"eventId":"e1","userId":"u1","tier":"free","occurredAt":"2026-03-10T08:00:00Z"}`)

	tests := []struct {
		name       string
		body       []byte
		handlerErr error
		want       deliveryAction
		wantCalled bool
	}{
		{name: "applied", body: valid, want: ackMessage, wantCalled: true},
		{name: "invalid json", body: []byte(`{`), want: rejectMessage},
		{name: "invalid tier", body: []byte(`{"userId":"u1","tier":"gold"}`), want: rejectMessage},
		{name: "unknown user is dead-lettered", body: valid, handlerErr: domain.ErrNotFound, want: rejectMessage, wantCalled: true},
		{name: "store failure is requeued", body: valid, handlerErr: errors.New("db down"), want: requeueMessage, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := func(ctx context.Context, change domain.TierChange) error {
				called = true
				if change.UserID != "u1" || change.Tier != domain.TierFree {
					t.Fatalf("change = %+v", change)
				}
				return tt.handlerErr
			}

			got, _ := consumer.process(context.Background(), tt.body, handler)
			if got != tt.want {
				t.Fatalf("process() action = %d, want %d", got, tt.want)
			}
			if called != tt.wantCalled {
				t.Fatalf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}
