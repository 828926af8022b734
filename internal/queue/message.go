package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
)

// TierChangedMessage is the broker payload emitted by the billing collaborator.
type TierChangedMessage struct {
	EventID    string    `json:"eventId"`
	UserID     string    `json:"userId"`
	Tier       string    `json:"tier"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (m TierChangedMessage) ToDomain() (domain.TierChange, error) {
	tier, err := domain.ParseTierFromString(m.Tier)
	if err != nil {
		return domain.TierChange{}, err
	}

	change := domain.TierChange{
		EventID:    strings.TrimSpace(m.EventID),
		UserID:     strings.TrimSpace(m.UserID),
		Tier:       tier,
		OccurredAt: m.OccurredAt.UTC(),
	}
	if err := change.Validate(); err != nil {
		return domain.TierChange{}, err
	}
	return change, nil
}

// RunEventMessage is published after a DeliveryRun is recorded.
type RunEventMessage struct {
	RunID       string           `json:"runId"`
	ScheduleID  string           `json:"scheduleId"`
	OwnerID     string           `json:"ownerId"`
	Trigger     string           `json:"trigger"`
	Status      domain.RunStatus `json:"status"`
	Sent        int              `json:"sent"`
	Failed      int              `json:"failed"`
	TriggeredAt time.Time        `json:"triggeredAt"`
	CompletedAt time.Time        `json:"completedAt"`
	Deactivated bool             `json:"deactivated,omitempty"`
}

func (m RunEventMessage) Validate() error {
	if strings.TrimSpace(m.RunID) == "" {
		return fmt.Errorf("runId is required")
	}
	if strings.TrimSpace(m.ScheduleID) == "" {
		return fmt.Errorf("scheduleId is required")
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("invalid status %q", m.Status)
	}
	return nil
}

// NewRunEventMessage summarises a recorded run.
func NewRunEventMessage(ownerID string, run domain.DeliveryRun, deactivated bool) RunEventMessage {
	msg := RunEventMessage{
		RunID:       run.ID,
		ScheduleID:  run.ScheduleID,
		OwnerID:     ownerID,
		Trigger:     string(run.Trigger),
		Status:      run.Status,
		TriggeredAt: run.TriggeredAt,
		CompletedAt: run.CompletedAt,
		Deactivated: deactivated,
	}
	for _, r := range run.Recipients {
		if r.Status == domain.RecipientSent {
			msg.Sent++
		} else {
			msg.Failed++
		}
	}
	return msg
}
