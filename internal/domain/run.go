package domain

import "time"

// RunStatus is the terminal outcome of a delivery run.
type RunStatus string

const (
	RunStatusSuccess                 RunStatus = "success"
	RunStatusContentFailed           RunStatus = "content_failed"
	RunStatusSendFailed              RunStatus = "send_failed"
	RunStatusSkippedNoVerifiedNumber RunStatus = "skipped_no_verified_number"
	RunStatusSkippedTierDowngraded   RunStatus = "skipped_tier_downgraded"
)

func (s RunStatus) String() string { return string(s) }

func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusSuccess, RunStatusContentFailed, RunStatusSendFailed,
		RunStatusSkippedNoVerifiedNumber, RunStatusSkippedTierDowngraded:
		return true
	}
	return false
}

// StampsLastRun reports whether the outcome closes the schedule's period.
func (s RunStatus) StampsLastRun() bool {
	switch s {
	case RunStatusSuccess, RunStatusContentFailed, RunStatusSendFailed:
		return true
	}
	return false
}

// TriggerKind records what started a run.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
)

// RecipientStatus is the per-number send outcome inside a run.
type RecipientStatus string

const (
	RecipientSent   RecipientStatus = "sent"
	RecipientFailed RecipientStatus = "failed"
)

// RecipientResult is the audit detail of one number within a run.
type RecipientResult struct {
	PhoneNumberID     string          `json:"phoneNumberId"`
	Phone             string          `json:"phone"`
	Status            RecipientStatus `json:"status"`
	Attempts          int             `json:"attempts"`
	ProviderMessageID string          `json:"providerMessageId,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// DeliveryRun is the append-only audit record of one execution for a schedule.
type DeliveryRun struct {
	ID           string
	ScheduleID   string
	Trigger      TriggerKind
	Status       RunStatus
	DueAt        *time.Time
	TriggeredAt  time.Time
	CompletedAt  time.Time
	AttemptCount int
	Content      string
	Error        string
	Recipients   []RecipientResult
}
