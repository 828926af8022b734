package repository

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
)

// UserModel is the persistence model for the users table.
type UserModel struct {
	ID               string      `gorm:"type:uuid;primaryKey"`
	Email            string      `gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash     string      `gorm:"type:varchar(255);not null;default:''"`
	SubscriptionTier domain.Tier `gorm:"type:varchar(16);not null;default:'free'"`
	Timezone         string      `gorm:"type:varchar(64);not null;default:'UTC'"`
	TierChangedAt    *time.Time  `gorm:"type:timestamptz"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// TopicModel is the persistence model for the topics table.
type TopicModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	OwnerID     string `gorm:"type:uuid;not null;index"`
	Name        string `gorm:"type:varchar(120);not null"`
	Keywords    string `gorm:"type:text;not null"`
	CountryCode string `gorm:"type:varchar(2);not null;default:'us'"`
	Language    string `gorm:"type:varchar(3);not null;default:'en'"`
	CreatedAt   time.Time
}

func (TopicModel) TableName() string {
	return "topics"
}

// PhoneNumberModel is the persistence model for the phone_numbers table.
type PhoneNumberModel struct {
	ID               string            `gorm:"type:uuid;primaryKey"`
	OwnerID          string            `gorm:"type:uuid;not null"`
	E164             string            `gorm:"column:e164_phone;type:varchar(16);not null"`
	State            domain.PhoneState `gorm:"type:varchar(16);not null"`
	VerificationCode string            `gorm:"type:varchar(16);not null;default:''"`
	CodeExpiresAt    *time.Time        `gorm:"type:timestamptz"`
	AttemptCount     int               `gorm:"not null;default:0"`
	VerifiedAt       *time.Time        `gorm:"type:timestamptz"`
	RevokedAt        *time.Time        `gorm:"type:timestamptz"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (PhoneNumberModel) TableName() string {
	return "phone_numbers"
}

// ScheduleModel is the persistence model for the schedules table.
type ScheduleModel struct {
	ID         string           `gorm:"type:uuid;primaryKey"`
	OwnerID    string           `gorm:"type:uuid;not null;index"`
	TopicID    string           `gorm:"type:uuid;not null;index"`
	Frequency  domain.Frequency `gorm:"type:varchar(10);not null"`
	TimeOfDay  string           `gorm:"type:varchar(5);not null;default:''"`
	Active     bool             `gorm:"not null"`
	OrphanedAt *time.Time       `gorm:"type:timestamptz"`
	LastRunAt  *time.Time       `gorm:"type:timestamptz"`
	NextDueAt  time.Time        `gorm:"type:timestamptz;not null"`
	ClaimToken *string          `gorm:"type:uuid"`
	ClaimedAt  *time.Time       `gorm:"type:timestamptz"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ScheduleModel) TableName() string {
	return "schedules"
}

// DeliveryRunModel is the persistence model for the delivery_runs table.
type DeliveryRunModel struct {
	ID           string           `gorm:"type:uuid;primaryKey"`
	ScheduleID   string           `gorm:"type:uuid;not null"`
	Trigger      string           `gorm:"column:trigger_kind;type:varchar(16);not null"`
	Status       domain.RunStatus `gorm:"type:varchar(32);not null"`
	DueAt        *time.Time       `gorm:"type:timestamptz"`
	TriggeredAt  time.Time        `gorm:"type:timestamptz;not null"`
	CompletedAt  time.Time        `gorm:"type:timestamptz;not null"`
	AttemptCount int              `gorm:"not null;default:0"`
	Content      *string          `gorm:"type:text"`
	Error        *string          `gorm:"type:text"`
	Recipients   string           `gorm:"type:jsonb;not null;default:'[]'"`
}

func (DeliveryRunModel) TableName() string {
	return "delivery_runs"
}

func userModelFromDomain(u *domain.User) *UserModel {
	if u == nil {
		return nil
	}

	return &UserModel{
		ID:               u.ID,
		Email:            u.Email,
		PasswordHash:     u.PasswordHash,
		SubscriptionTier: u.SubscriptionTier,
		Timezone:         u.Timezone,
		TierChangedAt:    u.TierChangedAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:               m.ID,
		Email:            m.Email,
		PasswordHash:     m.PasswordHash,
		SubscriptionTier: m.SubscriptionTier,
		Timezone:         m.Timezone,
		TierChangedAt:    m.TierChangedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func topicModelFromDomain(t *domain.Topic) *TopicModel {
	if t == nil {
		return nil
	}

	return &TopicModel{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Name:        t.Name,
		Keywords:    domain.JoinKeywords(t.Keywords),
		CountryCode: t.CountryCode,
		Language:    t.Language,
		CreatedAt:   t.CreatedAt,
	}
}

func topicModelToDomain(m *TopicModel) *domain.Topic {
	if m == nil {
		return nil
	}

	return &domain.Topic{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Name:        m.Name,
		Keywords:    domain.ParseKeywords(m.Keywords),
		CountryCode: m.CountryCode,
		Language:    m.Language,
		CreatedAt:   m.CreatedAt,
	}
}

func phoneModelFromDomain(p *domain.PhoneNumber) *PhoneNumberModel {
	if p == nil {
		return nil
	}

	return &PhoneNumberModel{
		ID:               p.ID,
		OwnerID:          p.OwnerID,
		E164:             p.E164,
		State:            p.State,
		VerificationCode: p.VerificationCode,
		CodeExpiresAt:    p.CodeExpiresAt,
		AttemptCount:     p.AttemptCount,
		VerifiedAt:       p.VerifiedAt,
		RevokedAt:        p.RevokedAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func phoneModelToDomain(m *PhoneNumberModel) *domain.PhoneNumber {
	if m == nil {
		return nil
	}

	return &domain.PhoneNumber{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		E164:             m.E164,
		State:            m.State,
		VerificationCode: m.VerificationCode,
		CodeExpiresAt:    m.CodeExpiresAt,
		AttemptCount:     m.AttemptCount,
		VerifiedAt:       m.VerifiedAt,
		RevokedAt:        m.RevokedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func scheduleModelFromDomain(s *domain.Schedule) *ScheduleModel {
	if s == nil {
		return nil
	}

	return &ScheduleModel{
		ID:         s.ID,
		OwnerID:    s.OwnerID,
		TopicID:    s.TopicID,
		Frequency:  s.Frequency,
		TimeOfDay:  s.TimeOfDay,
		Active:     s.Active,
		OrphanedAt: s.OrphanedAt,
		LastRunAt:  s.LastRunAt,
		NextDueAt:  s.NextDueAt,
		ClaimToken: s.ClaimToken,
		ClaimedAt:  s.ClaimedAt,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func scheduleModelToDomain(m *ScheduleModel) *domain.Schedule {
	if m == nil {
		return nil
	}

	return &domain.Schedule{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		TopicID:    m.TopicID,
		Frequency:  m.Frequency,
		TimeOfDay:  m.TimeOfDay,
		Active:     m.Active,
		OrphanedAt: m.OrphanedAt,
		LastRunAt:  m.LastRunAt,
		NextDueAt:  m.NextDueAt,
		ClaimToken: m.ClaimToken,
		ClaimedAt:  m.ClaimedAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func runModelFromDomain(r *domain.DeliveryRun) (*DeliveryRunModel, error) {
	if r == nil {
		return nil, nil
	}

	recipients := r.Recipients
	if recipients == nil {
		recipients = []domain.RecipientResult{}
	}
	encoded, err := json.Marshal(recipients)
	if err != nil {
		return nil, err
	}

	return &DeliveryRunModel{
		ID:           r.ID,
		ScheduleID:   r.ScheduleID,
		Trigger:      string(r.Trigger),
		Status:       r.Status,
		DueAt:        r.DueAt,
		TriggeredAt:  r.TriggeredAt,
		CompletedAt:  r.CompletedAt,
		AttemptCount: r.AttemptCount,
		Content:      optionalString(r.Content),
		Error:        optionalString(r.Error),
		Recipients:   string(encoded),
	}, nil
}

func runModelToDomain(m *DeliveryRunModel) (*domain.DeliveryRun, error) {
	if m == nil {
		return nil, nil
	}

	var recipients []domain.RecipientResult
	if raw := strings.TrimSpace(m.Recipients); raw != "" {
		if err := json.Unmarshal([]byte(raw), &recipients); err != nil {
			return nil, err
		}
	}

	run := &domain.DeliveryRun{
		ID:           m.ID,
		ScheduleID:   m.ScheduleID,
		Trigger:      domain.TriggerKind(m.Trigger),
		Status:       m.Status,
		DueAt:        m.DueAt,
		TriggeredAt:  m.TriggeredAt,
		CompletedAt:  m.CompletedAt,
		AttemptCount: m.AttemptCount,
		Recipients:   recipients,
	}
	if m.Content != nil {
		run.Content = *m.Content
	}
	if m.Error != nil {
		run.Error = *m.Error
	}
	return run, nil
}

func optionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &v
}
