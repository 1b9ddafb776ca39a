package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Provider event types after adapter normalization.
const (
	EventTypeSubscriptionUpdated   = "subscription.updated"
	EventTypeSubscriptionCancelled = "subscription.cancelled"
	EventTypeInvoicePaid           = "invoice.paid"
	EventTypeTrialEnding           = "trial.ending"
)

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrBillingMutationFailed = errors.New("billing_mutation_failed")
)

// ProviderEvent is a provider webhook normalized by its adapter.
type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	SubscriptionRef string
	Status          string
	PlanTier        string
	ValueCents      int64
	PeriodEnd       *time.Time
	OccurredAt      time.Time
}

// WebhookEvent is the stored inbound webhook. The (provider,
// provider_event_id) unique pair makes at-least-once delivery idempotent: a
// redelivered event collides and is silently dropped. Processing happens in
// the background worker, never on the receiving request.
type WebhookEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_provider_event,priority:1"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_provider_event,priority:2"`
	EventType       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	Attempts        int            `gorm:"not null;default:0"`
	NextAttemptAt   *time.Time     `gorm:"index"`
	ClaimedAt       *time.Time     `gorm:""`
	ProcessedAt     *time.Time     `gorm:""`
	LastError       *string        `gorm:"type:text"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
