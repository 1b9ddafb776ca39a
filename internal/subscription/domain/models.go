// Package domain contains the subscription lifecycle model.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus is the local lifecycle state mirrored from the billing
// provider plus the retention mutations the engine applies itself.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusPaused     SubscriptionStatus = "paused"
	StatusDowngraded SubscriptionStatus = "downgraded"
	StatusDiscounted SubscriptionStatus = "discounted"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCancelled  SubscriptionStatus = "cancelled"
	StatusArchived   SubscriptionStatus = "archived"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrStaleProviderEvent   = errors.New("stale_provider_event")
)

// Subscription belongs to exactly one user. Rows are never deleted; retirement
// happens through the archived status.
type Subscription struct {
	ID             snowflake.ID       `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID       `gorm:"not null;index" json:"user_id"`
	ProviderRef    string             `gorm:"type:text;not null;uniqueIndex" json:"provider_ref"`
	PlanTier       string             `gorm:"type:text;not null" json:"plan_tier"`
	ValueCents     int64              `gorm:"not null;default:0" json:"value_cents"`
	Status         SubscriptionStatus `gorm:"type:text;not null;default:active" json:"status"`
	CancelAttempts int64              `gorm:"not null;default:0" json:"cancel_attempts"`

	// ProviderUpdatedAt is the occurred-at of the newest provider event applied.
	// Webhook redeliveries and out-of-order arrivals must never move state
	// backwards past this watermark.
	ProviderUpdatedAt *time.Time `gorm:"" json:"-"`

	CurrentPeriodEnd *time.Time `gorm:"" json:"current_period_end,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }
