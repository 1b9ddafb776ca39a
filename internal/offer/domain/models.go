package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Offer event confirmation states. Accepted events whose billing mutation could
// not be confirmed stay pending and are excluded from revenue aggregates.
const (
	EventStatusConfirmed           = "confirmed"
	EventStatusPendingConfirmation = "pending_confirmation"
)

var ErrEventNotFound = errors.New("offer_event_not_found")

// OfferEvent is the immutable record of an offer being shown and decided.
// Rows are append-only; every derived statistic must be reproducible by
// replaying this table.
type OfferEvent struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID `gorm:"not null;index" json:"user_id"`
	FlowID         snowflake.ID `gorm:"not null;index" json:"flow_id"`
	OfferType      OfferType    `gorm:"type:text;not null" json:"offer_type"`
	Segment        string       `gorm:"type:text;not null;index" json:"segment"`
	MessageKey     string       `gorm:"type:text" json:"message_key"`
	Accepted       bool         `gorm:"not null" json:"accepted"`
	RevenueCents   int64        `gorm:"not null;default:0" json:"revenue_cents"`
	Status         string       `gorm:"type:text;not null;default:confirmed" json:"status"`
	ModelAppliedAt *time.Time   `gorm:"" json:"-"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (OfferEvent) TableName() string { return "offer_events" }

// CountsTowardRevenue reports whether the event's revenue belongs in
// saved-revenue aggregates.
func (e OfferEvent) CountsTowardRevenue() bool {
	return e.Accepted && e.Status == EventStatusConfirmed
}

// ChurnReason records feedback supplied when a user declines.
type ChurnReason struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID     snowflake.ID `gorm:"not null;index" json:"user_id"`
	ReasonCode string       `gorm:"type:text;not null" json:"reason_code"`
	ReasonText string       `gorm:"type:text" json:"reason_text"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ChurnReason) TableName() string { return "churn_reasons" }

// OfferPerformance holds running totals per (offer type, segment). It is a
// read-path accelerator only: the table must always be reconstructible by
// aggregating offer_events, and acceptance rate is derived, never stored.
type OfferPerformance struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	OfferType     OfferType    `gorm:"type:text;not null;uniqueIndex:ux_offer_perf,priority:1" json:"offer_type"`
	Segment       string       `gorm:"type:text;not null;uniqueIndex:ux_offer_perf,priority:2" json:"segment"`
	ShownCount    int64        `gorm:"not null;default:0" json:"shown_count"`
	AcceptedCount int64        `gorm:"not null;default:0" json:"accepted_count"`
	RevenueCents  int64        `gorm:"not null;default:0" json:"revenue_cents"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

func (OfferPerformance) TableName() string { return "offer_performance" }

// AcceptanceRate derives the accept ratio; zero when nothing was shown.
func (p OfferPerformance) AcceptanceRate() float64 {
	if p.ShownCount == 0 {
		return 0
	}
	return float64(p.AcceptedCount) / float64(p.ShownCount)
}

// AverageRevenueCents derives mean confirmed revenue per acceptance.
func (p OfferPerformance) AverageRevenueCents() int64 {
	if p.AcceptedCount == 0 {
		return 0
	}
	return p.RevenueCents / p.AcceptedCount
}

// MessagePerformance mirrors OfferPerformance keyed by (message template, offer type).
type MessagePerformance struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	MessageKey    string       `gorm:"type:text;not null;uniqueIndex:ux_message_perf,priority:1" json:"message_key"`
	OfferType     OfferType    `gorm:"type:text;not null;uniqueIndex:ux_message_perf,priority:2" json:"offer_type"`
	ShownCount    int64        `gorm:"not null;default:0" json:"shown_count"`
	AcceptedCount int64        `gorm:"not null;default:0" json:"accepted_count"`
	RevenueCents  int64        `gorm:"not null;default:0" json:"revenue_cents"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

func (MessagePerformance) TableName() string { return "message_performance" }

// AcceptanceRate derives the accept ratio; zero when nothing was shown.
func (p MessagePerformance) AcceptanceRate() float64 {
	if p.ShownCount == 0 {
		return 0
	}
	return float64(p.AcceptedCount) / float64(p.ShownCount)
}
