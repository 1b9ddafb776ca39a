// Package domain contains the scoring model: named bounded weights and the
// scoring service contract. Scoring is an explainable weighted sum with
// deterministic, inspectable, manually overridable weights; it is not a
// trained model and must stay that way.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
	"gorm.io/gorm"
)

// Weight names used by the churn-risk combination.
const (
	WeightBehavior = "behavior"
	WeightValue    = "value"
	WeightHistory  = "history"
)

// Weight bounds. Every update is clamped into this range; a stored value
// outside it is a bug.
const (
	WeightMin = 0.0
	WeightMax = 10.0
)

// AdjustStep is the bounded nudge applied per decision event.
const AdjustStep = 0.05

var (
	ErrWeightNotFound = errors.New("weight_not_found")
	ErrInvalidWeight  = errors.New("invalid_weight")
)

// Weight is a named scalar in [0, 10], mutated only through the store.
type Weight struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Value     float64      `gorm:"not null" json:"value"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Weight) TableName() string { return "weights" }

// Clamp bounds a proposed weight value into [WeightMin, WeightMax].
func Clamp(value float64) float64 {
	if value < WeightMin {
		return WeightMin
	}
	if value > WeightMax {
		return WeightMax
	}
	return value
}

// WeightStore is the single gateway for weight reads and writes so clamping
// and auditing stay centralized instead of scattered across callers.
type WeightStore interface {
	Get(ctx context.Context, name string) (float64, error)
	All(ctx context.Context) (map[string]float64, error)
	// Set replaces a weight (clamped) and records who changed it.
	Set(ctx context.Context, name string, value float64, actor string) (float64, error)
	// AdjustTx nudges a weight by delta (clamped) inside an existing transaction.
	AdjustTx(ctx context.Context, tx *gorm.DB, name string, delta float64) (float64, error)
}

// Service is the scoring engine surface.
type Service interface {
	// CalculateChurnRisk returns a deterministic score in [0, 100] for the
	// user identified by external ID. Users without history score neutral.
	CalculateChurnRisk(ctx context.Context, externalUserID string) (int, error)
	// RecommendBestOffer picks the offer type with the best acceptance rate
	// for the user's segment, constrained to the flow's steps when given.
	RecommendBestOffer(ctx context.Context, externalUserID string, flowID string) (offerdomain.OfferType, error)
	// SuggestMessage returns a short retention message for the offer type,
	// at most MaxMessageLength characters.
	SuggestMessage(ctx context.Context, externalUserID string, offerType offerdomain.OfferType) (SuggestedMessage, error)
	// UpdateModelWithEvent folds one decided offer event into the performance
	// counters and weights. Idempotent: reprocessing an already-applied event
	// is a silent no-op. Pass tx to run inside the caller's transaction.
	UpdateModelWithEvent(ctx context.Context, tx *gorm.DB, event *offerdomain.OfferEvent) error
}

// SuggestedMessage pairs the rendered text with its template key so decisions
// can be attributed back to the template that produced them.
type SuggestedMessage struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}
