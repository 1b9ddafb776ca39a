// Package domain contains retention flow models and selection rules.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrFlowNotFound     = errors.New("flow_not_found")
	ErrNoFlowAvailable  = errors.New("no_flow_available")
	ErrInvalidFlow      = errors.New("invalid_flow")
	ErrInvalidStep      = errors.New("invalid_flow_step")
)

// Flow is an ordered sequence of retention steps offered to a cancelling user.
// Operators create and edit flows; the engine only reads them. A ranking score
// of zero or below means the flow is inactive and must never be selected.
type Flow struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:text;not null" json:"name"`
	Language     string         `gorm:"type:text;not null;default:en" json:"language"`
	Region       string         `gorm:"type:text" json:"region,omitempty"`
	PlanTier     string         `gorm:"type:text" json:"plan_tier,omitempty"`
	RankingScore int            `gorm:"not null;default:0" json:"ranking_score"`
	Steps        datatypes.JSON `gorm:"type:jsonb;not null" json:"steps"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Flow) TableName() string { return "flows" }

// Active reports whether the flow may be offered at all.
func (f Flow) Active() bool { return f.RankingScore > 0 }
