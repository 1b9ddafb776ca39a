// Package domain contains the end-user identity model.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrUserNotFound  = errors.New("user_not_found")
	ErrInvalidUserID = errors.New("invalid_user_id")
)

// User is the engine's view of a widget visitor. Created on first contact
// (find-or-create by external ID); plan and region are refreshed whenever
// observed. Never hard-deleted while subscriptions reference it.
type User struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID string       `gorm:"type:text;not null;uniqueIndex" json:"external_id"`
	Email      string       `gorm:"type:text" json:"email,omitempty"`
	PlanTier   string       `gorm:"type:text;not null" json:"plan_tier"`
	Region     string       `gorm:"type:text;not null" json:"region"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (User) TableName() string { return "users" }
