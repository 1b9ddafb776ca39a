// Package domain contains the audit trail models.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ActorType represents who triggered an action.
type ActorType string

const (
	ActorTypeOperator ActorType = "operator"
	ActorTypeSystem   ActorType = "system"
	ActorTypeAPIKey   ActorType = "api_key"
)

// AuditLog captures an immutable record of an engine mutation worth
// explaining later: weight adjustments, decision outcomes, webhook effects.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// Service writes audit entries. Failures are logged, never propagated into
// the mutation they describe.
type Service interface {
	Record(ctx context.Context, actor ActorType, actorID string, action string, targetType string, targetID string, metadata map[string]any)
}
