// Package domain contains the API key model used to authenticate widget and
// dashboard callers.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrAPIKeyNotFound = errors.New("api_key_not_found")

// APIKey authenticates one widget installation. Only the SHA-256 hash of the
// secret is stored; the plaintext is shown once at creation.
type APIKey struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID   snowflake.ID `gorm:"not null;index" json:"owner_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	KeyHash   string       `gorm:"type:text;not null;uniqueIndex" json:"-"`
	IsActive  bool         `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt *time.Time   `gorm:"" json:"expires_at,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (APIKey) TableName() string { return "api_keys" }

// HashAPIKey derives the stored lookup hash for a plaintext key.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
