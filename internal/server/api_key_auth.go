package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/paxiitdevteam/retentionos/internal/apikey/domain"
	"github.com/paxiitdevteam/retentionos/internal/auditcontext"
)

const contextAPIKeyIDKey = "api_key_id"

// APIKeyRequired authenticates widget and dashboard requests with a bearer
// API key. Only the key hash is compared; the caller identity is exposed to
// handlers through the request context.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := apikeydomain.HashAPIKey(parts[1])
		now := time.Now().UTC()

		var record struct {
			ID      snowflake.ID `gorm:"column:id"`
			OwnerID snowflake.ID `gorm:"column:owner_id"`
		}
		if err := s.db.WithContext(c.Request.Context()).Raw(
			`SELECT id, owner_id
			 FROM api_keys
			 WHERE key_hash = ?
			   AND is_active = true
			   AND (expires_at IS NULL OR expires_at > ?)
			 LIMIT 1`,
			hash,
			now,
		).Scan(&record).Error; err != nil {
			AbortWithError(c, err)
			return
		}
		if record.ID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := auditcontext.WithActor(c.Request.Context(), "api_key", record.ID.String())
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())

		c.Set(contextAPIKeyIDKey, record.ID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimit enforces the fixed per-key window. Requests without a key fall
// back to the client IP so unauthenticated probing is still bounded.
func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(contextAPIKeyIDKey)
		if key == "" {
			key = c.ClientIP()
		}
		if !s.limiter.Allow(key) {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
