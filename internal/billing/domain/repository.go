package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists webhook events and drives the worker queue. Claiming
// uses an atomic UPDATE so two workers never process the same event.
type Repository interface {
	// InsertEvent stores an inbound webhook. Returns false when the
	// (provider, provider_event_id) pair already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)

	// ClaimBatch atomically claims up to limit due events for processing.
	ClaimBatch(ctx context.Context, db *gorm.DB, limit int, now time.Time) ([]WebhookEvent, error)

	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	// Reschedule releases a claimed event for a later retry.
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, nextAttempt time.Time, cause string) error
	// MarkFailed retires an event that exhausted its attempts.
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, cause string) error

	Backlog(ctx context.Context, db *gorm.DB) (int64, error)
}
