// Package repository implements webhook event persistence and queue claims.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/paxiitdevteam/retentionos/internal/billing/domain"
	"gorm.io/gorm"
)

type repo struct{}

// Provide builds the billing repository.
func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (id, provider, provider_event_id, event_type, payload, received_at, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClaimBatch picks due events and stamps claimed_at in one guarded UPDATE per
// row, so a row claimed by a concurrent worker is skipped rather than doubly
// processed.
func (r *repo) ClaimBatch(ctx context.Context, db *gorm.DB, limit int, now time.Time) ([]domain.WebhookEvent, error) {
	if limit <= 0 {
		return nil, errors.New("invalid_claim_limit")
	}

	var candidates []domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("processed_at IS NULL").
		Where("claimed_at IS NULL").
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("received_at ASC, id ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.WebhookEvent, 0, len(candidates))
	for _, candidate := range candidates {
		result := db.WithContext(ctx).Exec(
			`UPDATE webhook_events
			 SET claimed_at = ?, attempts = attempts + 1
			 WHERE id = ? AND processed_at IS NULL AND claimed_at IS NULL`,
			now,
			candidate.ID,
		)
		if result.Error != nil {
			return claimed, result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}
		candidate.ClaimedAt = &now
		candidate.Attempts++
		claimed = append(claimed, candidate)
	}
	return claimed, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?, claimed_at = NULL, last_error = NULL
		 WHERE id = ? AND processed_at IS NULL`,
		at,
		id,
	).Error
}

func (r *repo) Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, nextAttempt time.Time, cause string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET claimed_at = NULL, next_attempt_at = ?, last_error = ?
		 WHERE id = ? AND processed_at IS NULL`,
		nextAttempt,
		truncateCause(cause),
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, cause string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?, claimed_at = NULL, last_error = ?
		 WHERE id = ? AND processed_at IS NULL`,
		at,
		truncateCause(cause),
		id,
	).Error
}

func (r *repo) Backlog(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM webhook_events WHERE processed_at IS NULL`,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func truncateCause(cause string) string {
	cause = strings.TrimSpace(cause)
	if len(cause) > 500 {
		return cause[:500]
	}
	return cause
}
