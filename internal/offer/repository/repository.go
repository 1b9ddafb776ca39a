// Package repository persists offer events and performance counters.
package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/paxiitdevteam/retentionos/internal/offer/domain"
	"gorm.io/gorm"
)

// Repository covers the event store and its counter accelerators. Counter
// writes are single-statement conflict-target upserts so concurrent decisions
// for the same (offer type, segment) never lose an update.
type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *domain.OfferEvent) error
	InsertChurnReason(ctx context.Context, db *gorm.DB, reason *domain.ChurnReason) error

	// ClaimModelApplication marks the event as consumed by the scoring model.
	// Returns false when the event was already applied, making reprocessing a no-op.
	ClaimModelApplication(ctx context.Context, db *gorm.DB, eventID snowflake.ID, at time.Time) (bool, error)

	IncrementOfferPerformance(ctx context.Context, db *gorm.DB, inc PerformanceIncrement) error
	IncrementMessagePerformance(ctx context.Context, db *gorm.DB, inc PerformanceIncrement) error

	OfferPerformanceBySegment(ctx context.Context, db *gorm.DB, segment string) ([]domain.OfferPerformance, error)
	AllOfferPerformance(ctx context.Context, db *gorm.DB) ([]domain.OfferPerformance, error)

	// RebuildOfferPerformance recomputes every counter row from offer_events.
	// The result must match what the increments produced; divergence is a bug.
	RebuildOfferPerformance(ctx context.Context, db *gorm.DB) error
}

// PerformanceIncrement carries one decision's contribution to a counter row.
type PerformanceIncrement struct {
	ID           snowflake.ID
	OfferType    domain.OfferType
	Segment      string
	MessageKey   string
	Accepted     bool
	RevenueCents int64
	At           time.Time
}

type repo struct {
	genID *snowflake.Node
}

// Provide builds the offer repository.
func Provide(genID *snowflake.Node) Repository {
	return &repo{genID: genID}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.OfferEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) InsertChurnReason(ctx context.Context, db *gorm.DB, reason *domain.ChurnReason) error {
	return db.WithContext(ctx).Create(reason).Error
}

func (r *repo) ClaimModelApplication(ctx context.Context, db *gorm.DB, eventID snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE offer_events
		 SET model_applied_at = ?
		 WHERE id = ? AND model_applied_at IS NULL`,
		at,
		eventID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) IncrementOfferPerformance(ctx context.Context, db *gorm.DB, inc PerformanceIncrement) error {
	accepted := int64(0)
	if inc.Accepted {
		accepted = 1
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO offer_performance (id, offer_type, segment, shown_count, accepted_count, revenue_cents, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		 ON CONFLICT (offer_type, segment) DO UPDATE SET
		   shown_count = offer_performance.shown_count + 1,
		   accepted_count = offer_performance.accepted_count + excluded.accepted_count,
		   revenue_cents = offer_performance.revenue_cents + excluded.revenue_cents,
		   updated_at = excluded.updated_at`,
		r.genID.Generate(),
		inc.OfferType,
		inc.Segment,
		accepted,
		inc.RevenueCents,
		inc.At,
		inc.At,
	).Error
}

func (r *repo) IncrementMessagePerformance(ctx context.Context, db *gorm.DB, inc PerformanceIncrement) error {
	if inc.MessageKey == "" {
		return nil
	}
	accepted := int64(0)
	if inc.Accepted {
		accepted = 1
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO message_performance (id, message_key, offer_type, shown_count, accepted_count, revenue_cents, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		 ON CONFLICT (message_key, offer_type) DO UPDATE SET
		   shown_count = message_performance.shown_count + 1,
		   accepted_count = message_performance.accepted_count + excluded.accepted_count,
		   revenue_cents = message_performance.revenue_cents + excluded.revenue_cents,
		   updated_at = excluded.updated_at`,
		r.genID.Generate(),
		inc.MessageKey,
		inc.OfferType,
		accepted,
		inc.RevenueCents,
		inc.At,
		inc.At,
	).Error
}

func (r *repo) OfferPerformanceBySegment(ctx context.Context, db *gorm.DB, segment string) ([]domain.OfferPerformance, error) {
	var rows []domain.OfferPerformance
	err := db.WithContext(ctx).
		Where("segment = ?", segment).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) AllOfferPerformance(ctx context.Context, db *gorm.DB) ([]domain.OfferPerformance, error) {
	var rows []domain.OfferPerformance
	err := db.WithContext(ctx).
		Order("offer_type, segment").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) RebuildOfferPerformance(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM offer_performance`).Error; err != nil {
			return err
		}

		var groups []struct {
			OfferType     domain.OfferType
			Segment       string
			ShownCount    int64
			AcceptedCount int64
			RevenueCents  int64
		}
		if err := tx.Raw(
			`SELECT offer_type, segment,
			        COUNT(1) AS shown_count,
			        SUM(CASE WHEN accepted AND status = ? THEN 1 ELSE 0 END) AS accepted_count,
			        SUM(CASE WHEN accepted AND status = ? THEN revenue_cents ELSE 0 END) AS revenue_cents
			 FROM offer_events
			 GROUP BY offer_type, segment`,
			domain.EventStatusConfirmed,
			domain.EventStatusConfirmed,
		).Scan(&groups).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, group := range groups {
			if err := tx.Exec(
				`INSERT INTO offer_performance (id, offer_type, segment, shown_count, accepted_count, revenue_cents, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				r.genID.Generate(),
				group.OfferType,
				group.Segment,
				group.ShownCount,
				group.AcceptedCount,
				group.RevenueCents,
				now,
				now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
