// Package worker drains the webhook event queue in the background.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paxiitdevteam/retentionos/internal/billing/adapters"
	"github.com/paxiitdevteam/retentionos/internal/billing/domain"
	"github.com/paxiitdevteam/retentionos/internal/clock"
	"github.com/paxiitdevteam/retentionos/internal/config"
	"github.com/paxiitdevteam/retentionos/internal/events"
	"github.com/paxiitdevteam/retentionos/internal/observability/metrics"
	subdomain "github.com/paxiitdevteam/retentionos/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const baseBackoff = 30 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Repo     domain.Repository
	Adapters *adapters.Registry
	Outbox   *events.Outbox
}

// Worker claims stored webhook events and applies them to local subscription
// state. The receiving endpoint only acknowledges; all processing, retries and
// ordering guards live here.
type Worker struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	adapters *adapters.Registry
	outbox   *events.Outbox

	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
}

func New(p Params) *Worker {
	batch := p.Config.WorkerBatchSize
	if batch <= 0 {
		batch = 50
	}
	poll := p.Config.WorkerPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	attempts := p.Config.WorkerMaxAttempts
	if attempts <= 0 {
		attempts = 8
	}
	return &Worker{
		db:           p.DB,
		log:          p.Log.Named("billing.worker"),
		clock:        p.Clock,
		repo:         p.Repo,
		adapters:     p.Adapters,
		outbox:       p.Outbox,
		batchSize:    batch,
		pollInterval: poll,
		maxAttempts:  attempts,
	}
}

// RunForever polls the queue until the context is cancelled.
func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.log.Info("webhook worker started",
		zap.Int("batch_size", w.batchSize),
		zap.Duration("poll_interval", w.pollInterval),
	)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("webhook worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error("webhook batch failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims and processes one batch. Returns the number of events that
// reached a terminal state.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.clock.Now()
	batch, err := w.repo.ClaimBatch(ctx, w.db, w.batchSize, now)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range batch {
		event := batch[i]
		if err := w.processEvent(ctx, &event); err != nil {
			w.settleFailure(ctx, &event, err)
		} else {
			if err := w.repo.MarkProcessed(ctx, w.db, event.ID, w.clock.Now()); err != nil {
				w.log.Error("mark processed failed", zap.Int64("event_id", int64(event.ID)), zap.Error(err))
				continue
			}
			metrics.Webhook().IncProcessed("ok")
		}
		settled++
	}

	if backlog, err := w.repo.Backlog(ctx, w.db); err == nil {
		metrics.Webhook().SetBacklog(backlog)
	}
	return settled, nil
}

// processEvent re-parses the stored payload and applies it to the local
// subscription row inside one transaction.
func (w *Worker) processEvent(ctx context.Context, event *domain.WebhookEvent) error {
	adapter, ok := w.adapters.Get(event.Provider)
	if !ok {
		return domain.ErrProviderNotFound
	}
	parsed, err := adapter.Parse(ctx, event.Payload)
	if err != nil {
		return err
	}

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := w.applyTransition(ctx, tx, parsed)
		if err != nil {
			return err
		}
		if !applied {
			// Stale or unmatched events are settled, not retried: retrying
			// cannot make an out-of-order delivery newer.
			return nil
		}
		return w.outbox.PublishTx(ctx, tx, events.Event{
			Type:      events.EventWebhookApplied,
			DedupeKey: fmt.Sprintf("webhook:%d", event.ID),
			Payload: map[string]any{
				"provider":          event.Provider,
				"provider_event_id": event.ProviderEventID,
				"event_type":        parsed.Type,
				"subscription_ref":  parsed.SubscriptionRef,
				"occurred_at":       parsed.OccurredAt.Format(time.RFC3339),
			},
		})
	})
}

// applyTransition mutates the subscription guarded by the provider watermark.
// Returns false when the event was stale or matched no local subscription.
func (w *Worker) applyTransition(ctx context.Context, tx *gorm.DB, parsed *domain.ProviderEvent) (bool, error) {
	var sub subdomain.Subscription
	err := tx.WithContext(ctx).
		Where("provider_ref = ?", parsed.SubscriptionRef).
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			w.log.Warn("webhook for unknown subscription",
				zap.String("provider", parsed.Provider),
				zap.String("subscription_ref", parsed.SubscriptionRef),
			)
			return false, nil
		}
		return false, err
	}
	if sub.ProviderUpdatedAt != nil && !parsed.OccurredAt.After(*sub.ProviderUpdatedAt) {
		w.log.Debug("stale provider event skipped",
			zap.String("subscription_ref", parsed.SubscriptionRef),
			zap.Time("occurred_at", parsed.OccurredAt),
		)
		return false, nil
	}

	updates := map[string]any{
		"provider_updated_at": parsed.OccurredAt,
		"updated_at":          w.clock.Now(),
	}
	switch parsed.Type {
	case domain.EventTypeSubscriptionUpdated:
		if status := mapProviderStatus(parsed.Status); status != "" {
			updates["status"] = status
		}
		if parsed.PlanTier != "" {
			updates["plan_tier"] = strings.ToLower(parsed.PlanTier)
		}
		if parsed.ValueCents > 0 {
			updates["value_cents"] = parsed.ValueCents
		}
		if parsed.PeriodEnd != nil {
			updates["current_period_end"] = *parsed.PeriodEnd
		}
	case domain.EventTypeSubscriptionCancelled:
		updates["status"] = subdomain.StatusCancelled
	case domain.EventTypeInvoicePaid:
		// A paid invoice recovers a past-due subscription.
		if sub.Status == subdomain.StatusPastDue {
			updates["status"] = subdomain.StatusActive
		}
		if parsed.PeriodEnd != nil {
			updates["current_period_end"] = *parsed.PeriodEnd
		}
	case domain.EventTypeTrialEnding:
		// Watermark only. The event feeds downstream consumers.
	default:
		return false, domain.ErrInvalidEvent
	}

	// The watermark guard is repeated in the WHERE clause so a concurrent
	// worker applying a newer event wins regardless of claim interleaving.
	result := tx.WithContext(ctx).
		Model(&subdomain.Subscription{}).
		Where("id = ?", sub.ID).
		Where("provider_updated_at IS NULL OR provider_updated_at < ?", parsed.OccurredAt).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// settleFailure reschedules with exponential backoff, or retires the event
// once attempts are exhausted.
func (w *Worker) settleFailure(ctx context.Context, event *domain.WebhookEvent, cause error) {
	now := w.clock.Now()
	if event.Attempts >= w.maxAttempts {
		if err := w.repo.MarkFailed(ctx, w.db, event.ID, now, cause.Error()); err != nil {
			w.log.Error("mark failed errored", zap.Int64("event_id", int64(event.ID)), zap.Error(err))
			return
		}
		metrics.Webhook().IncProcessed("failed")
		w.log.Error("webhook event retired",
			zap.Int64("event_id", int64(event.ID)),
			zap.Int("attempts", event.Attempts),
			zap.Error(cause),
		)
		return
	}

	next := now.Add(backoff(event.Attempts))
	if err := w.repo.Reschedule(ctx, w.db, event.ID, next, cause.Error()); err != nil {
		w.log.Error("reschedule errored", zap.Int64("event_id", int64(event.ID)), zap.Error(err))
		return
	}
	metrics.Webhook().IncRetry()
	w.log.Warn("webhook event rescheduled",
		zap.Int64("event_id", int64(event.ID)),
		zap.Int("attempts", event.Attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)
}

// backoff doubles per attempt from the base, capped at one hour.
func backoff(attempts int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	return d
}

func mapProviderStatus(status string) subdomain.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return subdomain.StatusActive
	case "paused":
		return subdomain.StatusPaused
	case "past_due", "unpaid":
		return subdomain.StatusPastDue
	case "canceled", "cancelled":
		return subdomain.StatusCancelled
	default:
		return ""
	}
}
