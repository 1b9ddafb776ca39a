package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/paxiitdevteam/retentionos/internal/billing/adapters"
	"github.com/paxiitdevteam/retentionos/internal/billing/adapters/stripe"
	"github.com/paxiitdevteam/retentionos/internal/billing/domain"
	"github.com/paxiitdevteam/retentionos/internal/billing/repository"
	"github.com/paxiitdevteam/retentionos/internal/config"
	"github.com/paxiitdevteam/retentionos/internal/events"
	subdomain "github.com/paxiitdevteam/retentionos/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// testClock is settable so tests can walk past backoff windows.
type testClock struct {
	at time.Time
}

func (c *testClock) Now() time.Time { return c.at }

func setupWorkerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:webhookworker_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	statements := []string{
		`CREATE TABLE subscriptions (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			provider_ref TEXT NOT NULL UNIQUE,
			plan_tier TEXT NOT NULL,
			value_cents BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			cancel_attempts BIGINT NOT NULL DEFAULT 0,
			provider_updated_at TIMESTAMP,
			current_period_end TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE webhook_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMP,
			claimed_at TIMESTAMP,
			processed_at TIMESTAMP,
			last_error TEXT,
			UNIQUE (provider, provider_event_id)
		)`,
		`CREATE TABLE retention_events (
			id BIGINT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			dedupe_key TEXT UNIQUE,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

type workerFixture struct {
	db     *gorm.DB
	worker *Worker
	node   *snowflake.Node
	clock  *testClock
	repo   domain.Repository
}

func newWorkerFixture(t *testing.T, maxAttempts int) *workerFixture {
	t.Helper()
	db := setupWorkerTestDB(t)
	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := &testClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := repository.Provide()

	w := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Config: config.Config{
			WorkerBatchSize:   10,
			WorkerMaxAttempts: maxAttempts,
		},
		Repo:     repo,
		Adapters: adapters.NewRegistry(stripe.New(stripe.Config{WebhookSecret: "whsec_test"})),
		Outbox:   events.NewOutbox(db, node),
	})
	return &workerFixture{db: db, worker: w, node: node, clock: clk, repo: repo}
}

func (f *workerFixture) insertSubscription(t *testing.T, ref string, status subdomain.SubscriptionStatus, providerUpdatedAt *time.Time) snowflake.ID {
	t.Helper()
	sub := subdomain.Subscription{
		ID:                f.node.Generate(),
		UserID:            f.node.Generate(),
		ProviderRef:       ref,
		PlanTier:          "pro",
		ValueCents:        4900,
		Status:            status,
		ProviderUpdatedAt: providerUpdatedAt,
	}
	if err := f.db.Create(&sub).Error; err != nil {
		t.Fatalf("insert subscription: %v", err)
	}
	return sub.ID
}

func (f *workerFixture) insertStripeEvent(t *testing.T, eventID, eventType, subscriptionRef, status string, occurredAt time.Time) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": occurredAt.Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":     subscriptionRef,
				"status": status,
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	event := &domain.WebhookEvent{
		ID:              f.node.Generate(),
		Provider:        "stripe",
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      f.clock.at,
	}
	if _, err := f.repo.InsertEvent(context.Background(), f.db, event); err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func (f *workerFixture) readSubscription(t *testing.T, ref string) subdomain.Subscription {
	t.Helper()
	var sub subdomain.Subscription
	if err := f.db.Where("provider_ref = ?", ref).First(&sub).Error; err != nil {
		t.Fatalf("read subscription: %v", err)
	}
	return sub
}

func (f *workerFixture) readEvent(t *testing.T, providerEventID string) domain.WebhookEvent {
	t.Helper()
	var event domain.WebhookEvent
	if err := f.db.Where("provider_event_id = ?", providerEventID).First(&event).Error; err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func TestRunOnceAppliesSubscriptionUpdate(t *testing.T) {
	f := newWorkerFixture(t, 8)
	f.insertSubscription(t, "sub_1", subdomain.StatusActive, nil)
	occurred := f.clock.at.Add(-time.Minute)
	f.insertStripeEvent(t, "evt_paused", "customer.subscription.updated", "sub_1", "paused", occurred)

	settled, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if settled != 1 {
		t.Fatalf("expected 1 settled, got %d", settled)
	}

	sub := f.readSubscription(t, "sub_1")
	if sub.Status != subdomain.StatusPaused {
		t.Fatalf("expected paused, got %s", sub.Status)
	}
	if sub.ProviderUpdatedAt == nil || !sub.ProviderUpdatedAt.Equal(occurred) {
		t.Fatalf("watermark not advanced: %v", sub.ProviderUpdatedAt)
	}

	event := f.readEvent(t, "evt_paused")
	if event.ProcessedAt == nil {
		t.Fatalf("event must be settled")
	}

	var outboxCount int64
	if err := f.db.Table("retention_events").Count(&outboxCount).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount != 1 {
		t.Fatalf("expected one outbox record, got %d", outboxCount)
	}
}

func TestRunOnceSkipsStaleEvent(t *testing.T) {
	f := newWorkerFixture(t, 8)
	watermark := f.clock.at.Add(-time.Minute)
	f.insertSubscription(t, "sub_2", subdomain.StatusActive, &watermark)

	// Delivered late: occurred before the watermark.
	f.insertStripeEvent(t, "evt_stale", "customer.subscription.deleted", "sub_2", "canceled", watermark.Add(-time.Hour))

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	sub := f.readSubscription(t, "sub_2")
	if sub.Status != subdomain.StatusActive {
		t.Fatalf("stale event must not regress status, got %s", sub.Status)
	}
	event := f.readEvent(t, "evt_stale")
	if event.ProcessedAt == nil {
		t.Fatalf("stale events are settled, not retried")
	}
}

func TestRunOnceSettlesUnknownSubscription(t *testing.T) {
	f := newWorkerFixture(t, 8)
	f.insertStripeEvent(t, "evt_unknown", "customer.subscription.updated", "sub_missing", "active", f.clock.at)

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	event := f.readEvent(t, "evt_unknown")
	if event.ProcessedAt == nil {
		t.Fatalf("unknown subscription events are settled, not retried")
	}
}

func TestRunOnceReschedulesFailureWithBackoff(t *testing.T) {
	f := newWorkerFixture(t, 8)
	// Valid envelope, but no subscription ref: the adapter rejects it.
	f.insertStripeEvent(t, "evt_bad", "customer.subscription.updated", "", "active", f.clock.at)

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	event := f.readEvent(t, "evt_bad")
	if event.ProcessedAt != nil {
		t.Fatalf("failed event must stay in the queue")
	}
	if event.NextAttemptAt == nil {
		t.Fatalf("failed event must be rescheduled")
	}
	want := f.clock.at.Add(30 * time.Second)
	if !event.NextAttemptAt.Equal(want) {
		t.Fatalf("expected first backoff 30s (%v), got %v", want, event.NextAttemptAt)
	}
	if event.LastError == nil || *event.LastError == "" {
		t.Fatalf("failure cause must be recorded")
	}

	// Not due yet: the queue stays quiet.
	f.clock.at = f.clock.at.Add(10 * time.Second)
	settled, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if settled != 0 {
		t.Fatalf("parked event must not be claimed early, got %d", settled)
	}
}

func TestRunOnceRetiresEventAfterMaxAttempts(t *testing.T) {
	f := newWorkerFixture(t, 2)
	f.insertStripeEvent(t, "evt_poison", "customer.subscription.updated", "", "active", f.clock.at)

	for i := 0; i < 2; i++ {
		if _, err := f.worker.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		f.clock.at = f.clock.at.Add(time.Hour)
	}

	event := f.readEvent(t, "evt_poison")
	if event.ProcessedAt == nil {
		t.Fatalf("exhausted event must be retired")
	}
	if event.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", event.Attempts)
	}
	if event.LastError == nil {
		t.Fatalf("retired event keeps its failure cause")
	}
}

func TestRunOnceRecoversPastDueOnInvoicePaid(t *testing.T) {
	f := newWorkerFixture(t, 8)
	f.insertSubscription(t, "sub_3", subdomain.StatusPastDue, nil)
	f.insertStripeEvent(t, "evt_paid", "invoice.paid", "sub_3", "", f.clock.at.Add(-time.Minute))

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	sub := f.readSubscription(t, "sub_3")
	if sub.Status != subdomain.StatusActive {
		t.Fatalf("paid invoice must recover past_due, got %s", sub.Status)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{8, time.Hour},
		{20, time.Hour},
	}
	for _, tc := range cases {
		if got := backoff(tc.attempts); got != tc.want {
			t.Fatalf("backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}
