package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditrepository "github.com/paxiitdevteam/retentionos/internal/audit/repository"
	auditservice "github.com/paxiitdevteam/retentionos/internal/audit/service"
	billingdomain "github.com/paxiitdevteam/retentionos/internal/billing/domain"
	"github.com/paxiitdevteam/retentionos/internal/clock"
	"github.com/paxiitdevteam/retentionos/internal/config"
	"github.com/paxiitdevteam/retentionos/internal/decision/domain"
	"github.com/paxiitdevteam/retentionos/internal/events"
	flowdomain "github.com/paxiitdevteam/retentionos/internal/flow/domain"
	flowservice "github.com/paxiitdevteam/retentionos/internal/flow/service"
	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
	offerrepository "github.com/paxiitdevteam/retentionos/internal/offer/repository"
	scoringdomain "github.com/paxiitdevteam/retentionos/internal/scoring/domain"
	scoringrepository "github.com/paxiitdevteam/retentionos/internal/scoring/repository"
	scoringservice "github.com/paxiitdevteam/retentionos/internal/scoring/service"
	subdomain "github.com/paxiitdevteam/retentionos/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubProvider records billing mutations and can be told to fail.
type stubProvider struct {
	fail       bool
	pauses     int
	downgrades int
	discounts  int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) ApplyPause(ctx context.Context, ref string, months int) error {
	if p.fail {
		return billingdomain.ErrBillingMutationFailed
	}
	p.pauses++
	return nil
}

func (p *stubProvider) ApplyDowngrade(ctx context.Context, ref string, plan string) error {
	if p.fail {
		return billingdomain.ErrBillingMutationFailed
	}
	p.downgrades++
	return nil
}

func (p *stubProvider) ApplyDiscount(ctx context.Context, ref string, percent, months int) error {
	if p.fail {
		return billingdomain.ErrBillingMutationFailed
	}
	p.discounts++
	return nil
}

func setupDecisionTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:decision_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	statements := []string{
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			email TEXT,
			plan_tier TEXT NOT NULL,
			region TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
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
		`CREATE TABLE flows (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT 'en',
			region TEXT,
			plan_tier TEXT,
			ranking_score INTEGER NOT NULL DEFAULT 0,
			steps TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE offer_events (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			flow_id BIGINT NOT NULL,
			offer_type TEXT NOT NULL,
			segment TEXT NOT NULL,
			message_key TEXT,
			accepted BOOLEAN NOT NULL,
			revenue_cents BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'confirmed',
			model_applied_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE churn_reasons (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			reason_code TEXT NOT NULL,
			reason_text TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE offer_performance (
			id BIGINT PRIMARY KEY,
			offer_type TEXT NOT NULL,
			segment TEXT NOT NULL,
			shown_count BIGINT NOT NULL DEFAULT 0,
			accepted_count BIGINT NOT NULL DEFAULT 0,
			revenue_cents BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (offer_type, segment)
		)`,
		`CREATE TABLE message_performance (
			id BIGINT PRIMARY KEY,
			message_key TEXT NOT NULL,
			offer_type TEXT NOT NULL,
			shown_count BIGINT NOT NULL DEFAULT 0,
			accepted_count BIGINT NOT NULL DEFAULT 0,
			revenue_cents BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (message_key, offer_type)
		)`,
		`CREATE TABLE weights (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			value DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			actor_type TEXT NOT NULL,
			actor_id TEXT,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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

type decisionFixture struct {
	db      *gorm.DB
	svc     domain.Service
	node    *snowflake.Node
	billing *stubProvider
	flowSvc flowdomain.Service
}

func newDecisionFixture(t *testing.T) *decisionFixture {
	t.Helper()
	db := setupDecisionTestDB(t)

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.Provide(),
	})
	weights := scoringrepository.Provide(scoringrepository.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		AuditSvc: auditSvc,
	})
	for _, name := range []string{scoringdomain.WeightBehavior, scoringdomain.WeightValue, scoringdomain.WeightHistory} {
		weight := scoringdomain.Weight{ID: node.Generate(), Name: name, Value: 1}
		if err := db.Create(&weight).Error; err != nil {
			t.Fatalf("seed weight: %v", err)
		}
	}

	offerRepo := offerrepository.Provide(node)
	flowSvc := flowservice.NewService(flowservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	scoringSvc := scoringservice.NewService(scoringservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		Weights:   weights,
		OfferRepo: offerRepo,
		FlowSvc:   flowSvc,
	})

	billing := &stubProvider{}
	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.SystemClock{},
		Config:  config.Config{BillingTimeout: time.Second},
		Flows:   flowSvc,
		Scoring: scoringSvc,
		Offers:  offerRepo,
		Billing: billing,
		Outbox:  events.NewOutbox(db, node),
	})

	return &decisionFixture{db: db, svc: svc, node: node, billing: billing, flowSvc: flowSvc}
}

func (f *decisionFixture) createFlow(t *testing.T, score int, steps []flowdomain.Step) *flowdomain.Flow {
	t.Helper()
	flow, err := f.flowSvc.Create(context.Background(), flowdomain.CreateFlowRequest{
		Name:         fmt.Sprintf("flow-%d", score),
		Language:     "en",
		RankingScore: score,
		Steps:        steps,
	})
	if err != nil {
		t.Fatalf("create flow: %v", err)
	}
	return flow
}

func defaultSteps() []flowdomain.Step {
	return []flowdomain.Step{
		{Type: offerdomain.OfferTypePause, Pause: &flowdomain.PauseConfig{Months: 1}},
		{Type: offerdomain.OfferTypeDiscount, Disc: &flowdomain.DiscountConfig{Percent: 20, DurationMonths: 3}},
		{Type: offerdomain.OfferTypeFeedback, Feed: &flowdomain.FeedbackConfig{Prompt: "Why are you leaving?"}},
	}
}

func TestStartRetentionFlowSelectsHighestRankedFlow(t *testing.T) {
	f := newDecisionFixture(t)
	f.createFlow(t, 5, defaultSteps())
	wanted := f.createFlow(t, 10, defaultSteps())

	resp, err := f.svc.StartRetentionFlow(context.Background(), domain.StartRetentionFlowRequest{
		ExternalUserID: "u1",
		PlanTier:       "pro",
		Region:         "us",
		BillingRef:     "sub_u1",
		Value:          49,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !resp.FlowAvailable {
		t.Fatalf("expected a flow")
	}
	if resp.FlowID != wanted.ID.String() {
		t.Fatalf("expected flow %s, got %s", wanted.ID.String(), resp.FlowID)
	}
	if len(resp.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(resp.Steps))
	}

	var sub subdomain.Subscription
	if err := f.db.Where("provider_ref = ?", "sub_u1").First(&sub).Error; err != nil {
		t.Fatalf("read subscription: %v", err)
	}
	if sub.CancelAttempts != 1 {
		t.Fatalf("expected cancel_attempts=1, got %d", sub.CancelAttempts)
	}
	if sub.ValueCents != 4900 {
		t.Fatalf("expected value 4900 cents, got %d", sub.ValueCents)
	}
}

func TestStartRetentionFlowDegradesToNoFlow(t *testing.T) {
	f := newDecisionFixture(t)

	resp, err := f.svc.StartRetentionFlow(context.Background(), domain.StartRetentionFlowRequest{
		ExternalUserID: "u-noflow",
		PlanTier:       "pro",
		Region:         "us",
	})
	if err != nil {
		t.Fatalf("no-flow must not be an error: %v", err)
	}
	if resp.FlowAvailable || resp.FlowID != "" {
		t.Fatalf("expected no flow, got %+v", resp)
	}
	if resp.Segment == "" {
		t.Fatalf("expected a segment even without a flow")
	}
}

func TestProcessUserDecisionInvalidOfferTypeWritesNothing(t *testing.T) {
	f := newDecisionFixture(t)
	flow := f.createFlow(t, 10, defaultSteps())
	f.startFlow(t, "u2", "sub_u2", 49)

	_, err := f.svc.ProcessUserDecision(context.Background(), domain.ProcessUserDecisionRequest{
		FlowID:         flow.ID.String(),
		ExternalUserID: "u2",
		OfferType:      "loyalty",
		Accepted:       true,
	})
	if !errors.Is(err, offerdomain.ErrInvalidOfferType) {
		t.Fatalf("expected invalid offer type, got %v", err)
	}

	var count int64
	if err := f.db.Model(&offerdomain.OfferEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no offer events, got %d", count)
	}
}

func (f *decisionFixture) startFlow(t *testing.T, userID, billingRef string, value float64) {
	t.Helper()
	_, err := f.svc.StartRetentionFlow(context.Background(), domain.StartRetentionFlowRequest{
		ExternalUserID: userID,
		PlanTier:       "pro",
		Region:         "us",
		BillingRef:     billingRef,
		Value:          value,
	})
	if err != nil {
		t.Fatalf("start flow: %v", err)
	}
}

func TestProcessUserDecisionAcceptDiscount(t *testing.T) {
	f := newDecisionFixture(t)
	flow := f.createFlow(t, 10, defaultSteps())
	f.startFlow(t, "u3", "sub_u3", 49)

	resp, err := f.svc.ProcessUserDecision(context.Background(), domain.ProcessUserDecisionRequest{
		FlowID:         flow.ID.String(),
		ExternalUserID: "u3",
		OfferType:      "discount",
		Accepted:       true,
		RevenueValue:   12.50,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.RevenueSaved != 12.50 {
		t.Fatalf("expected revenueSaved 12.50, got %v", resp.RevenueSaved)
	}
	if !resp.SubscriptionUpdated {
		t.Fatalf("expected subscription update")
	}
	if f.billing.discounts != 1 {
		t.Fatalf("expected one provider discount call, got %d", f.billing.discounts)
	}

	var row offerdomain.OfferPerformance
	if err := f.db.Where("offer_type = ?", "discount").First(&row).Error; err != nil {
		t.Fatalf("read performance: %v", err)
	}
	if row.ShownCount != 1 || row.AcceptedCount != 1 || row.RevenueCents != 1250 {
		t.Fatalf("expected 1/1/1250, got shown=%d accepted=%d revenue=%d",
			row.ShownCount, row.AcceptedCount, row.RevenueCents)
	}

	var sub subdomain.Subscription
	if err := f.db.Where("provider_ref = ?", "sub_u3").First(&sub).Error; err != nil {
		t.Fatalf("read subscription: %v", err)
	}
	if sub.Status != subdomain.StatusDiscounted {
		t.Fatalf("expected discounted status, got %s", sub.Status)
	}
	// 20% off 4900 cents.
	if sub.ValueCents != 3920 {
		t.Fatalf("expected value 3920, got %d", sub.ValueCents)
	}
}

func TestProcessUserDecisionBillingFailureIsPending(t *testing.T) {
	f := newDecisionFixture(t)
	flow := f.createFlow(t, 10, defaultSteps())
	f.startFlow(t, "u4", "sub_u4", 49)
	f.billing.fail = true

	resp, err := f.svc.ProcessUserDecision(context.Background(), domain.ProcessUserDecisionRequest{
		FlowID:         flow.ID.String(),
		ExternalUserID: "u4",
		OfferType:      "pause",
		Accepted:       true,
		RevenueValue:   49,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Success {
		t.Fatalf("unconfirmed mutation must not report success")
	}
	if resp.RevenueSaved != 0 {
		t.Fatalf("unconfirmed mutation must not save revenue, got %v", resp.RevenueSaved)
	}
	if resp.SubscriptionUpdated {
		t.Fatalf("subscription must stay unchanged")
	}

	var event offerdomain.OfferEvent
	if err := f.db.Where("offer_type = ?", "pause").First(&event).Error; err != nil {
		t.Fatalf("the attempt must still be recorded: %v", err)
	}
	if event.Status != offerdomain.EventStatusPendingConfirmation {
		t.Fatalf("expected pending_confirmation, got %s", event.Status)
	}

	var row offerdomain.OfferPerformance
	if err := f.db.Where("offer_type = ?", "pause").First(&row).Error; err != nil {
		t.Fatalf("read performance: %v", err)
	}
	if row.ShownCount != 1 || row.AcceptedCount != 0 || row.RevenueCents != 0 {
		t.Fatalf("pending events must not count as accepted: %+v", row)
	}

	var sub subdomain.Subscription
	if err := f.db.Where("provider_ref = ?", "sub_u4").First(&sub).Error; err != nil {
		t.Fatalf("read subscription: %v", err)
	}
	if sub.Status != subdomain.StatusActive {
		t.Fatalf("expected active status, got %s", sub.Status)
	}
}

func TestProcessUserDecisionRejectWithReason(t *testing.T) {
	f := newDecisionFixture(t)
	flow := f.createFlow(t, 10, defaultSteps())
	f.startFlow(t, "u5", "sub_u5", 49)

	resp, err := f.svc.ProcessUserDecision(context.Background(), domain.ProcessUserDecisionRequest{
		FlowID:         flow.ID.String(),
		ExternalUserID: "u5",
		OfferType:      "discount",
		Accepted:       false,
		ReasonCode:     "too_expensive",
		ReasonText:     "Costs too much for what I use.",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !resp.Success {
		t.Fatalf("a recorded rejection is a definite outcome")
	}
	if resp.RevenueSaved != 0 {
		t.Fatalf("rejection saves no revenue, got %v", resp.RevenueSaved)
	}
	if f.billing.discounts != 0 {
		t.Fatalf("rejection must not call the billing provider")
	}

	var event offerdomain.OfferEvent
	if err := f.db.Where("offer_type = ?", "discount").First(&event).Error; err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Accepted {
		t.Fatalf("expected declined event")
	}

	var reason offerdomain.ChurnReason
	if err := f.db.First(&reason).Error; err != nil {
		t.Fatalf("read churn reason: %v", err)
	}
	if reason.ReasonCode != "too_expensive" {
		t.Fatalf("expected too_expensive, got %s", reason.ReasonCode)
	}
}

func TestProcessUserDecisionFeedbackSkipsBilling(t *testing.T) {
	f := newDecisionFixture(t)
	flow := f.createFlow(t, 10, defaultSteps())
	f.startFlow(t, "u6", "sub_u6", 49)

	resp, err := f.svc.ProcessUserDecision(context.Background(), domain.ProcessUserDecisionRequest{
		FlowID:         flow.ID.String(),
		ExternalUserID: "u6",
		OfferType:      "feedback",
		Accepted:       true,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success")
	}
	if f.billing.pauses+f.billing.downgrades+f.billing.discounts != 0 {
		t.Fatalf("feedback must never call the billing provider")
	}
	if resp.SubscriptionUpdated {
		t.Fatalf("feedback must not change the subscription")
	}
}

func TestProcessUserDecisionCountersMatchRebuild(t *testing.T) {
	f := newDecisionFixture(t)
	flow := f.createFlow(t, 10, defaultSteps())
	f.startFlow(t, "u7", "sub_u7", 49)

	decisions := []struct {
		offerType string
		accepted  bool
		revenue   float64
	}{
		{"discount", true, 12.50},
		{"discount", false, 0},
		{"pause", true, 49},
		{"pause", false, 0},
	}
	for _, d := range decisions {
		if _, err := f.svc.ProcessUserDecision(context.Background(), domain.ProcessUserDecisionRequest{
			FlowID:         flow.ID.String(),
			ExternalUserID: "u7",
			OfferType:      d.offerType,
			Accepted:       d.accepted,
			RevenueValue:   d.revenue,
		}); err != nil {
			t.Fatalf("process %s: %v", d.offerType, err)
		}
	}

	var before []offerdomain.OfferPerformance
	if err := f.db.Order("offer_type, segment").Find(&before).Error; err != nil {
		t.Fatalf("read counters: %v", err)
	}

	offerRepo := offerrepository.Provide(f.node)
	if err := offerRepo.RebuildOfferPerformance(context.Background(), f.db); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var after []offerdomain.OfferPerformance
	if err := f.db.Order("offer_type, segment").Find(&after).Error; err != nil {
		t.Fatalf("read rebuilt counters: %v", err)
	}

	if len(before) != len(after) {
		t.Fatalf("row count changed after rebuild: %d vs %d", len(before), len(after))
	}
	for i := range before {
		b, a := before[i], after[i]
		if b.OfferType != a.OfferType || b.Segment != a.Segment ||
			b.ShownCount != a.ShownCount || b.AcceptedCount != a.AcceptedCount ||
			b.RevenueCents != a.RevenueCents {
			t.Fatalf("rebuild diverged for (%s,%s): before shown=%d accepted=%d revenue=%d, after shown=%d accepted=%d revenue=%d",
				b.OfferType, b.Segment, b.ShownCount, b.AcceptedCount, b.RevenueCents,
				a.ShownCount, a.AcceptedCount, a.RevenueCents)
		}
	}
}
