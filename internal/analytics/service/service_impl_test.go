package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/paxiitdevteam/retentionos/internal/analytics/domain"
	"github.com/paxiitdevteam/retentionos/internal/clock"
	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
	offerrepository "github.com/paxiitdevteam/retentionos/internal/offer/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAnalyticsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:analytics_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	statements := []string{
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
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

var analyticsNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newAnalyticsFixture(t *testing.T) (*gorm.DB, domain.Service, *snowflake.Node) {
	t.Helper()
	db := setupAnalyticsTestDB(t)
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clock.Fixed(analyticsNow),
		Offers: offerrepository.Provide(node),
	})
	return db, svc, node
}

func insertDecision(t *testing.T, db *gorm.DB, node *snowflake.Node, userID snowflake.ID, accepted bool, status string, revenueCents int64, createdAt time.Time) {
	t.Helper()
	event := offerdomain.OfferEvent{
		ID:           node.Generate(),
		UserID:       userID,
		FlowID:       node.Generate(),
		OfferType:    offerdomain.OfferTypeDiscount,
		Segment:      "pro:mid:us",
		Accepted:     accepted,
		RevenueCents: revenueCents,
		Status:       status,
		CreatedAt:    createdAt,
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func TestSummaryCountsOnlyConfirmedAcceptances(t *testing.T) {
	db, svc, node := newAnalyticsFixture(t)
	alice := node.Generate()
	bob := node.Generate()

	insertDecision(t, db, node, alice, true, offerdomain.EventStatusConfirmed, 1250, analyticsNow)
	insertDecision(t, db, node, alice, true, offerdomain.EventStatusConfirmed, 500, analyticsNow)
	insertDecision(t, db, node, bob, true, offerdomain.EventStatusPendingConfirmation, 4900, analyticsNow)
	insertDecision(t, db, node, bob, false, offerdomain.EventStatusConfirmed, 0, analyticsNow)

	summary, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.SavedUsers != 1 {
		t.Fatalf("pending acceptances must not count as saved, got %d users", summary.SavedUsers)
	}
	if summary.RevenueSaved != 17.50 {
		t.Fatalf("expected 17.50 saved, got %v", summary.RevenueSaved)
	}
	if summary.TotalDecisions != 4 {
		t.Fatalf("every decision counts toward the total, got %d", summary.TotalDecisions)
	}
	if summary.AcceptanceRate != 0.5 {
		t.Fatalf("expected rate 0.5, got %v", summary.AcceptanceRate)
	}
}

func TestSummaryEmptyDatabase(t *testing.T) {
	_, svc, _ := newAnalyticsFixture(t)

	summary, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.SavedUsers != 0 || summary.RevenueSaved != 0 || summary.AcceptanceRate != 0 {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
}

func TestSavedRevenueOverTimeBucketsByDay(t *testing.T) {
	db, svc, node := newAnalyticsFixture(t)
	user := node.Generate()

	today := analyticsNow
	yesterday := analyticsNow.AddDate(0, 0, -1)
	lastMonth := analyticsNow.AddDate(0, 0, -40)

	insertDecision(t, db, node, user, true, offerdomain.EventStatusConfirmed, 1000, today)
	insertDecision(t, db, node, user, true, offerdomain.EventStatusConfirmed, 500, today)
	insertDecision(t, db, node, user, true, offerdomain.EventStatusConfirmed, 2000, yesterday)
	insertDecision(t, db, node, user, true, offerdomain.EventStatusPendingConfirmation, 9900, today)
	insertDecision(t, db, node, user, true, offerdomain.EventStatusConfirmed, 7700, lastMonth)

	points, err := svc.SavedRevenueOverTime(context.Background(), 30)
	if err != nil {
		t.Fatalf("revenue: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 days, got %d", len(points))
	}
	if points[0].Day != "2026-03-14" || points[0].Revenue != 20 {
		t.Fatalf("yesterday mangled: %+v", points[0])
	}
	if points[1].Day != "2026-03-15" || points[1].Revenue != 15 {
		t.Fatalf("today mangled: %+v", points[1])
	}
}

func TestSavedUsersOverTimeCountsDistinctUsers(t *testing.T) {
	db, svc, node := newAnalyticsFixture(t)
	alice := node.Generate()
	bob := node.Generate()

	insertDecision(t, db, node, alice, true, offerdomain.EventStatusConfirmed, 1000, analyticsNow)
	insertDecision(t, db, node, alice, true, offerdomain.EventStatusConfirmed, 1000, analyticsNow)
	insertDecision(t, db, node, bob, true, offerdomain.EventStatusConfirmed, 1000, analyticsNow)

	points, err := svc.SavedUsersOverTime(context.Background(), 7)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 day, got %d", len(points))
	}
	if points[0].Users != 2 {
		t.Fatalf("expected 2 distinct users, got %d", points[0].Users)
	}
}

func TestTimeSeriesRejectsInvalidWindow(t *testing.T) {
	_, svc, _ := newAnalyticsFixture(t)

	for _, days := range []int{0, -5, 366, 10000} {
		if _, err := svc.SavedRevenueOverTime(context.Background(), days); !errors.Is(err, domain.ErrInvalidWindow) {
			t.Fatalf("days=%d: expected invalid window, got %v", days, err)
		}
		if _, err := svc.SavedUsersOverTime(context.Background(), days); !errors.Is(err, domain.ErrInvalidWindow) {
			t.Fatalf("days=%d: expected invalid window, got %v", days, err)
		}
	}
}

func TestOfferPerformanceDerivesRates(t *testing.T) {
	db, svc, _ := newAnalyticsFixture(t)
	err := db.Exec(
		`INSERT INTO offer_performance (id, offer_type, segment, shown_count, accepted_count, revenue_cents)
		 VALUES (1, 'discount', 'pro:mid:us', 10, 4, 5000)`,
	).Error
	if err != nil {
		t.Fatalf("seed performance: %v", err)
	}

	rows, err := svc.OfferPerformance(context.Background())
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.AcceptanceRate != 0.4 {
		t.Fatalf("expected rate 0.4, got %v", row.AcceptanceRate)
	}
	// 5000 cents over 4 acceptances.
	if row.AverageRevenue != 12.50 {
		t.Fatalf("expected average 12.50, got %v", row.AverageRevenue)
	}
}

func TestChurnReasonsOrderedByFrequency(t *testing.T) {
	db, svc, node := newAnalyticsFixture(t)
	reasons := []string{"too_expensive", "too_expensive", "too_expensive", "missing_features", "switching"}
	for _, code := range reasons {
		reason := offerdomain.ChurnReason{
			ID:         node.Generate(),
			UserID:     node.Generate(),
			ReasonCode: code,
		}
		if err := db.Create(&reason).Error; err != nil {
			t.Fatalf("insert reason: %v", err)
		}
	}

	rows, err := svc.ChurnReasons(context.Background())
	if err != nil {
		t.Fatalf("churn reasons: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 reason codes, got %d", len(rows))
	}
	if rows[0].ReasonCode != "too_expensive" || rows[0].Count != 3 {
		t.Fatalf("expected too_expensive first, got %+v", rows[0])
	}
}

func TestSummaryIsCachedBriefly(t *testing.T) {
	db, svc, node := newAnalyticsFixture(t)
	user := node.Generate()
	insertDecision(t, db, node, user, true, offerdomain.EventStatusConfirmed, 1000, analyticsNow)

	first, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	insertDecision(t, db, node, user, true, offerdomain.EventStatusConfirmed, 9000, analyticsNow)

	second, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if second.RevenueSaved != first.RevenueSaved {
		t.Fatalf("summary must be served from cache inside the TTL")
	}
}
