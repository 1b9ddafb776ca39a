// Package service implements the analytics reader over the event store.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paxiitdevteam/retentionos/internal/analytics/domain"
	"github.com/paxiitdevteam/retentionos/internal/cache"
	"github.com/paxiitdevteam/retentionos/internal/clock"
	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
	offerrepo "github.com/paxiitdevteam/retentionos/internal/offer/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cacheTTL = 30 * time.Second

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Offers offerrepo.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	offers offerrepo.Repository
	cache  *cache.TTLCache[string, any]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("analytics.service"),
		clock:  p.Clock,
		offers: p.Offers,
		cache:  cache.NewTTLCache[string, any](),
	}
}

func (s *Service) Summary(ctx context.Context) (*domain.SummaryMetrics, error) {
	if cached, ok := s.cache.Get("summary"); ok {
		if summary, ok := cached.(*domain.SummaryMetrics); ok {
			return summary, nil
		}
	}

	var row struct {
		SavedUsers        int64
		RevenueCents      int64
		TotalDecisions    int64
		AcceptedDecisions int64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT
		   COUNT(DISTINCT CASE WHEN accepted AND status = ? THEN user_id END) AS saved_users,
		   COALESCE(SUM(CASE WHEN accepted AND status = ? THEN revenue_cents ELSE 0 END), 0) AS revenue_cents,
		   COUNT(1) AS total_decisions,
		   COALESCE(SUM(CASE WHEN accepted AND status = ? THEN 1 ELSE 0 END), 0) AS accepted_decisions
		 FROM offer_events`,
		offerdomain.EventStatusConfirmed,
		offerdomain.EventStatusConfirmed,
		offerdomain.EventStatusConfirmed,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}

	var reasons int64
	if err := s.db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM churn_reasons`).Scan(&reasons).Error; err != nil {
		return nil, err
	}

	summary := &domain.SummaryMetrics{
		SavedUsers:        row.SavedUsers,
		RevenueSaved:      float64(row.RevenueCents) / 100,
		TotalDecisions:    row.TotalDecisions,
		ChurnReasonsGiven: reasons,
	}
	if row.TotalDecisions > 0 {
		summary.AcceptanceRate = float64(row.AcceptedDecisions) / float64(row.TotalDecisions)
	}

	s.cache.Set("summary", summary, cacheTTL)
	return summary, nil
}

func (s *Service) SavedRevenueOverTime(ctx context.Context, days int) ([]domain.RevenuePoint, error) {
	if err := validateWindow(days); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("revenue:%d", days)
	if cached, ok := s.cache.Get(key); ok {
		if points, ok := cached.([]domain.RevenuePoint); ok {
			return points, nil
		}
	}

	// Day bucketing happens here rather than in SQL so the query stays
	// portable across database engines.
	rows, err := s.confirmedAcceptances(ctx, s.windowStart(days))
	if err != nil {
		return nil, err
	}
	buckets := make(map[string]int64)
	for _, row := range rows {
		buckets[dayKey(row.CreatedAt)] += row.RevenueCents
	}

	points := make([]domain.RevenuePoint, 0, len(buckets))
	for _, day := range sortedDays(buckets) {
		points = append(points, domain.RevenuePoint{
			Day:     day,
			Revenue: float64(buckets[day]) / 100,
		})
	}
	s.cache.Set(key, points, cacheTTL)
	return points, nil
}

func (s *Service) SavedUsersOverTime(ctx context.Context, days int) ([]domain.UsersPoint, error) {
	if err := validateWindow(days); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("users:%d", days)
	if cached, ok := s.cache.Get(key); ok {
		if points, ok := cached.([]domain.UsersPoint); ok {
			return points, nil
		}
	}

	rows, err := s.confirmedAcceptances(ctx, s.windowStart(days))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]map[int64]struct{})
	counts := make(map[string]int64)
	for _, row := range rows {
		day := dayKey(row.CreatedAt)
		if seen[day] == nil {
			seen[day] = make(map[int64]struct{})
		}
		if _, dup := seen[day][row.UserID]; dup {
			continue
		}
		seen[day][row.UserID] = struct{}{}
		counts[day]++
	}

	points := make([]domain.UsersPoint, 0, len(counts))
	for _, day := range sortedDays(counts) {
		points = append(points, domain.UsersPoint{Day: day, Users: counts[day]})
	}
	s.cache.Set(key, points, cacheTTL)
	return points, nil
}

// acceptanceRow is the minimal projection the time-series buckets consume.
type acceptanceRow struct {
	UserID       int64
	RevenueCents int64
	CreatedAt    time.Time
}

func (s *Service) confirmedAcceptances(ctx context.Context, since time.Time) ([]acceptanceRow, error) {
	var rows []acceptanceRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, revenue_cents, created_at
		 FROM offer_events
		 WHERE accepted AND status = ? AND created_at >= ?`,
		offerdomain.EventStatusConfirmed,
		since,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func dayKey(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func sortedDays[V any](buckets map[string]V) []string {
	days := make([]string, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

func (s *Service) OfferPerformance(ctx context.Context) ([]domain.OfferPerformanceRow, error) {
	if cached, ok := s.cache.Get("offer-performance"); ok {
		if rows, ok := cached.([]domain.OfferPerformanceRow); ok {
			return rows, nil
		}
	}

	performance, err := s.offers.AllOfferPerformance(ctx, s.db)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.OfferPerformanceRow, 0, len(performance))
	for _, p := range performance {
		rows = append(rows, domain.OfferPerformanceRow{
			OfferType:      string(p.OfferType),
			Segment:        p.Segment,
			ShownCount:     p.ShownCount,
			AcceptedCount:  p.AcceptedCount,
			AcceptanceRate: p.AcceptanceRate(),
			AverageRevenue: float64(p.AverageRevenueCents()) / 100,
		})
	}
	s.cache.Set("offer-performance", rows, cacheTTL)
	return rows, nil
}

func (s *Service) ChurnReasons(ctx context.Context) ([]domain.ChurnReasonCount, error) {
	if cached, ok := s.cache.Get("churn-reasons"); ok {
		if rows, ok := cached.([]domain.ChurnReasonCount); ok {
			return rows, nil
		}
	}

	var rows []domain.ChurnReasonCount
	err := s.db.WithContext(ctx).Raw(
		`SELECT reason_code, COUNT(1) AS count
		 FROM churn_reasons
		 GROUP BY reason_code
		 ORDER BY count DESC, reason_code`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	s.cache.Set("churn-reasons", rows, cacheTTL)
	return rows, nil
}

func (s *Service) windowStart(days int) time.Time {
	now := s.clock.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -(days - 1))
}

func validateWindow(days int) error {
	if days < domain.MinWindowDays || days > domain.MaxWindowDays {
		return fmt.Errorf("%w: days must be %d-%d", domain.ErrInvalidWindow, domain.MinWindowDays, domain.MaxWindowDays)
	}
	return nil
}
