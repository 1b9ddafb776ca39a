// Package domain defines the read-side analytics surface.
package domain

import (
	"context"
	"errors"
)

// Day-window bounds for the time-series queries.
const (
	MinWindowDays = 1
	MaxWindowDays = 365
)

var ErrInvalidWindow = errors.New("invalid_days_window")

// SummaryMetrics is the dashboard headline: how many users stayed and how much
// recurring revenue their acceptances preserved. Only confirmed acceptances
// count; pending-confirmation attempts are excluded.
type SummaryMetrics struct {
	SavedUsers        int64   `json:"savedUsers"`
	RevenueSaved      float64 `json:"revenueSaved"`
	TotalDecisions    int64   `json:"totalDecisions"`
	AcceptanceRate    float64 `json:"acceptanceRate"`
	ChurnReasonsGiven int64   `json:"churnReasonsGiven"`
}

// RevenuePoint is one day of confirmed saved revenue.
type RevenuePoint struct {
	Day     string  `json:"day"`
	Revenue float64 `json:"revenue"`
}

// UsersPoint is one day of distinct saved users.
type UsersPoint struct {
	Day   string `json:"day"`
	Users int64  `json:"users"`
}

// OfferPerformanceRow is a snapshot row with its derived rates.
type OfferPerformanceRow struct {
	OfferType      string  `json:"offerType"`
	Segment        string  `json:"segment"`
	ShownCount     int64   `json:"shownCount"`
	AcceptedCount  int64   `json:"acceptedCount"`
	AcceptanceRate float64 `json:"acceptanceRate"`
	AverageRevenue float64 `json:"averageRevenue"`
}

// ChurnReasonCount is one histogram bucket of declared churn reasons.
type ChurnReasonCount struct {
	ReasonCode string `json:"reasonCode"`
	Count      int64  `json:"count"`
}

// Service answers dashboard queries purely from the event store and its
// counter accelerators. Read-only; results are cached briefly.
type Service interface {
	Summary(ctx context.Context) (*SummaryMetrics, error)
	// SavedRevenueOverTime buckets confirmed saved revenue by day over the
	// trailing window. Days outside [1, 365] fail with ErrInvalidWindow.
	SavedRevenueOverTime(ctx context.Context, days int) ([]RevenuePoint, error)
	// SavedUsersOverTime buckets distinct saved users by day over the
	// trailing window. Days outside [1, 365] fail with ErrInvalidWindow.
	SavedUsersOverTime(ctx context.Context, days int) ([]UsersPoint, error)
	OfferPerformance(ctx context.Context) ([]OfferPerformanceRow, error)
	ChurnReasons(ctx context.Context) ([]ChurnReasonCount, error)
}
