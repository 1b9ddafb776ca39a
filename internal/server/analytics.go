package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/paxiitdevteam/retentionos/internal/analytics/domain"
)

// GetSummaryMetrics returns the dashboard headline numbers.
func (s *Server) GetSummaryMetrics(c *gin.Context) {
	summary, err := s.analyticsSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetSavedRevenueOverTime returns daily saved revenue for a trailing window.
func (s *Server) GetSavedRevenueOverTime(c *gin.Context) {
	days, err := parseDays(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	points, err := s.analyticsSvc.SavedRevenueOverTime(c.Request.Context(), days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "points": points})
}

// GetSavedUsersOverTime returns daily distinct saved users for a trailing window.
func (s *Server) GetSavedUsersOverTime(c *gin.Context) {
	days, err := parseDays(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	points, err := s.analyticsSvc.SavedUsersOverTime(c.Request.Context(), days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "points": points})
}

// GetOfferPerformance returns the per-(offer type, segment) snapshot.
func (s *Server) GetOfferPerformance(c *gin.Context) {
	rows, err := s.analyticsSvc.OfferPerformance(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"performance": rows})
}

// GetChurnReasons returns the churn reason histogram.
func (s *Server) GetChurnReasons(c *gin.Context) {
	rows, err := s.analyticsSvc.ChurnReasons(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reasons": rows})
}

func parseDays(c *gin.Context) (int, error) {
	raw := strings.TrimSpace(c.Query("days"))
	if raw == "" {
		return 30, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, analyticsdomain.ErrInvalidWindow
	}
	return days, nil
}
