package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/paxiitdevteam/retentionos/internal/auditcontext"
	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
	userdomain "github.com/paxiitdevteam/retentionos/internal/user/domain"
)

// CalculateChurnRisk returns the bounded churn-risk score for a user.
func (s *Server) CalculateChurnRisk(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		AbortWithError(c, userdomain.ErrInvalidUserID)
		return
	}

	score, err := s.scoringSvc.CalculateChurnRisk(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "churnRisk": score})
}

// RecommendBestOffer returns the offer type with the best acceptance rate for
// the user's segment, optionally constrained to a flow's steps.
func (s *Server) RecommendBestOffer(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		AbortWithError(c, userdomain.ErrInvalidUserID)
		return
	}
	flowID := strings.TrimSpace(c.Query("flowId"))

	offerType, err := s.scoringSvc.RecommendBestOffer(c.Request.Context(), userID, flowID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "offerType": offerType})
}

// SuggestMessage returns a short retention message for the offer type.
func (s *Server) SuggestMessage(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		AbortWithError(c, userdomain.ErrInvalidUserID)
		return
	}
	offerType, err := offerdomain.ParseOfferType(c.Query("offerType"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	message, err := s.scoringSvc.SuggestMessage(c.Request.Context(), userID, offerType)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":     userID,
		"offerType":  offerType,
		"messageKey": message.Key,
		"message":    message.Text,
	})
}

// ListWeights returns the current scoring weights.
func (s *Server) ListWeights(c *gin.Context) {
	weights, err := s.weights.All(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weights": weights})
}

type setWeightRequest struct {
	Value float64 `json:"value"`
}

// SetWeight replaces one scoring weight. The stored value is clamped and the
// change is audited with the calling key's identity.
func (s *Server) SetWeight(c *gin.Context) {
	name := strings.ToLower(strings.TrimSpace(c.Param("name")))
	if name == "" {
		AbortWithError(c, newValidationError("name", "required", "weight name is required"))
		return
	}

	var req setWeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	_, actorID := auditcontext.ActorFromContext(c.Request.Context())
	value, err := s.weights.Set(c.Request.Context(), name, req.Value, actorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": value})
}
