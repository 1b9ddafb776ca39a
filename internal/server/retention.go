package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	decisiondomain "github.com/paxiitdevteam/retentionos/internal/decision/domain"
	flowdomain "github.com/paxiitdevteam/retentionos/internal/flow/domain"
)

// StartRetentionFlow opens a retention attempt for a cancelling user.
func (s *Server) StartRetentionFlow(c *gin.Context) {
	var req decisiondomain.StartRetentionFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.decisionSvc.StartRetentionFlow(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ProcessUserDecision settles one offer decision.
func (s *Server) ProcessUserDecision(c *gin.Context) {
	var req decisiondomain.ProcessUserDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.decisionSvc.ProcessUserDecision(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetFlowByID returns one flow with its decoded steps.
func (s *Server) GetFlowByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, flowdomain.ErrFlowNotFound)
		return
	}

	flow, steps, err := s.flowSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           flow.ID.String(),
		"name":         flow.Name,
		"language":     flow.Language,
		"region":       flow.Region,
		"planTier":     flow.PlanTier,
		"rankingScore": flow.RankingScore,
		"steps":        steps,
	})
}

type createFlowRequest struct {
	Name         string            `json:"name" binding:"required"`
	Language     string            `json:"language"`
	Region       string            `json:"region"`
	PlanTier     string            `json:"planTier"`
	RankingScore int               `json:"rankingScore"`
	Steps        []flowdomain.Step `json:"steps" binding:"required"`
}

// CreateFlow stores an operator-authored flow definition.
func (s *Server) CreateFlow(c *gin.Context) {
	var req createFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	flow, err := s.flowSvc.Create(c.Request.Context(), flowdomain.CreateFlowRequest{
		Name:         req.Name,
		Language:     req.Language,
		Region:       req.Region,
		PlanTier:     req.PlanTier,
		RankingScore: req.RankingScore,
		Steps:        req.Steps,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": flow.ID.String()})
}
