// Package domain defines the decision processor contract: the transactional
// core that opens retention attempts and settles offer decisions.
package domain

import (
	"context"

	flowdomain "github.com/paxiitdevteam/retentionos/internal/flow/domain"
)

// Service is the request-path surface the widget talks to.
type Service interface {
	// StartRetentionFlow opens a retention attempt: find-or-create the user
	// and subscription, bump the cancel counter, segment, and select a flow.
	// Selection failures degrade to a no-flow response instead of an error so
	// the underlying cancellation is never blocked.
	StartRetentionFlow(ctx context.Context, req StartRetentionFlowRequest) (*StartRetentionFlowResponse, error)

	// ProcessUserDecision settles one offer step: validates the offer type,
	// applies the billing side effect on accept, and records the immutable
	// offer event with its counter updates in one transaction.
	ProcessUserDecision(ctx context.Context, req ProcessUserDecisionRequest) (*ProcessUserDecisionResponse, error)
}

// StartRetentionFlowRequest identifies the cancelling user. RevenueValue is in
// whole currency units; the engine stores cents.
type StartRetentionFlowRequest struct {
	ExternalUserID string  `json:"userId" binding:"required"`
	PlanTier       string  `json:"plan" binding:"required"`
	Region         string  `json:"region"`
	Email          string  `json:"email"`
	BillingRef     string  `json:"billingRef"`
	Value          float64 `json:"value"`
	Language       string  `json:"language"`
}

// StartRetentionFlowResponse returns the selected flow, or no flow at all when
// nothing matched. FlowAvailable false with a nil Steps list means the widget
// should let the cancellation proceed.
type StartRetentionFlowResponse struct {
	FlowAvailable bool              `json:"flowAvailable"`
	FlowID        string            `json:"flowId,omitempty"`
	Steps         []flowdomain.Step `json:"steps,omitempty"`
	Language      string            `json:"language,omitempty"`
	Segment       string            `json:"segment"`
}

// ProcessUserDecisionRequest carries one accept/reject decision for an offer
// step of a flow.
type ProcessUserDecisionRequest struct {
	FlowID         string  `json:"flowId" binding:"required"`
	ExternalUserID string  `json:"userId" binding:"required"`
	OfferType      string  `json:"offerType" binding:"required"`
	Accepted       bool    `json:"accepted"`
	RevenueValue   float64 `json:"revenueValue"`
	MessageKey     string  `json:"messageKey"`
	ReasonCode     string  `json:"reasonCode"`
	ReasonText     string  `json:"reasonText"`
}

// ProcessUserDecisionResponse is always definite: the widget never blocks on
// an undecided outcome. RevenueSaved is in whole currency units.
type ProcessUserDecisionResponse struct {
	Success             bool    `json:"success"`
	Message             string  `json:"message"`
	RevenueSaved        float64 `json:"revenueSaved"`
	SubscriptionUpdated bool    `json:"subscriptionUpdated"`
}
