package events

// Retention event types published through the outbox.
const (
	EventFlowStarted      = "retention.flow_started"
	EventDecisionRecorded = "retention.decision_recorded"
	EventChurnReasonGiven = "retention.churn_reason_given"
	EventWebhookApplied   = "retention.webhook_applied"
)

// DecisionRecordedPayload captures the minimal data downstream consumers need
// to react to a decided offer.
type DecisionRecordedPayload struct {
	EventID      string `json:"event_id"`
	UserID       string `json:"user_id"`
	FlowID       string `json:"flow_id"`
	OfferType    string `json:"offer_type"`
	Segment      string `json:"segment"`
	Accepted     bool   `json:"accepted"`
	Status       string `json:"status"`
	RevenueCents int64  `json:"revenue_cents"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p DecisionRecordedPayload) ToMap() map[string]any {
	payload := map[string]any{
		"event_id":   p.EventID,
		"user_id":    p.UserID,
		"flow_id":    p.FlowID,
		"offer_type": p.OfferType,
		"segment":    p.Segment,
		"accepted":   p.Accepted,
		"status":     p.Status,
	}
	if p.RevenueCents != 0 {
		payload["revenue_cents"] = p.RevenueCents
	}
	return payload
}

// FlowStartedPayload marks a retention attempt opening for a subscription.
type FlowStartedPayload struct {
	UserID         string `json:"user_id"`
	SubscriptionID string `json:"subscription_id"`
	FlowID         string `json:"flow_id"`
	Segment        string `json:"segment"`
	CancelAttempts int64  `json:"cancel_attempts"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p FlowStartedPayload) ToMap() map[string]any {
	return map[string]any{
		"user_id":         p.UserID,
		"subscription_id": p.SubscriptionID,
		"flow_id":         p.FlowID,
		"segment":         p.Segment,
		"cancel_attempts": p.CancelAttempts,
	}
}
