// Package service implements the decision processor.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/paxiitdevteam/retentionos/internal/billing/domain"
	"github.com/paxiitdevteam/retentionos/internal/clock"
	"github.com/paxiitdevteam/retentionos/internal/config"
	"github.com/paxiitdevteam/retentionos/internal/decision/domain"
	"github.com/paxiitdevteam/retentionos/internal/events"
	flowdomain "github.com/paxiitdevteam/retentionos/internal/flow/domain"
	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
	offerrepo "github.com/paxiitdevteam/retentionos/internal/offer/repository"
	scoringdomain "github.com/paxiitdevteam/retentionos/internal/scoring/domain"
	"github.com/paxiitdevteam/retentionos/internal/segment"
	subdomain "github.com/paxiitdevteam/retentionos/internal/subscription/domain"
	userdomain "github.com/paxiitdevteam/retentionos/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  config.Config
	Flows   flowdomain.Service
	Scoring scoringdomain.Service
	Offers  offerrepo.Repository
	Billing billingdomain.Provider
	Outbox  *events.Outbox
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	flows   flowdomain.Service
	scoring scoringdomain.Service
	offers  offerrepo.Repository
	billing billingdomain.Provider
	outbox  *events.Outbox

	billingTimeout time.Duration
}

func NewService(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("decision.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		flows:          p.Flows,
		scoring:        p.Scoring,
		offers:         p.Offers,
		billing:        p.Billing,
		outbox:         p.Outbox,
		billingTimeout: p.Config.BillingTimeout,
	}
}

func (s *Service) StartRetentionFlow(ctx context.Context, req domain.StartRetentionFlowRequest) (*domain.StartRetentionFlowResponse, error) {
	externalID := strings.TrimSpace(req.ExternalUserID)
	if externalID == "" {
		return nil, userdomain.ErrInvalidUserID
	}
	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = "en"
	}

	var (
		user *userdomain.User
		sub  *subdomain.Subscription
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = s.findOrCreateUser(ctx, tx, externalID, req)
		if err != nil {
			return err
		}
		sub, err = s.findOrCreateSubscription(ctx, tx, user, req)
		if err != nil {
			return err
		}
		if sub != nil {
			return tx.WithContext(ctx).Exec(
				`UPDATE subscriptions SET cancel_attempts = cancel_attempts + 1, updated_at = ? WHERE id = ?`,
				s.clock.Now(),
				sub.ID,
			).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	valueCents := int64(0)
	if sub != nil {
		valueCents = sub.ValueCents
	}
	key := segment.Classify(user.PlanTier, valueCents, user.Region)

	response := &domain.StartRetentionFlowResponse{Segment: key.String()}

	candidates, err := s.flows.MatchSegment(ctx, key, language)
	if err != nil {
		// Selection failures must not block the cancellation: degrade to a
		// no-flow response and let the widget step aside.
		s.log.Error("flow matching failed", zap.String("segment", key.String()), zap.Error(err))
		return response, nil
	}
	selected, err := flowdomain.Select(candidates)
	if err != nil {
		if !errors.Is(err, flowdomain.ErrNoFlowAvailable) {
			s.log.Error("flow selection failed", zap.String("segment", key.String()), zap.Error(err))
		}
		return response, nil
	}
	steps, err := flowdomain.DecodeSteps(selected.Steps)
	if err != nil {
		s.log.Error("stored flow failed to decode", zap.Int64("flow_id", int64(selected.ID)), zap.Error(err))
		return response, nil
	}

	response.FlowAvailable = true
	response.FlowID = selected.ID.String()
	response.Steps = steps
	response.Language = selected.Language

	payload := events.FlowStartedPayload{
		UserID:  user.ID.String(),
		FlowID:  selected.ID.String(),
		Segment: key.String(),
	}
	if sub != nil {
		payload.SubscriptionID = sub.ID.String()
		payload.CancelAttempts = sub.CancelAttempts + 1
	}
	if err := s.outbox.Publish(ctx, events.Event{
		Type:    events.EventFlowStarted,
		Payload: payload.ToMap(),
	}); err != nil {
		s.log.Warn("flow started event not published", zap.Error(err))
	}
	return response, nil
}

func (s *Service) ProcessUserDecision(ctx context.Context, req domain.ProcessUserDecisionRequest) (*domain.ProcessUserDecisionResponse, error) {
	offerType, err := offerdomain.ParseOfferType(req.OfferType)
	if err != nil {
		// Invalid offer types write nothing.
		return nil, err
	}
	flowID, err := snowflake.ParseString(strings.TrimSpace(req.FlowID))
	if err != nil {
		return nil, flowdomain.ErrFlowNotFound
	}
	flow, steps, err := s.flows.GetByID(ctx, flowID.String())
	if err != nil {
		return nil, err
	}

	var user userdomain.User
	err = s.db.WithContext(ctx).
		Where("external_id = ?", strings.TrimSpace(req.ExternalUserID)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, userdomain.ErrUserNotFound
		}
		return nil, err
	}
	sub, err := s.latestSubscription(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	valueCents := int64(0)
	if sub != nil {
		valueCents = sub.ValueCents
	}
	key := segment.Classify(user.PlanTier, valueCents, user.Region)
	revenueCents := toCents(req.RevenueValue)

	if !req.Accepted {
		return s.settleRejection(ctx, &user, flow, offerType, key, req)
	}

	if requiresBillingMutation(offerType) {
		if sub == nil || strings.TrimSpace(sub.ProviderRef) == "" {
			return nil, subdomain.ErrSubscriptionNotFound
		}
		step := findStep(steps, offerType)
		if step == nil {
			return nil, flowdomain.ErrInvalidStep
		}
		if err := s.applyBillingMutation(ctx, sub, *step); err != nil {
			s.log.Warn("billing mutation failed",
				zap.String("offer_type", string(offerType)),
				zap.String("provider_ref", sub.ProviderRef),
				zap.Error(err),
			)
			return s.settlePendingAcceptance(ctx, &user, flow, offerType, key, req)
		}
		return s.settleConfirmedAcceptance(ctx, &user, flow, offerType, key, req, revenueCents, *step)
	}

	// Support and feedback acceptances have no billing side effect.
	return s.settleConfirmedAcceptance(ctx, &user, flow, offerType, key, req, revenueCents, flowdomain.Step{Type: offerType})
}

// settleConfirmedAcceptance records the accepted event and, for mutation
// offers, the subscription change, atomically with the counter updates.
func (s *Service) settleConfirmedAcceptance(
	ctx context.Context,
	user *userdomain.User,
	flow *flowdomain.Flow,
	offerType offerdomain.OfferType,
	key segment.Key,
	req domain.ProcessUserDecisionRequest,
	revenueCents int64,
	step flowdomain.Step,
) (*domain.ProcessUserDecisionResponse, error) {
	now := s.clock.Now()
	event := &offerdomain.OfferEvent{
		ID:           s.genID.Generate(),
		UserID:       user.ID,
		FlowID:       flow.ID,
		OfferType:    offerType,
		Segment:      key.String(),
		MessageKey:   strings.TrimSpace(req.MessageKey),
		Accepted:     true,
		RevenueCents: revenueCents,
		Status:       offerdomain.EventStatusConfirmed,
		CreatedAt:    now,
	}

	subscriptionUpdated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.offers.InsertEvent(ctx, tx, event); err != nil {
			return err
		}
		var sub *subdomain.Subscription
		var err error
		if requiresBillingMutation(offerType) {
			sub, err = s.latestSubscriptionTx(ctx, tx, user.ID)
			if err != nil {
				return err
			}
		}
		if sub != nil {
			if err := s.applyLocalSubscriptionChange(ctx, tx, sub, step, now); err != nil {
				return err
			}
			subscriptionUpdated = true
		}
		if err := s.scoring.UpdateModelWithEvent(ctx, tx, event); err != nil {
			return err
		}
		return s.publishDecision(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	return &domain.ProcessUserDecisionResponse{
		Success:             true,
		Message:             acceptMessage(offerType),
		RevenueSaved:        fromCents(revenueCents),
		SubscriptionUpdated: subscriptionUpdated,
	}, nil
}

// settlePendingAcceptance records an accepted decision whose billing mutation
// could not be confirmed. The attempt is visible but excluded from every
// revenue and acceptance aggregate until reconciled.
func (s *Service) settlePendingAcceptance(
	ctx context.Context,
	user *userdomain.User,
	flow *flowdomain.Flow,
	offerType offerdomain.OfferType,
	key segment.Key,
	req domain.ProcessUserDecisionRequest,
) (*domain.ProcessUserDecisionResponse, error) {
	event := &offerdomain.OfferEvent{
		ID:         s.genID.Generate(),
		UserID:     user.ID,
		FlowID:     flow.ID,
		OfferType:  offerType,
		Segment:    key.String(),
		MessageKey: strings.TrimSpace(req.MessageKey),
		Accepted:   true,
		Status:     offerdomain.EventStatusPendingConfirmation,
		CreatedAt:  s.clock.Now(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.offers.InsertEvent(ctx, tx, event); err != nil {
			return err
		}
		if err := s.scoring.UpdateModelWithEvent(ctx, tx, event); err != nil {
			return err
		}
		return s.publishDecision(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return &domain.ProcessUserDecisionResponse{
		Success:      false,
		Message:      "We could not confirm the change with the billing provider. Your subscription is unchanged for now.",
		RevenueSaved: 0,
	}, nil
}

func (s *Service) settleRejection(
	ctx context.Context,
	user *userdomain.User,
	flow *flowdomain.Flow,
	offerType offerdomain.OfferType,
	key segment.Key,
	req domain.ProcessUserDecisionRequest,
) (*domain.ProcessUserDecisionResponse, error) {
	now := s.clock.Now()
	event := &offerdomain.OfferEvent{
		ID:         s.genID.Generate(),
		UserID:     user.ID,
		FlowID:     flow.ID,
		OfferType:  offerType,
		Segment:    key.String(),
		MessageKey: strings.TrimSpace(req.MessageKey),
		Accepted:   false,
		Status:     offerdomain.EventStatusConfirmed,
		CreatedAt:  now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.offers.InsertEvent(ctx, tx, event); err != nil {
			return err
		}
		if code := strings.TrimSpace(req.ReasonCode); code != "" {
			reason := &offerdomain.ChurnReason{
				ID:         s.genID.Generate(),
				UserID:     user.ID,
				ReasonCode: code,
				ReasonText: strings.TrimSpace(req.ReasonText),
				CreatedAt:  now,
			}
			if err := s.offers.InsertChurnReason(ctx, tx, reason); err != nil {
				return err
			}
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type:      events.EventChurnReasonGiven,
				DedupeKey: fmt.Sprintf("churn-reason:%d", reason.ID),
				Payload: map[string]any{
					"user_id":     user.ID.String(),
					"reason_code": code,
				},
			}); err != nil {
				return err
			}
		}
		if err := s.scoring.UpdateModelWithEvent(ctx, tx, event); err != nil {
			return err
		}
		return s.publishDecision(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return &domain.ProcessUserDecisionResponse{
		Success:      true,
		Message:      "Thanks for letting us know.",
		RevenueSaved: 0,
	}, nil
}

// applyBillingMutation calls the provider with a bounded timeout. A timeout is
// a failure to confirm, never an inline retry.
func (s *Service) applyBillingMutation(ctx context.Context, sub *subdomain.Subscription, step flowdomain.Step) error {
	timeout := s.billingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch step.Type {
	case offerdomain.OfferTypePause:
		return s.billing.ApplyPause(callCtx, sub.ProviderRef, step.Pause.Months)
	case offerdomain.OfferTypeDowngrade:
		return s.billing.ApplyDowngrade(callCtx, sub.ProviderRef, step.Down.TargetPlan)
	case offerdomain.OfferTypeDiscount:
		return s.billing.ApplyDiscount(callCtx, sub.ProviderRef, step.Disc.Percent, step.Disc.DurationMonths)
	default:
		return billingdomain.ErrInvalidEvent
	}
}

func (s *Service) applyLocalSubscriptionChange(ctx context.Context, tx *gorm.DB, sub *subdomain.Subscription, step flowdomain.Step, now time.Time) error {
	updates := map[string]any{"updated_at": now}
	switch step.Type {
	case offerdomain.OfferTypePause:
		updates["status"] = subdomain.StatusPaused
	case offerdomain.OfferTypeDowngrade:
		updates["status"] = subdomain.StatusDowngraded
		updates["plan_tier"] = strings.ToLower(step.Down.TargetPlan)
	case offerdomain.OfferTypeDiscount:
		updates["status"] = subdomain.StatusDiscounted
		updates["value_cents"] = discountedValue(sub.ValueCents, step.Disc.Percent)
	default:
		return nil
	}
	return tx.WithContext(ctx).
		Model(&subdomain.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(updates).Error
}

func (s *Service) publishDecision(ctx context.Context, tx *gorm.DB, event *offerdomain.OfferEvent) error {
	payload := events.DecisionRecordedPayload{
		EventID:      event.ID.String(),
		UserID:       event.UserID.String(),
		FlowID:       event.FlowID.String(),
		OfferType:    string(event.OfferType),
		Segment:      event.Segment,
		Accepted:     event.Accepted,
		Status:       event.Status,
		RevenueCents: event.RevenueCents,
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:      events.EventDecisionRecorded,
		DedupeKey: fmt.Sprintf("decision:%d", event.ID),
		Payload:   payload.ToMap(),
	})
}

func (s *Service) findOrCreateUser(ctx context.Context, tx *gorm.DB, externalID string, req domain.StartRetentionFlowRequest) (*userdomain.User, error) {
	plan := strings.ToLower(strings.TrimSpace(req.PlanTier))
	region := strings.ToLower(strings.TrimSpace(req.Region))

	var user userdomain.User
	err := tx.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error
	if err == nil {
		updates := map[string]any{"updated_at": s.clock.Now()}
		if plan != "" && plan != user.PlanTier {
			updates["plan_tier"] = plan
			user.PlanTier = plan
		}
		if region != "" && region != user.Region {
			updates["region"] = region
			user.Region = region
		}
		if email := strings.TrimSpace(req.Email); email != "" && email != user.Email {
			updates["email"] = email
			user.Email = email
		}
		if len(updates) > 1 {
			if err := tx.WithContext(ctx).Model(&userdomain.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
				return nil, err
			}
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = userdomain.User{
		ID:         s.genID.Generate(),
		ExternalID: externalID,
		Email:      strings.TrimSpace(req.Email),
		PlanTier:   plan,
		Region:     region,
		CreatedAt:  s.clock.Now(),
		UpdatedAt:  s.clock.Now(),
	}
	if user.PlanTier == "" {
		user.PlanTier = "unknown"
	}
	if user.Region == "" {
		user.Region = "global"
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) findOrCreateSubscription(ctx context.Context, tx *gorm.DB, user *userdomain.User, req domain.StartRetentionFlowRequest) (*subdomain.Subscription, error) {
	ref := strings.TrimSpace(req.BillingRef)
	if ref == "" {
		return s.latestSubscriptionTx(ctx, tx, user.ID)
	}

	var sub subdomain.Subscription
	err := tx.WithContext(ctx).Where("provider_ref = ?", ref).First(&sub).Error
	if err == nil {
		if cents := toCents(req.Value); cents > 0 && cents != sub.ValueCents {
			if err := tx.WithContext(ctx).Model(&subdomain.Subscription{}).
				Where("id = ?", sub.ID).
				Updates(map[string]any{"value_cents": cents, "updated_at": s.clock.Now()}).Error; err != nil {
				return nil, err
			}
			sub.ValueCents = cents
		}
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	sub = subdomain.Subscription{
		ID:          s.genID.Generate(),
		UserID:      user.ID,
		ProviderRef: ref,
		PlanTier:    user.PlanTier,
		ValueCents:  toCents(req.Value),
		Status:      subdomain.StatusActive,
		CreatedAt:   s.clock.Now(),
		UpdatedAt:   s.clock.Now(),
	}
	if err := tx.WithContext(ctx).Create(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Service) latestSubscription(ctx context.Context, userID snowflake.ID) (*subdomain.Subscription, error) {
	return s.latestSubscriptionTx(ctx, s.db, userID)
}

func (s *Service) latestSubscriptionTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*subdomain.Subscription, error) {
	var sub subdomain.Subscription
	err := tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func requiresBillingMutation(offerType offerdomain.OfferType) bool {
	switch offerType {
	case offerdomain.OfferTypePause, offerdomain.OfferTypeDowngrade, offerdomain.OfferTypeDiscount:
		return true
	default:
		return false
	}
}

func findStep(steps []flowdomain.Step, offerType offerdomain.OfferType) *flowdomain.Step {
	for i := range steps {
		if steps[i].Type == offerType {
			return &steps[i]
		}
	}
	return nil
}

func acceptMessage(offerType offerdomain.OfferType) string {
	switch offerType {
	case offerdomain.OfferTypePause:
		return "Your subscription is paused. Billing resumes automatically."
	case offerdomain.OfferTypeDowngrade:
		return "Your plan has been changed. The new price applies from the next billing cycle."
	case offerdomain.OfferTypeDiscount:
		return "Your discount has been applied to upcoming invoices."
	case offerdomain.OfferTypeSupport:
		return "We are connecting you with our team."
	default:
		return "Thanks for sharing your feedback."
	}
}

func discountedValue(valueCents int64, percent int) int64 {
	if percent <= 0 || percent >= 100 {
		return valueCents
	}
	return valueCents * int64(100-percent) / 100
}

// toCents converts a whole-currency amount from the API into stored cents.
func toCents(value float64) int64 {
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return int64(math.Round(value * 100))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}
