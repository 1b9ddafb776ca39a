package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	flowdomain "github.com/paxiitdevteam/retentionos/internal/flow/domain"
	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
	offerrepository "github.com/paxiitdevteam/retentionos/internal/offer/repository"
	scoringdomain "github.com/paxiitdevteam/retentionos/internal/scoring/domain"
	"github.com/paxiitdevteam/retentionos/internal/segment"
	subscriptiondomain "github.com/paxiitdevteam/retentionos/internal/subscription/domain"
	userdomain "github.com/paxiitdevteam/retentionos/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fallbackOrder is the fixed recommendation order used when a segment has no
// performance data. Stable by specification, never random.
var fallbackOrder = []offerdomain.OfferType{
	offerdomain.OfferTypePause,
	offerdomain.OfferTypeDiscount,
	offerdomain.OfferTypeDowngrade,
	offerdomain.OfferTypeSupport,
}

// Normalization caps for the churn factors.
const (
	valueCapCents = 20000 // $200/month; anything above saturates the value signal
	attemptCap    = 5     // cancel attempts beyond this saturate the history signal
	neutralFactor = 0.5
	neutralScore  = 50
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Weights   scoringdomain.WeightStore
	OfferRepo offerrepository.Repository
	FlowSvc   flowdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	weights   scoringdomain.WeightStore
	offerRepo offerrepository.Repository
	flowSvc   flowdomain.Service
}

func NewService(p Params) scoringdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("scoring.service"),
		weights:   p.Weights,
		offerRepo: p.OfferRepo,
		flowSvc:   p.FlowSvc,
	}
}

func (s *Service) CalculateChurnRisk(ctx context.Context, externalUserID string) (int, error) {
	user, err := s.resolveUser(ctx, externalUserID)
	if err != nil {
		return 0, err
	}

	sub, err := s.latestSubscription(ctx, user.ID)
	if err != nil {
		return 0, err
	}

	accepted, declined, err := s.decisionCounts(ctx, user.ID)
	if err != nil {
		return 0, err
	}

	behavior := behaviorFactor(accepted, declined)
	value := valueFactor(sub)
	history := historyFactor(sub)

	wb, err := s.weights.Get(ctx, scoringdomain.WeightBehavior)
	if err != nil {
		return 0, err
	}
	wv, err := s.weights.Get(ctx, scoringdomain.WeightValue)
	if err != nil {
		return 0, err
	}
	wh, err := s.weights.Get(ctx, scoringdomain.WeightHistory)
	if err != nil {
		return 0, err
	}

	total := wb + wv + wh
	if total == 0 {
		return neutralScore, nil
	}

	score := 100 * (wb*behavior + wv*value + wh*history) / total
	return clampScore(int(math.Round(score))), nil
}

func (s *Service) RecommendBestOffer(ctx context.Context, externalUserID string, flowID string) (offerdomain.OfferType, error) {
	user, err := s.resolveUser(ctx, externalUserID)
	if err != nil {
		return "", err
	}

	sub, err := s.latestSubscription(ctx, user.ID)
	if err != nil {
		return "", err
	}

	candidates := candidateTypes(nil)
	if strings.TrimSpace(flowID) != "" {
		_, steps, err := s.flowSvc.GetByID(ctx, flowID)
		if err != nil {
			return "", err
		}
		candidates = candidateTypes(flowdomain.StepTypes(steps))
	}
	if len(candidates) == 0 {
		return "", flowdomain.ErrNoFlowAvailable
	}

	key := segmentFor(user, sub)
	rows, err := s.offerRepo.OfferPerformanceBySegment(ctx, s.db, key.String())
	if err != nil {
		return "", err
	}

	bySegment := make(map[offerdomain.OfferType]offerdomain.OfferPerformance, len(rows))
	for _, row := range rows {
		bySegment[row.OfferType] = row
	}

	// Scan in enumeration order so rate ties break deterministically.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].EnumIndex() < candidates[j].EnumIndex()
	})

	best := offerdomain.OfferType("")
	bestRate := -1.0
	for _, candidate := range candidates {
		row, ok := bySegment[candidate]
		if !ok || row.ShownCount == 0 {
			continue
		}
		rate := row.AcceptanceRate()
		// Strict comparison keeps enumeration order as the tie-break.
		if rate > bestRate {
			best = candidate
			bestRate = rate
		}
	}
	if best != "" {
		return best, nil
	}

	// No performance data for this segment: fixed, stable fallback order.
	for _, preferred := range fallbackOrder {
		for _, candidate := range candidates {
			if candidate == preferred {
				return preferred, nil
			}
		}
	}
	return candidates[0], nil
}

func (s *Service) SuggestMessage(ctx context.Context, externalUserID string, offerType offerdomain.OfferType) (scoringdomain.SuggestedMessage, error) {
	if _, err := offerdomain.ParseOfferType(string(offerType)); err != nil {
		return scoringdomain.SuggestedMessage{}, err
	}

	user, err := s.resolveUser(ctx, externalUserID)
	if err != nil {
		return scoringdomain.SuggestedMessage{}, err
	}

	vars := map[string]string{
		"plan": user.PlanTier,
	}
	if percent := s.bestDiscountPercent(ctx); percent > 0 {
		vars["percent"] = strconv.Itoa(percent)
	}

	tpl, ok := s.bestTemplate(ctx, offerType)
	if !ok {
		canonical, found := canonicalTemplate(offerType)
		if !found {
			return scoringdomain.SuggestedMessage{}, offerdomain.ErrInvalidOfferType
		}
		tpl = canonical
	}
	return renderTemplate(tpl, vars), nil
}

func (s *Service) UpdateModelWithEvent(ctx context.Context, tx *gorm.DB, event *offerdomain.OfferEvent) error {
	if event == nil || event.ID == 0 {
		return offerdomain.ErrEventNotFound
	}

	run := func(db *gorm.DB) error {
		claimed, err := s.offerRepo.ClaimModelApplication(ctx, db, event.ID, event.CreatedAt)
		if err != nil {
			return err
		}
		if !claimed {
			// Redelivered event; the model already saw it.
			return nil
		}

		counted := event.CountsTowardRevenue()
		revenue := int64(0)
		if counted {
			revenue = event.RevenueCents
		}
		inc := offerrepository.PerformanceIncrement{
			OfferType:    event.OfferType,
			Segment:      event.Segment,
			MessageKey:   event.MessageKey,
			Accepted:     counted,
			RevenueCents: revenue,
			At:           event.CreatedAt,
		}
		if err := s.offerRepo.IncrementOfferPerformance(ctx, db, inc); err != nil {
			return err
		}
		if err := s.offerRepo.IncrementMessagePerformance(ctx, db, inc); err != nil {
			return err
		}

		delta := scoringdomain.AdjustStep
		if !event.Accepted {
			delta = -scoringdomain.AdjustStep
		}
		if _, err := s.weights.AdjustTx(ctx, db, scoringdomain.WeightBehavior, delta); err != nil {
			return err
		}
		return nil
	}

	if tx != nil {
		return run(tx)
	}
	return s.db.WithContext(ctx).Transaction(run)
}

func (s *Service) resolveUser(ctx context.Context, externalUserID string) (*userdomain.User, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return nil, userdomain.ErrInvalidUserID
	}
	var user userdomain.User
	err := s.db.WithContext(ctx).Where("external_id = ?", externalUserID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, userdomain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// latestSubscription returns the user's most recently updated subscription,
// or nil when the user has none yet.
func (s *Service) latestSubscription(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
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

func (s *Service) decisionCounts(ctx context.Context, userID snowflake.ID) (int64, int64, error) {
	var row struct {
		Accepted int64
		Declined int64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT SUM(CASE WHEN accepted THEN 1 ELSE 0 END) AS accepted,
		        SUM(CASE WHEN accepted THEN 0 ELSE 1 END) AS declined
		 FROM offer_events
		 WHERE user_id = ?`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Accepted, row.Declined, nil
}

// bestTemplate picks the library template with the best recorded acceptance
// rate for the offer type, when any message performance data exists.
func (s *Service) bestTemplate(ctx context.Context, offerType offerdomain.OfferType) (messageTemplate, bool) {
	var rows []offerdomain.MessagePerformance
	err := s.db.WithContext(ctx).
		Where("offer_type = ? AND shown_count > 0", offerType).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return messageTemplate{}, false
	}

	byKey := make(map[string]offerdomain.MessagePerformance, len(rows))
	for _, row := range rows {
		byKey[row.MessageKey] = row
	}

	best := messageTemplate{}
	bestRate := -1.0
	for _, tpl := range templateLibrary[offerType] {
		row, ok := byKey[tpl.Key]
		if !ok {
			continue
		}
		if rate := row.AcceptanceRate(); rate > bestRate {
			best = tpl
			bestRate = rate
		}
	}
	if bestRate < 0 {
		return messageTemplate{}, false
	}
	return best, true
}

// bestDiscountPercent surfaces a representative discount percentage from the
// active flows for {percent} substitution. Zero when none is configured.
func (s *Service) bestDiscountPercent(ctx context.Context) int {
	var flows []flowdomain.Flow
	if err := s.db.WithContext(ctx).Where("ranking_score > 0").Find(&flows).Error; err != nil {
		return 0
	}
	best := 0
	for _, f := range flows {
		steps, err := flowdomain.DecodeSteps(f.Steps)
		if err != nil {
			continue
		}
		for _, step := range steps {
			if step.Type == offerdomain.OfferTypeDiscount && step.Disc != nil && step.Disc.Percent > best {
				best = step.Disc.Percent
			}
		}
	}
	return best
}

func segmentFor(user *userdomain.User, sub *subscriptiondomain.Subscription) segment.Key {
	valueCents := int64(0)
	if sub != nil {
		valueCents = sub.ValueCents
	}
	return segment.Classify(user.PlanTier, valueCents, user.Region)
}

func behaviorFactor(accepted, declined int64) float64 {
	total := accepted + declined
	if total == 0 {
		return neutralFactor
	}
	return float64(declined) / float64(total)
}

func valueFactor(sub *subscriptiondomain.Subscription) float64 {
	if sub == nil {
		return neutralFactor
	}
	normalized := float64(sub.ValueCents) / float64(valueCapCents)
	if normalized > 1 {
		normalized = 1
	}
	// Lower-value subscriptions churn more readily.
	return 1 - normalized
}

func historyFactor(sub *subscriptiondomain.Subscription) float64 {
	if sub == nil {
		return neutralFactor
	}
	normalized := float64(sub.CancelAttempts) / float64(attemptCap)
	if normalized > 1 {
		normalized = 1
	}
	return normalized
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// candidateTypes filters to recommendable offer types, preserving order and
// de-duplicating. Feedback is a farewell step, not a retention offer.
func candidateTypes(fromFlow []offerdomain.OfferType) []offerdomain.OfferType {
	source := fromFlow
	if source == nil {
		source = offerdomain.AllOfferTypes
	}
	seen := make(map[offerdomain.OfferType]bool, len(source))
	out := make([]offerdomain.OfferType, 0, len(source))
	for _, t := range source {
		if t == offerdomain.OfferTypeFeedback || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
